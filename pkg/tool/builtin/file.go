package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/quill/pkg/tool"
)

// ReadFileTool reads a file from disk.
type ReadFileTool struct{ workDirAware }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) DisplayName() string { return "ReadFile" }
func (t *ReadFileTool) Kind() tool.Kind     { return tool.KindRead }
func (t *ReadFileTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *ReadFileTool) Description() string {
	return "Read file contents. Large files (>100 lines) are summarized in conversation while full content remains available. Use this to examine code, configuration, or documentation files."
}

func (t *ReadFileTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"file_path": {
				Type:        "string",
				Description: "Path to the file to read",
			},
		},
		Required: []string{"file_path"},
	}
}

func (t *ReadFileTool) Invocation(params map[string]any) (tool.Invocation, error) {
	path, ok := params["file_path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file_path parameter must be a non-empty string")
	}
	return &tool.Run{
		Display: fmt.Sprintf("Read %s", path),
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.read(path)
		},
	}, nil
}

func (t *ReadFileTool) read(path string) (*tool.Result, error) {
	absPath, err := resolvePath(t.workDir, path)
	if err != nil {
		return tool.Errorf("%v", err), nil
	}

	if t.maxFileSizeBytes > 0 {
		if info, err := os.Stat(absPath); err == nil && info.Size() > t.maxFileSizeBytes {
			return tool.Errorf("file too large: %d bytes (max %d)", info.Size(), t.maxFileSizeBytes), nil
		}
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return tool.Errorf("failed to read file: %v", err), nil
	}
	contentStr := string(content)

	const maxDisplayLines = 100
	lines := strings.Split(contentStr, "\n")
	result := &tool.Result{
		Success: true,
		Data: map[string]any{
			"file_path": absPath,
			"content":   contentStr,
			"size":      len(content),
		},
	}
	if len(lines) > maxDisplayLines {
		display := strings.Join(lines[:maxDisplayLines], "\n")
		display += fmt.Sprintf("\n... (%d more lines, %d total)", len(lines)-maxDisplayLines, len(lines))
		result.ShouldAbridge = true
		result.DisplayData = map[string]any{
			"file_path": absPath,
			"content":   display,
			"preview":   fmt.Sprintf("Read %s (%d lines, %d bytes)", filepath.Base(absPath), len(lines), len(content)),
		}
	}
	return result, nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{ workDirAware }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) DisplayName() string { return "WriteFile" }
func (t *WriteFileTool) Kind() tool.Kind     { return tool.KindEdit }
func (t *WriteFileTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *WriteFileTool) Description() string {
	return "Write or create a file with the given content. Creates parent directories automatically. Use this to create new files or overwrite existing ones."
}

func (t *WriteFileTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"file_path": {
				Type:        "string",
				Description: "Path to the file to write",
			},
			"content": {
				Type:        "string",
				Description: "Content to write to the file",
			},
		},
		Required: []string{"file_path", "content"},
	}
}

func (t *WriteFileTool) Invocation(params map[string]any) (tool.Invocation, error) {
	path, ok := params["file_path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file_path parameter must be a non-empty string")
	}
	content, ok := params["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content parameter must be a string")
	}
	return &tool.Run{
		Display: fmt.Sprintf("Write %s", path),
		Confirm: true,
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.write(path, content)
		},
	}, nil
}

func (t *WriteFileTool) write(path, content string) (*tool.Result, error) {
	absPath, err := resolvePath(t.workDir, path)
	if err != nil {
		return tool.Errorf("%v", err), nil
	}

	isNew := true
	oldContent := ""
	if existing, err := os.ReadFile(absPath); err == nil {
		isNew = false
		oldContent = string(existing)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return tool.Errorf("failed to create directory: %v", err), nil
	}
	if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
		return tool.Errorf("failed to write file: %v", err), nil
	}

	diff := buildDiff(absPath, oldContent, content, isNew)
	return &tool.Result{
		Success: true,
		Data: map[string]any{
			"file_path": absPath,
			"bytes":     len(content),
			"created":   isNew,
		},
		DiffPreview: diff,
		DisplayData: map[string]any{
			"summary": fmt.Sprintf("Wrote %s (%d bytes)", filepath.Base(absPath), len(content)),
		},
		ShouldAbridge: true,
	}, nil
}

// ListDirectoryTool lists directory entries.
type ListDirectoryTool struct{ workDirAware }

func (t *ListDirectoryTool) Name() string        { return "list_directory" }
func (t *ListDirectoryTool) DisplayName() string { return "ListDirectory" }
func (t *ListDirectoryTool) Kind() tool.Kind     { return tool.KindRead }
func (t *ListDirectoryTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *ListDirectoryTool) Description() string {
	return "List the entries of a directory. Directories are suffixed with a slash."
}

func (t *ListDirectoryTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"path": {
				Type:        "string",
				Description: "Directory to list (defaults to the working directory)",
				Default:     ".",
			},
		},
	}
}

func (t *ListDirectoryTool) Invocation(params map[string]any) (tool.Invocation, error) {
	path := "."
	if raw, ok := params["path"].(string); ok && strings.TrimSpace(raw) != "" {
		path = raw
	}
	return &tool.Run{
		Display: fmt.Sprintf("List %s", path),
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.list(path)
		},
	}, nil
}

func (t *ListDirectoryTool) list(path string) (*tool.Result, error) {
	absPath, err := resolvePath(t.workDir, path)
	if err != nil {
		return tool.Errorf("%v", err), nil
	}
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return tool.Errorf("failed to list directory: %v", err), nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return tool.Ok(map[string]any{
		"path":    absPath,
		"entries": names,
		"count":   len(names),
	}), nil
}
