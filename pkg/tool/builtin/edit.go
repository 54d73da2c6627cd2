package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/quill/pkg/tool"
)

// EditFileTool performs targeted string replacement edits in a file.
// The old_string must match exactly, including whitespace.
type EditFileTool struct{ workDirAware }

func (t *EditFileTool) Name() string        { return "edit_file" }
func (t *EditFileTool) DisplayName() string { return "EditFile" }
func (t *EditFileTool) Kind() tool.Kind     { return tool.KindEdit }
func (t *EditFileTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *EditFileTool) Description() string {
	return "Make targeted edits to a file by replacing exact text. The old_string must match exactly (including whitespace and indentation). Use this for precise code modifications."
}

func (t *EditFileTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"file_path": {
				Type:        "string",
				Description: "Path to the file to edit",
			},
			"old_string": {
				Type:        "string",
				Description: "Exact text to find and replace (must match exactly including whitespace)",
			},
			"new_string": {
				Type:        "string",
				Description: "Text to replace old_string with",
			},
			"replace_all": {
				Type:        "boolean",
				Description: "If true, replace all occurrences. If false (default), only replace the first occurrence",
				Default:     false,
			},
		},
		Required: []string{"file_path", "old_string", "new_string"},
	}
}

func (t *EditFileTool) Invocation(params map[string]any) (tool.Invocation, error) {
	path, ok := params["file_path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("file_path parameter must be a non-empty string")
	}
	oldString, ok := params["old_string"].(string)
	if !ok {
		return nil, fmt.Errorf("old_string parameter must be a string")
	}
	newString, ok := params["new_string"].(string)
	if !ok {
		return nil, fmt.Errorf("new_string parameter must be a string")
	}
	if oldString == newString {
		return nil, fmt.Errorf("old_string and new_string are identical")
	}
	replaceAll := false
	if ra, ok := params["replace_all"].(bool); ok {
		replaceAll = ra
	}

	return &tool.Run{
		Display: fmt.Sprintf("Edit %s", path),
		Confirm: true,
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.edit(path, oldString, newString, replaceAll)
		},
	}, nil
}

func (t *EditFileTool) edit(path, oldString, newString string, replaceAll bool) (*tool.Result, error) {
	absPath, err := resolvePath(t.workDir, path)
	if err != nil {
		return tool.Errorf("%v", err), nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return tool.Errorf("failed to read file: %v", err), nil
	}
	oldContent := string(content)

	count := strings.Count(oldContent, oldString)
	if count == 0 {
		return tool.Errorf("old_string not found in file. Make sure the text matches exactly including whitespace."), nil
	}
	if !replaceAll && count > 1 {
		return tool.Errorf("old_string appears %d times in the file. Either provide a more specific string or use replace_all=true", count), nil
	}

	var newContent string
	replacements := 1
	if replaceAll {
		newContent = strings.ReplaceAll(oldContent, oldString, newString)
		replacements = count
	} else {
		newContent = strings.Replace(oldContent, oldString, newString, 1)
	}

	if err := os.WriteFile(absPath, []byte(newContent), 0644); err != nil {
		return tool.Errorf("failed to write file: %v", err), nil
	}

	diff := buildDiff(absPath, oldContent, newContent, false)
	return &tool.Result{
		Success: true,
		Data: map[string]any{
			"file_path":    absPath,
			"replacements": replacements,
		},
		DiffPreview: diff,
		DisplayData: map[string]any{
			"summary": fmt.Sprintf("Edited %s (+%d/-%d lines, %d replacement(s))",
				filepath.Base(absPath), diff.LinesAdded, diff.LinesRemoved, replacements),
		},
		ShouldAbridge: true,
	}, nil
}
