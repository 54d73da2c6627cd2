package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/odvcencio/quill/pkg/tool"
)

const (
	maxSearchResults = 500
	maxMatchedFiles  = 1000
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	"__pycache__":  true,
}

// FindFilesTool finds files by glob pattern.
type FindFilesTool struct{ workDirAware }

func (t *FindFilesTool) Name() string        { return "find_files" }
func (t *FindFilesTool) DisplayName() string { return "FindFiles" }
func (t *FindFilesTool) Kind() tool.Kind     { return tool.KindSearch }
func (t *FindFilesTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *FindFilesTool) Description() string {
	return "Find files matching a glob pattern (e.g. *.go, cmd/**/*.md). Matches against file names and relative paths. Common vendor and VCS directories are skipped."
}

func (t *FindFilesTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"pattern": {
				Type:        "string",
				Description: "Glob pattern to match file names or relative paths against",
			},
			"path": {
				Type:        "string",
				Description: "Directory to search in (defaults to the working directory)",
				Default:     ".",
			},
		},
		Required: []string{"pattern"},
	}
}

func (t *FindFilesTool) Invocation(params map[string]any) (tool.Invocation, error) {
	pattern, ok := params["pattern"].(string)
	if !ok || strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("pattern parameter must be a non-empty string")
	}
	root := "."
	if raw, ok := params["path"].(string); ok && strings.TrimSpace(raw) != "" {
		root = raw
	}
	return &tool.Run{
		Display: fmt.Sprintf("Find %s", pattern),
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.find(ctx, pattern, root)
		},
	}, nil
}

func (t *FindFilesTool) find(ctx context.Context, pattern, root string) (*tool.Result, error) {
	absRoot, err := resolvePath(t.workDir, root)
	if err != nil {
		return tool.Errorf("%v", err), nil
	}

	var matches []string
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			rel = path
		}
		if matchGlob(pattern, rel, d.Name()) {
			matches = append(matches, rel)
			if len(matches) >= maxMatchedFiles {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil && walkErr == ctx.Err() {
		return nil, walkErr
	}

	return tool.Ok(map[string]any{
		"pattern": pattern,
		"root":    absRoot,
		"files":   matches,
		"count":   len(matches),
	}), nil
}

// matchGlob matches against the base name and the relative path. A ** in
// the pattern matches across path separators.
func matchGlob(pattern, relPath, baseName string) bool {
	if ok, err := filepath.Match(pattern, baseName); err == nil && ok {
		return true
	}
	if ok, err := filepath.Match(pattern, relPath); err == nil && ok {
		return true
	}
	if strings.Contains(pattern, "**") {
		re, err := globToRegexp(pattern)
		if err == nil && re.MatchString(relPath) {
			return true
		}
	}
	return false
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
				// Swallow a following separator so "a/**/b" also matches "a/b".
				if i+1 < len(pattern) && pattern[i+1] == '/' {
					b.WriteString("/?")
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '\\', '|':
			b.WriteByte('\\')
			b.WriteByte(pattern[i])
		default:
			b.WriteByte(pattern[i])
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// SearchTextTool searches file contents with a regular expression.
type SearchTextTool struct{ workDirAware }

func (t *SearchTextTool) Name() string        { return "search_text" }
func (t *SearchTextTool) DisplayName() string { return "SearchText" }
func (t *SearchTextTool) Kind() tool.Kind     { return tool.KindSearch }
func (t *SearchTextTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (t *SearchTextTool) Description() string {
	return "Search file contents for a regular expression. Returns matching lines with file path and line number. Binary files and vendor directories are skipped."
}

func (t *SearchTextTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"pattern": {
				Type:        "string",
				Description: "Regular expression to search for",
			},
			"path": {
				Type:        "string",
				Description: "Directory or file to search in (defaults to the working directory)",
				Default:     ".",
			},
			"include": {
				Type:        "string",
				Description: "Optional glob restricting which files are searched (e.g. *.go)",
			},
		},
		Required: []string{"pattern"},
	}
}

func (t *SearchTextTool) Invocation(params map[string]any) (tool.Invocation, error) {
	pattern, ok := params["pattern"].(string)
	if !ok || strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("pattern parameter must be a non-empty string")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %v", err)
	}
	root := "."
	if raw, ok := params["path"].(string); ok && strings.TrimSpace(raw) != "" {
		root = raw
	}
	include := ""
	if raw, ok := params["include"].(string); ok {
		include = strings.TrimSpace(raw)
	}
	return &tool.Run{
		Display: fmt.Sprintf("Search %s", pattern),
		Func: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return t.search(ctx, re, root, include)
		},
	}, nil
}

type textMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchTextTool) search(ctx context.Context, re *regexp.Regexp, root, include string) (*tool.Result, error) {
	absRoot, err := resolvePath(t.workDir, root)
	if err != nil {
		return tool.Errorf("%v", err), nil
	}

	var matches []textMatch
	truncated := false
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if include != "" {
			if ok, _ := filepath.Match(include, d.Name()); !ok {
				return nil
			}
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			rel = path
		}
		fileMatches, err := scanFile(path, rel, re, maxSearchResults-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, fileMatches...)
		if len(matches) >= maxSearchResults {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr == ctx.Err() {
		return nil, walkErr
	}

	return tool.Ok(map[string]any{
		"pattern":   re.String(),
		"root":      absRoot,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}), nil
}

func scanFile(path, rel string, re *regexp.Regexp, limit int) ([]textMatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []textMatch
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, '\x00') {
			// Binary file; skip the rest.
			return matches, nil
		}
		if re.MatchString(line) {
			matches = append(matches, textMatch{File: rel, Line: lineNo, Text: line})
			if len(matches) >= limit {
				return matches, nil
			}
		}
	}
	return matches, nil
}
