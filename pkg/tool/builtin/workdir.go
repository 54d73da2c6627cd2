package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type workDirAware struct {
	workDir          string
	maxFileSizeBytes int64
	maxOutputBytes   int
}

func (w *workDirAware) SetWorkDir(dir string) {
	if w == nil {
		return
	}
	w.workDir = strings.TrimSpace(dir)
}

func (w *workDirAware) SetMaxFileSizeBytes(max int64) {
	if w == nil {
		return
	}
	if max <= 0 {
		w.maxFileSizeBytes = 0
		return
	}
	w.maxFileSizeBytes = max
}

func (w *workDirAware) SetMaxOutputBytes(max int) {
	if w == nil {
		return
	}
	if max <= 0 {
		w.maxOutputBytes = 0
		return
	}
	w.maxOutputBytes = max
}

func resolvePath(workDir, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if strings.TrimSpace(workDir) == "" {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return "", fmt.Errorf("invalid path: %w", err)
		}
		return abs, nil
	}

	base, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("invalid workdir: %w", err)
	}
	base = filepath.Clean(base)

	var candidate string
	if filepath.IsAbs(raw) {
		candidate = filepath.Clean(raw)
	} else {
		candidate = filepath.Clean(filepath.Join(base, raw))
	}

	if !isWithinDir(base, candidate) {
		return "", fmt.Errorf("path %q escapes workdir", raw)
	}

	// Harden against symlink escapes.
	if !isWithinDir(evalSymlinks(base), evalSymlinksForTarget(candidate)) {
		return "", fmt.Errorf("path %q escapes workdir via symlink", raw)
	}

	return candidate, nil
}

func isWithinDir(base, target string) bool {
	base = filepath.Clean(strings.TrimSpace(base))
	target = filepath.Clean(strings.TrimSpace(target))
	if base == "" || target == "" {
		return false
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func evalSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil && resolved != "" {
		return filepath.Clean(resolved)
	}
	return filepath.Clean(path)
}

func evalSymlinksForTarget(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil && resolved != "" {
		return filepath.Clean(resolved)
	}
	// Target may not exist yet; resolve the parent instead.
	dir := filepath.Dir(path)
	if resolvedDir, err := filepath.EvalSymlinks(dir); err == nil && resolvedDir != "" {
		return filepath.Clean(filepath.Join(resolvedDir, filepath.Base(path)))
	}
	if _, err := os.Stat(dir); err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(path)
}
