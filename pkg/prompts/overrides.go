package prompts

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	envSystemMD      = "QUILL_SYSTEM_MD"
	envWriteSystemMD = "QUILL_WRITE_SYSTEM_MD"
	envSectionPrefix = "QUILL_PROMPT_"
)

// wholePromptOverride resolves QUILL_SYSTEM_MD: a falsy value disables the
// override, a truthy value reads the default path, anything else is a path.
func wholePromptOverride() (string, bool) {
	raw := strings.TrimSpace(os.Getenv(envSystemMD))
	if raw == "" || isFalsy(raw) {
		return "", false
	}
	path := raw
	if isTruthy(raw) {
		path = defaultSystemMDPath()
	}
	data, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// writePromptIfRequested dumps the composed prompt when QUILL_WRITE_SYSTEM_MD
// is set: truthy writes the default path, anything else is the target path.
func writePromptIfRequested(prompt string) {
	raw := strings.TrimSpace(os.Getenv(envWriteSystemMD))
	if raw == "" || isFalsy(raw) {
		return
	}
	path := raw
	if isTruthy(raw) {
		path = defaultSystemMDPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	_ = os.WriteFile(path, []byte(prompt), 0644)
}

// sectionDisabled checks the per-section flag, e.g.
// QUILL_PROMPT_CORE_MANDATES=0 drops the coreMandates section.
func sectionDisabled(section string) bool {
	value := os.Getenv(envSectionPrefix + sectionEnvSuffix(section))
	return isFalsy(strings.TrimSpace(value))
}

// sectionEnvSuffix converts a camelCase section name to UPPER_SNAKE.
func sectionEnvSuffix(section string) string {
	var b strings.Builder
	for i, r := range section {
		if r >= 'A' && r <= 'Z' && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func defaultSystemMDPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".quill", "system.md")
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func isFalsy(s string) bool {
	switch strings.ToLower(s) {
	case "0", "false", "no":
		return true
	}
	return false
}
