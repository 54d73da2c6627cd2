package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMemory string

func (m staticMemory) Read() string { return string(m) }

func TestBuildFullWorkflow(t *testing.T) {
	b := &Builder{
		WorkDir:   t.TempDir(),
		ToolNames: []string{"read_file", "edit_file", "run_shell_command"},
	}
	prompt := b.Build()
	assert.Contains(t, prompt, "# Core Mandates")
	assert.Contains(t, prompt, "Software Engineering Tasks")
	assert.Contains(t, prompt, "# Final Reminder")
	assert.NotContains(t, prompt, "Analysis Tasks")
	assert.NotContains(t, prompt, "# Git Repository")
}

func TestBuildReadOnlyWorkflow(t *testing.T) {
	b := &Builder{WorkDir: t.TempDir(), ToolNames: []string{"read_file", "search_text"}}
	prompt := b.Build()
	assert.Contains(t, prompt, "Analysis Tasks")
	assert.NotContains(t, prompt, "Software Engineering Tasks")
}

func TestBuildGitSection(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	b := &Builder{WorkDir: dir}
	assert.Contains(t, b.Build(), "# Git Repository")

	// Detection walks up from subdirectories.
	sub := filepath.Join(dir, "pkg", "x")
	require.NoError(t, os.MkdirAll(sub, 0755))
	b = &Builder{WorkDir: sub}
	assert.Contains(t, b.Build(), "# Git Repository")
}

func TestBuildSandboxVariants(t *testing.T) {
	base := Builder{WorkDir: t.TempDir()}

	none := base
	assert.Contains(t, none.Build(), "Outside of Sandbox")

	container := base
	container.Sandbox = SandboxContainer
	assert.Contains(t, container.Build(), "sandbox container")

	strict := base
	strict.Sandbox = SandboxStrict
	assert.Contains(t, strict.Build(), "strict profile")
}

func TestBuildMemorySuffix(t *testing.T) {
	b := &Builder{WorkDir: t.TempDir(), Memory: staticMemory("- prefers tabs")}
	prompt := b.Build()
	assert.Contains(t, prompt, "# User Memory")
	assert.Contains(t, prompt, "- prefers tabs")

	b.Memory = staticMemory("   ")
	assert.NotContains(t, b.Build(), "# User Memory")
}

func TestSectionDisableFlag(t *testing.T) {
	t.Setenv("QUILL_PROMPT_CORE_MANDATES", "0")
	b := &Builder{WorkDir: t.TempDir()}
	prompt := b.Build()
	assert.NotContains(t, prompt, "# Core Mandates")
	assert.Contains(t, prompt, "# Final Reminder")
}

func TestWholePromptOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system.md")
	require.NoError(t, os.WriteFile(path, []byte("custom instruction"), 0644))
	t.Setenv("QUILL_SYSTEM_MD", path)

	b := &Builder{WorkDir: t.TempDir(), Memory: staticMemory("- fact")}
	prompt := b.Build()
	assert.Contains(t, prompt, "custom instruction")
	assert.NotContains(t, prompt, "# Core Mandates")
	// Memory still applies on top of the override.
	assert.Contains(t, prompt, "# User Memory")
}

func TestWholePromptOverrideFalsy(t *testing.T) {
	t.Setenv("QUILL_SYSTEM_MD", "0")
	b := &Builder{WorkDir: t.TempDir()}
	assert.Contains(t, b.Build(), "# Core Mandates")
}

func TestWritePromptDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump", "system.md")
	t.Setenv("QUILL_WRITE_SYSTEM_MD", path)

	b := &Builder{WorkDir: t.TempDir()}
	prompt := b.Build()

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, prompt, string(written))
}

func TestSectionEnvSuffix(t *testing.T) {
	assert.Equal(t, "CORE_MANDATES", sectionEnvSuffix("coreMandates"))
	assert.Equal(t, "PREAMBLE", sectionEnvSuffix("preamble"))
	assert.Equal(t, "PRIMARY_WORKFLOWS", sectionEnvSuffix("primaryWorkflows"))
}
