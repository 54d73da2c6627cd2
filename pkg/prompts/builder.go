// Package prompts assembles the system instruction from named sections.
// Section content depends on which tools are registered, the sandbox
// posture, and whether the working directory is a git repository.
package prompts

import (
	"strings"

	"github.com/go-git/go-git/v5"
)

// SandboxMode is the detected sandbox posture.
type SandboxMode int

const (
	SandboxNone SandboxMode = iota
	SandboxContainer
	SandboxStrict
)

// MemoryReader supplies the stored user memory, empty when none exists.
type MemoryReader interface {
	Read() string
}

// Builder assembles the system prompt.
type Builder struct {
	WorkDir string
	Sandbox SandboxMode
	Memory  MemoryReader
	// ToolNames is the set of enabled tools; it selects the workflow variant.
	ToolNames []string
}

// mutationTools gate the full engineering workflow.
var mutationTools = map[string]bool{
	"write_file":        true,
	"edit_file":         true,
	"run_shell_command": true,
}

// Build composes the prompt: a whole-file override short-circuits assembly,
// per-section env flags drop individual sections, and a stored user memory
// is appended last.
func (b *Builder) Build() string {
	var prompt string
	if override, ok := wholePromptOverride(); ok {
		prompt = override
	} else {
		prompt = b.assemble()
	}

	if b.Memory != nil {
		if memory := strings.TrimSpace(b.Memory.Read()); memory != "" {
			prompt += "\n\n---\n\n# User Memory\n\n" + memory
		}
	}

	writePromptIfRequested(prompt)
	return prompt
}

func (b *Builder) assemble() string {
	var parts []string
	for _, name := range sectionOrder {
		if sectionDisabled(name) {
			continue
		}
		if text := b.section(name); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (b *Builder) section(name string) string {
	switch name {
	case SectionPreamble:
		return preamble()
	case SectionCoreMandates:
		return coreMandates()
	case SectionPrimaryWorkflows:
		if b.hasMutationTools() {
			return workflowsFull()
		}
		return workflowsReadOnly()
	case SectionOperationalGuidelines:
		return operationalGuidelines()
	case SectionSandbox:
		switch b.Sandbox {
		case SandboxContainer:
			return sandboxContainer()
		case SandboxStrict:
			return sandboxStrict()
		default:
			return sandboxNone()
		}
	case SectionGit:
		if b.inGitRepository() {
			return gitSection()
		}
		return ""
	case SectionFinalReminder:
		return finalReminder()
	}
	return ""
}

func (b *Builder) hasMutationTools() bool {
	for _, name := range b.ToolNames {
		if mutationTools[name] {
			return true
		}
	}
	return false
}

func (b *Builder) inGitRepository() bool {
	if b.WorkDir == "" {
		return false
	}
	_, err := git.PlainOpenWithOptions(b.WorkDir, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	return err == nil
}
