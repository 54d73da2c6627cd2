package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillTemplateSubstitutesPlaceholders(t *testing.T) {
	out := fillTemplate("Review ${file} for ${goal}. Start with ${file}.", map[string]any{
		"file": "main.go",
		"goal": "races",
	})
	assert.Equal(t, "Review main.go for races. Start with main.go.", out)
}

func TestFillTemplateLeavesUnknownPlaceholders(t *testing.T) {
	out := fillTemplate("Do ${thing}", map[string]any{"other": "x"})
	assert.Equal(t, "Do ${thing}", out)
}

func TestFillTemplateEmptyFallsBackToTask(t *testing.T) {
	out := fillTemplate("", map[string]any{"task": "summarize the diff"})
	assert.Equal(t, "summarize the diff", out)
}

func TestFillTemplateEmptyWithoutTaskMarshalsParams(t *testing.T) {
	out := fillTemplate("  ", map[string]any{"count": 3})
	assert.JSONEq(t, `{"count":3}`, out)
}

func TestTemplatePlaceholdersDedupes(t *testing.T) {
	names := templatePlaceholders("${a} then ${b} then ${a} again")
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestTemplatePlaceholdersNone(t *testing.T) {
	assert.Empty(t, templatePlaceholders("plain text with $dollar and {braces}"))
}
