package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadEntries(t *testing.T, r *Registry, source Source, event string, decls ...Declaration) {
	t.Helper()
	require.NoError(t, r.Load(source, map[string][]Declaration{event: decls}))
}

func TestBuildPlanMatcher(t *testing.T) {
	r := NewRegistry()
	loadEntries(t, r, SourceProject, "BeforeTool",
		Declaration{Matcher: "edit_.*", Hooks: []CommandSpec{{Type: "command", Command: "lint"}}},
		Declaration{Matcher: "write_file", Hooks: []CommandSpec{{Type: "command", Command: "format"}}},
		Declaration{Hooks: []CommandSpec{{Type: "command", Command: "always"}}},
	)

	plan := BuildPlan(r, EventBeforeTool, "edit_file")
	commands := planCommands(plan)
	assert.Equal(t, []string{"lint", "always"}, commands)

	plan = BuildPlan(r, EventBeforeTool, "read_file")
	assert.Equal(t, []string{"always"}, planCommands(plan))
}

func TestBuildPlanLiteralFallback(t *testing.T) {
	r := NewRegistry()
	// Broken as a regexp, still usable as a literal.
	loadEntries(t, r, SourceProject, "BeforeTool",
		Declaration{Matcher: "tool[", Hooks: []CommandSpec{{Type: "command", Command: "weird"}}},
	)

	assert.Equal(t, []string{"weird"}, planCommands(BuildPlan(r, EventBeforeTool, "tool[")))
	assert.Empty(t, planCommands(BuildPlan(r, EventBeforeTool, "other")))
}

func TestBuildPlanDedupeKeepsHighestPriority(t *testing.T) {
	r := NewRegistry()
	loadEntries(t, r, SourceExtension, "BeforeTool",
		Declaration{Hooks: []CommandSpec{{Type: "command", Command: "shared", Timeout: 10}}},
	)
	loadEntries(t, r, SourceProject, "BeforeTool",
		Declaration{Hooks: []CommandSpec{{Type: "command", Command: "shared", Timeout: 10}}},
	)
	// Different timeout is a different hook.
	loadEntries(t, r, SourceUser, "BeforeTool",
		Declaration{Hooks: []CommandSpec{{Type: "command", Command: "shared", Timeout: 30}}},
	)

	plan := BuildPlan(r, EventBeforeTool, "any")
	require.Len(t, plan.Entries, 2)
	assert.Equal(t, SourceProject, plan.Entries[0].Source)
	assert.Equal(t, SourceUser, plan.Entries[1].Source)
}

func TestBuildPlanSequentialIfAnyRequests(t *testing.T) {
	r := NewRegistry()
	loadEntries(t, r, SourceProject, "BeforeTool",
		Declaration{Hooks: []CommandSpec{{Type: "command", Command: "a"}}},
		Declaration{Sequential: true, Hooks: []CommandSpec{{Type: "command", Command: "b"}}},
	)

	plan := BuildPlan(r, EventBeforeTool, "x")
	assert.True(t, plan.Sequential)

	// The sequential entry filtered out leaves a parallel plan.
	r2 := NewRegistry()
	loadEntries(t, r2, SourceProject, "BeforeTool",
		Declaration{Hooks: []CommandSpec{{Type: "command", Command: "a"}}},
		Declaration{Matcher: "never", Sequential: true, Hooks: []CommandSpec{{Type: "command", Command: "b"}}},
	)
	assert.False(t, BuildPlan(r2, EventBeforeTool, "x").Sequential)
}

func TestBuildPlanNilRegistry(t *testing.T) {
	assert.True(t, BuildPlan(nil, EventBeforeTool, "x").Empty())
}

func planCommands(plan Plan) []string {
	var commands []string
	for _, entry := range plan.Entries {
		commands = append(commands, entry.Command)
	}
	return commands
}
