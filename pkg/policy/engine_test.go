package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/quill/pkg/tool"
)

func TestEvaluateNoEntryDefaults(t *testing.T) {
	engine := NewEngine(Config{})

	tests := []struct {
		name string
		kind tool.Kind
		want Decision
	}{
		{"read_file", tool.KindRead, DecisionAllow},
		{"search_text", tool.KindSearch, DecisionAllow},
		{"edit_file", tool.KindEdit, DecisionAskUser},
		{"run_shell_command", tool.KindExecute, DecisionAskUser},
		{"move_file", tool.KindMove, DecisionAskUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := engine.Evaluate(Request{ToolName: tt.name, Kind: tt.kind})
			assert.Equal(t, tt.want, eval.Decision)
		})
	}
}

func TestEvaluateAlwaysDeny(t *testing.T) {
	engine := NewEngine(Config{
		Rules: map[string]Rule{
			"run_shell_command": {Mode: ModeAlwaysDeny, Reason: "shell disabled on this host"},
		},
	})

	eval := engine.Evaluate(Request{ToolName: "run_shell_command", Kind: tool.KindExecute})
	require.Equal(t, DecisionDeny, eval.Decision)
	assert.Equal(t, "shell disabled on this host", eval.Reason)
	assert.Equal(t, "rule:run_shell_command", eval.MatchedRule)
}

func TestEvaluateAlwaysAllowWithExclusion(t *testing.T) {
	engine := NewEngine(Config{
		Rules: map[string]Rule{
			"write_file": {Mode: ModeAlwaysAllow, Exclude: []string{".env*", "*.pem", "secrets/*"}},
		},
	})

	eval := engine.Evaluate(Request{
		ToolName: "write_file",
		Kind:     tool.KindEdit,
		Params:   map[string]any{"file_path": "pkg/server/main.go"},
	})
	assert.Equal(t, DecisionAllow, eval.Decision)

	for _, path := range []string{".env", ".env.local", "certs/server.pem", "secrets/db.yaml"} {
		eval = engine.Evaluate(Request{
			ToolName: "write_file",
			Kind:     tool.KindEdit,
			Params:   map[string]any{"file_path": path},
		})
		assert.Equal(t, DecisionAskUser, eval.Decision, path)
		assert.Contains(t, eval.MatchedRule, "exclusion", path)
	}
}

func TestEvaluateExclusionChecksAllPathParams(t *testing.T) {
	engine := NewEngine(Config{
		Rules: map[string]Rule{
			"move_file": {Mode: ModeAlwaysAllow, Exclude: []string{"*.key"}},
		},
	})

	eval := engine.Evaluate(Request{
		ToolName: "move_file",
		Kind:     tool.KindMove,
		Params: map[string]any{
			"source_path": "notes.txt",
			"target_path": "backup/host.key",
		},
	})
	assert.Equal(t, DecisionAskUser, eval.Decision)

	// Non-path params are never matched against exclusions.
	eval = engine.Evaluate(Request{
		ToolName: "move_file",
		Kind:     tool.KindMove,
		Params:   map[string]any{"comment": "rotate host.key"},
	})
	assert.Equal(t, DecisionAllow, eval.Decision)
}

func TestTrustedFolderUpgradesMutators(t *testing.T) {
	dir := t.TempDir()
	engine := NewEngine(Config{
		Rules: map[string]Rule{
			"edit_file": {Mode: ModeAskUser},
		},
		TrustedFolders: []string{dir},
	})

	eval := engine.Evaluate(Request{ToolName: "edit_file", Kind: tool.KindEdit, WorkDir: dir})
	assert.Equal(t, DecisionAllow, eval.Decision)
	assert.Equal(t, "trusted_folder", eval.MatchedRule)

	// Unknown mutators inside a trusted folder are upgraded too.
	eval = engine.Evaluate(Request{ToolName: "delete_file", Kind: tool.KindDelete, WorkDir: dir})
	assert.Equal(t, DecisionAllow, eval.Decision)

	// Outside the trusted folder the upgrade does not apply.
	eval = engine.Evaluate(Request{ToolName: "edit_file", Kind: tool.KindEdit, WorkDir: t.TempDir()})
	assert.Equal(t, DecisionAskUser, eval.Decision)
}

func TestTrustedFolderNeverUpgradesExclusions(t *testing.T) {
	dir := t.TempDir()
	engine := NewEngine(Config{
		Rules: map[string]Rule{
			"write_file": {Mode: ModeAlwaysAllow, Exclude: []string{".env*"}},
		},
		TrustedFolders: []string{dir},
	})

	eval := engine.Evaluate(Request{
		ToolName: "write_file",
		Kind:     tool.KindEdit,
		Params:   map[string]any{"file_path": ".env"},
		WorkDir:  dir,
	})
	assert.Equal(t, DecisionAskUser, eval.Decision)
}

func TestTrustedFolderSubdirectory(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, isTrusted([]string{dir}, dir+"/nested/project"))
	assert.False(t, isTrusted([]string{dir}, dir+"-sibling"))
	assert.False(t, isTrusted([]string{dir}, ""))
}

func TestMatchPathPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.log", "build/output.log", true},
		{"*.log", "output.txt", false},
		{"/tmp/*", "/tmp/scratch/file", true},
		{"/tmp/*", "/tmpfile", false},
		{".env*", ".env.production", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchPathPattern(tt.pattern, tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}

func TestDefaultConfig(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	eval := engine.Evaluate(Request{ToolName: "read_file", Kind: tool.KindRead})
	assert.Equal(t, DecisionAllow, eval.Decision)

	eval = engine.Evaluate(Request{ToolName: "run_shell_command", Kind: tool.KindExecute})
	assert.Equal(t, DecisionAskUser, eval.Decision)
}
