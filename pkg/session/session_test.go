package session

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/quill/pkg/hooks"
	"github.com/odvcencio/quill/pkg/model"
)

func TestGenerateID(t *testing.T) {
	a := GenerateID("My Repo")
	b := GenerateID("My Repo")
	assert.True(t, strings.HasPrefix(a, "my-repo-"))
	assert.NotEqual(t, a, b)

	assert.True(t, strings.HasPrefix(GenerateID("  "), "session-"))
	assert.True(t, strings.HasPrefix(GenerateID("weird/!@#name"), "weird"))
}

func TestDetermineBase(t *testing.T) {
	dir := t.TempDir()
	base := DetermineBase(dir)
	assert.Contains(t, base, filepath.Base(dir))

	repoDir := filepath.Join(t.TempDir(), "myrepo")
	require.NoError(t, os.MkdirAll(repoDir, 0755))
	_, err := git.PlainInit(repoDir, false)
	require.NoError(t, err)

	sub := filepath.Join(repoDir, "pkg", "x")
	require.NoError(t, os.MkdirAll(sub, 0755))
	assert.Equal(t, "myrepo", DetermineBase(sub))
}

func TestSessionTranscript(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{WorkDir: dir, TranscriptDir: dir})
	require.NoError(t, err)

	s.RecordMessage(model.Message{Role: "user", Content: "hello"})
	s.RecordMessage(model.Message{Role: "assistant", ToolCalls: []model.ToolCall{
		{ID: "c1", Type: "function", Function: model.FunctionCall{Name: "read_file", Arguments: `{}`}},
	}})
	s.RecordEvent("tool_result", map[string]any{"call_id": "c1"})
	s.End(context.Background(), EndExit)

	f, err := os.Open(s.TranscriptPath)
	require.NoError(t, err)
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.Len(t, entries, 3)
	assert.Equal(t, "user", entries[0]["role"])
	assert.Equal(t, "message", entries[1]["type"])
	assert.Equal(t, "tool_result", entries[2]["type"])

	// Writes after End are dropped, not errors.
	s.RecordMessage(model.Message{Role: "user", Content: "late"})
}

func TestSessionCounters(t *testing.T) {
	s, err := New(Options{WorkDir: t.TempDir()})
	require.NoError(t, err)

	s.AddTurn()
	s.AddTurn()
	s.AddToolCalls(3)
	s.AddUsage(model.Usage{PromptTokens: 100, CompletionTokens: 20})
	s.AddUsage(model.Usage{PromptTokens: 50, CompletionTokens: 10})

	c := s.Counters()
	assert.Equal(t, 2, c.Turns)
	assert.Equal(t, 3, c.ToolCalls)
	assert.Equal(t, 150, c.PromptTokens)
	assert.Equal(t, 30, c.CompletionTokens)
}

func TestSessionStartHooks(t *testing.T) {
	dir := t.TempDir()
	registry := hooks.NewRegistry()
	require.NoError(t, registry.Load(hooks.SourceProject, map[string][]hooks.Declaration{
		"SessionStart": {
			{Matcher: "Startup", Hooks: []hooks.CommandSpec{{
				Type:    "command",
				Command: `printf '{"hookSpecificOutput":{"additionalContext":"project notes"}}'`,
			}}},
			{Matcher: "Resume", Hooks: []hooks.CommandSpec{{
				Type:    "command",
				Command: `printf '{"hookSpecificOutput":{"additionalContext":"resume notes"}}'`,
			}}},
		},
	}))

	s, err := New(Options{WorkDir: dir, TranscriptDir: dir, HookRegistry: registry})
	require.NoError(t, err)
	defer s.End(context.Background(), EndExit)

	contexts := s.Start(context.Background(), TriggerStartup)
	require.Len(t, contexts, 1)
	assert.Equal(t, "project notes", contexts[0])
}

func TestSessionEndIdempotent(t *testing.T) {
	dir := t.TempDir()
	ran := filepath.Join(dir, "end-count")
	registry := hooks.NewRegistry()
	require.NoError(t, registry.Load(hooks.SourceProject, map[string][]hooks.Declaration{
		"SessionEnd": {{Hooks: []hooks.CommandSpec{{
			Type:    "command",
			Command: "echo x >> " + ran,
		}}}},
	}))

	s, err := New(Options{WorkDir: dir, HookRegistry: registry})
	require.NoError(t, err)

	s.End(context.Background(), EndExit)
	s.End(context.Background(), EndExit)

	data, err := os.ReadFile(ran)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "x"))
}

func TestHookExecutorEnvelope(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Options{WorkDir: dir, TranscriptDir: dir})
	require.NoError(t, err)
	defer s.End(context.Background(), EndExit)

	payload := s.HookExecutor().BuildPayload(hooks.EventBeforeTool, nil)
	assert.Equal(t, s.ID, payload["session_id"])
	assert.Equal(t, s.TranscriptPath, payload["transcript_path"])
	assert.Equal(t, dir, payload["cwd"])
}
