package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/quill/pkg/policy"
	"github.com/odvcencio/quill/pkg/tool"
)

type stubTool struct {
	name    string
	kind    tool.Kind
	confirm bool
	exec    func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) DisplayName() string { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Kind() tool.Kind     { return s.kind }
func (s *stubTool) Origin() tool.Origin { return tool.OriginBuiltin }

func (s *stubTool) Parameters() tool.ParameterSchema {
	return tool.ParameterSchema{
		Type: "object",
		Properties: map[string]tool.PropertySchema{
			"value": {Type: "string"},
		},
	}
}

func (s *stubTool) Invocation(params map[string]any) (tool.Invocation, error) {
	exec := s.exec
	if exec == nil {
		exec = func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			return tool.Ok(map[string]any{"tool": s.name}), nil
		}
	}
	return &tool.Run{Display: "Run " + s.name, Confirm: s.confirm, Func: exec}, nil
}

func newTestScheduler(t *testing.T, tools ...tool.Tool) *Scheduler {
	t.Helper()
	registry := tool.NewRegistry()
	for _, tl := range tools {
		registry.Register(tl)
	}
	return New(registry, nil, nil, t.TempDir())
}

func awaitEvent(t *testing.T, s *Scheduler, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", kind)
		}
	}
}

func awaitResponses(t *testing.T, done <-chan []Response) []Response {
	t.Helper()
	select {
	case responses := <-done:
		return responses
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not complete")
		return nil
	}
}

func TestDispatchRunsBatchAndOrdersResponses(t *testing.T) {
	release := make(chan struct{})
	first := &stubTool{name: "slow", kind: tool.KindRead,
		exec: func(ctx context.Context, _ tool.OutputFunc) (*tool.Result, error) {
			<-release
			return tool.Ok(map[string]any{"tool": "slow"}), nil
		}}
	second := &stubTool{name: "fast", kind: tool.KindRead,
		exec: func(ctx context.Context, _ tool.OutputFunc) (*tool.Result, error) {
			close(release)
			return tool.Ok(map[string]any{"tool": "fast"}), nil
		}}

	s := newTestScheduler(t, first, second)
	done := s.Dispatch(context.Background(), []Request{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
	})

	responses := awaitResponses(t, done)
	require.Len(t, responses, 2)
	// Responses follow request order even though "fast" finished first.
	assert.Equal(t, "1", responses[0].ID)
	assert.Equal(t, "2", responses[1].ID)
	assert.Equal(t, StateSuccessful, responses[0].State)
	assert.Equal(t, StateSuccessful, responses[1].State)
}

func TestDispatchUnknownTool(t *testing.T) {
	s := newTestScheduler(t)
	responses := awaitResponses(t, s.Dispatch(context.Background(), []Request{{ID: "1", Name: "nope"}}))
	require.Len(t, responses, 1)
	assert.Equal(t, StateErrored, responses[0].State)
	assert.Contains(t, responses[0].Error, "unknown tool")
}

func TestDispatchInvalidParams(t *testing.T) {
	ran := atomic.Bool{}
	tl := &stubTool{name: "echo", kind: tool.KindRead,
		exec: func(ctx context.Context, _ tool.OutputFunc) (*tool.Result, error) {
			ran.Store(true)
			return tool.Ok(nil), nil
		}}
	s := newTestScheduler(t, tl)

	responses := awaitResponses(t, s.Dispatch(context.Background(), []Request{
		{ID: "1", Name: "echo", Params: map[string]any{"unexpected": 1}},
	}))
	assert.Equal(t, StateErrored, responses[0].State)
	assert.Contains(t, responses[0].Error, "invalid parameters")
	assert.False(t, ran.Load())
}

func TestDispatchPolicyDenied(t *testing.T) {
	tl := &stubTool{name: "run_shell_command", kind: tool.KindExecute}
	registry := tool.NewRegistry()
	registry.Register(tl)
	engine := policy.NewEngine(policy.Config{
		Rules: map[string]policy.Rule{
			"run_shell_command": {Mode: policy.ModeAlwaysDeny, Reason: "no shell here"},
		},
	})
	s := New(registry, engine, nil, t.TempDir())

	responses := awaitResponses(t, s.Dispatch(context.Background(), []Request{
		{ID: "1", Name: "run_shell_command"},
	}))
	assert.Equal(t, StateErrored, responses[0].State)
	assert.Contains(t, responses[0].Error, "denied by policy")
	assert.Contains(t, responses[0].Error, "no shell here")
}

func TestApprovalFlow(t *testing.T) {
	tl := &stubTool{name: "edit_file", kind: tool.KindEdit, confirm: true}
	s := newTestScheduler(t, tl)

	done := s.Dispatch(context.Background(), []Request{{ID: "1", Name: "edit_file"}})

	ev := awaitEvent(t, s, EventApprovalRequest)
	assert.Equal(t, "1", ev.CallID)
	assert.Equal(t, "Run edit_file", ev.DisplayName)

	s.Resolve("1", true)
	responses := awaitResponses(t, done)
	assert.Equal(t, StateSuccessful, responses[0].State)
}

func TestApprovalDeclined(t *testing.T) {
	ran := atomic.Bool{}
	tl := &stubTool{name: "edit_file", kind: tool.KindEdit, confirm: true,
		exec: func(ctx context.Context, _ tool.OutputFunc) (*tool.Result, error) {
			ran.Store(true)
			return tool.Ok(nil), nil
		}}
	s := newTestScheduler(t, tl)

	done := s.Dispatch(context.Background(), []Request{{ID: "1", Name: "edit_file"}})
	awaitEvent(t, s, EventApprovalRequest)
	s.Resolve("1", false)

	responses := awaitResponses(t, done)
	assert.Equal(t, StateErrored, responses[0].State)
	assert.Contains(t, responses[0].Error, "declined")
	assert.False(t, ran.Load())
}

func TestApprovalsSerialize(t *testing.T) {
	a := &stubTool{name: "edit_a", kind: tool.KindEdit, confirm: true}
	b := &stubTool{name: "edit_b", kind: tool.KindEdit, confirm: true}
	s := newTestScheduler(t, a, b)

	done := s.Dispatch(context.Background(), []Request{
		{ID: "1", Name: "edit_a"},
		{ID: "2", Name: "edit_b"},
	})

	first := awaitEvent(t, s, EventApprovalRequest)
	assert.Equal(t, "1", first.CallID)

	// The second prompt only appears after the first is resolved.
	select {
	case ev := <-s.Events():
		assert.NotEqual(t, EventApprovalRequest, ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	s.Resolve("1", true)
	second := awaitEvent(t, s, EventApprovalRequest)
	assert.Equal(t, "2", second.CallID)
	s.Resolve("2", true)

	responses := awaitResponses(t, done)
	assert.Equal(t, StateSuccessful, responses[0].State)
	assert.Equal(t, StateSuccessful, responses[1].State)
}

func TestCancellationProducesSyntheticResponses(t *testing.T) {
	started := make(chan struct{})
	running := &stubTool{name: "long", kind: tool.KindRead,
		exec: func(ctx context.Context, _ tool.OutputFunc) (*tool.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}}
	pending := &stubTool{name: "edit_file", kind: tool.KindEdit, confirm: true}
	s := newTestScheduler(t, running, pending)

	ctx, cancel := context.WithCancel(context.Background())
	done := s.Dispatch(ctx, []Request{
		{ID: "1", Name: "long"},
		{ID: "2", Name: "edit_file"},
	})

	<-started
	awaitEvent(t, s, EventApprovalRequest)
	cancel()

	responses := awaitResponses(t, done)
	require.Len(t, responses, 2)
	for _, resp := range responses {
		assert.Equal(t, StateCancelled, resp.State, resp.ID)
		require.NotNil(t, resp.Result, resp.ID)
		assert.Equal(t, true, resp.Result.Data["cancelled"], resp.ID)
	}
}

func TestBatchesRunFIFO(t *testing.T) {
	var order []string
	release := make(chan struct{})
	tl := &stubTool{name: "step", kind: tool.KindRead,
		exec: func(ctx context.Context, _ tool.OutputFunc) (*tool.Result, error) {
			<-release
			return tool.Ok(nil), nil
		}}
	s := newTestScheduler(t, tl)

	first := s.Dispatch(context.Background(), []Request{{ID: "a", Name: "step"}})
	second := s.Dispatch(context.Background(), []Request{{ID: "b", Name: "step"}})

	// Neither batch has finished while the first is blocked.
	select {
	case <-second:
		t.Fatal("second batch completed before the first")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	for _, resp := range awaitResponses(t, first) {
		order = append(order, resp.ID)
	}
	for _, resp := range awaitResponses(t, second) {
		order = append(order, resp.ID)
	}
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestOutputEventsForwarded(t *testing.T) {
	tl := &stubTool{name: "chatty", kind: tool.KindRead,
		exec: func(ctx context.Context, onOutput tool.OutputFunc) (*tool.Result, error) {
			onOutput("partial output")
			return tool.Ok(nil), nil
		}}
	s := newTestScheduler(t, tl)

	done := s.Dispatch(context.Background(), []Request{{ID: "1", Name: "chatty"}})
	ev := awaitEvent(t, s, EventOutput)
	assert.Equal(t, "partial output", ev.Chunk)
	awaitResponses(t, done)
}

func TestToolErrorResultIsErrored(t *testing.T) {
	tl := &stubTool{name: "fails", kind: tool.KindRead,
		exec: func(ctx context.Context, _ tool.OutputFunc) (*tool.Result, error) {
			return tool.Errorf("file not found"), nil
		}}
	s := newTestScheduler(t, tl)

	responses := awaitResponses(t, s.Dispatch(context.Background(), []Request{{ID: "1", Name: "fails"}}))
	assert.Equal(t, StateErrored, responses[0].State)
	assert.Equal(t, "file not found", responses[0].Error)
}
