package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/odvcencio/quill/pkg/logging"
	"github.com/odvcencio/quill/pkg/policy"
	"github.com/odvcencio/quill/pkg/tool"
)

const eventBuffer = 128

// Scheduler owns the call state machines. External callers use Dispatch and
// Resolve; internal queues are never exposed.
type Scheduler struct {
	registry *tool.Registry
	policy   *policy.Engine
	logger   *logging.Logger
	workDir  string

	events chan Event

	mu        sync.Mutex
	queue     []*batch
	running   bool
	approvals map[string]chan bool
}

type batch struct {
	ctx  context.Context
	reqs []Request
	done chan []Response
}

type call struct {
	req        Request
	state      State
	invocation tool.Invocation
	result     *tool.Result
	errText    string
}

// New creates a scheduler. The policy engine may be nil, in which case only
// invocation-level confirmation gates execution.
func New(registry *tool.Registry, engine *policy.Engine, logger *logging.Logger, workDir string) *Scheduler {
	return &Scheduler{
		registry:  registry,
		policy:    engine,
		logger:    logger,
		workDir:   workDir,
		events:    make(chan Event, eventBuffer),
		approvals: make(map[string]chan bool),
	}
}

// Events exposes scheduler notifications. The channel is buffered; events
// overflowing a stalled consumer are dropped.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// Dispatch enqueues one batch. The returned channel receives the responses,
// in the order of the requests, once every call reaches a terminal state.
// Batches run FIFO: a batch enqueued while another is active waits.
func (s *Scheduler) Dispatch(ctx context.Context, reqs []Request) <-chan []Response {
	b := &batch{ctx: ctx, reqs: reqs, done: make(chan []Response, 1)}
	s.mu.Lock()
	s.queue = append(s.queue, b)
	if !s.running {
		s.running = true
		go s.loop()
	}
	s.mu.Unlock()
	return b.done
}

// Resolve answers a pending approval request. Unknown call IDs are ignored.
func (s *Scheduler) Resolve(callID string, approved bool) {
	s.mu.Lock()
	ch, ok := s.approvals[callID]
	if ok {
		delete(s.approvals, callID)
	}
	s.mu.Unlock()
	if ok {
		ch <- approved
	}
}

func (s *Scheduler) loop() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		b := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		responses := s.runBatch(b.ctx, b.reqs)
		b.done <- responses
		close(b.done)
	}
}

func (s *Scheduler) runBatch(ctx context.Context, reqs []Request) []Response {
	calls := make([]*call, len(reqs))
	for i, req := range reqs {
		calls[i] = &call{req: req}
	}

	var confirming []*call
	var wg sync.WaitGroup

	for _, c := range calls {
		if ctx.Err() != nil {
			s.cancel(c)
			continue
		}
		needsApproval, ok := s.validate(ctx, c)
		if !ok {
			continue
		}
		if needsApproval {
			confirming = append(confirming, c)
			continue
		}
		s.transition(c, StateScheduled)
		wg.Add(1)
		go func(c *call) {
			defer wg.Done()
			s.execute(ctx, c)
		}(c)
	}

	// At most one approval prompt is outstanding at a time. Approved calls
	// rejoin the parallel pool.
	for _, c := range confirming {
		if ctx.Err() != nil {
			s.cancel(c)
			continue
		}
		s.transition(c, StateAwaitingApproval)
		s.emit(Event{
			Kind:        EventApprovalRequest,
			CallID:      c.req.ID,
			Name:        c.req.Name,
			State:       StateAwaitingApproval,
			DisplayName: c.invocation.DisplayName(),
		})
		approved, err := s.awaitApproval(ctx, c.req.ID)
		if err != nil {
			s.cancel(c)
			continue
		}
		if !approved {
			s.fail(c, "declined by user")
			continue
		}
		s.transition(c, StateScheduled)
		wg.Add(1)
		go func(c *call) {
			defer wg.Done()
			s.execute(ctx, c)
		}(c)
	}

	wg.Wait()

	responses := make([]Response, len(calls))
	for i, c := range calls {
		responses[i] = Response{
			ID:     c.req.ID,
			Name:   c.req.Name,
			State:  c.state,
			Result: c.result,
			Error:  c.errText,
		}
	}
	return responses
}

// validate walks a call through schema validation, invocation binding, and
// the policy check. It reports whether the call must wait for approval and
// whether it survived.
func (s *Scheduler) validate(ctx context.Context, c *call) (needsApproval, ok bool) {
	s.transition(c, StateValidating)

	t, err := s.registry.Get(c.req.Name)
	if err != nil {
		s.fail(c, fmt.Sprintf("unknown tool %q", c.req.Name))
		return false, false
	}

	params, err := t.Parameters().Validate(c.req.Params, true)
	if err != nil {
		s.fail(c, fmt.Sprintf("invalid parameters: %v", err))
		return false, false
	}

	invocation, err := t.Invocation(params)
	if err != nil {
		s.fail(c, fmt.Sprintf("invalid parameters: %v", err))
		return false, false
	}
	c.invocation = invocation

	decision := policy.Evaluation{Decision: policy.DecisionAllow}
	if s.policy != nil {
		decision = s.policy.Evaluate(policy.Request{
			ToolName: c.req.Name,
			Kind:     t.Kind(),
			Params:   params,
			WorkDir:  s.workDir,
		})
	}
	if decision.Decision == policy.DecisionDeny {
		s.fail(c, fmt.Sprintf("denied by policy: %s", decision.Reason))
		return false, false
	}

	needsApproval = invocation.NeedsConfirmation() ||
		decision.Decision == policy.DecisionAskUser ||
		c.req.RequireApproval
	return needsApproval, true
}

func (s *Scheduler) awaitApproval(ctx context.Context, callID string) (bool, error) {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.approvals[callID] = ch
	s.mu.Unlock()

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.approvals, callID)
		s.mu.Unlock()
		return false, ctx.Err()
	}
}

func (s *Scheduler) execute(ctx context.Context, c *call) {
	if ctx.Err() != nil {
		s.cancel(c)
		return
	}
	s.transition(c, StateExecuting)

	res, err := c.invocation.Execute(ctx, func(chunk string) {
		s.emit(Event{Kind: EventOutput, CallID: c.req.ID, Name: c.req.Name, Chunk: chunk})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			s.cancel(c)
			return
		}
		s.fail(c, err.Error())
		return
	}

	c.result = res
	if res != nil && !res.Success {
		c.errText = res.Error
		s.transition(c, StateErrored)
	} else {
		s.transition(c, StateSuccessful)
	}
	s.logger.Info(logging.CategoryScheduler, "tool_completed", "tool call finished", map[string]any{
		"call_id": c.req.ID,
		"tool":    c.req.Name,
		"success": res == nil || res.Success,
	})
}

// cancel moves a call straight to cancelled with a synthetic result so the
// conversation keeps a response for every call.
func (s *Scheduler) cancel(c *call) {
	c.result = &tool.Result{
		Success: false,
		Error:   "cancelled",
		Data:    map[string]any{"cancelled": true},
	}
	c.errText = "cancelled"
	s.transition(c, StateCancelled)
}

func (s *Scheduler) fail(c *call, reason string) {
	c.result = &tool.Result{Success: false, Error: reason}
	c.errText = reason
	s.transition(c, StateErrored)
}

func (s *Scheduler) transition(c *call, state State) {
	c.state = state
	s.emit(Event{Kind: EventStateChange, CallID: c.req.ID, Name: c.req.Name, State: state})
	if state.Terminal() {
		s.logger.Debug(logging.CategoryScheduler, "call_terminal", "call reached terminal state", map[string]any{
			"call_id": c.req.ID,
			"tool":    c.req.Name,
			"state":   string(state),
		})
	}
}

func (s *Scheduler) emit(event Event) {
	select {
	case s.events <- event:
	default:
	}
}
