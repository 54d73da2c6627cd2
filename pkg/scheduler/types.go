// Package scheduler walks tool calls through validation, approval, and
// execution. Each call moves through its own state machine; batches are
// processed FIFO and non-confirming calls inside a batch run in parallel.
package scheduler

import (
	"github.com/odvcencio/quill/pkg/tool"
)

// State is a tool call's position in the lifecycle.
type State string

const (
	StateValidating       State = "validating"
	StateAwaitingApproval State = "awaiting_approval"
	StateScheduled        State = "scheduled"
	StateExecuting        State = "executing"
	StateSuccessful       State = "successful"
	StateErrored          State = "errored"
	StateCancelled        State = "cancelled"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == StateSuccessful || s == StateErrored || s == StateCancelled
}

// Request is one tool call to schedule.
type Request struct {
	ID     string
	Name   string
	Params map[string]any
	// RequireApproval forces the approval path regardless of policy, e.g.
	// when a BeforeTool hook answered ask.
	RequireApproval bool
}

// Response is the terminal outcome of one call. Cancelled calls still carry
// a synthetic result so conversation history stays aligned.
type Response struct {
	ID     string
	Name   string
	State  State
	Result *tool.Result
	Error  string
}

// EventKind distinguishes scheduler notifications.
type EventKind string

const (
	EventStateChange     EventKind = "state_change"
	EventApprovalRequest EventKind = "approval_request"
	EventOutput          EventKind = "output"
)

// Event is a scheduler notification. ApprovalRequest events carry the
// display payload the UI shows while the call waits.
type Event struct {
	Kind        EventKind
	CallID      string
	Name        string
	State       State
	DisplayName string
	Chunk       string
}
