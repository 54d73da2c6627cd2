// Package agent runs the turn loop: route, stream, dispatch tool calls,
// repeat until the model completes the task or a budget expires. The same
// executor drives the top-level agent and sub-agents invoked as tools.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/quill/pkg/tool"
)

// Definition statically describes an agent.
type Definition struct {
	Name         string
	SystemPrompt string
	// QueryTemplate builds the initial user message; ${name} placeholders
	// are substituted from the run's input parameters.
	QueryTemplate string

	Model       string
	Temperature float64
	MaxTokens   int

	// Tools is the allow-list of registry tool names. Empty allows every
	// enabled tool.
	Tools []string

	MaxTurns   int
	TimeBudget time.Duration

	// OutputSchema, when set, validates the result argument of
	// complete_task.
	OutputSchema *tool.ParameterSchema
}

// TerminateReason says why a run ended.
type TerminateReason string

const (
	TerminateTaskComplete  TerminateReason = "task_complete"
	TerminateMaxTurns      TerminateReason = "max_turns"
	TerminateCancelled     TerminateReason = "cancelled"
	TerminateQuotaExceeded TerminateReason = "quota_exceeded"
	TerminateTimeout       TerminateReason = "timeout"
)

// RunResult is the outcome of one agent run.
type RunResult struct {
	// Result is the validated complete_task payload, nil unless the run
	// terminated with task_complete.
	Result any
	// Text is the last assistant text seen.
	Text   string
	Reason TerminateReason
	Turns  int
}

// fillTemplate substitutes ${name} placeholders. A missing template falls
// back to the parameters themselves.
func fillTemplate(template string, params map[string]any) string {
	if strings.TrimSpace(template) == "" {
		if task, ok := params["task"].(string); ok {
			return task
		}
		encoded, _ := json.Marshal(params)
		return string(encoded)
	}
	out := template
	for key, value := range params {
		out = strings.ReplaceAll(out, "${"+key+"}", fmt.Sprint(value))
	}
	return out
}
