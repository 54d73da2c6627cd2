package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/odvcencio/quill/pkg/logging"
)

const defaultHookTimeout = 60 * time.Second

// Executor runs hook plans as shell subprocesses.
type Executor struct {
	// Shell defaults to bash.
	Shell string
	// DefaultTimeout applies to entries without an explicit timeout.
	DefaultTimeout time.Duration
	Logger         *logging.Logger

	Envelope Envelope
}

// BuildPayload assembles the stdin JSON for one event: the common envelope
// plus the event-specific fields.
func (e *Executor) BuildPayload(event EventName, extra map[string]any) map[string]any {
	payload := map[string]any{
		"session_id":      e.Envelope.SessionID,
		"transcript_path": e.Envelope.TranscriptPath,
		"cwd":             e.Envelope.Cwd,
		"hook_event_name": string(event),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

// Execute runs every hook in the plan and aggregates their outputs. A failed
// hook (timeout, non-zero exit, unparseable stdout) is recorded as a
// diagnostic and never blocks the event.
func (e *Executor) Execute(ctx context.Context, plan Plan, payload map[string]any) Outcome {
	if plan.Empty() {
		return Outcome{}
	}

	stdin, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Failures: []Failure{{Err: fmt.Errorf("encoding payload: %w", err)}}}
	}

	outputs := make([]*Output, len(plan.Entries))
	failures := make([]*Failure, len(plan.Entries))

	if plan.Sequential {
		for i, entry := range plan.Entries {
			outputs[i], failures[i] = e.runOne(ctx, entry, stdin)
			if out := outputs[i]; out != nil && out.Continue != nil && !*out.Continue {
				break
			}
		}
	} else {
		var wg sync.WaitGroup
		for i, entry := range plan.Entries {
			wg.Add(1)
			go func(i int, entry Entry) {
				defer wg.Done()
				outputs[i], failures[i] = e.runOne(ctx, entry, stdin)
			}(i, entry)
		}
		wg.Wait()
	}

	return e.aggregate(plan, outputs, failures)
}

// runOne spawns the hook command, writes the payload to stdin, and parses
// stdout. Timeout kills the whole process group.
func (e *Executor) runOne(ctx context.Context, entry Entry, stdin []byte) (*Output, *Failure) {
	timeout := entry.Timeout
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := e.Shell
	if shell == "" {
		shell = "bash"
	}

	cmd := exec.CommandContext(runCtx, shell, "-c", entry.Command)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	start := time.Now()
	err := cmd.Run()
	e.Logger.Debug(logging.CategoryHooks, "hook_executed", "hook command ran", map[string]any{
		"event":       string(entry.Event),
		"command":     entry.Command,
		"duration_ms": time.Since(start).Milliseconds(),
		"failed":      err != nil,
	})

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s", timeout)
		}
		return nil, &Failure{Command: entry.Command, Err: err, Stderr: stderr.String()}
	}

	out := &Output{}
	body := strings.TrimSpace(stdout.String())
	if body == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return nil, &Failure{
			Command: entry.Command,
			Err:     fmt.Errorf("parsing hook output: %w", err),
			Stderr:  stderr.String(),
		}
	}
	return out, nil
}

func (e *Executor) aggregate(plan Plan, outputs []*Output, failures []*Failure) Outcome {
	var outcome Outcome
	for i, out := range outputs {
		if failure := failures[i]; failure != nil {
			outcome.Failures = append(outcome.Failures, *failure)
			e.Logger.Warn(logging.CategoryHooks, "hook_failed", "hook command failed", map[string]any{
				"event":   string(plan.Event),
				"command": failure.Command,
				"error":   fmt.Sprint(failure.Err),
			})
			continue
		}
		if out == nil {
			continue
		}
		if out.blocking() && !outcome.Blocked {
			outcome.Blocked = true
			outcome.BlockReason = out.Reason
		}
		if out.Decision == "ask" {
			outcome.Ask = true
		}
		if out.Continue != nil && !*out.Continue {
			outcome.Halted = true
		}
		if out.SystemMessage != "" {
			outcome.SystemMessages = append(outcome.SystemMessages, out.SystemMessage)
		}
		if ctx := out.context(); ctx != "" {
			outcome.AdditionalContext = append(outcome.AdditionalContext, ctx)
		}
		if len(out.ModifiedRequest) > 0 {
			outcome.ModifiedRequest = out.ModifiedRequest
		}
		if len(out.SyntheticResponse) > 0 {
			outcome.SyntheticResponse = out.SyntheticResponse
		}
		if len(out.ModifiedResponse) > 0 {
			outcome.ModifiedResponse = out.ModifiedResponse
		}
		if len(out.ToolConfig) > 0 {
			outcome.ToolConfig = out.ToolConfig
		}
	}
	return outcome
}
