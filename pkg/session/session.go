// Package session owns the lifetime of one interactive run: its id, its
// append-only transcript, its counters, and the start/end hook firing.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/odvcencio/quill/pkg/hooks"
	"github.com/odvcencio/quill/pkg/logging"
	"github.com/odvcencio/quill/pkg/model"
)

// StartTrigger says why a session began.
type StartTrigger string

const (
	TriggerStartup  StartTrigger = "Startup"
	TriggerResume   StartTrigger = "Resume"
	TriggerClear    StartTrigger = "Clear"
	TriggerCompress StartTrigger = "Compress"
)

// EndReason says why a session ended.
type EndReason string

const (
	EndExit    EndReason = "Exit"
	EndClear   EndReason = "Clear"
	EndLogout  EndReason = "Logout"
	EndError   EndReason = "Error"
	EndTimeout EndReason = "Timeout"
)

// Counters accumulate over a session.
type Counters struct {
	Turns            int `json:"turns"`
	ToolCalls        int `json:"tool_calls"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Session is one interactive run.
type Session struct {
	ID             string
	WorkDir        string
	TranscriptPath string
	StartedAt      time.Time

	hookRegistry *hooks.Registry
	hookExecutor *hooks.Executor
	logger       *logging.Logger

	mu         sync.Mutex
	transcript *os.File
	counters   Counters
	ended      bool
}

// Options configures New.
type Options struct {
	WorkDir string
	// ID overrides the generated session id, e.g. when the caller already
	// allocated one for the log files.
	ID string
	// TranscriptDir holds the transcript files; empty disables the transcript.
	TranscriptDir string
	HookRegistry  *hooks.Registry
	Logger        *logging.Logger
}

// New creates a session, opens its transcript, and prepares hook execution.
func New(opts Options) (*Session, error) {
	id := opts.ID
	if id == "" {
		id = GenerateID(DetermineBase(opts.WorkDir))
	}
	s := &Session{
		ID:           id,
		WorkDir:      opts.WorkDir,
		StartedAt:    time.Now(),
		hookRegistry: opts.HookRegistry,
		logger:       opts.Logger,
	}

	if opts.TranscriptDir != "" {
		if err := os.MkdirAll(opts.TranscriptDir, 0755); err != nil {
			return nil, fmt.Errorf("creating transcript directory: %w", err)
		}
		s.TranscriptPath = filepath.Join(opts.TranscriptDir, id+".jsonl")
		f, err := os.OpenFile(s.TranscriptPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening transcript: %w", err)
		}
		s.transcript = f
	}

	s.hookExecutor = &hooks.Executor{
		Logger: opts.Logger,
		Envelope: hooks.Envelope{
			SessionID:      id,
			TranscriptPath: s.TranscriptPath,
			Cwd:            opts.WorkDir,
		},
	}
	return s, nil
}

// HookExecutor exposes the executor bound to this session's envelope.
func (s *Session) HookExecutor() *hooks.Executor { return s.hookExecutor }

// Start fires SessionStart hooks and returns any additional context they
// contributed for the first model input.
func (s *Session) Start(ctx context.Context, trigger StartTrigger) []string {
	s.logger.Info(logging.CategorySession, "session_start", "session started", map[string]any{
		"session_id": s.ID,
		"trigger":    string(trigger),
	})
	plan := hooks.BuildPlan(s.hookRegistry, hooks.EventSessionStart, string(trigger))
	outcome := s.hookExecutor.Execute(ctx, plan, s.hookExecutor.BuildPayload(
		hooks.EventSessionStart, map[string]any{"trigger": string(trigger)},
	))
	return outcome.AdditionalContext
}

// End fires SessionEnd hooks (advisory) and closes the transcript. Repeated
// calls are no-ops.
func (s *Session) End(ctx context.Context, reason EndReason) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	transcript := s.transcript
	s.transcript = nil
	counters := s.counters
	s.mu.Unlock()

	plan := hooks.BuildPlan(s.hookRegistry, hooks.EventSessionEnd, string(reason))
	s.hookExecutor.Execute(ctx, plan, s.hookExecutor.BuildPayload(
		hooks.EventSessionEnd, map[string]any{"reason": string(reason)},
	))

	s.logger.Info(logging.CategorySession, "session_end", "session ended", map[string]any{
		"session_id":  s.ID,
		"reason":      string(reason),
		"turns":       counters.Turns,
		"tool_calls":  counters.ToolCalls,
		"duration_ms": time.Since(s.StartedAt).Milliseconds(),
	})
	if transcript != nil {
		transcript.Close()
	}
}

type transcriptEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	Type      string           `json:"type"`
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []model.ToolCall `json:"tool_calls,omitempty"`
	Details   map[string]any   `json:"details,omitempty"`
}

// RecordMessage appends one conversation message to the transcript.
func (s *Session) RecordMessage(msg model.Message) {
	s.append(transcriptEntry{
		Timestamp: time.Now(),
		Type:      "message",
		Role:      msg.Role,
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
	})
}

// RecordEvent appends a non-message entry (tool results, notices).
func (s *Session) RecordEvent(eventType string, details map[string]any) {
	s.append(transcriptEntry{Timestamp: time.Now(), Type: eventType, Details: details})
}

func (s *Session) append(entry transcriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcript == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	s.transcript.Write(append(line, '\n'))
}

// AddTurn bumps the turn counter.
func (s *Session) AddTurn() {
	s.mu.Lock()
	s.counters.Turns++
	s.mu.Unlock()
}

// AddToolCalls bumps the tool call counter.
func (s *Session) AddToolCalls(n int) {
	s.mu.Lock()
	s.counters.ToolCalls += n
	s.mu.Unlock()
}

// AddUsage accumulates token usage.
func (s *Session) AddUsage(usage model.Usage) {
	s.mu.Lock()
	s.counters.PromptTokens += usage.PromptTokens
	s.counters.CompletionTokens += usage.CompletionTokens
	s.mu.Unlock()
}

// Counters returns a snapshot.
func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}
