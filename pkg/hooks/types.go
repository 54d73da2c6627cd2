// Package hooks runs user-configured command hooks around core lifecycle
// events. Hooks are external processes fed a JSON payload on stdin; their
// stdout is parsed for decisions and context.
package hooks

import (
	"encoding/json"
	"time"
)

// EventName identifies a lifecycle trigger point.
type EventName string

const (
	EventSessionStart        EventName = "SessionStart"
	EventSessionEnd          EventName = "SessionEnd"
	EventBeforeAgent         EventName = "BeforeAgent"
	EventAfterAgent          EventName = "AfterAgent"
	EventBeforeModel         EventName = "BeforeModel"
	EventAfterModel          EventName = "AfterModel"
	EventBeforeToolSelection EventName = "BeforeToolSelection"
	EventBeforeTool          EventName = "BeforeTool"
	EventAfterTool           EventName = "AfterTool"
	EventPreCompress         EventName = "PreCompress"
	EventNotification        EventName = "Notification"
)

// Source says where a hook declaration was loaded from. All matching hooks
// run; priority only breaks deduplication ties.
type Source int

const (
	SourceProject Source = iota
	SourceUser
	SourceExtension
)

func (s Source) String() string {
	switch s {
	case SourceProject:
		return "project"
	case SourceUser:
		return "user"
	case SourceExtension:
		return "extension"
	}
	return "unknown"
}

// CommandSpec is one command inside a declaration.
type CommandSpec struct {
	Type    string `json:"type" yaml:"type"`
	Command string `json:"command" yaml:"command"`
	// Timeout in milliseconds; zero means the executor default.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Declaration is the settings-file shape for one matcher group.
type Declaration struct {
	Matcher    string        `json:"matcher,omitempty" yaml:"matcher,omitempty"`
	Sequential bool          `json:"sequential,omitempty" yaml:"sequential,omitempty"`
	Hooks      []CommandSpec `json:"hooks" yaml:"hooks"`
}

// Entry is one runnable hook after registry flattening.
type Entry struct {
	Event      EventName
	Matcher    string
	Sequential bool
	Command    string
	Timeout    time.Duration
	Source     Source
}

// Envelope carries the fields every hook payload includes.
type Envelope struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
}

// Output is what a hook may print on stdout. Absent fields are advisory
// no-ops; an empty stdout is the zero Output.
type Output struct {
	Decision      string `json:"decision,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Continue      *bool  `json:"continue,omitempty"`
	SystemMessage string `json:"systemMessage,omitempty"`

	AdditionalContext  string `json:"additionalContext,omitempty"`
	HookSpecificOutput struct {
		AdditionalContext string `json:"additionalContext,omitempty"`
	} `json:"hookSpecificOutput,omitempty"`

	ModifiedRequest   json.RawMessage `json:"modifiedRequest,omitempty"`
	SyntheticResponse json.RawMessage `json:"syntheticResponse,omitempty"`
	ModifiedResponse  json.RawMessage `json:"modifiedResponse,omitempty"`
	ToolConfig        json.RawMessage `json:"toolConfig,omitempty"`
}

func (o Output) context() string {
	if o.HookSpecificOutput.AdditionalContext != "" {
		return o.HookSpecificOutput.AdditionalContext
	}
	return o.AdditionalContext
}

// blocking reports whether the decision blocks the event outright.
func (o Output) blocking() bool {
	return o.Decision == "deny" || o.Decision == "block"
}

// Failure records one hook that could not produce a decision. Failures are
// diagnostic and never block the event.
type Failure struct {
	Command string
	Err     error
	Stderr  string
}

// Outcome aggregates all hook outputs for one event.
type Outcome struct {
	Blocked     bool
	BlockReason string
	Ask         bool
	Halted      bool

	SystemMessages    []string
	AdditionalContext []string

	ModifiedRequest   json.RawMessage
	SyntheticResponse json.RawMessage
	ModifiedResponse  json.RawMessage
	ToolConfig        json.RawMessage

	Failures []Failure
}
