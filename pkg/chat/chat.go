package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/odvcencio/quill/pkg/model"
)

// Backend is the slice of the model client the chat needs.
type Backend interface {
	ChatCompletion(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	ChatCompletionStream(ctx context.Context, req model.ChatRequest) (<-chan model.StreamChunk, <-chan error)
}

// EventKind discriminates stream events.
type EventKind int

const (
	// EventText carries an incremental text fragment.
	EventText EventKind = iota
	// EventReasoning carries an incremental reasoning fragment.
	EventReasoning
	// EventCalls carries the complete set of tool calls for the turn.
	// Emitted exactly once, after the backend finalizes them.
	EventCalls
	// EventDone closes the turn and carries usage.
	EventDone
)

// StreamEvent is one item on the stream a Send returns.
type StreamEvent struct {
	Kind  EventKind
	Text  string
	Calls []model.ToolCall
	Usage *model.Usage
}

// Options configures a chat session.
type Options struct {
	SystemPrompt  string
	Model         string
	Temperature   float64
	MaxTokens     int
	ContextWindow int
	// CompressThreshold is the usage fraction that arms auto-compression.
	CompressThreshold float64
	// CompressModel overrides the model used for summarization.
	CompressModel string
	Tools         []map[string]any
}

const (
	defaultContextWindow     = 128_000
	defaultCompressThreshold = 0.70
	// defaultKeepRatio is the fraction of recent messages preserved verbatim
	// through a compression pass.
	defaultKeepRatio = 0.45
)

// Chat owns one conversation: immutable ordered history, streaming sends,
// and compression. All mutation goes through Append, Clear, or Compress,
// which serialize on the chat's lock.
type Chat struct {
	backend Backend
	opts    Options

	mu           sync.RWMutex
	history      []model.Message
	usage        model.Usage
	promptTokens int
}

// New creates a chat session.
func New(backend Backend, opts Options) *Chat {
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = defaultContextWindow
	}
	if opts.CompressThreshold <= 0 || opts.CompressThreshold > 1 {
		opts.CompressThreshold = defaultCompressThreshold
	}
	return &Chat{backend: backend, opts: opts}
}

// SetTools replaces the advertised tool declarations.
func (c *Chat) SetTools(tools []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Tools = tools
}

// SetModel changes the model used for subsequent sends.
func (c *Chat) SetModel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Model = id
}

// Model returns the model currently in use.
func (c *Chat) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts.Model
}

// History returns a snapshot of the conversation.
func (c *Chat) History() []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Append records messages without a model round trip. Used for synthesized
// function responses and restored transcripts.
func (c *Chat) Append(msgs ...model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, msgs...)
}

// Clear drops the history. The system prompt is kept.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.usage = model.Usage{}
	c.promptTokens = 0
}

// Usage returns accumulated token usage across all sends.
func (c *Chat) Usage() model.Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage
}

// UsageRatio reports how full the context window is, preferring the
// backend's last reported prompt size over a local estimate.
func (c *Chat) UsageRatio() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tokens := c.promptTokens
	if tokens == 0 {
		tokens = CountMessageTokens(c.history)
	}
	return float64(tokens) / float64(c.opts.ContextWindow)
}

// ShouldCompress reports whether usage has crossed the compression threshold.
func (c *Chat) ShouldCompress() bool {
	return c.UsageRatio() >= c.opts.CompressThreshold
}

// Send issues a streaming request carrying the given message on top of the
// existing history. Text arrives as incremental EventText fragments; tool
// calls are surfaced whole in a single EventCalls once the backend finalizes
// the turn. On success the user message and the accumulated assistant
// message are appended to history. A zero-role message sends the history as
// is; callers append tool responses via Append and continue with one.
func (c *Chat) Send(ctx context.Context, msg model.Message) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent, 16)
	errs := make(chan error, 1)

	c.mu.RLock()
	req := model.ChatRequest{
		Model:       c.opts.Model,
		Messages:    c.requestMessages(msg),
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Tools:       c.opts.Tools,
	}
	c.mu.RUnlock()

	go func() {
		defer close(errs)
		defer close(events)

		if err := ctx.Err(); err != nil {
			errs <- err
			return
		}

		chunks, streamErrs := c.backend.ChatCompletionStream(ctx, req)

		acc := model.NewStreamAccumulator()
		for chunk := range chunks {
			acc.Add(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Reasoning != "" {
				if !emit(ctx, events, StreamEvent{Kind: EventReasoning, Text: delta.Reasoning}) {
					errs <- ctx.Err()
					return
				}
			}
			if delta.Content != "" {
				if !emit(ctx, events, StreamEvent{Kind: EventText, Text: delta.Content}) {
					errs <- ctx.Err()
					return
				}
			}
		}
		if err := <-streamErrs; err != nil {
			errs <- err
			return
		}

		assistant := acc.Message()
		if assistant.Role == "" {
			assistant.Role = "assistant"
		}

		c.mu.Lock()
		if msg.Role != "" {
			c.history = append(c.history, msg)
		}
		c.history = append(c.history, assistant)
		if u := acc.Usage(); u != nil {
			c.usage.Add(*u)
			c.promptTokens = u.PromptTokens
		}
		c.mu.Unlock()

		if acc.HasToolCalls() {
			if !emit(ctx, events, StreamEvent{Kind: EventCalls, Calls: acc.ToolCalls()}) {
				errs <- ctx.Err()
				return
			}
		}
		emit(ctx, events, StreamEvent{Kind: EventDone, Usage: acc.Usage()})
	}()

	return events, errs
}

func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}

// requestMessages assembles the wire message list. Caller holds at least a
// read lock.
func (c *Chat) requestMessages(next model.Message) []model.Message {
	msgs := make([]model.Message, 0, len(c.history)+2)
	if c.opts.SystemPrompt != "" {
		msgs = append(msgs, model.Message{Role: "system", Content: c.opts.SystemPrompt})
	}
	msgs = append(msgs, c.history...)
	if next.Role != "" {
		msgs = append(msgs, next)
	}
	return msgs
}

// Collect drains a Send stream into its final shape. Convenience for callers
// that do not render deltas.
func Collect(events <-chan StreamEvent, errs <-chan error) (string, []model.ToolCall, error) {
	var text string
	var calls []model.ToolCall
	for ev := range events {
		switch ev.Kind {
		case EventText:
			text += ev.Text
		case EventCalls:
			calls = ev.Calls
		}
	}
	if err := <-errs; err != nil {
		return "", nil, fmt.Errorf("chat send: %w", err)
	}
	return text, calls, nil
}
