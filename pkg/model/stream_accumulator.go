package model

import (
	"strings"
)

// StreamAccumulator accumulates streaming chunks into a complete response.
// Tool call deltas are accumulated by index following the OpenAI-compatible
// streaming pattern; a tool call is only ever observable as a whole once the
// stream finishes.
type StreamAccumulator struct {
	content   strings.Builder
	reasoning strings.Builder
	toolCalls []ToolCall
	usage     *Usage
	role      string
	finish    string
}

// NewStreamAccumulator creates a new accumulator for streaming responses.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Add processes a streaming chunk and accumulates its contents.
func (a *StreamAccumulator) Add(chunk StreamChunk) {
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.Role != "" {
		a.role = delta.Role
	}
	if delta.Content != "" {
		a.content.WriteString(delta.Content)
	}
	if delta.Reasoning != "" {
		a.reasoning.WriteString(delta.Reasoning)
	}
	for _, tc := range delta.ToolCalls {
		a.accumulateToolCall(tc)
	}
	if choice.FinishReason != nil {
		a.finish = *choice.FinishReason
	}
}

// accumulateToolCall merges a tool call delta into the slot for its index.
func (a *StreamAccumulator) accumulateToolCall(delta ToolCallDelta) {
	for len(a.toolCalls) <= delta.Index {
		a.toolCalls = append(a.toolCalls, ToolCall{
			Type: "function",
		})
	}

	tc := &a.toolCalls[delta.Index]
	if delta.ID != "" {
		tc.ID += delta.ID
	}
	if delta.Type != "" {
		tc.Type = delta.Type
	}
	if delta.Function != nil {
		if delta.Function.Name != "" {
			tc.Function.Name += delta.Function.Name
		}
		if delta.Function.Arguments != "" {
			tc.Function.Arguments += delta.Function.Arguments
		}
	}
}

// Message returns the accumulated message.
func (a *StreamAccumulator) Message() Message {
	return Message{
		Role:      a.role,
		Content:   a.content.String(),
		Reasoning: a.reasoning.String(),
		ToolCalls: a.toolCalls,
	}
}

// Content returns the accumulated text content.
func (a *StreamAccumulator) Content() string {
	return a.content.String()
}

// ToolCalls returns the accumulated tool calls.
func (a *StreamAccumulator) ToolCalls() []ToolCall {
	return a.toolCalls
}

// HasToolCalls returns true if any tool calls have been accumulated.
func (a *StreamAccumulator) HasToolCalls() bool {
	return len(a.toolCalls) > 0
}

// Usage returns the usage information from the final chunk, if any.
func (a *StreamAccumulator) Usage() *Usage {
	return a.usage
}

// FinishReason returns the finish reason from the last chunk that carried one.
func (a *StreamAccumulator) FinishReason() string {
	return a.finish
}

// Reset clears the accumulator for reuse.
func (a *StreamAccumulator) Reset() {
	a.content.Reset()
	a.reasoning.Reset()
	a.toolCalls = nil
	a.usage = nil
	a.role = ""
	a.finish = ""
}
