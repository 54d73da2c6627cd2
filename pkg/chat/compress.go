package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/quill/pkg/model"
)

const summaryPrompt = `Summarize the conversation below into a state snapshot
for a coding agent that will continue the work. Use exactly these sections:

## Overall goal
## Key knowledge
## File system state
## Recent actions
## Current plan

Be specific: name files, commands, and decisions. Omit pleasantries.`

// summaryMarker prefixes the replacement message so a compressed history is
// recognizable (and a second compression pass keeps it stable).
const summaryMarker = "[conversation summary]"

// CompressResult reports what a compression pass did.
type CompressResult struct {
	Summary    string
	Replaced   int
	Kept       int
	UsedModel  string
	TokensThen int
	TokensNow  int
}

// Compress replaces the older portion of history with a single structured
// summary message produced by the backend. Recent messages are kept verbatim;
// the cut never separates a tool call from its responses.
func (c *Chat) Compress(ctx context.Context) (*CompressResult, error) {
	c.mu.RLock()
	history := make([]model.Message, len(c.history))
	copy(history, c.history)
	c.mu.RUnlock()

	if len(history) < 4 {
		return nil, fmt.Errorf("not enough history to compress (have %d messages, need 4)", len(history))
	}

	cut := compressionCut(history, defaultKeepRatio)
	if cut <= 0 {
		return nil, fmt.Errorf("no compressible prefix found")
	}
	older, recent := history[:cut], history[cut:]

	summaryModel := c.opts.CompressModel
	if summaryModel == "" {
		summaryModel = c.opts.Model
	}

	resp, err := c.backend.ChatCompletion(ctx, model.ChatRequest{
		Model: summaryModel,
		Messages: []model.Message{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: renderTranscript(older)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("summarizing history: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("summarizing history: empty response")
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return nil, fmt.Errorf("summarizing history: blank summary")
	}

	tokensThen := CountMessageTokens(history)

	c.mu.Lock()
	compacted := make([]model.Message, 0, len(recent)+1)
	compacted = append(compacted, model.Message{
		Role:    "user",
		Content: summaryMarker + "\n" + summary,
	})
	compacted = append(compacted, recent...)
	c.history = compacted
	c.promptTokens = 0
	tokensNow := CountMessageTokens(c.history)
	c.mu.Unlock()

	return &CompressResult{
		Summary:    summary,
		Replaced:   len(older),
		Kept:       len(recent),
		UsedModel:  summaryModel,
		TokensThen: tokensThen,
		TokensNow:  tokensNow,
	}, nil
}

// compressionCut picks the boundary between the summarized prefix and the
// kept suffix. keepRatio is the fraction of trailing messages preserved. The
// boundary is advanced past tool responses so a kept assistant tool call is
// never orphaned from its results, and never past an existing summary
// message alone.
func compressionCut(history []model.Message, keepRatio float64) int {
	keep := int(float64(len(history)) * keepRatio)
	if keep < 2 {
		keep = 2
	}
	cut := len(history) - keep
	if cut <= 0 {
		return 0
	}

	// Never split a call/response pair: the suffix must not start mid-batch.
	for cut < len(history) && history[cut].Role == "tool" {
		cut++
	}
	if cut >= len(history) {
		return 0
	}
	// Summarizing only an existing summary is a no-op; skip it.
	if cut == 1 && strings.HasPrefix(history[0].Content, summaryMarker) {
		return 0
	}
	return cut
}

// renderTranscript flattens messages into plain text for the summarizer.
func renderTranscript(msgs []model.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		if msg.Content != "" {
			b.WriteString(msg.Content)
		}
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&b, "[called %s(%s)]", call.Function.Name, call.Function.Arguments)
		}
		b.WriteString("\n")
	}
	return b.String()
}
