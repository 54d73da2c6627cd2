package chat

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/odvcencio/quill/pkg/model"
)

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// CountTokens counts tokens in a text, falling back to a byte-length
// estimate when the encoder is unavailable.
func CountTokens(text string) int {
	if err := initTokenEncoder(); err != nil {
		return estimateTokens(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// CountMessageTokens counts tokens across messages including the per-message
// framing overhead of chat-format transports.
func CountMessageTokens(msgs []model.Message) int {
	if err := initTokenEncoder(); err != nil {
		total := 0
		for _, msg := range msgs {
			total += estimateTokens(messageText(msg))
		}
		return total
	}

	total := 0
	for _, msg := range msgs {
		// ~4 tokens of framing per message.
		total += 4
		total += len(tokenEncoder.Encode(msg.Role, nil, nil))
		total += len(tokenEncoder.Encode(messageText(msg), nil, nil))
	}
	if total > 0 {
		total += 2
	}
	return total
}

func messageText(msg model.Message) string {
	text := msg.Content
	for _, call := range msg.ToolCalls {
		text += call.Function.Name + call.Function.Arguments
	}
	return text
}

// estimateTokens approximates at 4 bytes per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
