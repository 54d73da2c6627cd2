package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClientWithOptions("test-key", server.URL, ClientOptions{
		RetryConfig: fastRetryConfig(),
		HTTPClient:  server.Client(),
	})
	return client, server
}

func successResponse(content string) ChatResponse {
	return ChatResponse{
		ID:    "resp-1",
		Model: "test-model",
		Choices: []Choice{{
			Message:      Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func TestChatCompletionSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(successResponse("hello"))
	}))

	resp, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChatCompletionRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{Message: "slow down"}})
			return
		}
		json.NewEncoder(w).Encode(successResponse("recovered"))
	}))

	resp, err := client.ChatCompletion(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Choices[0].Message.Content)
	assert.Equal(t, int32(2), calls.Load(), "expected exactly one retry")
}

func TestChatCompletionNoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
			Message: "invalid request",
			Type:    "invalid_request_error",
		}})
	}))

	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "test-model"})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable)
	assert.Equal(t, int32(1), calls.Load(), "400 must not be retried")
}

func TestChatCompletionExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "test-model"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestChatCompletionCancelledContext(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ChatCompletion(ctx, ChatRequest{Model: "test-model"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load(), "cancelled context must not reach the wire")
}

func TestChatCompletionQuotaCallback(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
			Message: "quota exhausted",
			Code:    "insufficient_quota",
		}})
	}))

	var quotaErr *APIError
	client.OnQuotaExceeded(func(e *APIError) { quotaErr = e })

	_, err := client.ChatCompletion(context.Background(), ChatRequest{Model: "test-model"})
	require.Error(t, err)
	require.NotNil(t, quotaErr)
	assert.True(t, quotaErr.IsQuotaExceeded())
}

func TestChatCompletionStream(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"role":"assistant","content":"hel"}}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}],"usage":{"total_tokens":7}}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))

	chunks, errs := client.ChatCompletionStream(context.Background(), ChatRequest{Model: "test-model"})

	acc := NewStreamAccumulator()
	for chunk := range chunks {
		acc.Add(chunk)
	}
	require.NoError(t, <-errs)

	assert.Equal(t, "hello", acc.Content())
	assert.Equal(t, "stop", acc.FinishReason())
	require.NotNil(t, acc.Usage())
	assert.Equal(t, 7, acc.Usage().TotalTokens)
}

func TestChatCompletionStreamToolCalls(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"pa"}}]}}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"th\":\"a.go\"}"}}]},"finish_reason":"tool_calls"}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))

	chunks, errs := client.ChatCompletionStream(context.Background(), ChatRequest{Model: "test-model"})

	acc := NewStreamAccumulator()
	for chunk := range chunks {
		acc.Add(chunk)
	}
	require.NoError(t, <-errs)

	require.True(t, acc.HasToolCalls())
	calls := acc.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "read_file", calls[0].Function.Name)
	assert.JSONEq(t, `{"path":"a.go"}`, calls[0].Function.Arguments)
}

func TestBackoffDelayHonorsRetryAfter(t *testing.T) {
	client := NewClientWithOptions("k", "http://localhost", ClientOptions{
		RetryConfig: &RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		},
	})

	delay := client.backoffDelay(1, &APIError{StatusCode: 429, RetryAfter: 2 * time.Second})
	assert.Equal(t, 2*time.Second, delay)

	delay = client.backoffDelay(1, &APIError{StatusCode: 429, RetryAfter: time.Minute})
	assert.Equal(t, 30*time.Second, delay)
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	client := NewClientWithOptions("k", "http://localhost", ClientOptions{
		RetryConfig: &RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		},
	})

	for attempt := 1; attempt <= 3; attempt++ {
		base := 5 * time.Second
		for i := 1; i < attempt; i++ {
			base *= 2
		}
		if base > 30*time.Second {
			base = 30 * time.Second
		}
		for i := 0; i < 50; i++ {
			delay := client.backoffDelay(attempt, nil)
			assert.GreaterOrEqual(t, delay, time.Duration(float64(base)*0.7))
			assert.LessOrEqual(t, delay, time.Duration(float64(base)*1.3))
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 10*time.Second, parseRetryAfter("10"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
}
