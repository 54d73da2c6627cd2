package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 5 * time.Minute

	// Rate limiting: most provider tiers allow well over 60 requests/minute;
	// 1/second with a small burst keeps us comfortably under every tier.
	defaultRateLimit = rate.Limit(1)
	defaultBurstSize = 10
)

// RetryConfig configures the retry mechanism around chat completions.
// Retries apply to network failures, 429 and 5xx responses; a 400 is
// never retried. The delay doubles each attempt up to MaxInterval and
// carries ±30% uniform jitter.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 5 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// DefaultTransport returns an http.Transport with tuned connection pool settings.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		Proxy:                 http.ProxyFromEnvironment,
	}
}

// Client is an OpenAI-compatible chat completion client.
type Client struct {
	apiKey         string
	baseURL        string
	httpClient     *http.Client
	rateLimiter    *rate.Limiter
	circuitBreaker *CircuitBreaker
	retryConfig    RetryConfig
	onQuotaError   func(*APIError)
}

// ClientOptions configures optional client behavior.
type ClientOptions struct {
	// CircuitBreakerConfig is optional; if nil, default config is used
	CircuitBreakerConfig *CircuitBreakerConfig
	// RetryConfig is optional; if nil, default config is used
	RetryConfig *RetryConfig
	// HTTPClient overrides the default client (tests)
	HTTPClient *http.Client
}

// NewClient creates a new chat completion client.
func NewClient(apiKey string, baseURL string) *Client {
	return NewClientWithOptions(apiKey, baseURL, ClientOptions{})
}

func NewClientWithOptions(apiKey string, baseURL string, opts ClientOptions) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	cbConfig := DefaultCircuitBreakerConfig()
	if opts.CircuitBreakerConfig != nil {
		cbConfig = *opts.CircuitBreakerConfig
	}

	retryConfig := DefaultRetryConfig()
	if opts.RetryConfig != nil {
		retryConfig = *opts.RetryConfig
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: DefaultTransport(),
		}
	}

	return &Client{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		rateLimiter:    rate.NewLimiter(defaultRateLimit, defaultBurstSize),
		circuitBreaker: NewCircuitBreaker(cbConfig),
		httpClient:     httpClient,
		retryConfig:    retryConfig,
	}
}

// SetRetryConfig updates the retry configuration.
func (c *Client) SetRetryConfig(config RetryConfig) {
	c.retryConfig = config
}

// OnQuotaExceeded registers a callback fired when the backend reports
// exhausted quota. The router uses this to enter fallback mode.
func (c *Client) OnQuotaExceeded(fn func(*APIError)) {
	c.onQuotaError = fn
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() string {
	if c.circuitBreaker != nil {
		return c.circuitBreaker.State()
	}
	return "disabled"
}

// backoffDelay computes the delay before retry attempt n (1-based) using
// exponential backoff with ±30% uniform jitter.
func (c *Client) backoffDelay(attempt int, lastErr error) time.Duration {
	if apiErr, ok := lastErr.(*APIError); ok && apiErr.RetryAfter > 0 {
		if apiErr.RetryAfter > c.retryConfig.MaxInterval {
			return c.retryConfig.MaxInterval
		}
		return apiErr.RetryAfter
	}

	delay := float64(c.retryConfig.InitialInterval)
	for i := 1; i < attempt; i++ {
		delay *= c.retryConfig.Multiplier
	}
	if max := float64(c.retryConfig.MaxInterval); delay > max {
		delay = max
	}

	jitter := (rand.Float64()*2 - 1) * 0.3 * delay
	return time.Duration(delay + jitter)
}

func (c *Client) retryable(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	// Network errors are retryable.
	return true
}

func (c *Client) noteError(err error) {
	apiErr, ok := err.(*APIError)
	if !ok {
		return
	}
	if apiErr.IsQuotaExceeded() && c.onQuotaError != nil {
		c.onQuotaError(apiErr)
	}
}

// ChatCompletion performs a non-streaming chat completion with automatic retries.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	var result *ChatResponse
	err := c.circuitBreaker.Call(func() error {
		var lastErr error
		for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if attempt > 1 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(c.backoffDelay(attempt-1, lastErr)):
				}
			}

			resp, err := c.postCompletion(ctx, req, false)
			if err != nil {
				lastErr = err
				c.noteError(err)
				if c.retryable(err) {
					continue
				}
				return err
			}

			var chatResp ChatResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&chatResp)
			resp.Body.Close()
			if decodeErr != nil {
				return fmt.Errorf("decoding response: %w", decodeErr)
			}
			result = &chatResp
			return nil
		}
		return fmt.Errorf("max attempts (%d) exceeded: %w", c.retryConfig.MaxAttempts, lastErr)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ChatCompletionStream performs a streaming chat completion. Chunks arrive on
// the first channel; a terminal error, if any, on the second. Both channels
// close when the stream ends. Retries cover connection establishment only; a
// stream is never resumed mid-flight.
func (c *Client) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)
		defer close(chunkChan)

		err := c.circuitBreaker.Call(func() error {
			return c.executeStreamRequest(ctx, req, chunkChan)
		})
		if err != nil {
			errChan <- err
		}
	}()

	return chunkChan, errChan
}

func (c *Client) executeStreamRequest(ctx context.Context, req ChatRequest, chunkChan chan<- StreamChunk) error {
	req.Stream = true

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoffDelay(attempt-1, lastErr)):
			}
		}

		resp, err := c.postCompletion(ctx, req, true)
		if err != nil {
			lastErr = err
			c.noteError(err)
			if c.retryable(err) {
				continue
			}
			return err
		}

		err = c.parseSSEStream(ctx, resp.Body, chunkChan)
		resp.Body.Close()
		return err
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", c.retryConfig.MaxAttempts, lastErr)
}

func (c *Client) postCompletion(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := c.parseError(resp)
		resp.Body.Close()
		return nil, apiErr
	}
	return resp, nil
}

// parseSSEStream parses a Server-Sent Events stream into chunks.
func (c *Client) parseSSEStream(ctx context.Context, r io.Reader, chunkChan chan<- StreamChunk) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decoding chunk: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunkChan <- chunk:
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/odvcencio/quill")
	req.Header.Set("X-Title", "Quill")
}

// parseError parses a non-200 response into an APIError. 429 and 5xx are
// retryable; everything else, 400 included, is not.
func (c *Client) parseError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Retryable:  retryable,
		}
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		raw := string(body)
		if len(raw) > 500 {
			raw = raw[:500] + "..."
		}
		message := resp.Status
		if raw != "" {
			message = fmt.Sprintf("%s (raw: %s)", resp.Status, raw)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    message,
			Retryable:  retryable,
		}
	}

	message := errResp.Error.Message
	if message == "" {
		message = resp.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Type:       errResp.Error.Type,
		Code:       errResp.Error.Code,
		Retryable:  retryable,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}
