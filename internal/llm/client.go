// Package llm implements a streaming client for Ollama-compatible
// chat endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Failure kinds surfaced to the orchestrator. Only transient kinds are
// retried internally.
var (
	ErrTimeout            = errors.New("llm: total timeout exceeded")
	ErrStreamStalled      = errors.New("llm: stream inactivity timeout")
	ErrUnauthorized       = errors.New("llm: unauthorized")
	ErrRateLimited        = errors.New("llm: rate limited")
	ErrServiceUnavailable = errors.New("llm: service unavailable")
	ErrNetwork            = errors.New("llm: network error")
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 30 * time.Second
)

// Client talks to one Ollama-compatible endpoint.
type Client struct {
	host              string
	apiKey            string
	modelMu           sync.RWMutex
	defaultModel      string
	totalTimeout      time.Duration
	inactivityTimeout time.Duration
	maxRetries        int
	httpClient        *http.Client
}

// Options configures a Client.
type Options struct {
	Host              string
	APIKey            string
	Model             string
	TotalTimeout      time.Duration
	InactivityTimeout time.Duration
	MaxRetries        int
}

// NewClient creates a Client. Zero options fall back to defaults.
func NewClient(opts Options) *Client {
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = 10 * time.Minute
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 2 * time.Minute
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Client{
		host:              strings.TrimRight(opts.Host, "/"),
		apiKey:            opts.APIKey,
		defaultModel:      opts.Model,
		totalTimeout:      opts.TotalTimeout,
		inactivityTimeout: opts.InactivityTimeout,
		maxRetries:        opts.MaxRetries,
		// Per-request deadlines come from contexts; no client-wide timeout.
		httpClient: &http.Client{},
	}
}

// DefaultModel returns the configured default model name.
func (c *Client) DefaultModel() string {
	c.modelMu.RLock()
	defer c.modelMu.RUnlock()
	return c.defaultModel
}

// SetDefaultModel retargets subsequent requests at a different model.
func (c *Client) SetDefaultModel(name string) {
	c.modelMu.Lock()
	c.defaultModel = name
	c.modelMu.Unlock()
}

// ChatRequest contains the parameters for a streaming chat call.
type ChatRequest struct {
	Prompt  string
	Context string
	Model   string
	// Images are base64-encoded blobs attached to the user message.
	Images []string
}

type chatWireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type wireMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatWireChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Chat opens a streaming chat completion. The user message content is
// the context block and the prompt joined by a newline. onChunk is
// invoked for every content chunk (may be nil); the accumulated text is
// returned after the final flush.
//
// Fails with ErrTimeout when total wall-clock exceeds the configured
// limit, ErrStreamStalled when no chunk arrives within the inactivity
// window. Transient failures (429, 502, 503, 504, connection resets)
// are retried with exponential backoff; a parseable Retry-After from
// the server takes precedence over the computed delay.
func (c *Client) Chat(ctx context.Context, req ChatRequest, onChunk func(string)) (string, error) {
	model := req.Model
	if model == "" {
		model = c.DefaultModel()
	}
	content := req.Prompt
	if req.Context != "" {
		content = req.Context + "\n" + req.Prompt
	}

	body := chatWireRequest{
		Model:    model,
		Messages: []wireMessage{{Role: "user", Content: content, Images: req.Images}},
		Stream:   true,
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.totalTimeout, ErrTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; ; attempt++ {
		text, delivered, err := c.streamOnce(ctx, body, onChunk)
		if err == nil {
			return text, nil
		}
		lastErr = err

		// Never retry after partial delivery or on non-retryable kinds.
		if delivered || !retryable(err) || attempt >= c.maxRetries {
			return "", lastErr
		}
		delay := backoffDelay(attempt, err)
		slog.Warn("Ollama request failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", causeOf(ctx)
		case <-time.After(delay):
		}
	}
}

// streamOnce performs a single streaming attempt. delivered reports
// whether any content chunk reached the caller before the failure.
func (c *Client) streamOnce(ctx context.Context, body chatWireRequest, onChunk func(string)) (string, bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", false, fmt.Errorf("marshal chat request: %w", err)
	}

	// The watchdog aborts the in-flight request at the transport layer
	// when the stream goes quiet.
	reqCtx, cancelStalled := context.WithCancelCause(ctx)
	defer cancelStalled(nil)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if cause := context.Cause(reqCtx); cause != nil && !errors.Is(cause, context.Canceled) {
			return "", false, cause
		}
		return "", false, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, classifyStatus(resp)
	}

	watchdog := time.AfterFunc(c.inactivityTimeout, func() {
		cancelStalled(ErrStreamStalled)
	})
	defer watchdog.Stop()

	var full strings.Builder
	delivered := false
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk chatWireChunk
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			if cause := context.Cause(reqCtx); cause != nil && !errors.Is(cause, context.Canceled) {
				return full.String(), delivered, cause
			}
			return full.String(), delivered, fmt.Errorf("%w: decode stream: %v", ErrNetwork, err)
		}
		watchdog.Reset(c.inactivityTimeout)

		if chunk.Error != "" {
			return full.String(), delivered, classifyErrorCode(chunk.Error)
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			delivered = true
			if onChunk != nil {
				onChunk(chunk.Message.Content)
			}
		}
		if chunk.Done {
			break
		}
	}

	// Final flush.
	if onChunk != nil {
		onChunk("")
	}
	return full.String(), delivered, nil
}

func classifyStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrUnauthorized, resp.StatusCode, snippet)
	case http.StatusTooManyRequests:
		return &retryAfterError{
			err:        fmt.Errorf("%w: status 429: %s", ErrRateLimited, snippet),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &retryAfterError{
			err:        fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, snippet),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	default:
		return fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, snippet)
	}
}

func classifyErrorCode(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "invalid api key"):
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case strings.Contains(lower, "rate limit"):
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	default:
		return fmt.Errorf("llm: server error: %s", msg)
	}
}

// retryAfterError carries a server-supplied retry delay.
type retryAfterError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrNetwork):
		return true
	default:
		return false
	}
}

// backoffDelay returns 1s, 2s, 4s, ... capped at 30s, unless the
// server supplied a parseable Retry-After.
func backoffDelay(attempt int, err error) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) && ra.retryAfter > 0 {
		if ra.retryAfter > backoffCap {
			return backoffCap
		}
		return ra.retryAfter
	}
	delay := backoffBase << attempt
	if delay > backoffCap || delay <= 0 {
		return backoffCap
	}
	return delay
}

func causeOf(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
