package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxHTTPBody = 256 * 1024

// HTTPTool performs HTTP requests on the agent's behalf.
type HTTPTool struct {
	client *http.Client
}

// NewHTTPTool creates the HTTP tool.
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{Timeout: 60 * time.Second}}
}

func (t *HTTPTool) Name() string { return "HttpTool" }
func (t *HTTPTool) Init() error  { return nil }

func (t *HTTPTool) Context() string {
	return `Perform an HTTP request.
Operations:
  request {url, method?, headers?, body?} -> {status, body}
method defaults to GET. Response bodies are truncated to 256 KB.`
}

func (t *HTTPTool) Run(ctx context.Context, args map[string]any) Result {
	if missing := Require(args, "url"); missing != "" {
		return Fail("HttpTool: %s is required", missing)
	}
	url := GetString(args, "url", "")
	method := strings.ToUpper(GetString(args, "method", http.MethodGet))
	body := GetString(args, "body", "")

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Fail("HttpTool: %v", err)
	}
	for k, v := range GetMap(args, "headers") {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("HttpTool: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return Fail("HttpTool: read response: %v", err)
	}

	return Result{
		"success": resp.StatusCode < 400,
		"status":  resp.StatusCode,
		"body":    string(data),
	}
}
