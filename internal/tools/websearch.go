package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// WebSearchTool queries the Brave search API.
type WebSearchTool struct {
	apiKey     string
	maxResults int
	client     *http.Client
}

// NewWebSearchTool creates the web search tool.
func NewWebSearchTool(apiKey string, maxResults int) *WebSearchTool {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &WebSearchTool{
		apiKey:     apiKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "WebSearchTool" }

func (t *WebSearchTool) Init() error {
	if t.apiKey == "" {
		return fmt.Errorf("web search: BRAVE_API_KEY is not configured")
	}
	return nil
}

func (t *WebSearchTool) Context() string {
	return `Search the web.
Operations:
  search {query, count?} -> {results: [{title, url, description}]}`
}

type braveWireResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Run(ctx context.Context, args map[string]any) Result {
	if missing := Require(args, "query"); missing != "" {
		return Fail("WebSearchTool: %s is required", missing)
	}
	query := GetString(args, "query", "")
	count := GetInt(args, "count", t.maxResults)
	if count > t.maxResults {
		count = t.maxResults
	}

	endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Fail("WebSearchTool: %v", err)
	}
	req.Header.Set("X-Subscription-Token", t.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("WebSearchTool: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Fail("WebSearchTool: search returned status %d: %s", resp.StatusCode, body)
	}

	var wire braveWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Fail("WebSearchTool: decode response: %v", err)
	}

	results := make([]map[string]any, 0, len(wire.Web.Results))
	for _, r := range wire.Web.Results {
		results = append(results, map[string]any{
			"title":       r.Title,
			"url":         r.URL,
			"description": r.Description,
		})
	}
	return OK(map[string]any{"results": results})
}
