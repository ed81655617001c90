package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func streamServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		Host:              srv.URL,
		Model:             "test-model",
		TotalTimeout:      5 * time.Second,
		InactivityTimeout: 2 * time.Second,
		MaxRetries:        2,
	})
}

func decodeBody(t *testing.T, r *http.Request, dst any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
}

func writeChunks(w http.ResponseWriter, chunks ...string) {
	flusher, _ := w.(http.Flusher)
	for _, c := range chunks {
		fmt.Fprintf(w, `{"message":{"content":%q},"done":false}`+"\n", c)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, `{"message":{"content":""},"done":true}`+"\n")
}

func TestChatStreamsChunks(t *testing.T) {
	client := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeChunks(w, "Hel", "lo")
	})

	var got []string
	text, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"}, func(chunk string) {
		got = append(got, chunk)
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if text != "Hello" {
		t.Errorf("text = %q, want Hello", text)
	}
	// Final flush delivers an empty chunk.
	if len(got) != 3 || got[len(got)-1] != "" {
		t.Errorf("chunks = %v, want content chunks plus final flush", got)
	}
}

func TestChatJoinsContextAndPrompt(t *testing.T) {
	client := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatWireRequest
		decodeBody(t, r, &req)
		if len(req.Messages) != 1 || req.Messages[0].Content != "ctx\nprompt" {
			t.Errorf("content = %q, want ctx\\nprompt", req.Messages[0].Content)
		}
		writeChunks(w, "ok")
	})
	if _, err := client.Chat(context.Background(), ChatRequest{Prompt: "prompt", Context: "ctx"}, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestChatRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	client := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeChunks(w, "recovered")
	})

	text, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("Chat returned error after retry: %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q", text)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestChatDoesNotRetry401(t *testing.T) {
	var calls atomic.Int32
	client := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"}, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls.Load())
	}
}

func TestChatStreamStall(t *testing.T) {
	client := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		fmt.Fprint(w, `{"message":{"content":"partial"},"done":false}`+"\n")
		if flusher != nil {
			flusher.Flush()
		}
		// Stall past the inactivity window without finishing.
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	})
	client.inactivityTimeout = 100 * time.Millisecond

	_, err := client.Chat(context.Background(), ChatRequest{Prompt: "hi"}, nil)
	if !errors.Is(err, ErrStreamStalled) {
		t.Fatalf("err = %v, want ErrStreamStalled", err)
	}
}

func TestBackoffDelaySequence(t *testing.T) {
	plain := errors.New("transient")
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range tests {
		if got := backoffDelay(tc.attempt, plain); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}

	ra := &retryAfterError{err: plain, retryAfter: 7 * time.Second}
	if got := backoffDelay(0, ra); got != 7*time.Second {
		t.Errorf("retry-after delay = %v, want 7s", got)
	}
}

func TestIntrospectContextLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/show" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"details":{"parameter_size":"32B","quantization_level":"Q4_K_M"},"model_info":{"qwen3.context_length":40960}}`)
	}))
	defer srv.Close()

	client := NewClient(Options{Host: srv.URL, Model: "qwen3:32b"})
	info, err := client.Introspect(context.Background(), "")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if info.ParamSize != "32B" || info.Quantization != "Q4_K_M" {
		t.Errorf("details = %+v", info)
	}
	if info.ContextLength != 40960 {
		t.Errorf("context length = %d, want 40960", info.ContextLength)
	}
}
