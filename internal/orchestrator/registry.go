package orchestrator

import (
	"strings"
	"sync"
)

// AbortRegistry is the concurrent-safe set of channels with a pending
// stop request.
type AbortRegistry struct {
	mu      sync.Mutex
	pending map[string]bool
}

// NewAbortRegistry creates an empty registry.
func NewAbortRegistry() *AbortRegistry {
	return &AbortRegistry{pending: make(map[string]bool)}
}

// Request flags a channel for abort.
func (r *AbortRegistry) Request(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[channel] = true
}

// Pending reports whether a channel has a pending abort.
func (r *AbortRegistry) Pending(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[channel]
}

// Clear removes a channel's pending abort.
func (r *AbortRegistry) Clear(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, channel)
}

// Continuation is the saved loop state of a chain that hit its step
// limit with work pending.
type Continuation struct {
	Prompt           string
	AssembledContext string
	Model            string
	User             string
	ToolResults      []ToolResult
	LoopLimit        int
}

// ContinuationRegistry holds at most one pending continuation per
// channel; a new save replaces the old atomically.
type ContinuationRegistry struct {
	mu      sync.Mutex
	pending map[string]*Continuation
}

// NewContinuationRegistry creates an empty registry.
func NewContinuationRegistry() *ContinuationRegistry {
	return &ContinuationRegistry{pending: make(map[string]*Continuation)}
}

// Save stores (or replaces) the channel's pending continuation.
func (r *ContinuationRegistry) Save(channel string, c *Continuation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[channel] = c
}

// Take removes and returns the channel's pending continuation. The
// entry is consumed whether or not the caller resumes it.
func (r *ContinuationRegistry) Take(channel string) (*Continuation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[channel]
	delete(r.pending, channel)
	return c, ok
}

var affirmativeTokens = map[string]bool{
	"yes": true, "yep": true, "yeah": true, "y": true,
	"continue": true, "ok": true, "okay": true, "sure": true,
	"proceed": true, "go ahead": true, "go on": true,
	"keep going": true, "please continue": true, "do it": true,
}

// IsAffirmative reports whether a message is a bare go-ahead, the
// signal to resume a pending continuation.
func IsAffirmative(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.TrimRight(normalized, ".!?")
	return affirmativeTokens[normalized]
}
