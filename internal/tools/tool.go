// Package tools provides the tool framework and implementations for
// the agent.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Result is the uniform tool return shape. Every result carries a
// "success" boolean; failures add "error".
type Result map[string]any

// OK builds a success result with extra fields.
func OK(fields map[string]any) Result {
	r := Result{"success": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// Fail builds a failure result.
func Fail(format string, args ...any) Result {
	return Result{"success": false, "error": fmt.Sprintf(format, args...)}
}

// Failed reports whether a result is a failure (success=false or a
// non-empty error field).
func (r Result) Failed() bool {
	if ok, exists := r["success"].(bool); exists && !ok {
		return true
	}
	if errVal, exists := r["error"]; exists && errVal != nil && errVal != "" {
		return true
	}
	return false
}

// Tool is the interface all agent tools implement.
type Tool interface {
	// Name returns the tool identifier used in LLM actions.
	Name() string
	// Init prepares the tool; may be a no-op.
	Init() error
	// Run executes the tool. Failures are reported inside the Result,
	// never as a panic or Go error, so the loop can feed them back to
	// the model.
	Run(ctx context.Context, args map[string]any) Result
	// Context returns the tool's capability document: a human-readable
	// schema of its operations, argument shapes, and result shape.
	Context() string
}

// Registry manages tool registration, dispatch, and the condensed tool
// context.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool // lowercase name → tool

	condenseOnce sync.Once
	condensed    string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(t.Name())] = t
}

// Get resolves a tool by name. The lookup is case-insensitive and
// tolerates a missing "Tool" suffix, since names originate from an LLM.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.ToLower(strings.TrimSpace(name))
	if t, ok := r.tools[key]; ok {
		return t, true
	}
	if t, ok := r.tools[key+"tool"]; ok {
		return t, true
	}
	return nil, false
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// InitAll initializes every registered tool, failing on the first error.
func (r *Registry) InitAll() error {
	for _, t := range r.List() {
		if err := t.Init(); err != nil {
			return fmt.Errorf("init tool %s: %w", t.Name(), err)
		}
	}
	return nil
}

// Run dispatches a tool invocation. A crash inside a tool is caught
// and recorded as a failure result so the model sees it on the next
// turn.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any) (result Result) {
	tool, ok := r.Get(name)
	if !ok {
		return Fail("unknown tool %q; available tools: %s", name, strings.Join(r.Names(), ", "))
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool crashed", "tool", tool.Name(), "panic", rec)
			result = Result{"success": false, "error": fmt.Sprint(rec), "exitCode": 1}
		}
	}()
	return tool.Run(ctx, args)
}

// Names returns the registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// FullContext concatenates every tool's capability document.
func (r *Registry) FullContext() string {
	var b strings.Builder
	for _, t := range r.List() {
		b.WriteString("## ")
		b.WriteString(t.Name())
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(t.Context()))
		b.WriteString("\n\n")
	}
	return b.String()
}

// Summarizer compresses a capability document into condensed form.
// Implemented by the LLM client.
type Summarizer func(ctx context.Context, text string) (string, error)

const condensePrompt = `Condense the following tool documentation into a compact reference.
Keep every tool name, every operation name, and every required argument name exactly as written.
Drop prose, examples, and result-shape detail. Output plain text.

`

// CondensedContext returns the condensed tool context, computing it
// once per process lifetime. When summarization fails the full
// concatenation is cached instead; the loop must never run without a
// tool description.
func (r *Registry) CondensedContext(ctx context.Context, summarize Summarizer) string {
	r.condenseOnce.Do(func() {
		full := r.FullContext()
		if summarize == nil {
			r.condensed = full
			return
		}
		condensed, err := summarize(ctx, condensePrompt+full)
		if err != nil || strings.TrimSpace(condensed) == "" {
			slog.Warn("Tool context compression failed, using full text", "error", err)
			r.condensed = full
			return
		}
		slog.Info("Tool context compressed", "full_chars", len(full), "condensed_chars", len(condensed))
		r.condensed = condensed
	})
	return r.condensed
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

// GetString extracts a string argument with a default value.
func GetString(args map[string]any, key, defaultVal string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int argument with a default value.
func GetInt(args map[string]any, key string, defaultVal int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool argument with a default value.
func GetBool(args map[string]any, key string, defaultVal bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetMap extracts an object argument.
func GetMap(args map[string]any, key string) map[string]any {
	if v, ok := args[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// Require returns the first missing key from args, or "" when all are
// present and non-empty. Required-parameter validation happens here at
// the dispatcher boundary, not inside the stores.
func Require(args map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := args[key]
		if !ok || v == nil {
			return key
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return key
		}
	}
	return ""
}
