package tools

import (
	"context"
	"strings"
	"testing"
)

type stubTool struct {
	name    string
	result  Result
	crash   bool
	lastArg map[string]any
}

func (s *stubTool) Name() string    { return s.name }
func (s *stubTool) Init() error     { return nil }
func (s *stubTool) Context() string { return "stub tool\nOperations:\n  noop {}" }

func (s *stubTool) Run(_ context.Context, args map[string]any) Result {
	s.lastArg = args
	if s.crash {
		panic("stub exploded")
	}
	return s.result
}

func TestRegistryLookupIsForgiving(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "FileReadTool", result: OK(nil)})

	for _, name := range []string{"FileReadTool", "filereadtool", "FILEREADTOOL", "FileRead", "fileread"} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("Get(%q) did not resolve", name)
		}
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) should not resolve")
	}
}

func TestRegistryRunUnknownToolListsAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "BashTool", result: OK(nil)})

	res := r.Run(context.Background(), "TeleportTool", nil)
	if !res.Failed() {
		t.Fatal("unknown tool should fail")
	}
	if msg, _ := res["error"].(string); !strings.Contains(msg, "BashTool") {
		t.Fatalf("error should list available tools, got %q", msg)
	}
}

func TestRegistryRunRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "CrashTool", crash: true})

	res := r.Run(context.Background(), "CrashTool", nil)
	if !res.Failed() {
		t.Fatal("panicking tool should produce a failure result")
	}
	if msg, _ := res["error"].(string); !strings.Contains(msg, "stub exploded") {
		t.Fatalf("error = %q, want panic message", msg)
	}
	if res["exitCode"] != 1 {
		t.Fatalf("exitCode = %v, want 1", res["exitCode"])
	}
}

func TestResultFailed(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		failed bool
	}{
		{"success", OK(nil), false},
		{"explicit failure", Fail("boom"), true},
		{"success false", Result{"success": false}, true},
		{"error field only", Result{"success": true, "error": "partial"}, true},
		{"empty error tolerated", Result{"success": true, "error": ""}, false},
	}
	for _, tc := range tests {
		if got := tc.result.Failed(); got != tc.failed {
			t.Errorf("%s: Failed() = %v, want %v", tc.name, got, tc.failed)
		}
	}
}

func TestCondensedContextFallsBackOnError(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "BashTool", result: OK(nil)})

	got := r.CondensedContext(context.Background(), func(_ context.Context, _ string) (string, error) {
		return "", context.DeadlineExceeded
	})
	if !strings.Contains(got, "BashTool") {
		t.Fatalf("fallback context should contain the full text, got %q", got)
	}
}

func TestCondensedContextComputedOnce(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "BashTool", result: OK(nil)})

	calls := 0
	summarize := func(_ context.Context, _ string) (string, error) {
		calls++
		return "condensed", nil
	}
	first := r.CondensedContext(context.Background(), summarize)
	second := r.CondensedContext(context.Background(), summarize)
	if first != "condensed" || second != "condensed" {
		t.Fatalf("condensed = %q / %q", first, second)
	}
	if calls != 1 {
		t.Fatalf("summarizer called %d times, want 1", calls)
	}
}

func TestRequire(t *testing.T) {
	args := map[string]any{"a": "x", "b": "", "c": nil, "d": 3}
	if missing := Require(args, "a", "d"); missing != "" {
		t.Errorf("Require(a,d) = %q, want empty", missing)
	}
	if missing := Require(args, "a", "b"); missing != "b" {
		t.Errorf("Require(a,b) = %q, want b", missing)
	}
	if missing := Require(args, "c"); missing != "c" {
		t.Errorf("Require(c) = %q, want c", missing)
	}
	if missing := Require(args, "missing"); missing != "missing" {
		t.Errorf("Require(missing) = %q", missing)
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s": "text",
		"f": float64(7),
		"b": true,
		"m": map[string]any{"k": "v"},
	}
	if got := GetString(args, "s", "d"); got != "text" {
		t.Errorf("GetString = %q", got)
	}
	if got := GetString(args, "f", "d"); got != "d" {
		t.Errorf("GetString on non-string = %q, want default", got)
	}
	if got := GetInt(args, "f", 0); got != 7 {
		t.Errorf("GetInt = %d", got)
	}
	if got := GetBool(args, "b", false); !got {
		t.Error("GetBool = false")
	}
	if got := GetMap(args, "m"); got == nil || got["k"] != "v" {
		t.Errorf("GetMap = %v", got)
	}
}
