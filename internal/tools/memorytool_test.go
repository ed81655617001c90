package tools

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/skippybot/skippy/internal/cron"
	"github.com/skippybot/skippy/internal/memory"
)

func newMemoryTool(t *testing.T) *MemoryTool {
	t.Helper()
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewMemoryTool(store, "alice")
}

func TestMemoryToolSetGetDelete(t *testing.T) {
	mt := newMemoryTool(t)
	ctx := context.Background()

	res := mt.Run(ctx, map[string]any{
		"operation": "set_memory",
		"key":       "favorite_color",
		"value":     "teal",
		"category":  "preferences",
	})
	if res.Failed() {
		t.Fatalf("set_memory failed: %v", res["error"])
	}

	res = mt.Run(ctx, map[string]any{"operation": "get_memory", "key": "favorite_color"})
	if res.Failed() {
		t.Fatalf("get_memory failed: %v", res["error"])
	}
	m := res["memory"].(memory.Memory)
	if m.Value != "teal" || m.Category != "preferences" {
		t.Fatalf("memory = %+v", m)
	}

	res = mt.Run(ctx, map[string]any{"operation": "delete_memory", "key": "favorite_color"})
	if res.Failed() {
		t.Fatalf("delete_memory failed: %v", res["error"])
	}
	res = mt.Run(ctx, map[string]any{"operation": "get_memory", "key": "favorite_color"})
	if !res.Failed() {
		t.Fatal("get after delete should fail")
	}
}

func TestMemoryToolValidatesRequiredParams(t *testing.T) {
	mt := newMemoryTool(t)
	ctx := context.Background()

	tests := []map[string]any{
		{},
		{"operation": "set_memory"},
		{"operation": "set_memory", "key": "k"},
		{"operation": "get_memory"},
		{"operation": "set_channel_memory", "key": "k", "value": "v"},
		{"operation": "purge_channel"},
		{"operation": "search_memories"},
		{"operation": "create_skill"},
		{"operation": "no_such_op"},
	}
	for i, args := range tests {
		if res := mt.Run(ctx, args); !res.Failed() {
			t.Errorf("case %d (%v) should have failed", i, args)
		}
	}
}

func TestMemoryToolChannelScope(t *testing.T) {
	mt := newMemoryTool(t)
	ctx := context.Background()

	res := mt.Run(ctx, map[string]any{
		"operation": "set_channel_memory",
		"channel":   "general",
		"key":       "topic",
		"value":     "homelab",
	})
	if res.Failed() {
		t.Fatalf("set_channel_memory failed: %v", res["error"])
	}

	res = mt.Run(ctx, map[string]any{"operation": "get_memory", "key": "topic"})
	if !res.Failed() {
		t.Fatal("channel memory must not leak into the global scope")
	}

	res = mt.Run(ctx, map[string]any{"operation": "search_memories", "query": "homelab"})
	if res.Failed() {
		t.Fatalf("search_memories failed: %v", res["error"])
	}
	hits := res["hits"].([]memory.SearchHit)
	if len(hits) != 1 || hits[0].Scope != "channel:general" {
		t.Fatalf("hits = %+v", hits)
	}

	res = mt.Run(ctx, map[string]any{"operation": "purge_channel", "channel": "general"})
	if res.Failed() || res["purged"] != int64(1) {
		t.Fatalf("purge_channel = %v", res)
	}
}

func TestMemoryToolSkillLifecycle(t *testing.T) {
	mt := newMemoryTool(t)
	ctx := context.Background()

	res := mt.Run(ctx, map[string]any{
		"operation":    "create_skill",
		"name":         "brew_coffee",
		"description":  "operate the espresso machine",
		"instructions": "grind, tamp, pull",
	})
	if res.Failed() {
		t.Fatalf("create_skill failed: %v", res["error"])
	}

	// Flattened update shape: unknown keys merge into skill_data.
	res = mt.Run(ctx, map[string]any{
		"operation": "update_skill",
		"name":      "brew_coffee",
		"grind":     map[string]any{"setting": float64(12)},
	})
	if res.Failed() {
		t.Fatalf("update_skill failed: %v", res["error"])
	}
	sk := res["skill"].(memory.Skill)
	grind, _ := sk.SkillData["grind"].(map[string]any)
	if grind["setting"] != float64(12) {
		t.Fatalf("skill_data = %+v", sk.SkillData)
	}

	res = mt.Run(ctx, map[string]any{"operation": "list_skills"})
	if res.Failed() {
		t.Fatalf("list_skills failed: %v", res["error"])
	}
	if skills := res["skills"].([]memory.Skill); len(skills) != 1 {
		t.Fatalf("skills = %+v", skills)
	}

	res = mt.Run(ctx, map[string]any{"operation": "delete_skill", "name": "brew_coffee"})
	if res.Failed() {
		t.Fatalf("delete_skill failed: %v", res["error"])
	}
}

type fakeSender struct {
	channel, content string
	err              error
}

func (f *fakeSender) SendMessage(channelID, content string) error {
	f.channel, f.content = channelID, content
	return f.err
}

func TestDiscordSendTool(t *testing.T) {
	sender := &fakeSender{}
	d := NewDiscordSendTool(sender)

	res := d.Run(context.Background(), map[string]any{"channel": "123", "message": "working on it"})
	if res.Failed() {
		t.Fatalf("send failed: %v", res["error"])
	}
	if sender.channel != "123" || sender.content != "working on it" {
		t.Fatalf("sender got %q / %q", sender.channel, sender.content)
	}

	res = d.Run(context.Background(), map[string]any{"channel": "123"})
	if !res.Failed() {
		t.Fatal("send without message should fail")
	}
}

func TestCronToolAddListRemove(t *testing.T) {
	store, err := cron.OpenStore(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("cron.OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ct := NewCronTool(store)
	ctx := context.Background()

	res := ct.Run(ctx, map[string]any{
		"operation": "add",
		"delay":     float64(60),
		"message":   "check the oven",
	})
	if res.Failed() {
		t.Fatalf("add failed: %v", res["error"])
	}
	job := res["job"].(cron.Job)
	if job.Type != cron.TypeOneTime || job.Action.Prompt != "check the oven" {
		t.Fatalf("job = %+v", job)
	}
	if job.Time == nil || time.Until(*job.Time) > 61*time.Second {
		t.Fatalf("delay not converted to a near-future time: %v", job.Time)
	}

	res = ct.Run(ctx, map[string]any{"operation": "list"})
	if res.Failed() {
		t.Fatalf("list failed: %v", res["error"])
	}
	if jobs := res["jobs"].([]cron.Job); len(jobs) != 1 {
		t.Fatalf("jobs = %+v", jobs)
	}

	res = ct.Run(ctx, map[string]any{"operation": "disable", "id": job.ID})
	if res.Failed() {
		t.Fatalf("disable failed: %v", res["error"])
	}

	res = ct.Run(ctx, map[string]any{"operation": "remove", "id": job.ID})
	if res.Failed() {
		t.Fatalf("remove failed: %v", res["error"])
	}
	res = ct.Run(ctx, map[string]any{"operation": "remove", "id": job.ID})
	if !res.Failed() {
		t.Fatal("removing a missing job should fail")
	}
}
