package cron

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndGetJob(t *testing.T) {
	s := openTestStore(t)
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	added, err := s.Add(Job{
		Type:    TypeOneTime,
		Action:  Action{Kind: ActionBash, Command: "echo hi"},
		Time:    &at,
		Channel: "general",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" {
		t.Fatal("Add did not assign an id")
	}

	got, err := s.Get(added.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != TypeOneTime || got.Action.Command != "echo hi" || got.Channel != "general" {
		t.Fatalf("Get returned %+v", got)
	}
	if got.Time == nil || !got.Time.UTC().Equal(at) {
		t.Fatalf("Get time = %v, want %v", got.Time, at)
	}
}

func TestAddValidation(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	tests := []struct {
		name string
		job  Job
	}{
		{"missing action", Job{Type: TypeOneTime, Time: &now}},
		{"bash without command", Job{Type: TypeOneTime, Time: &now, Action: Action{Kind: ActionBash}}},
		{"prompt without text", Job{Type: TypeInterval, IntervalMS: 1000, Action: Action{Kind: ActionPrompt}}},
		{"one_time without time", Job{Type: TypeOneTime, Action: Action{Kind: ActionBash, Command: "x"}}},
		{"interval without interval", Job{Type: TypeInterval, Action: Action{Kind: ActionBash, Command: "x"}}},
		{"schedule without days", Job{Type: TypeSchedule, Schedule: &Schedule{}, Action: Action{Kind: ActionBash, Command: "x"}}},
		{"schedule day out of range", Job{Type: TypeSchedule, Schedule: &Schedule{Days: []int{7}}, Action: Action{Kind: ActionBash, Command: "x"}}},
		{"bad expr", Job{Type: TypeExpr, Expr: "* *", Action: Action{Kind: ActionBash, Command: "x"}}},
		{"unknown type", Job{Type: "hourly", Action: Action{Kind: ActionBash, Command: "x"}}},
	}
	for _, tc := range tests {
		if _, err := s.Add(tc.job); err == nil {
			t.Errorf("%s: Add should have failed", tc.name)
		}
	}
}

func TestRemoveAndNotFound(t *testing.T) {
	s := openTestStore(t)
	added, err := s.Add(Job{Type: TypeInterval, IntervalMS: 60_000,
		Action: Action{Kind: ActionPrompt, Prompt: "check the mail"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Remove(added.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(added.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after remove = %v, want ErrNotFound", err)
	}
	if err := s.Remove(added.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove = %v, want ErrNotFound", err)
	}
}

func TestDisableFiltersListEnabled(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.Add(Job{Type: TypeInterval, IntervalMS: 1000, Action: Action{Kind: ActionBash, Command: "a"}})
	b, _ := s.Add(Job{Type: TypeInterval, IntervalMS: 1000, Action: Action{Kind: ActionBash, Command: "b"}})

	if err := s.SetDisabled(a.ID, true); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}
	enabled, err := s.ListEnabled()
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != b.ID {
		t.Fatalf("ListEnabled = %+v, want only %s", enabled, b.ID)
	}

	if err := s.SetDisabled(a.ID, false); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	enabled, _ = s.ListEnabled()
	if len(enabled) != 2 {
		t.Fatalf("ListEnabled after re-enable = %d jobs, want 2", len(enabled))
	}
}

func TestMarkFiredRoundTrip(t *testing.T) {
	s := openTestStore(t)
	added, _ := s.Add(Job{Type: TypeInterval, IntervalMS: 1000, Action: Action{Kind: ActionBash, Command: "x"}})

	at := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	if err := s.MarkFired(added.ID, at); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}
	got, err := s.Get(added.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastFired == nil || !got.LastFired.UTC().Equal(at) {
		t.Fatalf("LastFired = %v, want %v", got.LastFired, at)
	}
}

func TestFromArgsNormalization(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	job, err := FromArgs(map[string]any{
		"delay":   float64(90),
		"message": "water the plants",
	}, now)
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if job.Type != TypeOneTime {
		t.Fatalf("type = %q, want one_time", job.Type)
	}
	if job.Action.Kind != ActionPrompt || job.Action.Prompt != "water the plants" {
		t.Fatalf("action = %+v", job.Action)
	}
	if job.Time == nil || !job.Time.Equal(now.Add(90*time.Second)) {
		t.Fatalf("time = %v, want now+90s", job.Time)
	}

	job, err = FromArgs(map[string]any{
		"interval": float64(300),
		"command":  "df -h",
	}, now)
	if err != nil {
		t.Fatalf("FromArgs interval: %v", err)
	}
	if job.Type != TypeInterval || job.IntervalMS != 300_000 || job.Action.Kind != ActionBash {
		t.Fatalf("interval job = %+v", job)
	}

	job, err = FromArgs(map[string]any{
		"schedule": map[string]any{"days": []any{float64(1)}, "hour": float64(9), "minute": float64(0)},
		"action":   map[string]any{"kind": "prompt", "message": "weekly report"},
	}, now)
	if err != nil {
		t.Fatalf("FromArgs schedule: %v", err)
	}
	if job.Type != TypeSchedule || job.Schedule == nil || job.Schedule.Hour != 9 {
		t.Fatalf("schedule job = %+v", job)
	}
	if job.Action.Prompt != "weekly report" {
		t.Fatalf("action message not promoted: %+v", job.Action)
	}

	if _, err := FromArgs(map[string]any{"command": "ls"}, now); err == nil {
		t.Fatal("FromArgs with no timing info should fail")
	}
}
