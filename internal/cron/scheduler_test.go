package cron

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingRunner struct {
	mu      sync.Mutex
	prompts []string
}

func (r *recordingRunner) RunScheduledPrompt(_ context.Context, _, prompt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prompts)
}

func newTestScheduler(t *testing.T) (*Scheduler, *Store, *recordingRunner) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	runner := &recordingRunner{}
	return NewScheduler(store, runner), store, runner
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestDueOneTime(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if !Due(Job{Type: TypeOneTime, Time: &past}, now) {
		t.Error("past one_time should be due")
	}
	if !Due(Job{Type: TypeOneTime, Time: &now}, now) {
		t.Error("exact-time one_time should be due")
	}
	if Due(Job{Type: TypeOneTime, Time: &future}, now) {
		t.Error("future one_time should not be due")
	}
}

func TestDueInterval(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	job := Job{Type: TypeInterval, IntervalMS: 60_000}

	if !Due(job, now) {
		t.Error("never-fired interval should be due")
	}
	recent := now.Add(-30 * time.Second)
	job.LastFired = &recent
	if Due(job, now) {
		t.Error("interval fired 30s ago with a 60s period should not be due")
	}
	old := now.Add(-2 * time.Minute)
	job.LastFired = &old
	if !Due(job, now) {
		t.Error("interval fired 2m ago with a 60s period should be due")
	}
}

// A days=[1] hour=9 minute=0 job fires exactly once within any Monday
// 09:00 minute, regardless of how many ticks land inside it.
func TestDueScheduleOncePerMinute(t *testing.T) {
	job := Job{
		Type:     TypeSchedule,
		Schedule: &Schedule{Days: []int{1}, Hour: 9, Minute: 0},
	}
	monday := time.Date(2026, 3, 2, 9, 0, 10, 0, time.UTC) // a Monday

	if !Due(job, monday) {
		t.Fatal("should be due at Monday 09:00")
	}
	fired := monday
	job.LastFired = &fired

	for _, jitter := range []time.Duration{0, 5 * time.Second, 30 * time.Second, 49 * time.Second} {
		if Due(job, monday.Add(jitter)) {
			t.Errorf("should not re-fire within the same minute (jitter %v)", jitter)
		}
	}

	nextWeek := monday.AddDate(0, 0, 7)
	if !Due(job, nextWeek) {
		t.Error("should be due again the following Monday")
	}

	tuesday := monday.AddDate(0, 0, 1)
	if Due(job, tuesday) {
		t.Error("should not be due on Tuesday")
	}
	if Due(job, monday.Add(time.Hour)) {
		t.Error("should not be due at 10:00")
	}
}

func TestDueExpr(t *testing.T) {
	job := Job{Type: TypeExpr, Expr: "*/5 * * * *"}
	match := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	miss := time.Date(2026, 3, 2, 9, 13, 0, 0, time.UTC)

	if !Due(job, match) {
		t.Error("*/5 should be due at minute 15")
	}
	if Due(job, miss) {
		t.Error("*/5 should not be due at minute 13")
	}
	fired := match
	job.LastFired = &fired
	if Due(job, match.Add(20*time.Second)) {
		t.Error("should not re-fire within the same minute")
	}
}

func TestTickFiresPromptAndDeletesOneShot(t *testing.T) {
	sched, store, runner := newTestScheduler(t)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	added, err := store.Add(Job{
		Type:   TypeOneTime,
		Time:   &at,
		Action: Action{Kind: ActionPrompt, Prompt: "morning briefing"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	sched.Tick(context.Background(), at.Add(30*time.Second))
	waitFor(t, func() bool { return runner.count() == 1 })

	if _, err := store.Get(added.ID); err != ErrNotFound {
		t.Fatalf("one-shot should be deleted after firing, got %v", err)
	}

	// A second tick must not fire again.
	sched.Tick(context.Background(), at.Add(45*time.Second))
	time.Sleep(20 * time.Millisecond)
	if runner.count() != 1 {
		t.Fatalf("one-shot fired %d times, want 1", runner.count())
	}
}

func TestTickRecordsIntervalFiring(t *testing.T) {
	sched, store, runner := newTestScheduler(t)

	added, err := store.Add(Job{
		Type:       TypeInterval,
		IntervalMS: 60_000,
		Action:     Action{Kind: ActionPrompt, Prompt: "poll the queue"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sched.Tick(context.Background(), now)
	waitFor(t, func() bool { return runner.count() == 1 })

	got, err := store.Get(added.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastFired == nil {
		t.Fatal("LastFired not recorded")
	}

	sched.Tick(context.Background(), now.Add(30*time.Second))
	time.Sleep(20 * time.Millisecond)
	if runner.count() != 1 {
		t.Fatalf("interval fired %d times inside its period, want 1", runner.count())
	}
}

func TestTickSkipsDisabledJobs(t *testing.T) {
	sched, store, runner := newTestScheduler(t)

	added, _ := store.Add(Job{
		Type:       TypeInterval,
		IntervalMS: 1000,
		Action:     Action{Kind: ActionPrompt, Prompt: "noop"},
	})
	if err := store.SetDisabled(added.ID, true); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}

	sched.Tick(context.Background(), time.Now())
	time.Sleep(20 * time.Millisecond)
	if runner.count() != 0 {
		t.Fatalf("disabled job fired %d times", runner.count())
	}
}

func TestTickRunsBashActions(t *testing.T) {
	sched, store, _ := newTestScheduler(t)

	var (
		mu       sync.Mutex
		commands []string
	)
	sched.runBash = func(_ context.Context, command string) error {
		mu.Lock()
		defer mu.Unlock()
		commands = append(commands, command)
		return nil
	}

	at := time.Now().Add(-time.Second)
	if _, err := store.Add(Job{
		Type:   TypeOneTime,
		Time:   &at,
		Action: Action{Kind: ActionBash, Command: "touch /tmp/fired"},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sched.Tick(context.Background(), time.Now())
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(commands) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if commands[0] != "touch /tmp/fired" {
		t.Fatalf("ran %q", commands[0])
	}
}
