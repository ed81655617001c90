package cron

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// PromptRunner feeds a scheduled prompt into the agent loop. Implemented
// by the orchestrator; results are discarded here.
type PromptRunner interface {
	RunScheduledPrompt(ctx context.Context, channel, prompt string) error
}

// Scheduler ticks once per minute and fires due jobs. Job execution is
// always asynchronous; the tick never blocks on completion.
type Scheduler struct {
	store   *Store
	runner  PromptRunner
	tick    time.Duration
	maxConc *Semaphore
	now     func() time.Time
	runBash func(ctx context.Context, command string) error
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(store *Store, runner PromptRunner) *Scheduler {
	return &Scheduler{
		store:   store,
		runner:  runner,
		tick:    time.Minute,
		maxConc: NewSemaphore(5),
		now:     time.Now,
		runBash: execBash,
	}
}

// Run starts the tick loop. Blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Cron scheduler started", "tick", s.tick)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Cron scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.Tick(ctx, t)
		}
	}
}

// Tick evaluates every enabled job against now and fires the due ones.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	jobs, err := s.store.ListEnabled()
	if err != nil {
		slog.Error("Cron tick failed to load jobs", "error", err)
		return
	}
	for _, job := range jobs {
		if !Due(job, now) {
			continue
		}
		s.fire(ctx, job, now)
	}
}

// Due evaluates the type-specific firing predicate.
func Due(job Job, now time.Time) bool {
	switch job.Type {
	case TypeOneTime:
		return job.Time != nil && !now.Before(*job.Time)
	case TypeInterval:
		if job.LastFired == nil {
			return true
		}
		return now.Sub(*job.LastFired) >= time.Duration(job.IntervalMS)*time.Millisecond
	case TypeSchedule:
		sched := job.Schedule
		if sched == nil {
			return false
		}
		if !intIn(sched.Days, int(now.Weekday())) || now.Hour() != sched.Hour || now.Minute() != sched.Minute {
			return false
		}
		// Fire at most once per matching minute, whatever the tick jitter.
		return job.LastFired == nil || !sameMinute(*job.LastFired, now)
	case TypeExpr:
		expr, err := ParseExpr(job.Expr)
		if err != nil {
			return false
		}
		if !expr.Matches(now) {
			return false
		}
		return job.LastFired == nil || !sameMinute(*job.LastFired, now)
	default:
		return false
	}
}

func sameMinute(a, b time.Time) bool {
	return a.UTC().Truncate(time.Minute).Equal(b.UTC().Truncate(time.Minute))
}

// fire records the firing in the store, then runs the action in its own
// goroutine under the concurrency cap.
func (s *Scheduler) fire(ctx context.Context, job Job, now time.Time) {
	if job.Type == TypeOneTime {
		if err := s.store.Remove(job.ID); err != nil {
			slog.Error("Cron failed to delete fired one-shot", "job", job.ID, "error", err)
			return
		}
	} else {
		if err := s.store.MarkFired(job.ID, now); err != nil {
			slog.Error("Cron failed to record firing", "job", job.ID, "error", err)
			return
		}
	}

	if !s.maxConc.TryAcquire() {
		slog.Warn("Cron job skipped: concurrency limit", "job", job.ID)
		return
	}

	slog.Info("Cron firing job", "job", job.ID, "type", job.Type, "action", job.Action.Kind)
	go func() {
		defer s.maxConc.Release()
		switch job.Action.Kind {
		case ActionBash:
			if err := s.runBash(ctx, job.Action.Command); err != nil {
				slog.Error("Cron bash action failed", "job", job.ID, "error", err)
			}
		case ActionPrompt:
			if s.runner == nil {
				slog.Error("Cron prompt action has no runner", "job", job.ID)
				return
			}
			if err := s.runner.RunScheduledPrompt(ctx, job.Channel, job.Action.Prompt); err != nil {
				slog.Error("Cron prompt action failed", "job", job.ID, "error", err)
			}
		}
	}()
}

func execBash(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

// Semaphore is a channel-based counting semaphore bounding concurrent
// job executions.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{ch: make(chan struct{}, capacity)}
}

// TryAcquire attempts to take a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by TryAcquire.
func (s *Semaphore) Release() {
	<-s.ch
}
