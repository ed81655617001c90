package tools

import (
	"context"
	"time"

	"github.com/skippybot/skippy/internal/cron"
)

// CronTool manages scheduled jobs.
type CronTool struct {
	store *cron.Store
}

// NewCronTool creates the cron tool.
func NewCronTool(store *cron.Store) *CronTool {
	return &CronTool{store: store}
}

func (t *CronTool) Name() string { return "CronTool" }
func (t *CronTool) Init() error  { return nil }

func (t *CronTool) Context() string {
	return `Manage scheduled jobs.
Operations (pass as "operation"):
  add {type?, action?, delay?, time?, interval?, schedule?, expr?, command?, message?, channel?}
    type one of one_time | interval | schedule | cron; inferred when omitted.
    delay is seconds from now; interval is seconds between firings.
    schedule is {days: [0..6], hour, minute} (0 = Sunday).
    expr is a 5-field cron expression.
    action is {kind: bash|prompt, command?|prompt?}; bare command or
    message fields are promoted to an action.
  list {} -> {jobs}
  remove {id}
  enable {id}
  disable {id}`
}

func (t *CronTool) Run(_ context.Context, args map[string]any) Result {
	op := GetString(args, "operation", "")
	if op == "" {
		return Fail("CronTool: operation is required")
	}

	switch op {
	case "add":
		job, err := cron.FromArgs(args, time.Now())
		if err != nil {
			return Fail("CronTool: %v", err)
		}
		added, err := t.store.Add(job)
		if err != nil {
			return Fail("CronTool: %v", err)
		}
		return OK(map[string]any{"job": added})

	case "list":
		jobs, err := t.store.List()
		if err != nil {
			return Fail("CronTool: %v", err)
		}
		return OK(map[string]any{"jobs": jobs})

	case "remove":
		if missing := Require(args, "id"); missing != "" {
			return Fail("CronTool: %s: %s is required", op, missing)
		}
		if err := t.store.Remove(GetString(args, "id", "")); err != nil {
			return Fail("CronTool: %v", err)
		}
		return OK(map[string]any{"removed": GetString(args, "id", "")})

	case "enable", "disable":
		if missing := Require(args, "id"); missing != "" {
			return Fail("CronTool: %s: %s is required", op, missing)
		}
		if err := t.store.SetDisabled(GetString(args, "id", ""), op == "disable"); err != nil {
			return Fail("CronTool: %v", err)
		}
		return OK(map[string]any{"id": GetString(args, "id", ""), "disabled": op == "disable"})

	default:
		return Fail("CronTool: unknown operation %q", op)
	}
}
