package cron

import (
	"fmt"
	"time"
)

// FromArgs builds a Job from loosely-typed LLM action arguments.
// Normalizations applied before validation:
//
//	delay (seconds)         -> a concrete one_time firing time
//	message / prompt (text) -> action {kind: prompt}
//	command (text)          -> action {kind: bash}
//	interval (seconds)      -> interval_ms
func FromArgs(args map[string]any, now time.Time) (Job, error) {
	job := Job{
		Type:    str(args, "type"),
		Channel: str(args, "channel"),
		Expr:    str(args, "expr"),
	}

	if action, ok := args["action"].(map[string]any); ok {
		job.Action = Action{
			Kind:    str(action, "kind"),
			Command: str(action, "command"),
			Prompt:  str(action, "prompt"),
		}
		if job.Action.Prompt == "" {
			job.Action.Prompt = str(action, "message")
		}
	}
	if job.Action.Kind == "" {
		switch {
		case str(args, "command") != "":
			job.Action = Action{Kind: ActionBash, Command: str(args, "command")}
		case str(args, "message") != "":
			job.Action = Action{Kind: ActionPrompt, Prompt: str(args, "message")}
		case str(args, "prompt") != "":
			job.Action = Action{Kind: ActionPrompt, Prompt: str(args, "prompt")}
		}
	}

	if delay, ok := num(args, "delay"); ok {
		t := now.Add(time.Duration(delay * float64(time.Second)))
		job.Time = &t
		if job.Type == "" {
			job.Type = TypeOneTime
		}
	}
	if raw := str(args, "time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Job{}, fmt.Errorf("cron: bad time %q: %w", raw, err)
		}
		job.Time = &t
		if job.Type == "" {
			job.Type = TypeOneTime
		}
	}

	if ms, ok := num(args, "interval_ms"); ok {
		job.IntervalMS = int64(ms)
	} else if secs, ok := num(args, "interval"); ok {
		job.IntervalMS = int64(secs * 1000)
	}
	if job.Type == "" && job.IntervalMS > 0 {
		job.Type = TypeInterval
	}

	if sched, ok := args["schedule"].(map[string]any); ok {
		days := intSlice(sched, "days")
		hour, _ := num(sched, "hour")
		minute, _ := num(sched, "minute")
		job.Schedule = &Schedule{Days: days, Hour: int(hour), Minute: int(minute)}
		if job.Type == "" {
			job.Type = TypeSchedule
		}
	}
	if job.Type == "" && job.Expr != "" {
		job.Type = TypeExpr
	}
	if job.Type == "" {
		return Job{}, fmt.Errorf("cron: cannot determine job type; supply type, delay, interval, schedule, or expr")
	}
	return job, nil
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func num(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func intSlice(m map[string]any, key string) []int {
	raw, ok := m[key].([]any)
	if !ok {
		if ints, ok := m[key].([]int); ok {
			return ints
		}
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		if f, ok := item.(float64); ok {
			out = append(out, int(f))
		} else if n, ok := item.(int); ok {
			out = append(out, n)
		}
	}
	return out
}
