// Package cron implements the persistent job scheduler: one-shot,
// interval, weekly-schedule, and cron-expression jobs firing bash or
// prompt actions.
package cron

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Job types.
const (
	TypeOneTime  = "one_time"
	TypeInterval = "interval"
	TypeSchedule = "schedule"
	TypeExpr     = "cron"
)

// Action kinds.
const (
	ActionBash   = "bash"
	ActionPrompt = "prompt"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("cron: job not found")

// Action is the tagged work variant a job fires.
type Action struct {
	Kind    string `json:"kind"`
	Command string `json:"command,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// Schedule is a weekly firing pattern. Days use time.Weekday numbering
// (0 = Sunday).
type Schedule struct {
	Days   []int `json:"days"`
	Hour   int   `json:"hour"`
	Minute int   `json:"minute"`
}

// Job is one persisted schedule entry.
type Job struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Action     Action     `json:"action"`
	Time       *time.Time `json:"time,omitempty"`        // one_time
	IntervalMS int64      `json:"interval_ms,omitempty"` // interval
	Schedule   *Schedule  `json:"schedule,omitempty"`    // schedule
	Expr       string     `json:"expr,omitempty"`        // cron
	Channel    string     `json:"channel,omitempty"`
	Disabled   bool       `json:"disabled"`
	LastFired  *time.Time `json:"last_fired,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS cron_jobs (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	action      TEXT NOT NULL,
	fire_time   DATETIME,
	interval_ms INTEGER NOT NULL DEFAULT 0,
	schedule    TEXT,
	expr        TEXT NOT NULL DEFAULT '',
	channel     TEXT NOT NULL DEFAULT '',
	disabled    INTEGER NOT NULL DEFAULT 0,
	last_fired  DATETIME,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store wraps the cron job database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and creates if needed) the cron database with WAL
// journaling and a 5s busy timeout.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create cron dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cron db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cron schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Validate checks the job for the required fields of its type.
func (j *Job) Validate() error {
	switch j.Action.Kind {
	case ActionBash:
		if j.Action.Command == "" {
			return fmt.Errorf("cron: bash action requires a command")
		}
	case ActionPrompt:
		if j.Action.Prompt == "" {
			return fmt.Errorf("cron: prompt action requires text")
		}
	default:
		return fmt.Errorf("cron: unknown action kind %q", j.Action.Kind)
	}

	switch j.Type {
	case TypeOneTime:
		if j.Time == nil {
			return fmt.Errorf("cron: one_time job requires a time")
		}
	case TypeInterval:
		if j.IntervalMS <= 0 {
			return fmt.Errorf("cron: interval job requires a positive interval_ms")
		}
	case TypeSchedule:
		if j.Schedule == nil || len(j.Schedule.Days) == 0 {
			return fmt.Errorf("cron: schedule job requires at least one day")
		}
		for _, d := range j.Schedule.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("cron: schedule day %d out of range 0..6", d)
			}
		}
		if j.Schedule.Hour < 0 || j.Schedule.Hour > 23 {
			return fmt.Errorf("cron: schedule hour %d out of range 0..23", j.Schedule.Hour)
		}
		if j.Schedule.Minute < 0 || j.Schedule.Minute > 59 {
			return fmt.Errorf("cron: schedule minute %d out of range 0..59", j.Schedule.Minute)
		}
	case TypeExpr:
		if _, err := ParseExpr(j.Expr); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cron: unknown job type %q", j.Type)
	}
	return nil
}

// Add validates and inserts a job, assigning an id when absent.
func (s *Store) Add(job Job) (Job, error) {
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = time.Now().UTC()

	actionRaw, err := json.Marshal(job.Action)
	if err != nil {
		return Job{}, fmt.Errorf("encode action: %w", err)
	}
	var scheduleRaw any
	if job.Schedule != nil {
		data, err := json.Marshal(job.Schedule)
		if err != nil {
			return Job{}, fmt.Errorf("encode schedule: %w", err)
		}
		scheduleRaw = string(data)
	}

	_, err = s.db.Exec(`
		INSERT INTO cron_jobs (id, type, action, fire_time, interval_ms, schedule, expr, channel, disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, string(actionRaw), job.Time, job.IntervalMS,
		scheduleRaw, job.Expr, job.Channel, job.Disabled, job.CreatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("add cron job: %w", err)
	}
	return job, nil
}

// Get fetches a job by id.
func (s *Store) Get(id string) (Job, error) {
	return scanJob(s.db.QueryRow(`
		SELECT id, type, action, fire_time, interval_ms, schedule, expr, channel, disabled, last_fired, created_at
		FROM cron_jobs WHERE id = ?`, id))
}

// List returns every job ordered by creation time.
func (s *Store) List() ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT id, type, action, fire_time, interval_ms, schedule, expr, channel, disabled, last_fired, created_at
		FROM cron_jobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListEnabled returns every non-disabled job.
func (s *Store) ListEnabled() ([]Job, error) {
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if !j.Disabled {
			out = append(out, j)
		}
	}
	return out, nil
}

// Remove deletes a job by id.
func (s *Store) Remove(id string) error {
	res, err := s.db.Exec(`DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove cron job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SetDisabled flips a job's disabled flag.
func (s *Store) SetDisabled(id string, disabled bool) error {
	res, err := s.db.Exec(`UPDATE cron_jobs SET disabled = ? WHERE id = ?`, disabled, id)
	if err != nil {
		return fmt.Errorf("update cron job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// MarkFired records a firing timestamp.
func (s *Store) MarkFired(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE cron_jobs SET last_fired = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark cron job %s fired: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j                      Job
		actionRaw              string
		scheduleRaw            sql.NullString
		fireTime, lastFired    sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Type, &actionRaw, &fireTime, &j.IntervalMS,
		&scheduleRaw, &j.Expr, &j.Channel, &j.Disabled, &lastFired, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("scan cron job: %w", err)
	}
	if err := json.Unmarshal([]byte(actionRaw), &j.Action); err != nil {
		return Job{}, fmt.Errorf("decode action: %w", err)
	}
	if scheduleRaw.Valid && scheduleRaw.String != "" {
		j.Schedule = &Schedule{}
		if err := json.Unmarshal([]byte(scheduleRaw.String), j.Schedule); err != nil {
			return Job{}, fmt.Errorf("decode schedule: %w", err)
		}
	}
	if fireTime.Valid {
		t := fireTime.Time
		j.Time = &t
	}
	if lastFired.Valid {
		t := lastFired.Time
		j.LastFired = &t
	}
	return j, nil
}
