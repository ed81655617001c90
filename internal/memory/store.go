// Package memory implements the SQLite-backed key/value memory store
// with global, per-channel, and skill scopes.
package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key or skill does not exist.
var ErrNotFound = errors.New("memory: not found")

// Schema creates all tables. Channel memories live in a single table
// keyed by (channel, key) rather than one table per channel; backup and
// cross-channel queries stay trivial and the observable behavior is
// unchanged.
const Schema = `
CREATE TABLE IF NOT EXISTS global_memories (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'general',
	tags       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_global_category ON global_memories(category);

CREATE TABLE IF NOT EXISTS channel_memories (
	channel    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'general',
	tags       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(channel, key)
);
CREATE INDEX IF NOT EXISTS idx_channel_memories ON channel_memories(channel);

CREATE TABLE IF NOT EXISTS skills (
	name              TEXT PRIMARY KEY,
	description       TEXT NOT NULL DEFAULT '',
	instructions      TEXT NOT NULL DEFAULT '',
	owner             TEXT NOT NULL DEFAULT 'global',
	skill_data        TEXT NOT NULL DEFAULT '{}',
	training_progress TEXT NOT NULL DEFAULT '{}',
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Memory is one stored record. Value round-trips through JSON, so it
// may be an object, array, string, or number.
type Memory struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Skill is a named knowledge unit.
type Skill struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Instructions     string         `json:"instructions"`
	Owner            string         `json:"owner"`
	SkillData        map[string]any `json:"skill_data"`
	TrainingProgress map[string]any `json:"training_progress"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// GlobalOwner is the sentinel owner making a skill visible to everyone.
const GlobalOwner = "global"

// Store wraps the memory database.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the memory database with WAL
// journaling and a 5s busy timeout.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

var channelSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SanitizeChannel reduces a channel name to alphanumerics and
// underscores. Irreversible: distinct raw names may collapse.
func SanitizeChannel(name string) string {
	return channelSanitizer.ReplaceAllString(strings.TrimSpace(name), "_")
}

func encodeValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(data), nil
}

func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		// Legacy plain-string values are tolerated.
		return raw
	}
	return v
}

// Tags are stored comma-joined; the data model forbids commas in tags.
func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ",")
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func normCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return "general"
	}
	return category
}

// ---------------------------------------------------------------------------
// Global scope
// ---------------------------------------------------------------------------

// SetGlobal upserts a global memory.
func (s *Store) SetGlobal(key string, value any, category string, tags []string) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO global_memories (key, value, category, tags)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			tags = excluded.tags,
			updated_at = CURRENT_TIMESTAMP`,
		key, raw, normCategory(category), joinTags(tags))
	if err != nil {
		return fmt.Errorf("set global memory %q: %w", key, err)
	}
	return nil
}

// GetGlobal fetches a global memory by key.
func (s *Store) GetGlobal(key string) (Memory, error) {
	return scanMemory(s.db.QueryRow(`
		SELECT key, value, category, tags, created_at, updated_at
		FROM global_memories WHERE key = ?`, key))
}

// DeleteGlobal removes a global memory by key.
func (s *Store) DeleteGlobal(key string) error {
	res, err := s.db.Exec(`DELETE FROM global_memories WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete global memory %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: global key %q", ErrNotFound, key)
	}
	return nil
}

// ListGlobal returns all global memories ordered by category then key.
func (s *Store) ListGlobal() ([]Memory, error) {
	rows, err := s.db.Query(`
		SELECT key, value, category, tags, created_at, updated_at
		FROM global_memories ORDER BY category, key`)
	if err != nil {
		return nil, fmt.Errorf("list global memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ---------------------------------------------------------------------------
// Channel scope
// ---------------------------------------------------------------------------

// SetChannel upserts a channel-scoped memory. The channel name is
// sanitized on every write.
func (s *Store) SetChannel(channel, key string, value any, category string, tags []string) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO channel_memories (channel, key, value, category, tags)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel, key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			tags = excluded.tags,
			updated_at = CURRENT_TIMESTAMP`,
		SanitizeChannel(channel), key, raw, normCategory(category), joinTags(tags))
	if err != nil {
		return fmt.Errorf("set channel memory %s/%q: %w", channel, key, err)
	}
	return nil
}

// GetChannel fetches a channel-scoped memory by key.
func (s *Store) GetChannel(channel, key string) (Memory, error) {
	return scanMemory(s.db.QueryRow(`
		SELECT key, value, category, tags, created_at, updated_at
		FROM channel_memories WHERE channel = ? AND key = ?`,
		SanitizeChannel(channel), key))
}

// DeleteChannel removes a channel-scoped memory by key.
func (s *Store) DeleteChannel(channel, key string) error {
	res, err := s.db.Exec(`DELETE FROM channel_memories WHERE channel = ? AND key = ?`,
		SanitizeChannel(channel), key)
	if err != nil {
		return fmt.Errorf("delete channel memory %s/%q: %w", channel, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: channel %s key %q", ErrNotFound, channel, key)
	}
	return nil
}

// ListChannel returns all memories for one channel.
func (s *Store) ListChannel(channel string) ([]Memory, error) {
	rows, err := s.db.Query(`
		SELECT key, value, category, tags, created_at, updated_at
		FROM channel_memories WHERE channel = ? ORDER BY category, key`,
		SanitizeChannel(channel))
	if err != nil {
		return nil, fmt.Errorf("list channel memories %s: %w", channel, err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ListChannels returns the names of channels holding at least one memory.
func (s *Store) ListChannels() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT channel FROM channel_memories ORDER BY channel`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PurgeChannel removes every memory for a channel.
func (s *Store) PurgeChannel(channel string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM channel_memories WHERE channel = ?`, SanitizeChannel(channel))
	if err != nil {
		return 0, fmt.Errorf("purge channel %s: %w", channel, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExportGlobal returns every global memory, for backup or transfer.
func (s *Store) ExportGlobal() ([]Memory, error) {
	return s.ListGlobal()
}

// ImportGlobal upserts a batch of global memories.
func (s *Store) ImportGlobal(memories []Memory) error {
	for _, m := range memories {
		if err := s.SetGlobal(m.Key, m.Value, m.Category, m.Tags); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (Memory, error) {
	var (
		m         Memory
		raw, tags string
	)
	err := row.Scan(&m.Key, &raw, &m.Category, &tags, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, ErrNotFound
	}
	if err != nil {
		return Memory{}, fmt.Errorf("scan memory: %w", err)
	}
	m.Value = decodeValue(raw)
	m.Tags = splitTags(tags)
	return m, nil
}

func collectMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
