package memory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrQueryEmpty is returned when a search query has no tokens.
var ErrQueryEmpty = errors.New("memory: search query is empty")

// SearchHit is one search result with its originating scope.
type SearchHit struct {
	Scope  string `json:"scope"` // "global" or "channel:<name>"
	Memory Memory `json:"memory"`
}

// Tokenize lowercases the query, treats underscores as spaces, and
// splits on whitespace. "mega_furnace" and "FURNACE mega" both yield
// tokens matching a value of "mega furnace".
func Tokenize(query string) []string {
	query = strings.ToLower(strings.ReplaceAll(query, "_", " "))
	return strings.Fields(query)
}

// likeClause builds an OR of per-token LIKE matches over the given
// columns. Both sides normalize underscores to spaces.
func likeClause(columns, tokens []string) (string, []any) {
	var (
		parts []string
		args  []any
	)
	for _, col := range columns {
		for _, tok := range tokens {
			parts = append(parts, fmt.Sprintf("LOWER(REPLACE(%s,'_',' ')) LIKE ?", col))
			args = append(args, "%"+tok+"%")
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// SearchGlobal runs a tokenized search over global memory keys, values
// and tags.
func (s *Store) SearchGlobal(query string) ([]Memory, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, ErrQueryEmpty
	}
	clause, args := likeClause([]string{"key", "value", "tags"}, tokens)
	rows, err := s.db.Query(`
		SELECT key, value, category, tags, created_at, updated_at
		FROM global_memories WHERE `+clause+` ORDER BY category, key`, args...)
	if err != nil {
		return nil, fmt.Errorf("search global memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// SearchChannel runs a tokenized search within one channel.
func (s *Store) SearchChannel(channel, query string) ([]Memory, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, ErrQueryEmpty
	}
	clause, args := likeClause([]string{"key", "value", "tags"}, tokens)
	args = append([]any{SanitizeChannel(channel)}, args...)
	rows, err := s.db.Query(`
		SELECT key, value, category, tags, created_at, updated_at
		FROM channel_memories WHERE channel = ? AND `+clause+` ORDER BY category, key`, args...)
	if err != nil {
		return nil, fmt.Errorf("search channel memories %s: %w", channel, err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// SearchAll searches the global scope and every channel scope.
func (s *Store) SearchAll(query string) ([]SearchHit, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, ErrQueryEmpty
	}

	var hits []SearchHit
	global, err := s.SearchGlobal(query)
	if err != nil {
		return nil, err
	}
	for _, m := range global {
		hits = append(hits, SearchHit{Scope: "global", Memory: m})
	}

	clause, args := likeClause([]string{"key", "value", "tags"}, tokens)
	rows, err := s.db.Query(`
		SELECT channel, key, value, category, tags, created_at, updated_at
		FROM channel_memories WHERE `+clause+` ORDER BY channel, category, key`, args...)
	if err != nil {
		return nil, fmt.Errorf("search channel memories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			channel, raw, tags string
			m                  Memory
		)
		if err := rows.Scan(&channel, &m.Key, &raw, &m.Category, &tags, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan channel hit: %w", err)
		}
		m.Value = decodeValue(raw)
		m.Tags = splitTags(tags)
		hits = append(hits, SearchHit{Scope: "channel:" + channel, Memory: m})
	}
	return hits, rows.Err()
}

// SearchSkills runs a tokenized search over skill names, descriptions,
// and instructions, filtered to skills visible to user.
func (s *Store) SearchSkills(query, user string) ([]Skill, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, ErrQueryEmpty
	}
	clause, args := likeClause([]string{"name", "description", "instructions"}, tokens)
	args = append(args, GlobalOwner, user)
	rows, err := s.db.Query(`
		SELECT name, description, instructions, owner, skill_data, training_progress, created_at, updated_at
		FROM skills WHERE `+clause+` AND (owner = ? OR owner = ?) ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("search skills: %w", err)
	}
	defer rows.Close()

	var out []Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}
