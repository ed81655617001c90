package memory

import (
	"fmt"
	"strings"
)

// ContextEntry is one auto-injected key/value pair.
type ContextEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ContextMemories returns category → entries for global memories in
// any of the given categories, ordered by category then key. Used by
// the orchestrator's context assembly.
func (s *Store) ContextMemories(categories []string) (map[string][]ContextEntry, error) {
	if len(categories) == 0 {
		return map[string][]ContextEntry{}, nil
	}
	placeholders := strings.Repeat("?,", len(categories))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(categories))
	for i, c := range categories {
		args[i] = c
	}

	rows, err := s.db.Query(`
		SELECT key, value, category FROM global_memories
		WHERE category IN (`+placeholders+`) ORDER BY category, key`, args...)
	if err != nil {
		return nil, fmt.Errorf("load context memories: %w", err)
	}
	defer rows.Close()

	out := map[string][]ContextEntry{}
	for rows.Next() {
		var key, raw, category string
		if err := rows.Scan(&key, &raw, &category); err != nil {
			return nil, fmt.Errorf("scan context memory: %w", err)
		}
		out[category] = append(out[category], ContextEntry{Key: key, Value: decodeValue(raw)})
	}
	return out, rows.Err()
}

// SkillSummary is the always-injectable part of a skill.
type SkillSummary struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
	Owner        string `json:"owner"`
}

// ContextSkills returns name/description/instructions/owner rows for
// the skills visible to user. skill_data stays on demand.
func (s *Store) ContextSkills(user string) ([]SkillSummary, error) {
	rows, err := s.db.Query(`
		SELECT name, description, instructions, owner FROM skills
		WHERE owner = ? OR owner = ? ORDER BY name`, GlobalOwner, user)
	if err != nil {
		return nil, fmt.Errorf("load context skills: %w", err)
	}
	defer rows.Close()

	var out []SkillSummary
	for rows.Next() {
		var sk SkillSummary
		if err := rows.Scan(&sk.Name, &sk.Description, &sk.Instructions, &sk.Owner); err != nil {
			return nil, fmt.Errorf("scan context skill: %w", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}
