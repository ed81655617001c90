package memory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CreateSkill inserts a new skill. An empty owner means global
// visibility.
func (s *Store) CreateSkill(name, description, instructions, owner string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("memory: skill name is required")
	}
	if strings.TrimSpace(owner) == "" {
		owner = GlobalOwner
	}
	_, err := s.db.Exec(`
		INSERT INTO skills (name, description, instructions, owner)
		VALUES (?, ?, ?, ?)`,
		name, description, instructions, owner)
	if err != nil {
		return fmt.Errorf("create skill %q: %w", name, err)
	}
	return nil
}

// GetSkill fetches a skill by name, including its structured data.
func (s *Store) GetSkill(name string) (Skill, error) {
	return scanSkill(s.db.QueryRow(`
		SELECT name, description, instructions, owner, skill_data, training_progress, created_at, updated_at
		FROM skills WHERE name = ?`, name))
}

// DeleteSkill removes a skill by name.
func (s *Store) DeleteSkill(name string) error {
	res, err := s.db.Exec(`DELETE FROM skills WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete skill %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: skill %q", ErrNotFound, name)
	}
	return nil
}

// ListSkills returns the skills visible to user: global skills plus the
// user's own.
func (s *Store) ListSkills(user string) ([]Skill, error) {
	rows, err := s.db.Query(`
		SELECT name, description, instructions, owner, skill_data, training_progress, created_at, updated_at
		FROM skills WHERE owner = ? OR owner = ? ORDER BY name`,
		GlobalOwner, user)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
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

// UpdateSkill applies a non-destructive update. Three input shapes are
// accepted, because the caller is an LLM:
//
//	{description: "...", instructions: "...", nested: {...}}  direct fields
//	{skill_data: {nested: {...}}}                             wrapper
//	{skill_data: null}                                        clear data
//
// Nested objects deep-merge, a null leaf deletes its field, arrays
// replace wholesale. description/instructions/training_progress are
// top-level columns and are never merged into skill_data.
func (s *Store) UpdateSkill(name string, updates map[string]any) (Skill, error) {
	skill, err := s.GetSkill(name)
	if err != nil {
		return Skill{}, err
	}

	dataUpdates := map[string]any{}
	clearData := false
	for key, val := range updates {
		switch key {
		case "description":
			if str, ok := val.(string); ok {
				skill.Description = str
			}
		case "instructions":
			if str, ok := val.(string); ok {
				skill.Instructions = str
			}
		case "training_progress":
			if obj, ok := val.(map[string]any); ok {
				skill.TrainingProgress = DeepMerge(skill.TrainingProgress, obj)
			}
		case "skill_data":
			if val == nil {
				clearData = true
				continue
			}
			if obj, ok := val.(map[string]any); ok {
				for k, v := range obj {
					dataUpdates[k] = v
				}
			}
		case "name", "owner", "created_at", "updated_at":
			// Immutable through updates.
		default:
			dataUpdates[key] = val
		}
	}

	switch {
	case clearData:
		skill.SkillData = map[string]any{}
	case len(dataUpdates) > 0:
		skill.SkillData = DeepMerge(skill.SkillData, dataUpdates)
	}

	dataRaw, err := json.Marshal(skill.SkillData)
	if err != nil {
		return Skill{}, fmt.Errorf("encode skill data: %w", err)
	}
	progressRaw, err := json.Marshal(skill.TrainingProgress)
	if err != nil {
		return Skill{}, fmt.Errorf("encode training progress: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE skills SET description = ?, instructions = ?, skill_data = ?,
			training_progress = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ?`,
		skill.Description, skill.Instructions, string(dataRaw), string(progressRaw), name)
	if err != nil {
		return Skill{}, fmt.Errorf("update skill %q: %w", name, err)
	}
	return s.GetSkill(name)
}

// DeepMerge merges src into dst recursively. A nil src value deletes
// the key; nested maps merge; everything else (arrays included)
// replaces. dst is not mutated.
func DeepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if v == nil {
			delete(out, k)
			continue
		}
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = DeepMerge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

func scanSkill(row rowScanner) (Skill, error) {
	var (
		sk                   Skill
		dataRaw, progressRaw string
	)
	err := row.Scan(&sk.Name, &sk.Description, &sk.Instructions, &sk.Owner,
		&dataRaw, &progressRaw, &sk.CreatedAt, &sk.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Skill{}, ErrNotFound
	}
	if err != nil {
		return Skill{}, fmt.Errorf("scan skill: %w", err)
	}
	sk.SkillData = map[string]any{}
	sk.TrainingProgress = map[string]any{}
	_ = json.Unmarshal([]byte(dataRaw), &sk.SkillData)
	_ = json.Unmarshal([]byte(progressRaw), &sk.TrainingProgress)
	return sk, nil
}
