package tools

import (
	"context"
	"errors"

	"github.com/skippybot/skippy/internal/memory"
)

// MemoryTool exposes the memory store to the agent. The operation
// argument selects the store call; the orchestrator injects the
// current channel when the model omits it.
type MemoryTool struct {
	store       *memory.Store
	defaultUser string
}

// NewMemoryTool creates the memory tool.
func NewMemoryTool(store *memory.Store, defaultUser string) *MemoryTool {
	return &MemoryTool{store: store, defaultUser: defaultUser}
}

func (t *MemoryTool) Name() string { return "MemoryTool" }
func (t *MemoryTool) Init() error  { return nil }

func (t *MemoryTool) Context() string {
	return `Persistent key/value memory with global, per-channel, and skill scopes.
Operations (pass as "operation"):
  set_memory {key, value, category?, tags?}
  get_memory {key}
  delete_memory {key}
  list_memories {}
  set_channel_memory {channel?, key, value, category?, tags?}
  get_channel_memory {channel?, key}
  delete_channel_memory {channel?, key}
  list_channel_memories {channel?}
  list_channels {}
  purge_channel {channel}
  search_memories {query}            searches every scope
  search_channel_memories {channel?, query}
  create_skill {name, description?, instructions?, owner?}
  get_skill {name}
  update_skill {name, ...fields}     deep-merges objects, null deletes a field
  delete_skill {name}
  list_skills {user?}
  search_skills {query, user?}
Values may be any JSON type. Tags must not contain commas.`
}

func (t *MemoryTool) Run(_ context.Context, args map[string]any) Result {
	op := GetString(args, "operation", "")
	if op == "" {
		return Fail("MemoryTool: operation is required")
	}

	switch op {
	case "set_memory":
		if missing := Require(args, "key", "value"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		err := t.store.SetGlobal(GetString(args, "key", ""), args["value"],
			GetString(args, "category", ""), argTags(args))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"key": GetString(args, "key", "")})

	case "get_memory":
		if missing := Require(args, "key"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		m, err := t.store.GetGlobal(GetString(args, "key", ""))
		return memoryResult(m, err)

	case "delete_memory":
		if missing := Require(args, "key"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		if err := t.store.DeleteGlobal(GetString(args, "key", "")); err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"deleted": GetString(args, "key", "")})

	case "list_memories":
		memories, err := t.store.ListGlobal()
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"memories": memories})

	case "set_channel_memory":
		if missing := Require(args, "channel", "key", "value"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		err := t.store.SetChannel(GetString(args, "channel", ""), GetString(args, "key", ""),
			args["value"], GetString(args, "category", ""), argTags(args))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"key": GetString(args, "key", "")})

	case "get_channel_memory":
		if missing := Require(args, "channel", "key"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		m, err := t.store.GetChannel(GetString(args, "channel", ""), GetString(args, "key", ""))
		return memoryResult(m, err)

	case "delete_channel_memory":
		if missing := Require(args, "channel", "key"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		if err := t.store.DeleteChannel(GetString(args, "channel", ""), GetString(args, "key", "")); err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"deleted": GetString(args, "key", "")})

	case "list_channel_memories":
		if missing := Require(args, "channel"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		memories, err := t.store.ListChannel(GetString(args, "channel", ""))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"memories": memories})

	case "list_channels":
		channels, err := t.store.ListChannels()
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"channels": channels})

	case "purge_channel":
		if missing := Require(args, "channel"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		n, err := t.store.PurgeChannel(GetString(args, "channel", ""))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"purged": n})

	case "search_memories":
		if missing := Require(args, "query"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		hits, err := t.store.SearchAll(GetString(args, "query", ""))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"hits": hits})

	case "search_channel_memories":
		if missing := Require(args, "channel", "query"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		memories, err := t.store.SearchChannel(GetString(args, "channel", ""), GetString(args, "query", ""))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"memories": memories})

	case "create_skill":
		if missing := Require(args, "name"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		err := t.store.CreateSkill(GetString(args, "name", ""), GetString(args, "description", ""),
			GetString(args, "instructions", ""), GetString(args, "owner", ""))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"name": GetString(args, "name", "")})

	case "get_skill":
		if missing := Require(args, "name"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		sk, err := t.store.GetSkill(GetString(args, "name", ""))
		if err != nil {
			if errors.Is(err, memory.ErrNotFound) {
				return Fail("MemoryTool: skill %q not found", GetString(args, "name", ""))
			}
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"skill": sk})

	case "update_skill":
		if missing := Require(args, "name"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		sk, err := t.store.UpdateSkill(GetString(args, "name", ""), skillUpdates(args))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"skill": sk})

	case "delete_skill":
		if missing := Require(args, "name"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		if err := t.store.DeleteSkill(GetString(args, "name", "")); err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"deleted": GetString(args, "name", "")})

	case "list_skills":
		skills, err := t.store.ListSkills(GetString(args, "user", t.defaultUser))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"skills": skills})

	case "search_skills":
		if missing := Require(args, "query"); missing != "" {
			return Fail("MemoryTool: %s: %s is required", op, missing)
		}
		skills, err := t.store.SearchSkills(GetString(args, "query", ""), GetString(args, "user", t.defaultUser))
		if err != nil {
			return Fail("MemoryTool: %v", err)
		}
		return OK(map[string]any{"skills": skills})

	default:
		return Fail("MemoryTool: unknown operation %q", op)
	}
}

func memoryResult(m memory.Memory, err error) Result {
	if errors.Is(err, memory.ErrNotFound) {
		return Fail("MemoryTool: key not found")
	}
	if err != nil {
		return Fail("MemoryTool: %v", err)
	}
	return OK(map[string]any{"memory": m})
}

// skillUpdates collects update fields from the action arguments. Both
// the nested {updates: {...}} shape and flattened top-level keys are
// accepted, minus the dispatch keys themselves.
func skillUpdates(args map[string]any) map[string]any {
	if u := GetMap(args, "updates"); u != nil {
		return u
	}
	out := make(map[string]any)
	for k, v := range args {
		switch k {
		case "operation", "name", "channel", "user":
			continue
		}
		out[k] = v
	}
	// A literal {skill_data: null} must survive collection.
	if v, ok := args["skill_data"]; ok && v == nil {
		out["skill_data"] = nil
	}
	return out
}

func argTags(args map[string]any) []string {
	raw, ok := args["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
