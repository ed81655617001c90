package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileReadTool reads a file from disk.
type FileReadTool struct{}

func (t *FileReadTool) Name() string { return "FileReadTool" }
func (t *FileReadTool) Init() error  { return nil }

func (t *FileReadTool) Context() string {
	return `Read a file from disk.
Operations:
  read {filepath} -> {content}`
}

func (t *FileReadTool) Run(_ context.Context, args map[string]any) Result {
	if missing := Require(args, "filepath"); missing != "" {
		return Fail("FileReadTool: %s is required", missing)
	}
	path := GetString(args, "filepath", "")
	data, err := os.ReadFile(path)
	if err != nil {
		return Fail("FileReadTool: %v", err)
	}
	return OK(map[string]any{"content": string(data), "filepath": path})
}

// FileWriteTool writes a file to disk. The content for multi-line
// payloads arrives through an out-of-band file block; the orchestrator
// injects it into the content argument before dispatch.
type FileWriteTool struct{}

func (t *FileWriteTool) Name() string { return "FileWriteTool" }
func (t *FileWriteTool) Init() error  { return nil }

func (t *FileWriteTool) Context() string {
	return `Write a file to disk, creating parent directories.
Operations:
  write {filepath, content} -> {bytesWritten}
For multi-line content, omit the content key from the JSON and supply the
payload in a ===SKIPPY_FILE_START:<path>=== block after the JSON.`
}

func (t *FileWriteTool) Run(_ context.Context, args map[string]any) Result {
	if missing := Require(args, "filepath"); missing != "" {
		return Fail("FileWriteTool: %s is required", missing)
	}
	content, ok := args["content"].(string)
	if !ok {
		return Fail("FileWriteTool: content is required (inline or as a SKIPPY_FILE block)")
	}
	path := GetString(args, "filepath", "")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Fail("FileWriteTool: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Fail("FileWriteTool: %v", err)
	}
	return OK(map[string]any{"filepath": path, "bytesWritten": len(content)})
}

// PatchFileTool applies find/replace changes to an existing file. The
// changes for multi-line payloads arrive through an out-of-band patch
// block.
type PatchFileTool struct{}

func (t *PatchFileTool) Name() string { return "PatchFileTool" }
func (t *PatchFileTool) Init() error  { return nil }

func (t *PatchFileTool) Context() string {
	return `Apply exact find/replace edits to an existing file.
Operations:
  patch {filepath, changes: [{find, replace}]} -> {applied}
Each find text must occur in the file; the first occurrence is replaced.
For multi-line edits, omit changes from the JSON and supply a
===SKIPPY_PATCH_START:<path>=== block with ===FIND===/===REPLACE=== pairs.`
}

func (t *PatchFileTool) Run(_ context.Context, args map[string]any) Result {
	if missing := Require(args, "filepath"); missing != "" {
		return Fail("PatchFileTool: %s is required", missing)
	}
	path := GetString(args, "filepath", "")

	changes, err := decodeChanges(args["changes"])
	if err != nil {
		return Fail("PatchFileTool: %v", err)
	}
	if len(changes) == 0 {
		return Fail("PatchFileTool: changes are required (inline or as a SKIPPY_PATCH block)")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Fail("PatchFileTool: %v", err)
	}
	content := string(data)

	for i, ch := range changes {
		if !strings.Contains(content, ch.Find) {
			return Fail("PatchFileTool: change %d: find text not found", i+1)
		}
		content = strings.Replace(content, ch.Find, ch.Replace, 1)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Fail("PatchFileTool: %v", err)
	}
	return OK(map[string]any{"filepath": path, "applied": len(changes)})
}

// Change is one find/replace pair.
type Change struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

func decodeChanges(raw any) ([]Change, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []Change:
		return v, nil
	case []any:
		out := make([]Change, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("change %d is not an object", i+1)
			}
			out = append(out, Change{
				Find:    GetString(m, "find", ""),
				Replace: GetString(m, "replace", ""),
			})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("changes must be an array")
	}
}

// ListDirectoryTool lists a directory.
type ListDirectoryTool struct{}

func (t *ListDirectoryTool) Name() string { return "ListDirectoryTool" }
func (t *ListDirectoryTool) Init() error  { return nil }

func (t *ListDirectoryTool) Context() string {
	return `List a directory's entries.
Operations:
  list {path} -> {entries: [{name, dir, size}]}`
}

func (t *ListDirectoryTool) Run(_ context.Context, args map[string]any) Result {
	if missing := Require(args, "path"); missing != "" {
		return Fail("ListDirectoryTool: %s is required", missing)
	}
	path := GetString(args, "path", "")
	entries, err := os.ReadDir(path)
	if err != nil {
		return Fail("ListDirectoryTool: %v", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{"name": e.Name(), "dir": e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item["size"] = info.Size()
		}
		out = append(out, item)
	}
	return OK(map[string]any{"path": path, "entries": out})
}

// DeleteFileTool removes a file.
type DeleteFileTool struct{}

func (t *DeleteFileTool) Name() string { return "DeleteFileTool" }
func (t *DeleteFileTool) Init() error  { return nil }

func (t *DeleteFileTool) Context() string {
	return `Delete a single file (not directories).
Operations:
  delete {filepath} -> {deleted}`
}

func (t *DeleteFileTool) Run(_ context.Context, args map[string]any) Result {
	if missing := Require(args, "filepath"); missing != "" {
		return Fail("DeleteFileTool: %s is required", missing)
	}
	path := GetString(args, "filepath", "")
	info, err := os.Stat(path)
	if err != nil {
		return Fail("DeleteFileTool: %v", err)
	}
	if info.IsDir() {
		return Fail("DeleteFileTool: %s is a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return Fail("DeleteFileTool: %v", err)
	}
	return OK(map[string]any{"deleted": path})
}
