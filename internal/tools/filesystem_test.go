package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "note.txt")

	w := &FileWriteTool{}
	res := w.Run(context.Background(), map[string]any{"filepath": path, "content": "hello\nworld\n"})
	if res.Failed() {
		t.Fatalf("write failed: %v", res["error"])
	}
	if res["bytesWritten"] != 12 {
		t.Fatalf("bytesWritten = %v", res["bytesWritten"])
	}

	r := &FileReadTool{}
	res = r.Run(context.Background(), map[string]any{"filepath": path})
	if res.Failed() {
		t.Fatalf("read failed: %v", res["error"])
	}
	if res["content"] != "hello\nworld\n" {
		t.Fatalf("content = %q", res["content"])
	}
}

func TestFileWriteRequiresContent(t *testing.T) {
	w := &FileWriteTool{}
	res := w.Run(context.Background(), map[string]any{"filepath": filepath.Join(t.TempDir(), "x")})
	if !res.Failed() {
		t.Fatal("write without content should fail")
	}
	if msg, _ := res["error"].(string); !strings.Contains(msg, "content") {
		t.Fatalf("error = %q", msg)
	}
}

func TestPatchFileAppliesChangesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	if err := os.WriteFile(path, []byte("alpha beta alpha"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &PatchFileTool{}
	res := p.Run(context.Background(), map[string]any{
		"filepath": path,
		"changes": []any{
			map[string]any{"find": "alpha", "replace": "gamma"},
			map[string]any{"find": "beta", "replace": "delta"},
		},
	})
	if res.Failed() {
		t.Fatalf("patch failed: %v", res["error"])
	}

	data, _ := os.ReadFile(path)
	// Only the first occurrence of each find is replaced.
	if string(data) != "gamma delta alpha" {
		t.Fatalf("patched = %q", data)
	}
}

func TestPatchFileReportsMissingFind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &PatchFileTool{}
	res := p.Run(context.Background(), map[string]any{
		"filepath": path,
		"changes": []any{
			map[string]any{"find": "content", "replace": "new"},
			map[string]any{"find": "absent", "replace": "x"},
		},
	})
	if !res.Failed() {
		t.Fatal("patch with missing find text should fail")
	}
	if msg, _ := res["error"].(string); !strings.Contains(msg, "change 2") {
		t.Fatalf("error should name the failing change, got %q", msg)
	}
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bb"), 0o644)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	l := &ListDirectoryTool{}
	res := l.Run(context.Background(), map[string]any{"path": dir})
	if res.Failed() {
		t.Fatalf("list failed: %v", res["error"])
	}
	entries := res["entries"].([]map[string]any)
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0]["name"] != "a.txt" || entries[2]["name"] != "sub" {
		t.Fatalf("entries not sorted: %v", entries)
	}
	if entries[2]["dir"] != true {
		t.Fatal("sub should be flagged as a directory")
	}
}

func TestDeleteFileRefusesDirectories(t *testing.T) {
	dir := t.TempDir()
	d := &DeleteFileTool{}

	res := d.Run(context.Background(), map[string]any{"filepath": dir})
	if !res.Failed() {
		t.Fatal("deleting a directory should fail")
	}

	path := filepath.Join(dir, "gone.txt")
	os.WriteFile(path, []byte("x"), 0o644)
	res = d.Run(context.Background(), map[string]any{"filepath": path})
	if res.Failed() {
		t.Fatalf("delete failed: %v", res["error"])
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file still exists")
	}
}

func TestBashExecute(t *testing.T) {
	b := NewBashTool(10*time.Second, t.TempDir())

	res := b.Run(context.Background(), map[string]any{"command": "echo out; echo err >&2"})
	if res.Failed() {
		t.Fatalf("execute failed: %v", res["error"])
	}
	if res["stdout"] != "out\n" || res["stderr"] != "err\n" || res["exitCode"] != 0 {
		t.Fatalf("result = %v", res)
	}

	res = b.Run(context.Background(), map[string]any{"command": "exit 3"})
	if !res.Failed() {
		t.Fatal("non-zero exit should be a failure")
	}
	if res["exitCode"] != 3 {
		t.Fatalf("exitCode = %v", res["exitCode"])
	}
}

func TestBashBackgroundAndKill(t *testing.T) {
	b := NewBashTool(10*time.Second, t.TempDir())

	res := b.Run(context.Background(), map[string]any{"command": "sleep 30", "background": true})
	if res.Failed() {
		t.Fatalf("background start failed: %v", res["error"])
	}
	jobID, ok := res["jobId"].(int)
	if !ok || jobID == 0 {
		t.Fatalf("jobId = %v", res["jobId"])
	}

	res = b.Run(context.Background(), map[string]any{"operation": "kill", "jobId": jobID})
	if res.Failed() {
		t.Fatalf("kill failed: %v", res["error"])
	}

	// The reaper goroutine removes the job entry once the process exits.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res = b.Run(context.Background(), map[string]any{"operation": "kill", "jobId": jobID})
		if res.Failed() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job entry not reaped after kill")
}
