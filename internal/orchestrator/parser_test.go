package orchestrator

import (
	"errors"
	"reflect"
	"testing"
)

func mustParse(t *testing.T, raw string) (Envelope, Blocks, []string) {
	t.Helper()
	env, blocks, warnings, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse(%q): %v", raw, err)
	}
	return env, blocks, warnings
}

// Every accepted response shape normalizes to the same canonical
// envelope.
func TestParseNormalizesEquivalentShapes(t *testing.T) {
	canonical := `{"reasoning":"r","actions":[{"type":"tool_call","tool":"BashTool","arguments":{"command":"ls"},"reasoning":"list"}],"final_answer":"","continue":true}`
	want, _, _ := mustParse(t, canonical)

	tests := []struct {
		name string
		raw  string
	}{
		{"bare action array", `[{"tool":"BashTool","arguments":{"command":"ls"}}]`},
		{"bare action object", `{"tool":"BashTool","arguments":{"command":"ls"}}`},
		{"missing type", `{"actions":[{"tool":"BashTool","arguments":{"command":"ls"}}],"continue":true}`},
		{"trailing prose", canonical + "\nHope that helps!"},
		{"code fence", "```json\n" + canonical + "\n```"},
		{"xml wrapper", "<response>" + canonical + "</response>"},
	}
	for _, tc := range tests {
		env, _, _ := mustParse(t, tc.raw)
		if len(env.Actions) != 1 {
			t.Errorf("%s: got %d actions", tc.name, len(env.Actions))
			continue
		}
		got := env.Actions[0]
		wantAction := want.Actions[0]
		if got.Type != wantAction.Type || got.Tool != wantAction.Tool ||
			!reflect.DeepEqual(got.Arguments, wantAction.Arguments) {
			t.Errorf("%s: action = %+v, want %+v", tc.name, got, wantAction)
		}
		if !env.Continue {
			t.Errorf("%s: continue should be forced true with actions and no answer", tc.name)
		}
	}
}

func TestParseFlattenedMetaKeysPromoted(t *testing.T) {
	env, _, _ := mustParse(t, `{"actions":[{"tool":"FileReadTool","filepath":"/tmp/a.txt"}],"continue":true}`)
	if env.Actions[0].Arguments["filepath"] != "/tmp/a.txt" {
		t.Fatalf("arguments = %v", env.Actions[0].Arguments)
	}
}

func TestParseArrayArgumentShapes(t *testing.T) {
	env, _, _ := mustParse(t, `{"actions":[{"tool":"MemoryTool","arguments":["get_memory",{"key":"k"}]}],"continue":true}`)
	args := env.Actions[0].Arguments
	if args["operation"] != "get_memory" || args["key"] != "k" {
		t.Fatalf("arguments = %v", args)
	}
}

func TestParseRepairsTrailingComma(t *testing.T) {
	env, _, warnings := mustParse(t, `{"actions":[],"final_answer":"done","continue":false,}`)
	if env.FinalAnswer != "done" || env.Continue {
		t.Fatalf("envelope = %+v", env)
	}
	if len(warnings) == 0 {
		t.Fatal("a repaired parse must surface a warning")
	}
}

func TestParseRepairsUnquotedKeysAndUnclosedBrackets(t *testing.T) {
	env, _, warnings := mustParse(t, `{reasoning: "thinking", final_answer: "42", continue: false`)
	if env.FinalAnswer != "42" {
		t.Fatalf("envelope = %+v", env)
	}
	if len(warnings) == 0 {
		t.Fatal("a repaired parse must surface a warning")
	}
}

func TestParseRegexFallback(t *testing.T) {
	raw := `The answer is: "final_answer": "it worked", "continue": false and some rubble`
	env, _, warnings := mustParse(t, raw)
	if env.FinalAnswer != "it worked" || env.Continue {
		t.Fatalf("envelope = %+v", env)
	}
	if len(warnings) == 0 {
		t.Fatal("the regex fallback must surface a warning")
	}
}

func TestParseUnparseable(t *testing.T) {
	_, _, _, err := ParseResponse("complete nonsense with no braces")
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("err = %v, want ErrUnparseable", err)
	}
}

func TestParseMissingAllFieldsWarnsNotErrors(t *testing.T) {
	env, _, warnings, err := ParseResponse(`{"note":"I am confused"}`)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(warnings) == 0 {
		t.Fatal("an unrecognized object must produce a retry warning")
	}
	if len(env.Actions) != 0 || env.FinalAnswer != "" {
		t.Fatalf("envelope should be empty, got %+v", env)
	}
}

func TestParseContinueFalseWithActionsForced(t *testing.T) {
	env, _, _ := mustParse(t, `{"actions":[{"tool":"BashTool","arguments":{"command":"ls"}}],"final_answer":"","continue":false}`)
	if !env.Continue {
		t.Fatal("continue must be forced true when actions exist with no answer")
	}
}

func TestParseStringsWithBracesSurvive(t *testing.T) {
	env, _, _ := mustParse(t, `{"actions":[],"final_answer":"use {braces} and [brackets] freely","continue":false}`)
	if env.FinalAnswer != "use {braces} and [brackets] freely" {
		t.Fatalf("final_answer = %q", env.FinalAnswer)
	}
}

func TestSplitFileBlock(t *testing.T) {
	raw := `{"actions":[{"tool":"FileWriteTool","arguments":{"filepath":"/tmp/x.py"}}],"continue":true}
===SKIPPY_FILE_START:/tmp/x.py===
def f():
  return 1
===SKIPPY_FILE_END===`

	env, blocks, _ := mustParse(t, raw)
	if len(env.Actions) != 1 {
		t.Fatalf("actions = %+v", env.Actions)
	}
	content, ok := blocks.FileContent("/tmp/x.py")
	if !ok {
		t.Fatal("file block not found")
	}
	if content != "def f():\n  return 1" {
		t.Fatalf("content = %q", content)
	}
}

func TestSplitPatchBlockPairs(t *testing.T) {
	raw := `{"actions":[{"tool":"PatchFileTool","arguments":{"filepath":"/tmp/a.go"}}],"continue":true}
===SKIPPY_PATCH_START:/tmp/a.go===
===FIND===
old line
===REPLACE===
new line
===FIND===
second old
===REPLACE===
second new
===SKIPPY_PATCH_END===`

	_, blocks, _ := mustParse(t, raw)
	changes, ok := blocks.PatchChanges("/tmp/a.go")
	if !ok {
		t.Fatal("patch block not found")
	}
	want := []PatchChange{
		{Find: "old line", Replace: "new line"},
		{Find: "second old", Replace: "second new"},
	}
	if !reflect.DeepEqual(changes, want) {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestSplitMultipleBlocks(t *testing.T) {
	raw := `{"actions":[],"continue":true}
===SKIPPY_FILE_START:/a===
A
===SKIPPY_FILE_END===
===SKIPPY_FILE_START:/b===
B
===SKIPPY_FILE_END===`

	_, blocks := SplitBlocks(raw)
	if len(blocks.Files) != 2 {
		t.Fatalf("files = %+v", blocks.Files)
	}
	if blocks.Files[0].Path != "/a" || blocks.Files[0].Content != "A" ||
		blocks.Files[1].Path != "/b" || blocks.Files[1].Content != "B" {
		t.Fatalf("files = %+v", blocks.Files)
	}
}

func TestSoleBlockFallback(t *testing.T) {
	blocks := Blocks{Files: []FileBlock{{Path: "/only", Content: "X"}}}
	content, ok := blocks.FileContent("")
	if !ok || content != "X" {
		t.Fatalf("FileContent fallback = %q, %v", content, ok)
	}
	if _, ok := blocks.FileContent("/other"); ok {
		t.Fatal("explicit mismatched path must not fall back")
	}
}
