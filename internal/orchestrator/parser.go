package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnparseable is returned when no JSON object can be extracted from
// a response after every strategy.
var ErrUnparseable = errors.New("orchestrator: no extractable JSON in response")

// Envelope is the canonical parsed control structure of one LLM turn.
type Envelope struct {
	Reasoning   string   `json:"reasoning"`
	Actions     []Action `json:"actions"`
	FinalAnswer string   `json:"final_answer"`
	Continue    bool     `json:"continue"`
}

// Action is one requested tool invocation.
type Action struct {
	Type      string         `json:"type"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Reasoning string         `json:"reasoning"`
}

// ParseResponse splits the raw buffer into JSON candidate and
// out-of-band blocks, extracts the envelope through layered parse
// strategies, and normalizes the result. Warnings describe repairs
// applied along the way; the loop feeds them back to the model.
func ParseResponse(raw string) (Envelope, Blocks, []string, error) {
	candidate, blocks := SplitBlocks(raw)

	value, warnings, err := extractJSON(candidate)
	if err != nil {
		return Envelope{}, blocks, warnings, err
	}

	env, recognized := normalizeEnvelope(value)
	if !recognized {
		warnings = append(warnings,
			"response had none of actions/final_answer/continue; reply with the documented JSON envelope")
		// Force another turn so the model sees the warning.
		return Envelope{Continue: true}, blocks, warnings, nil
	}
	return env, blocks, warnings, nil
}

// extractJSON runs the layered parse: direct → unwrap fences/XML →
// candidate scan with brace matching → repair → regex field fallback.
func extractJSON(raw string) (any, []string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, ErrUnparseable
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil, nil
	}

	stripped := stripWrappers(raw)
	if stripped != raw {
		if err := json.Unmarshal([]byte(stripped), &v); err == nil {
			return v, nil, nil
		}
	}

	var warnings []string
	for _, candidate := range scanCandidates(stripped) {
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v, nil, nil
		}
		repaired := repairJSON(candidate)
		if repaired != candidate {
			if err := json.Unmarshal([]byte(repaired), &v); err == nil {
				warnings = append(warnings,
					"response JSON needed repair before parsing; emit strictly valid JSON")
				return v, warnings, nil
			}
		}
	}

	if env, ok := regexFallback(stripped); ok {
		warnings = append(warnings,
			"response JSON was reconstructed field-by-field; emit strictly valid JSON")
		return env, warnings, nil
	}
	return nil, nil, ErrUnparseable
}

var (
	fenceRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	xmlWrapRe = regexp.MustCompile(`(?s)<(?:response|json|output)>\s*(.*?)\s*</(?:response|json|output)>`)
)

// stripWrappers removes markdown code fences and XML-ish wrappers the
// model sometimes adds around its JSON.
func stripWrappers(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := xmlWrapRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// scanCandidates returns substrings starting at each { or [ and ending
// at its balanced close, or at end-of-input when unbalanced so the
// repair layer gets a chance.
func scanCandidates(raw string) []string {
	var out []string
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' && raw[i] != '[' {
			continue
		}
		end := matchBrackets(raw[i:])
		if end > 0 {
			out = append(out, raw[i:i+end])
		} else {
			out = append(out, raw[i:])
		}
		// Only the first few start positions are worth trying.
		if len(out) >= 4 {
			break
		}
	}
	return out
}

// matchBrackets returns the length of the balanced JSON value starting
// at s[0], respecting string literals and escapes. Returns 0 when the
// brackets never balance.
func matchBrackets(s string) int {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return 0
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				return 0
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}
	return 0
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// repairJSON applies the cheap fixes for the common LLM malformations:
// trailing commas, unquoted keys, unclosed brackets.
func repairJSON(raw string) string {
	out := trailingCommaRe.ReplaceAllString(raw, "$1")
	out = unquotedKeyRe.ReplaceAllString(out, `$1"$2":`)

	// Close whatever is left open, using the same string-aware scan.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return out
}

var (
	finalAnswerRe = regexp.MustCompile(`"final_answer"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	reasoningRe   = regexp.MustCompile(`"reasoning"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	continueRe    = regexp.MustCompile(`"continue"\s*:\s*(true|false)`)
)

// regexFallback salvages the scalar fields when structure is beyond
// repair. Actions are unrecoverable at this layer.
func regexFallback(raw string) (map[string]any, bool) {
	out := map[string]any{}
	if m := finalAnswerRe.FindStringSubmatch(raw); m != nil {
		out["final_answer"] = unescapeJSONString(m[1])
	}
	if m := reasoningRe.FindStringSubmatch(raw); m != nil {
		out["reasoning"] = unescapeJSONString(m[1])
	}
	if m := continueRe.FindStringSubmatch(raw); m != nil {
		out["continue"] = m[1] == "true"
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// normalizeEnvelope converts any of the accepted response shapes to the
// canonical envelope:
//
//	{reasoning, actions, final_answer, continue}  the documented shape
//	[{tool, arguments}, ...]                      bare action array
//	{tool, arguments}                             bare action object
//
// The second return is false when the value carries none of the
// envelope fields and is not an action.
func normalizeEnvelope(value any) (Envelope, bool) {
	switch v := value.(type) {
	case []any:
		actions := normalizeActions(v)
		if len(actions) == 0 {
			return Envelope{}, false
		}
		return Envelope{Actions: actions, Continue: true}, true

	case map[string]any:
		if isAction(v) {
			return Envelope{Actions: []Action{normalizeAction(v)}, Continue: true}, true
		}

		_, hasActions := v["actions"]
		_, hasFinal := v["final_answer"]
		_, hasContinue := v["continue"]
		if !hasActions && !hasFinal && !hasContinue {
			return Envelope{}, false
		}

		env := Envelope{
			Reasoning:   stringField(v, "reasoning"),
			FinalAnswer: stringField(v, "final_answer"),
		}
		if b, ok := v["continue"].(bool); ok {
			env.Continue = b
		}
		if rawActions, ok := v["actions"].([]any); ok {
			env.Actions = normalizeActions(rawActions)
		}

		// Actions with continue=false and no answer is a contradiction;
		// the model wants the results back.
		if len(env.Actions) > 0 && !env.Continue && env.FinalAnswer == "" {
			env.Continue = true
		}
		return env, true

	default:
		return Envelope{}, false
	}
}

func normalizeActions(raw []any) []Action {
	var out []Action
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok || !isAction(m) {
			continue
		}
		out = append(out, normalizeAction(m))
	}
	return out
}

func isAction(m map[string]any) bool {
	tool := stringField(m, "tool")
	return tool != "" || stringField(m, "type") == "tool_call"
}

// normalizeAction fills the default type and promotes flattened
// meta-level keys under arguments.
func normalizeAction(m map[string]any) Action {
	a := Action{
		Type:      stringField(m, "type"),
		Tool:      stringField(m, "tool"),
		Reasoning: stringField(m, "reasoning"),
	}
	if a.Type == "" {
		a.Type = "tool_call"
	}
	switch args := m["arguments"].(type) {
	case map[string]any:
		a.Arguments = args
	case []any:
		a.Arguments = argumentsFromArray(args)
	default:
		a.Arguments = map[string]any{}
	}
	for k, v := range m {
		switch k {
		case "type", "tool", "arguments", "reasoning":
			continue
		}
		if _, exists := a.Arguments[k]; !exists {
			a.Arguments[k] = v
		}
	}
	return a
}

// argumentsFromArray handles the two array argument shapes: a leading
// op string followed by an object, or a bare positional list.
func argumentsFromArray(raw []any) map[string]any {
	if len(raw) >= 1 {
		if op, ok := raw[0].(string); ok {
			out := map[string]any{"operation": op}
			if len(raw) >= 2 {
				if obj, ok := raw[1].(map[string]any); ok {
					for k, v := range obj {
						out[k] = v
					}
					return out
				}
			}
			if len(raw) > 1 {
				out["args"] = raw[1:]
			}
			return out
		}
	}
	return map[string]any{"args": raw}
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// formatToolResults renders the accumulated results for the next LLM
// turn.
func formatToolResults(results []ToolResult) string {
	if len(results) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", results)
	}
	return string(data)
}
