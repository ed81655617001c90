// Package orchestrator drives the agentic loop: context assembly,
// streaming LLM turns, response parsing, tool dispatch, and the
// abort/continuation/budget machinery around them.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skippybot/skippy/internal/llm"
	"github.com/skippybot/skippy/internal/memory"
	"github.com/skippybot/skippy/internal/tools"
)

// ChatClient is the streaming LLM surface the loop drives. Satisfied
// by *llm.Client.
type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest, onChunk func(string)) (string, error)
	DefaultModel() string
}

const (
	fallbackSummaryTimeout = 3 * time.Minute
	defaultContextWindow   = 1_000_000
)

// systemRules is the fixed response-format contract injected at the top
// of every assembled context. The block grammar is quoted verbatim; the
// model sees these exact markers.
const systemRules = `You are Skippy, a capable personal assistant with tools.

Respond with exactly one JSON object:
{"reasoning": "<your thinking>", "actions": [<Action>...], "final_answer": "<answer for the user>", "continue": <bool>}
Action = {"type": "tool_call", "tool": "<ToolName>", "arguments": {<args>}, "reasoning": "<why>"}

Set "continue" to true when you need the tool results before answering.
Set "continue" to false and fill "final_answer" when you are done.

NEVER place multi-line file content or patch text inside JSON strings.
Omit the content/changes argument and append delimited blocks after the
closing brace instead:

===SKIPPY_FILE_START:<path>===
<verbatim file content>
===SKIPPY_FILE_END===

===SKIPPY_PATCH_START:<path>===
===FIND===
<verbatim text to find>
===REPLACE===
<verbatim replacement>
===SKIPPY_PATCH_END===`

// Request is one prompt entering the loop.
type Request struct {
	Prompt       string
	Model        string
	ExtraContext string
	Channel      string
	User         string
	// ImageSources are URLs or local paths, loaded once per prompt.
	ImageSources []string
	// Status receives progress notices for the caller's status bubbles.
	// May be nil.
	Status func(text string)
}

// ToolResult is one executed action with its outcome.
type ToolResult struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    tools.Result   `json:"result"`
}

// Outcome is the terminal state of a prompt chain.
type Outcome struct {
	FinalAnswer string
	ToolResults []ToolResult
	LoopCount   int
	Aborted     bool
}

// Options wires the orchestrator's dependencies.
type Options struct {
	LLM           ChatClient
	Registry      *tools.Registry
	Memory        *memory.Store
	Items         *ContextItems
	LoopLimit     int
	ContextWindow int // explicit config cap; 0 means use detected
	EnforceBudget bool
	Categories    []string // memory categories auto-injected, in order
	DefaultUser   string
	WorkDir       string
}

// Orchestrator owns the loop. Startup fields are written once before
// serving; the registries are concurrent-safe.
type Orchestrator struct {
	llmClient      ChatClient
	registry       *tools.Registry
	memory         *memory.Store
	items          *ContextItems
	loopLimit      int
	configWindow   int
	detectedWindow int
	enforceBudget  bool
	categories     []string
	defaultUser    string
	workDir        string
	toolContext    string

	aborts        *AbortRegistry
	continuations *ContinuationRegistry
	inflight      *inflightSet
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.LoopLimit <= 0 {
		opts.LoopLimit = 15
	}
	if opts.WorkDir == "" {
		opts.WorkDir, _ = os.Getwd()
	}
	return &Orchestrator{
		llmClient:     opts.LLM,
		registry:      opts.Registry,
		memory:        opts.Memory,
		items:         opts.Items,
		loopLimit:     opts.LoopLimit,
		configWindow:  opts.ContextWindow,
		enforceBudget: opts.EnforceBudget,
		categories:    opts.Categories,
		defaultUser:   opts.DefaultUser,
		workDir:       opts.WorkDir,
		aborts:        NewAbortRegistry(),
		continuations: NewContinuationRegistry(),
		inflight:      newInflightSet(),
	}
}

// Aborts exposes the abort registry to the gateway's stop command.
func (o *Orchestrator) Aborts() *AbortRegistry { return o.aborts }

// Items exposes the persistent context items to the gateway's context
// commands.
func (o *Orchestrator) Items() *ContextItems { return o.items }

// SetDetectedContextWindow records the model-introspected context
// length. Called once at startup, before serving.
func (o *Orchestrator) SetDetectedContextWindow(n int) { o.detectedWindow = n }

// SetToolContext caches the condensed tool context. Called once at
// startup, before serving.
func (o *Orchestrator) SetToolContext(text string) { o.toolContext = text }

// SetLoopLimit adjusts the step budget for subsequent prompts.
// Out-of-range values are ignored.
func (o *Orchestrator) SetLoopLimit(n int) {
	if n >= 1 && n <= 200 {
		o.loopLimit = n
	}
}

// LoopLimit returns the current step budget.
func (o *Orchestrator) LoopLimit() int { return o.loopLimit }

// EffectiveContextWindow resolves config cap, then detected, then the
// permissive default.
func (o *Orchestrator) EffectiveContextWindow() int {
	if o.configWindow > 0 {
		return o.configWindow
	}
	if o.detectedWindow > 0 {
		return o.detectedWindow
	}
	return defaultContextWindow
}

// RunScheduledPrompt feeds a cron prompt action into the loop with a
// discard callback.
func (o *Orchestrator) RunScheduledPrompt(ctx context.Context, channel, prompt string) error {
	if channel == "" {
		channel = "cron"
	}
	_, err := o.Run(ctx, Request{Prompt: prompt, Channel: channel, User: o.defaultUser})
	return err
}

// Run executes one prompt chain to completion. At most one chain per
// channel is in flight; a second prompt on a busy channel is rejected.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Outcome{}, fmt.Errorf("orchestrator: empty prompt")
	}
	if req.User == "" {
		req.User = o.defaultUser
	}
	if !o.inflight.tryAcquire(req.Channel) {
		return Outcome{}, fmt.Errorf("orchestrator: a chain is already running on channel %q", req.Channel)
	}
	defer o.inflight.release(req.Channel)
	o.aborts.Clear(req.Channel)

	state := o.restoreOrStart(req)
	status := req.Status
	if status == nil {
		status = func(string) {}
	}
	status("thinking...")

	images := o.loadImages(req.ImageSources)

	for {
		// Abort check 1: loop top.
		if o.aborts.Pending(req.Channel) {
			return o.abortOutcome(req.Channel, state), nil
		}
		if state.loopCount >= state.loopLimit {
			o.continuations.Save(req.Channel, &Continuation{
				Prompt:           state.prompt,
				AssembledContext: state.assembledContext,
				Model:            req.Model,
				User:             req.User,
				ToolResults:      state.toolResults,
				LoopLimit:        state.loopLimit,
			})
			slog.Info("Loop limit reached, continuation saved",
				"channel", req.Channel, "loops", state.loopCount)
			return Outcome{
				FinalAnswer: fmt.Sprintf(
					"I've hit my step limit (%d steps) and there's still work to do. Would you like me to continue?",
					state.loopLimit),
				ToolResults: state.toolResults,
				LoopCount:   state.loopCount,
			}, nil
		}

		state.loopCount++
		if state.loopCount > 1 {
			status(fmt.Sprintf("processing step %d...", state.loopCount))
		}

		userMessage := o.buildUserMessage(state)
		if err := o.account(state.assembledContext, userMessage, state.loopCount); err != nil {
			return Outcome{}, err
		}

		chatReq := llm.ChatRequest{
			Prompt:  userMessage,
			Context: state.assembledContext,
			Model:   req.Model,
		}
		if state.loopCount == 1 {
			chatReq.Images = images
		}
		raw, err := o.llmClient.Chat(ctx, chatReq, func(string) {})
		if err != nil {
			return Outcome{}, fmt.Errorf("Ollama request failed: %w", err)
		}

		// Abort check 2: post-LLM.
		if o.aborts.Pending(req.Channel) {
			return o.abortOutcome(req.Channel, state), nil
		}

		env, blocks, warnings, perr := ParseResponse(raw)
		for _, w := range warnings {
			state.toolResults = append(state.toolResults, systemResult(w))
		}
		if perr != nil {
			return Outcome{}, fmt.Errorf("orchestrator: %w after %d loops", perr, state.loopCount)
		}
		state.lastResponse = env

		anyFailure := false
		for i := range env.Actions {
			action := &env.Actions[i]
			// Abort check 3: pre-each-tool.
			if o.aborts.Pending(req.Channel) {
				return o.abortOutcome(req.Channel, state), nil
			}
			o.injectBlocks(action, blocks)
			status(fmt.Sprintf("running %s...", action.Tool))
			slog.Info("Dispatching tool", "tool", action.Tool, "channel", req.Channel, "loop", state.loopCount)

			result := o.registry.Run(ctx, action.Tool, action.Arguments)
			state.toolResults = append(state.toolResults, ToolResult{
				Tool:      action.Tool,
				Arguments: action.Arguments,
				Result:    result,
			})
			if result.Failed() {
				anyFailure = true
				slog.Warn("Tool reported failure", "tool", action.Tool, "error", result["error"])
			}
		}
		// A failed tool must be seen by the model before it answers.
		if anyFailure {
			env.Continue = true
			state.lastResponse = env
		}

		if !env.Continue && (env.FinalAnswer != "" || len(env.Actions) == 0) {
			final := env.FinalAnswer
			if final == "" && len(state.toolResults) > 0 {
				final = o.fallbackSummary(ctx, state)
			}
			status("done")
			return Outcome{
				FinalAnswer: final,
				ToolResults: state.toolResults,
				LoopCount:   state.loopCount,
			}, nil
		}
	}
}

// loopState is the mutable per-chain record.
type loopState struct {
	prompt           string
	assembledContext string
	toolResults      []ToolResult
	lastResponse     Envelope
	loopCount        int
	loopLimit        int
	user             string
	channel          string
	resumed          bool
}

// restoreOrStart resumes a pending continuation when the prompt is a
// bare affirmative; otherwise any stale continuation is discarded and a
// fresh chain begins.
func (o *Orchestrator) restoreOrStart(req Request) *loopState {
	if cont, ok := o.continuations.Take(req.Channel); ok && IsAffirmative(req.Prompt) {
		slog.Info("Resuming pending continuation", "channel", req.Channel, "results", len(cont.ToolResults))
		return &loopState{
			prompt:           cont.Prompt,
			assembledContext: cont.AssembledContext,
			toolResults:      cont.ToolResults,
			loopLimit:        cont.LoopLimit,
			user:             cont.User,
			channel:          req.Channel,
			resumed:          true,
		}
	}
	return &loopState{
		prompt:           req.Prompt,
		assembledContext: o.AssembleContext(req),
		loopLimit:        o.loopLimit,
		user:             req.User,
		channel:          req.Channel,
	}
}

func (o *Orchestrator) abortOutcome(channel string, state *loopState) Outcome {
	o.aborts.Clear(channel)
	slog.Info("Chain aborted", "channel", channel, "loops", state.loopCount)
	return Outcome{
		ToolResults: state.toolResults,
		LoopCount:   state.loopCount,
		Aborted:     true,
	}
}

// buildUserMessage is the per-turn user content: the prompt on the
// first turn, the prompt plus accumulated results afterwards.
func (o *Orchestrator) buildUserMessage(state *loopState) string {
	if len(state.toolResults) == 0 {
		return state.prompt
	}
	return state.prompt +
		"\n\nActions executed so far and their results:\n" +
		formatToolResults(state.toolResults) +
		"\n\nContinue from here. Reply with the JSON envelope."
}

// injectBlocks moves out-of-band payloads into the action's arguments.
func (o *Orchestrator) injectBlocks(action *Action, blocks Blocks) {
	if blocks.Empty() {
		return
	}
	path, _ := action.Arguments["filepath"].(string)
	if _, has := action.Arguments["content"]; !has {
		if content, ok := blocks.FileContent(path); ok {
			action.Arguments["content"] = content
			if path == "" && len(blocks.Files) == 1 {
				action.Arguments["filepath"] = blocks.Files[0].Path
			}
		}
	}
	if _, has := action.Arguments["changes"]; !has {
		if changes, ok := blocks.PatchChanges(path); ok {
			converted := make([]any, 0, len(changes))
			for _, c := range changes {
				converted = append(converted, map[string]any{"find": c.Find, "replace": c.Replace})
			}
			action.Arguments["changes"] = converted
			if path == "" && len(blocks.Patches) == 1 {
				action.Arguments["filepath"] = blocks.Patches[0].Path
			}
		}
	}
}

// systemResult wraps a parser warning as a synthetic tool result so the
// model sees it on the next turn.
func systemResult(message string) ToolResult {
	return ToolResult{
		Tool:      "_system",
		Arguments: map[string]any{},
		Result:    tools.Result{"success": false, "error": message},
	}
}

// account logs the estimated token utilization before each LLM call.
// Purely observational unless budget enforcement is switched on.
func (o *Orchestrator) account(assembledContext, userMessage string, loop int) error {
	estimated := (len(assembledContext) + len(userMessage)) / 4
	window := o.EffectiveContextWindow()
	slog.Info("Context utilization",
		"loop", loop,
		"estimated_tokens", estimated,
		"context_window", window,
		"utilization", fmt.Sprintf("%.1f%%", float64(estimated)/float64(window)*100))
	if o.enforceBudget && estimated > window {
		return fmt.Errorf("orchestrator: estimated %d tokens exceeds the %d-token context window", estimated, window)
	}
	return nil
}

// fallbackSummary asks the model for a short user-facing close when the
// loop ended without a final answer. Hard 3-minute cap with a fixed
// apology fallback.
func (o *Orchestrator) fallbackSummary(ctx context.Context, state *loopState) string {
	slog.Warn("Empty final answer after tool calls, summarizing", "channel", state.channel)
	ctx, cancel := context.WithTimeout(ctx, fallbackSummaryTimeout)
	defer cancel()

	prompt := "The request below was handled by running the listed tools. " +
		"Write a short, friendly message telling the user what was done. Plain text only.\n\n" +
		"Request: " + state.prompt + "\n\nTool results:\n" + formatToolResults(state.toolResults)
	summary, err := o.llmClient.Chat(ctx, llm.ChatRequest{Prompt: prompt}, func(string) {})
	if err != nil || strings.TrimSpace(summary) == "" {
		return "I finished working on that, but I wasn't able to put together a summary of the results."
	}
	return strings.TrimSpace(summary)
}

// loadImages resolves request image sources plus persistent image
// items, base64-encoded. Failures are logged and skipped.
func (o *Orchestrator) loadImages(sources []string) []string {
	var out []string
	for _, src := range sources {
		encoded, err := LoadImage(src)
		if err != nil {
			slog.Warn("Skipping image", "source", src, "error", err)
			continue
		}
		out = append(out, encoded)
	}
	if o.items != nil {
		out = append(out, o.items.Images()...)
	}
	return out
}

// AssembleContext builds the per-request system block in its fixed
// section order: rules, clock, identity, tools, channels, memory,
// skills, working directory, attached files, extra context.
func (o *Orchestrator) AssembleContext(req Request) string {
	var b strings.Builder
	b.WriteString(systemRules)
	b.WriteString("\n\n")

	now := time.Now()
	zone, _ := now.Zone()
	b.WriteString(fmt.Sprintf("Current time: %s (%s)\n", now.Format("Monday, 2 January 2006 15:04"), zone))
	b.WriteString("Current user: " + req.User + "\n")
	if req.Channel != "" {
		b.WriteString("Current channel: " + req.Channel + "\n")
	}
	b.WriteString("\n")

	if o.toolContext != "" {
		b.WriteString("# Available tools\n")
		b.WriteString(o.toolContext)
		b.WriteString("\n\n")
	}

	if o.memory != nil {
		if channels, err := o.memory.ListChannels(); err == nil && len(channels) > 0 {
			b.WriteString("Known channels: " + strings.Join(channels, ", ") + "\n\n")
		}
		o.writeMemoryContext(&b)
		o.writeSkillContext(&b, req.User)
	}

	b.WriteString("Working directory: " + o.workDir + "\n")
	if listing := listDir(o.workDir); listing != "" {
		b.WriteString(listing)
	}
	b.WriteString("\n")

	if o.items != nil {
		if files := o.items.FilesBlock(); files != "" {
			b.WriteString("# Attached files\n")
			b.WriteString(files)
			b.WriteString("\n")
		}
	}

	if req.ExtraContext != "" {
		b.WriteString("<context>\n" + req.ExtraContext + "\n</context>\n")
	}
	return b.String()
}

func (o *Orchestrator) writeMemoryContext(b *strings.Builder) {
	byCategory, err := o.memory.ContextMemories(o.categories)
	if err != nil {
		slog.Warn("Memory context unavailable", "error", err)
		return
	}
	if len(byCategory) == 0 {
		return
	}
	b.WriteString("# Memory\n")
	for _, category := range o.categories {
		entries := byCategory[category]
		if len(entries) == 0 {
			continue
		}
		b.WriteString("## " + category + "\n")
		for _, e := range entries {
			b.WriteString(fmt.Sprintf("%s: %v\n", e.Key, e.Value))
		}
	}
	b.WriteString("\n")
}

func (o *Orchestrator) writeSkillContext(b *strings.Builder, user string) {
	skills, err := o.memory.ContextSkills(user)
	if err != nil {
		slog.Warn("Skill context unavailable", "error", err)
		return
	}
	if len(skills) == 0 {
		return
	}
	b.WriteString("# Skills\n")
	for _, sk := range skills {
		b.WriteString(fmt.Sprintf("%s [%s]: %s\n", sk.Name, sk.Owner, sk.Description))
		if sk.Instructions != "" {
			b.WriteString("Instructions: " + sk.Instructions + "\n")
		}
	}
	b.WriteString("\n")
}

func listDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return "Contents: " + strings.Join(names, ", ") + "\n"
}

// inflightSet enforces at most one chain per channel.
type inflightSet struct {
	mu      sync.Mutex
	running map[string]bool
}

func newInflightSet() *inflightSet {
	return &inflightSet{running: make(map[string]bool)}
}

func (s *inflightSet) tryAcquire(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[channel] {
		return false
	}
	s.running[channel] = true
	return true
}

func (s *inflightSet) release(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, channel)
}
