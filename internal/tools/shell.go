package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// BashTool executes shell commands. It is intentionally unsandboxed:
// the agent has the same authority as the user running the daemon.
type BashTool struct {
	Timeout time.Duration
	WorkDir string

	mu   sync.Mutex
	next int
	jobs map[int]*exec.Cmd
}

// NewBashTool creates the bash tool.
func NewBashTool(timeout time.Duration, workDir string) *BashTool {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &BashTool{
		Timeout: timeout,
		WorkDir: workDir,
		jobs:    make(map[int]*exec.Cmd),
	}
}

// RefuseRootUnless returns an error when the process runs as root and
// the unsafe flag is not set. Checked once at daemon startup.
func RefuseRootUnless(unsafe bool) error {
	if os.Geteuid() == 0 && !unsafe {
		return fmt.Errorf("refusing to run the unsandboxed shell tool as root; set tools.shell.unsafe to override")
	}
	return nil
}

func (t *BashTool) Name() string { return "BashTool" }
func (t *BashTool) Init() error  { return nil }

func (t *BashTool) Context() string {
	return `Execute shell commands on the host.
Operations:
  execute {command, working_dir?, background?} -> {stdout, stderr, exitCode} or {jobId} when background
  kill {jobId} -> {killed}
Commands run through sh -c with a timeout; background jobs keep running until killed.`
}

func (t *BashTool) Run(ctx context.Context, args map[string]any) Result {
	op := GetString(args, "operation", "execute")
	switch op {
	case "execute", "run", "":
		return t.execute(ctx, args)
	case "kill":
		return t.kill(args)
	default:
		return Fail("BashTool: unknown operation %q", op)
	}
}

func (t *BashTool) execute(ctx context.Context, args map[string]any) Result {
	if missing := Require(args, "command"); missing != "" {
		return Fail("BashTool: %s is required", missing)
	}
	command := GetString(args, "command", "")
	workDir := GetString(args, "working_dir", t.WorkDir)

	if GetBool(args, "background", false) {
		return t.startBackground(command, workDir)
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Fail("BashTool: command timed out after %v\n%s", t.Timeout, stderr.String())
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{"success": false, "error": err.Error(), "exitCode": 1}
		}
	}

	return Result{
		"success":  exitCode == 0,
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": exitCode,
	}
}

func (t *BashTool) startBackground(command, workDir string) Result {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = workDir
	// Own process group so kill reaches the whole pipeline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Fail("BashTool: start background command: %v", err)
	}

	t.mu.Lock()
	t.next++
	id := t.next
	t.jobs[id] = cmd
	t.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		t.mu.Lock()
		delete(t.jobs, id)
		t.mu.Unlock()
	}()

	return OK(map[string]any{"jobId": id, "pid": cmd.Process.Pid})
}

func (t *BashTool) kill(args map[string]any) Result {
	id := GetInt(args, "jobId", 0)
	if id == 0 {
		return Fail("BashTool: jobId is required")
	}

	t.mu.Lock()
	cmd, ok := t.jobs[id]
	t.mu.Unlock()
	if !ok || cmd.Process == nil {
		return Fail("BashTool: no background job %d", id)
	}

	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		return Fail("BashTool: kill job %d: %v", id, err)
	}
	return OK(map[string]any{"killed": id})
}
