package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skippybot/skippy/internal/config"
	"github.com/skippybot/skippy/internal/cron"
	"github.com/skippybot/skippy/internal/gateway"
	"github.com/skippybot/skippy/internal/ipc"
	"github.com/skippybot/skippy/internal/llm"
	"github.com/skippybot/skippy/internal/logging"
	"github.com/skippybot/skippy/internal/memory"
	"github.com/skippybot/skippy/internal/orchestrator"
	"github.com/skippybot/skippy/internal/tools"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the assistant daemon in the foreground",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Daemon panic", "panic", r, "stack", string(debug.Stack()))
			os.Exit(1)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return fmt.Errorf("startup: resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("startup: create %s: %w", dataDir, err)
	}
	if err := logging.Setup(cfg.LogLevel, filepath.Join(dataDir, config.LogFile)); err != nil {
		return fmt.Errorf("startup: logging: %w", err)
	}

	if err := tools.RefuseRootUnless(cfg.Tools.Shell.Unsafe); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	memPath, _ := config.MemoryDBPath()
	memStore, err := memory.Open(memPath)
	if err != nil {
		return fmt.Errorf("startup: open memory store: %w", err)
	}
	defer memStore.Close()

	cronPath, _ := config.CronDBPath()
	cronStore, err := cron.OpenStore(cronPath)
	if err != nil {
		return fmt.Errorf("startup: open cron store: %w", err)
	}
	defer cronStore.Close()

	client := llm.NewClient(llm.Options{
		Host:              cfg.Ollama.Host,
		APIKey:            cfg.Ollama.APIKey,
		Model:             cfg.Ollama.Model,
		TotalTimeout:      time.Duration(cfg.Ollama.Timeout) * time.Second,
		InactivityTimeout: time.Duration(cfg.Ollama.StreamInactivityTimeout) * time.Second,
		MaxRetries:        cfg.Ollama.MaxRetries,
	})

	workDir, err := os.UserHomeDir()
	if err != nil {
		workDir = dataDir
	}

	registry := tools.NewRegistry()
	registry.Register(&tools.FileReadTool{})
	registry.Register(&tools.FileWriteTool{})
	registry.Register(&tools.PatchFileTool{})
	registry.Register(&tools.ListDirectoryTool{})
	registry.Register(&tools.DeleteFileTool{})
	registry.Register(tools.NewBashTool(time.Duration(cfg.Tools.Shell.Timeout)*time.Second, workDir))
	registry.Register(tools.NewHTTPTool())
	registry.Register(tools.NewFileDownloadTool())
	registry.Register(tools.NewWebSearchTool(cfg.Tools.WebSearch.APIKey, cfg.Tools.WebSearch.MaxResults))
	registry.Register(tools.NewWeatherTool(cfg.Tools.Weather.DefaultLocation))
	registry.Register(tools.NewMemoryTool(memStore, cfg.Discord.DefaultUser))
	registry.Register(tools.NewCronTool(cronStore))
	sendTool := tools.NewDiscordSendTool(nil)
	registry.Register(sendTool)
	if err := registry.InitAll(); err != nil {
		return fmt.Errorf("startup: init tools: %w", err)
	}

	items, err := orchestrator.LoadContextItems(filepath.Join(dataDir, config.ContextFile))
	if err != nil {
		return fmt.Errorf("startup: load context items: %w", err)
	}

	orch := orchestrator.New(orchestrator.Options{
		LLM:           client,
		Registry:      registry,
		Memory:        memStore,
		Items:         items,
		LoopLimit:     cfg.Prompt.LoopLimit,
		ContextWindow: cfg.Ollama.ContextWindow,
		EnforceBudget: cfg.Prompt.EnforceBudget,
		Categories:    cfg.Memory.ContextCategories,
		DefaultUser:   cfg.Discord.DefaultUser,
		WorkDir:       workDir,
	})

	// Compile the condensed tool context once, with the model itself as
	// summarizer. Falls back to the full concatenation on failure.
	condenseCtx, condenseCancel := context.WithTimeout(ctx, 2*time.Minute)
	orch.SetToolContext(registry.CondensedContext(condenseCtx, func(ctx context.Context, text string) (string, error) {
		return client.Chat(ctx, llm.ChatRequest{Prompt: text}, nil)
	}))
	condenseCancel()

	if info, err := client.Introspect(ctx, ""); err != nil {
		slog.Warn("Model introspection failed; context window unknown", "error", err)
	} else {
		slog.Info("Model introspected", "model", cfg.Ollama.Model,
			"params", info.ParamSize, "context_length", info.ContextLength)
		orch.SetDetectedContextWindow(info.ContextLength)
	}

	gw, err := gateway.New(gateway.Options{
		Token:        cfg.Discord.Token,
		GuildID:      cfg.Discord.GuildID,
		HistoryLimit: cfg.Discord.MessageHistoryLimit,
		DefaultUser:  cfg.Discord.DefaultUser,
		Orchestrator: orch,
		Models:       &modelManager{client: client, orch: orch, cfg: cfg},
	})
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer gw.Stop()

	// The send tool was registered unbound so the condensed tool
	// context includes it; the gateway exists only now.
	sendTool.SetSender(gw)

	socketPath, _ := config.SocketPath()
	ipcServer := ipc.NewServer(ipc.Options{
		SocketPath:   socketPath,
		Orchestrator: orch,
		Sender:       gw,
		DefaultUser:  cfg.Discord.DefaultUser,
	})
	if err := ipcServer.Start(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	scheduler := cron.NewScheduler(cronStore, orch)
	go func() {
		if err := scheduler.Run(ctx); err != nil {
			slog.Error("Scheduler stopped", "error", err)
		}
	}()

	slog.Info("Skippy daemon running", "version", version, "data_dir", dataDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("Shutting down", "signal", s.String())
	cancel()
	return nil
}

// modelManager implements the gateway's model commands on top of the
// LLM client, persisting switches to the config file.
type modelManager struct {
	client *llm.Client
	orch   *orchestrator.Orchestrator
	cfg    *config.Config
}

func (m *modelManager) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return m.client.ListModels(ctx)
}

func (m *modelManager) CurrentModel() string { return m.client.DefaultModel() }

// SetModel verifies the model exists on the backend before switching,
// then persists the choice and refreshes the detected context window.
func (m *modelManager) SetModel(ctx context.Context, name string) error {
	info, err := m.client.Introspect(ctx, name)
	if err != nil {
		return fmt.Errorf("model %q is not available: %w", name, err)
	}
	m.client.SetDefaultModel(name)
	if info.ContextLength > 0 {
		m.orch.SetDetectedContextWindow(info.ContextLength)
	}
	m.cfg.Ollama.Model = name
	if err := config.Save(m.cfg); err != nil {
		return fmt.Errorf("model switched but not persisted: %w", err)
	}
	return nil
}
