// Command quill runs the agent core headless: one prompt in, the agent
// loop with tools and hooks, the final answer out. The terminal frontend
// lives elsewhere; this binary is the reference wiring of the core.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/quill/pkg/agent"
	"github.com/odvcencio/quill/pkg/bus"
	"github.com/odvcencio/quill/pkg/config"
	"github.com/odvcencio/quill/pkg/hooks"
	"github.com/odvcencio/quill/pkg/logging"
	"github.com/odvcencio/quill/pkg/mcp"
	"github.com/odvcencio/quill/pkg/model"
	"github.com/odvcencio/quill/pkg/policy"
	"github.com/odvcencio/quill/pkg/prompts"
	"github.com/odvcencio/quill/pkg/scheduler"
	"github.com/odvcencio/quill/pkg/session"
	"github.com/odvcencio/quill/pkg/tool"
	"github.com/odvcencio/quill/pkg/tool/builtin"
	"github.com/odvcencio/quill/pkg/tool/external"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

type cliFlags struct {
	prompt        string
	modelOverride string
	sandbox       string
	logLevel      string
	transcriptDir string
	maxTurns      int
	timeBudget    time.Duration
	approveAll    bool
	natsURL       string
	showVersion   bool
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("quill", flag.ContinueOnError)
	fs.StringVar(&f.prompt, "p", "", "prompt to run; remaining arguments are joined when empty")
	fs.StringVar(&f.modelOverride, "model", "", "pin a model instead of routing")
	fs.StringVar(&f.sandbox, "sandbox", "", "sandbox posture: false, container, or a profile name")
	fs.StringVar(&f.logLevel, "log-level", "", "minimum log level")
	fs.StringVar(&f.transcriptDir, "transcript-dir", "", "directory for session transcripts")
	fs.IntVar(&f.maxTurns, "max-turns", 40, "turn limit for the run")
	fs.DurationVar(&f.timeBudget, "time-budget", 0, "wall clock limit for the run, 0 for none")
	fs.BoolVar(&f.approveAll, "yes", false, "approve every tool call that asks for confirmation")
	fs.StringVar(&f.natsURL, "nats", "", "publish session events to this NATS server")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.prompt == "" {
		f.prompt = strings.Join(fs.Args(), " ")
	}
	return f, nil
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if flags.showVersion {
		fmt.Printf("quill %s (%s)\n", version, commit)
		return
	}
	if strings.TrimSpace(flags.prompt) == "" {
		fmt.Fprintln(os.Stderr, "Error: no prompt; pass -p or trailing arguments")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, flags cliFlags) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	cfg, err := config.Load(workDir, config.Overrides{
		Model:         flags.modelOverride,
		Sandbox:       flags.sandbox,
		TranscriptDir: flags.transcriptDir,
		LogLevel:      flags.logLevel,
	})
	if err != nil {
		return err
	}

	apiKey := cfg.APIKey()
	if apiKey == "" {
		return fmt.Errorf("no API key; set %s", cfg.Settings.Model.APIKeyEnv)
	}

	hookRegistry, err := cfg.HookRegistry()
	if err != nil {
		return err
	}

	sessionID := session.GenerateID(session.DetermineBase(workDir))

	logger, err := logging.NewLogger(logDir(cfg), sessionID)
	if err != nil {
		return fmt.Errorf("opening logs: %w", err)
	}
	defer logger.Close()
	if cfg.Settings.Logging.Level != "" {
		logger.SetMinLevel(logging.Level(cfg.Settings.Logging.Level))
	}

	sess, err := session.New(session.Options{
		WorkDir:       workDir,
		ID:            sessionID,
		TranscriptDir: transcriptDir(cfg),
		HookRegistry:  hookRegistry,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	registry := tool.NewRegistry()
	registry.SetLogger(logger)

	memoryStore := builtin.NewMemoryStore(memoryPath())
	builtin.RegisterAll(registry, builtin.Options{
		WorkDir:          workDir,
		MemoryStore:      memoryStore,
		AllowPrivateURLs: cfg.Settings.Tools.AllowPrivateFetch,
	})

	for _, command := range cfg.Settings.Tools.DiscoveryCommands {
		names, err := external.Register(ctx, registry, command, external.Options{WorkDir: workDir})
		if err != nil {
			logger.Warn(logging.CategoryTool, "discovery_failed", "local tool discovery failed", map[string]any{
				"command": command,
				"error":   err.Error(),
			})
			continue
		}
		logger.Info(logging.CategoryTool, "discovered_local", "local tools registered", map[string]any{
			"command": command,
			"tools":   names,
		})
	}

	manager := mcp.NewManager()
	for name, srv := range cfg.Settings.MCPServers {
		manager.AddServer(mcp.ServerConfig{
			Name:    name,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
			Timeout: time.Duration(srv.TimeoutMs) * time.Millisecond,
		})
	}
	if err := manager.Connect(ctx); err != nil {
		logger.Warn(logging.CategoryNetwork, "mcp_connect_failed", "some servers unavailable", map[string]any{
			"error": err.Error(),
		})
	}
	manager.RegisterTools(registry)
	defer manager.Close()

	engine := policy.NewEngine(cfg.Settings.Policy)
	engine.SetLogger(logger)

	sched := scheduler.New(registry, engine, logger, workDir)

	eventBus, err := openBus(flags.natsURL)
	if err != nil {
		return err
	}
	defer eventBus.Close()
	notifier := bus.NewNotifier(eventBus, sess.ID, logger)

	// Approval prompts have no interactive answerer here, so resolve them
	// from the -yes flag before forwarding the event stream to the bus.
	events := make(chan scheduler.Event, 64)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sched.Events():
				if !ok {
					return
				}
				if event.Kind == scheduler.EventApprovalRequest {
					notifyApproval(ctx, hookRegistry, sess.HookExecutor(), event)
					sched.Resolve(event.CallID, flags.approveAll)
				}
				select {
				case events <- event:
				default:
				}
			}
		}
	}()
	go notifier.PumpToolEvents(ctx, events)

	client := model.NewClient(apiKey, cfg.Settings.Model.BaseURL)
	fallback := &model.FallbackSignal{}
	client.OnQuotaExceeded(func(apiErr *model.APIError) {
		fallback.Trip(apiErr.Message)
	})

	router := model.NewRouter(model.RouterConfig{
		DefaultModel:    cfg.Settings.Model.Default,
		FallbackModel:   cfg.Settings.Model.Flash,
		FlashModel:      cfg.Settings.Model.Flash,
		ProModel:        cfg.Settings.Model.Pro,
		ClassifierModel: cfg.Settings.Model.Classifier,
	}, client)

	builder := &prompts.Builder{
		WorkDir:   workDir,
		Sandbox:   sandboxMode(cfg.Settings.Sandbox),
		Memory:    memoryStore,
		ToolNames: registry.AllNames(),
	}

	executor, err := agent.New(agent.Config{
		Definition: agent.Definition{
			Name:         "quill",
			SystemPrompt: builder.Build(),
			Model:        cfg.Settings.Model.Default,
			MaxTurns:     flags.maxTurns,
			TimeBudget:   flags.timeBudget,
		},
		Backend:       client,
		Registry:      registry,
		Scheduler:     sched,
		Router:        router,
		HookRegistry:  hookRegistry,
		HookExecutor:  sess.HookExecutor(),
		Logger:        logger,
		OverrideModel: cfg.Settings.Model.Override,
		Signal:        fallback,

		ContextWindow:     cfg.Settings.Chat.ContextWindow,
		CompressThreshold: cfg.Settings.Chat.CompressThreshold,
		CompressModel:     cfg.Settings.Chat.CompressModel,
	})
	if err != nil {
		return err
	}

	notifier.SessionStarted(ctx)
	extra := sess.Start(ctx, session.TriggerStartup)

	prompt := flags.prompt
	if len(extra) > 0 {
		prompt = strings.Join(extra, "\n\n") + "\n\n" + prompt
	}
	sess.RecordMessage(model.Message{Role: "user", Content: prompt})

	result, err := executor.Run(ctx, map[string]any{"task": prompt})
	if err != nil {
		sess.End(ctx, session.EndError)
		notifier.SessionEnded(context.WithoutCancel(ctx))
		return err
	}

	sess.RecordEvent("run_finished", map[string]any{
		"reason": string(result.Reason),
		"turns":  result.Turns,
	})
	sess.End(ctx, session.EndExit)
	notifier.SessionEnded(context.WithoutCancel(ctx))

	if result.Text != "" {
		fmt.Println(result.Text)
	}
	if result.Reason != agent.TerminateTaskComplete {
		fmt.Fprintf(os.Stderr, "run ended: %s after %d turns\n", result.Reason, result.Turns)
		os.Exit(3)
	}
	return nil
}

// notifyApproval fires Notification hooks for a pending approval prompt.
// Advisory only; the decision still comes from the -yes flag.
func notifyApproval(ctx context.Context, registry *hooks.Registry, executor *hooks.Executor, event scheduler.Event) {
	plan := hooks.BuildPlan(registry, hooks.EventNotification, "")
	if plan.Empty() {
		return
	}
	payload := executor.BuildPayload(hooks.EventNotification, map[string]any{
		"notification_type": "approval_request",
		"message":           event.DisplayName,
		"details": map[string]any{
			"tool":    event.Name,
			"call_id": event.CallID,
		},
	})
	executor.Execute(ctx, plan, payload)
}

func openBus(natsURL string) (bus.Bus, error) {
	if natsURL == "" {
		return bus.NewMemoryBus(), nil
	}
	cfg := bus.DefaultConfig()
	cfg.URL = natsURL
	return bus.NewNATSBus(cfg)
}

func logDir(cfg *config.Config) string {
	if cfg.Settings.Logging.Dir != "" {
		return cfg.Settings.Logging.Dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "quill-logs")
	}
	return filepath.Join(home, ".quill", "logs")
}

func transcriptDir(cfg *config.Config) string {
	if cfg.Settings.Session.TranscriptDir != "" {
		return cfg.Settings.Session.TranscriptDir
	}
	if cfg.ProjectRoot != "" {
		return filepath.Join(cfg.ProjectRoot, ".quill", "transcripts")
	}
	return ""
}

func memoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "quill-memory.md")
	}
	return filepath.Join(home, ".quill", "memory.md")
}

func sandboxMode(posture string) prompts.SandboxMode {
	switch posture {
	case "", "false":
		return prompts.SandboxNone
	case "true", "container":
		return prompts.SandboxContainer
	default:
		return prompts.SandboxStrict
	}
}
