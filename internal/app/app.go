// Package app owns construction and lifecycle of every component: one
// root container builds the object graph, starts the background loops,
// and tears them down in reverse order.
package app

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/agent"
	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/compaction"
	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/cron"
	"github.com/nextlevelbuilder/goflock/internal/dispatch"
	"github.com/nextlevelbuilder/goflock/internal/exchange"
	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/heartbeat"
	"github.com/nextlevelbuilder/goflock/internal/memory"
	"github.com/nextlevelbuilder/goflock/internal/providers"
	"github.com/nextlevelbuilder/goflock/internal/rolecard"
	"github.com/nextlevelbuilder/goflock/internal/store"
	"github.com/nextlevelbuilder/goflock/internal/tools"
	"github.com/nextlevelbuilder/goflock/internal/worklog"
)

// App is the root container. Everything hangs off it; nothing outside
// this package constructs cross-component wiring.
type App struct {
	Cfg    *config.Config
	Log    *slog.Logger
	Stores *store.Stores
	Bus    *bus.Bus

	Provider   providers.Provider
	Memory     *memory.Service
	WorkLog    *worklog.Service
	RoleCards  *rolecard.Registry
	Enforcer   *rolecard.Enforcer
	Outputs    *tools.Outputs
	Exchange   *exchange.Exchange
	Checks     *heartbeat.Registry
	Heartbeats *heartbeat.Manager
	Cron       *cron.Scheduler
	Invoker    *dispatch.Invoker
	Dispatcher *dispatch.Dispatcher
	Loops      map[string]*agent.Loop
	Runner     *agent.Runner

	shutdownTrace func(context.Context) error
}

// NewLogger builds the process logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// New builds the full object graph. Nothing is started yet.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	dataDir := config.ExpandHome(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fault.Wrap(fault.KindStoreWrite, err, "create data dir %s", dataDir)
	}
	stores, err := store.Open(dataDir)
	if err != nil {
		return nil, err
	}

	shutdownTrace, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		log.Warn("telemetry disabled", "error", err)
		shutdownTrace = func(context.Context) error { return nil }
	}

	a := &App{
		Cfg:           cfg,
		Log:           log,
		Stores:        stores,
		shutdownTrace: shutdownTrace,
	}
	if err := a.wire(); err != nil {
		stores.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Cfg
	log := a.Log

	a.Bus = bus.New(bus.Config{
		Capacity:    cfg.Bus.Capacity,
		AckDeadline: time.Duration(cfg.Bus.AckDeadlineS) * time.Second,
	})

	base := providers.NewAnthropicProvider(cfg.Provider.APIKey,
		providers.WithAnthropicModel(cfg.Provider.Model),
		providers.WithMaxTokens(cfg.Provider.MaxTokens),
	)
	a.Provider = providers.WithRetry(base, providers.RetryConfig{
		MaxAttempts: cfg.Provider.RetryAttempts,
		BaseDelay:   time.Duration(cfg.Provider.RetryBaseMS) * time.Millisecond,
	}, log)

	embedder := memory.NewHashEmbedder(cfg.Memory.EmbeddingDim)
	extractor := memory.NewLLMExtractor(a.Provider)
	a.Memory = memory.NewService(a.Stores.Memory, embedder, extractor, a.Provider, cfg.Memory, log)

	a.WorkLog = worklog.NewService(a.Stores.WorkLog, log)
	if cfg.Exchange.MinConfidence > 0 {
		a.WorkLog.MinConfidence = cfg.Exchange.MinConfidence
	}

	workspace := config.ExpandHome(cfg.Workspace)
	a.RoleCards = rolecard.NewRegistry(workspace, log)
	for _, bot := range cfg.Bots.All() {
		a.RoleCards.SetDefault(bot, rolecard.DefaultCard(bot))
	}
	a.Enforcer = rolecard.NewEnforcer(a.RoleCards)

	a.Outputs = tools.NewOutputs(a.Stores.ToolOutputs, cfg.Memory.ToolOutput)

	a.Exchange = exchange.New(a.Stores.Exchange, a.Stores.Rooms, cfg.Exchange, log)
	for _, bot := range cfg.Bots.All() {
		bot := bot
		a.Exchange.RegisterBot(bot, func(pkg store.LearningPackage) error {
			return a.Memory.ReceiveLearning(bot, pkg.Description, pkg.Category, pkg.Confidence)
		})
	}

	// Shareable audit entries become private learnings, then queue for
	// cross-bot distribution scoped to the room they came from.
	a.WorkLog.OnShareable = func(sess store.LogSession, entries []store.LogEntry) {
		for _, e := range entries {
			l, err := a.Memory.RecordLearning(e.BotName, e.Message, e.Extras.InsightCategory, e.Extras.Confidence)
			if err != nil {
				log.Warn("learning record failed", "bot", e.BotName, "error", err)
				continue
			}
			if _, err := a.Exchange.Promote(*l, sess.RoomID); err != nil {
				log.Warn("learning promotion failed", "bot", e.BotName, "error", err)
			}
		}
	}

	tc := compaction.HeuristicCounter{}
	assembler := compaction.NewAssembler(cfg.Memory.EnhancedContext, tc)
	compactor := compaction.NewCompactor(a.Stores.Sessions, a.Provider,
		cfg.Memory.SessionCompaction, cfg.Memory.Emergency, tc, log)
	if cfg.Memory.SessionCompaction.EnableMemoryFlush {
		compactor.PreHook = a.Memory.Flush
	}

	a.Invoker = dispatch.NewInvoker(a.Bus, func(ctx context.Context, bot, task, taskContext, invocationID string) (string, error) {
		loop, ok := a.Loops[bot]
		if !ok {
			return "", fault.New(fault.KindNotFound, "no loop for bot %q", bot)
		}
		return loop.ProcessTask(ctx, task, taskContext, invocationID)
	}, time.Duration(cfg.Provider.TimeoutS)*5*time.Second, log)

	sanitizer := agent.NewSanitizer(cfg.Security.MaskPatterns, cfg.Security.MaxMessageChars)
	prompts := agent.NewPromptBuilder(workspace, a.RoleCards)
	router := agent.NewRouter(a.Provider, true)

	baseTools := tools.NewRegistry(0, log)
	leaderTools := tools.NewRegistry(0, log)
	delegate := agent.NewDelegateTool(a.Invoker, cfg.Bots.Specialists)
	for _, reg := range []*tools.Registry{baseTools, leaderTools} {
		if err := reg.Register(tools.NewGetToolOutputTool(a.Outputs)); err != nil {
			return err
		}
		if err := reg.Register(tools.NewWorkLogTool(a.WorkLog)); err != nil {
			return err
		}
	}
	if err := leaderTools.Register(delegate); err != nil {
		return err
	}

	a.Loops = make(map[string]*agent.Loop, len(cfg.Bots.All()))
	for _, bot := range cfg.Bots.All() {
		isLeader := bot == cfg.Bots.Leader
		reg := baseTools
		if isLeader {
			reg = leaderTools
		}
		a.Loops[bot] = agent.NewLoop(agent.LoopConfig{
			Bot:       bot,
			IsLeader:  isLeader,
			Config:    cfg,
			Provider:  a.Provider,
			Sessions:  a.Stores.Sessions,
			Memory:    a.Memory,
			Assembler: assembler,
			Compactor: compactor,
			WorkLog:   a.WorkLog,
			Enforcer:  a.Enforcer,
			Tools:     reg,
			Outputs:   a.Outputs,
			Router:    router,
			Sanitizer: sanitizer,
			Prompts:   prompts,
			Log:       log,
		})
	}

	a.Checks = heartbeat.NewRegistry()
	if err := registerBuiltinChecks(a.Checks, a.Bus, a.Stores, a.WorkLog); err != nil {
		return err
	}
	a.Heartbeats = heartbeat.NewManager(cfg.Bots.Leader, log)
	for _, bot := range cfg.Bots.All() {
		hb := cfg.HeartbeatFor(bot)
		if !hb.Enabled {
			continue
		}
		domain := a.RoleCards.Get(bot).Domain
		a.Heartbeats.Register(heartbeat.NewService(bot, domain, hb, a.Checks, a.Bus, log))
	}
	a.Heartbeats.AddCoordination(a.breakerSweep)

	a.Cron = cron.NewScheduler(a.Stores.Cron, a.Bus, log)

	a.Dispatcher = dispatch.NewDispatcher(cfg.Bots.Leader, cfg.Bots.All())
	a.Runner = agent.NewRunner(a.Bus, a.Dispatcher, a.Invoker, a.Stores.Rooms,
		a.Loops, cfg.Bots.Leader, cfg.Bus.OutboundRPM, log)
	return nil
}

// breakerSweep is the leader's coordination pass: count specialists
// whose heartbeat breaker is open so the condition shows up in logs
// before users notice.
func (a *App) breakerSweep(context.Context) (int, error) {
	open := 0
	for _, bot := range a.Cfg.Bots.All() {
		svc, ok := a.Heartbeats.Service(bot)
		if !ok {
			continue
		}
		if svc.Breaker().State() == heartbeat.BreakerOpen {
			open++
			a.Log.Warn("heartbeat breaker open", "bot", bot)
		}
	}
	return open, nil
}

// Run starts every background loop and blocks until ctx is cancelled,
// then shuts down: intake first, drains agents, stops heartbeats, and
// closes storage last.
func (a *App) Run(ctx context.Context) error {
	if err := a.RoleCards.Watch(); err != nil {
		a.Log.Warn("role card watch unavailable", "error", err)
	}

	go a.Memory.Run(ctx)
	if a.Cfg.Exchange.Enabled {
		go a.Exchange.Run(ctx)
	}
	a.Heartbeats.Start(ctx)
	if a.Cfg.Cron.Enabled {
		go a.Cron.Run(ctx)
	}

	a.Log.Info("goflock running",
		"leader", a.Cfg.Bots.Leader,
		"specialists", len(a.Cfg.Bots.Specialists))

	// Blocks until ctx cancels; drains in-flight messages and
	// invocations before returning.
	a.Runner.Run(ctx)

	a.Heartbeats.Stop()
	a.RoleCards.Close()

	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Memory.Flush(flushCtx); err != nil {
		a.Log.Warn("final memory flush failed", "error", err)
	}
	if err := a.shutdownTrace(flushCtx); err != nil {
		a.Log.Warn("trace shutdown failed", "error", err)
	}
	return a.Stores.Close()
}
