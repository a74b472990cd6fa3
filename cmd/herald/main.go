// herald bridges interactive coding-agent CLIs into a chat transport.
//
// Exit codes: 1 for configuration errors, 2 when the transport rejects
// the bot credentials.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/HyphaGroup/herald/internal/agent"
	"github.com/HyphaGroup/herald/internal/agent/claude"
	"github.com/HyphaGroup/herald/internal/bridge"
	"github.com/HyphaGroup/herald/internal/cleanup"
	"github.com/HyphaGroup/herald/internal/config"
	"github.com/HyphaGroup/herald/internal/control"
	"github.com/HyphaGroup/herald/internal/cost"
	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/metrics"
	"github.com/HyphaGroup/herald/internal/planmode"
	"github.com/HyphaGroup/herald/internal/progress"
	"github.com/HyphaGroup/herald/internal/schedule"
	"github.com/HyphaGroup/herald/internal/session"
	"github.com/HyphaGroup/herald/internal/shutdown"
	"github.com/HyphaGroup/herald/internal/transport/telegram"
	"github.com/HyphaGroup/herald/internal/trigger"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configDir := flag.String("config", "", "Directory containing herald.jsonc")
	flag.Parse()

	if *showVersion {
		fmt.Printf("herald %s\n", Version)
		return
	}

	cfg, err := config.LoadAll(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "herald: %v\n", err)
		os.Exit(1)
	}

	logDir := filepath.Join(cfg.DataDir, "logs")
	if err := logger.Init(logDir); err != nil {
		fmt.Fprintf(os.Stderr, "herald: logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	if err := logger.InitSlog(logDir, true); err != nil {
		fmt.Fprintf(os.Stderr, "herald: slog init: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseSlog()

	if err := run(cfg); err != nil {
		logger.Error("herald: %v", err)
		if errors.Is(err, telegram.ErrUnauthorized) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Transport first: a bad token should fail before anything starts
	tg := telegram.New(cfg.Telegram.Token, "")
	if len(cfg.Telegram.AllowedUserIDs) > 0 {
		tg.AllowedUserIDs = make(map[string]bool, len(cfg.Telegram.AllowedUserIDs))
		for _, id := range cfg.Telegram.AllowedUserIDs {
			tg.AllowedUserIDs[strconv.FormatInt(id, 10)] = true
		}
	}
	if err := tg.CheckAuth(ctx); err != nil {
		return fmt.Errorf("transport auth: %w", err)
	}

	store, err := session.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer store.Close()

	// Stored sessions only resume correctly from the directory they
	// started in
	if cwd, err := os.Getwd(); err == nil {
		if cleared, err := store.SyncStartupCwd(cwd); err != nil {
			logger.Error("Startup cwd sync failed: %v", err)
		} else if cleared {
			logger.Info("Working directory changed; stored sessions cleared")
		}
	}

	var costs *cost.Tracker
	if cfg.Cost.MaxPerRun > 0 || cfg.Cost.MaxPerDay > 0 {
		ledger, err := cost.NewLedger(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("cost ledger: %w", err)
		}
		defer ledger.Close()
		costs = cost.NewTracker(cost.Budget{
			MaxPerRun:  cfg.Cost.MaxPerRun,
			MaxPerDay:  cfg.Cost.MaxPerDay,
			WarnAtPct:  cfg.Cost.WarnAtPct,
			AutoCancel: cfg.Cost.AutoCancel,
		}, ledger)
	}

	registry := control.NewRegistry()
	coord := planmode.NewCoordinator()
	drain := shutdown.NewCoordinator()

	factory := agent.NewFactory(cfg.Engine.Default)
	engineDefaults := make(map[string]bridge.EngineDefaults, len(cfg.Engine.Engines))
	for name, eng := range cfg.Engine.Engines {
		factory.Register(claude.New(claude.Config{
			Command:         eng.Command,
			Model:           eng.Model,
			AllowedTools:    eng.AllowedTools,
			SkipPermissions: eng.SkipPermissions,
			UseAPIBilling:   eng.UseAPIBilling,
		}, registry, coord))
		engineDefaults[name] = bridge.EngineDefaults{
			PermissionMode: agent.PermissionMode(eng.PermissionMode),
			Model:          eng.Model,
			AllowedTools:   eng.AllowedTools,
			UseAPIBilling:  eng.UseAPIBilling,
		}
	}

	preamble := ""
	if cfg.Preamble.Enabled {
		preamble = cfg.Preamble.Text
	}
	br := bridge.New(factory, tg, store, registry, coord, costs, drain, bridge.Options{
		Preamble: preamble,
		Render: progress.RenderOptions{
			Verbosity:  progress.Verbosity(cfg.Progress.Verbosity),
			MaxActions: cfg.Progress.MaxActions,
		},
		Engines:       engineDefaults,
		DefaultChatID: cfg.DefaultChatID,
	})

	schedStore, err := schedule.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("schedule store: %w", err)
	}
	defer schedStore.Close()
	if err := syncSchedules(schedStore, cfg.Schedules); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	schedRunner := schedule.NewRunner(schedStore, br.ExecuteSchedule)
	schedRunner.Start()
	defer schedRunner.Stop()

	if cfg.Triggers.Enabled {
		srv, err := trigger.NewServer(cfg.Triggers.Server, cfg.Triggers.Webhooks, br.DispatchWebhook)
		if err != nil {
			return fmt.Errorf("trigger server: %w", err)
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	cleaner := cleanup.New(cleanup.DefaultConfig())
	cleaner.Register("stale-sessions", func() int {
		return registry.SweepExpired(time.Hour)
	})
	cleaner.Start()
	defer cleaner.Stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	go func() {
		if err := br.Run(ctx); err != nil {
			logger.Error("Bridge stopped: %v", err)
		}
	}()
	logger.Info("herald %s started", Version)

	// Wait for a termination signal, then drain in-flight runs
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received %v, draining", sig)

	drainCtx, done := context.WithTimeout(context.Background(), shutdown.DefaultDrainTimeout)
	defer done()
	if err := drain.Drain(drainCtx); err != nil {
		logger.Error("Drain incomplete: %v", err)
	}
	return nil
}

// syncSchedules reconciles config-declared schedules into the store,
// creating entries whose names are not present yet.
func syncSchedules(store *schedule.Store, entries []config.ScheduleEntry) error {
	existing, err := store.List()
	if err != nil {
		return err
	}
	byName := make(map[string]bool, len(existing))
	for _, sched := range existing {
		byName[sched.Name] = true
	}
	for _, entry := range entries {
		if byName[entry.Name] {
			continue
		}
		err := store.Create(&schedule.Schedule{
			Name:            entry.Name,
			CronExpr:        entry.Cron,
			Prompt:          entry.Prompt,
			ChatID:          entry.ChatID,
			Engine:          entry.Engine,
			Enabled:         true,
			OverlapBehavior: schedule.OverlapBehavior(entry.OverlapBehavior),
			SessionBehavior: schedule.SessionBehavior(entry.SessionBehavior),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	logger.Info("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server error: %v", err)
	}
}
