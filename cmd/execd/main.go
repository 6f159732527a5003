// Package main is the entry point for the order execution daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tathienbao/exec-core/internal/alerting"
	"github.com/tathienbao/exec-core/internal/broker"
	"github.com/tathienbao/exec-core/internal/bus"
	"github.com/tathienbao/exec-core/internal/config"
	"github.com/tathienbao/exec-core/internal/core"
	"github.com/tathienbao/exec-core/internal/execution"
	"github.com/tathienbao/exec-core/internal/gate"
	"github.com/tathienbao/exec-core/internal/journal"
	"github.com/tathienbao/exec-core/internal/metrics"
	"github.com/tathienbao/exec-core/internal/stops"
)

// Version information (set by build flags).
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`execd - Order Execution Core

Usage:
  execd <command> [options]

Commands:
  run        Start the execution core (paper or live per config)
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  execd run --config config.yaml
  execd validate --config config.yaml`)
}

func cmdVersion() {
	fmt.Printf("execd version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Backend: %s\n", cfg.Backend())
	fmt.Printf("  Time stop: %d bars\n", cfg.Stops.TimeStopBars)
	fmt.Printf("  Journal enabled: %v\n", cfg.Journal.Enabled)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New(cfg.Engine.EventRingSize, logger)
	recorder := metrics.NewRecorder()

	var safetyGate broker.Gate = broker.AllowAll{}
	if cfg.Gate.Enabled {
		g := gate.New(cfg.ToGateConfig(), logger)
		g.Attach(eventBus)
		safetyGate = g
	}

	var backend execution.Backend
	switch cfg.Backend() {
	case "live":
		// The sim adapter stands in until a real broker adapter is
		// wired at build time; it implements the same contract.
		adapter := broker.NewSimAdapter()
		backend = execution.NewLiveBackend(cfg.ToLiveConfig(), adapter, safetyGate, eventBus, recorder, logger)
	default:
		fill := execution.NewFillModel(cfg.ToFillConfig())
		backend = execution.NewPaperBackend(fill, eventBus, logger)
	}

	engine := core.New(backend, stops.NewEngine(cfg.ToStopsConfig()), eventBus, recorder, logger)

	if cfg.Alerting.Enabled {
		channels := alerting.NewMultiAlerter(logger, alerting.NewConsoleAlerter(logger))
		if cfg.Alerting.Telegram.BotToken != "" {
			channels.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: cfg.Alerting.Telegram.BotToken,
				ChatID:   cfg.Alerting.Telegram.ChatID,
			}))
		}
		alerting.NewNotifier(channels, cfg.MinSeverity(), logger).Attach(eventBus)
	}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			logger.Error("open journal", "err", err)
			os.Exit(1)
		}
		defer jnl.Close()
		jnl.Attach(eventBus)
		go jnl.SnapshotLoop(ctx, cfg.SnapshotInterval(), engine.Metrics)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		serverCfg := metrics.DefaultServerConfig()
		if cfg.Metrics.Port > 0 {
			serverCfg.Port = cfg.Metrics.Port
		}
		if cfg.Metrics.Path != "" {
			serverCfg.MetricsPath = cfg.Metrics.Path
		}
		metricsServer = metrics.NewServer(serverCfg, logger)
		metricsServer.RegisterHealthCheck("engine", func() metrics.Check {
			m := engine.Metrics()
			return metrics.Healthy(fmt.Sprintf("%d active positions", m.ActivePositions))
		})
		if jnl != nil {
			metricsServer.RegisterHealthCheck("journal", func() metrics.Check {
				pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := jnl.Ping(pingCtx); err != nil {
					return metrics.Unhealthy(err.Error())
				}
				return metrics.Healthy("")
			})
		}
		if err := metricsServer.Start(); err != nil {
			logger.Error("start metrics server", "err", err)
			os.Exit(1)
		}
	}

	if err := engine.Start(ctx); err != nil {
		logger.Error("start engine", "err", err)
		os.Exit(1)
	}

	logger.Info("execution core running",
		"backend", backend.Name(),
		"version", Version,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", "err", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}
	logger.Info("goodbye")
}
