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

	"github.com/alejandrodnm/stockbot/config"
	"github.com/alejandrodnm/stockbot/internal/adapters/broker"
	"github.com/alejandrodnm/stockbot/internal/adapters/metrics"
	"github.com/alejandrodnm/stockbot/internal/adapters/notify"
	"github.com/alejandrodnm/stockbot/internal/adapters/snapshot"
	"github.com/alejandrodnm/stockbot/internal/adapters/storage"
	"github.com/alejandrodnm/stockbot/internal/adapters/strategy"
	"github.com/alejandrodnm/stockbot/internal/application/engine"
	"github.com/alejandrodnm/stockbot/internal/application/ledger"
	"github.com/alejandrodnm/stockbot/internal/application/lifecycle"
	"github.com/alejandrodnm/stockbot/internal/application/lock"
	"github.com/alejandrodnm/stockbot/internal/application/ratelimit"
	"github.com/alejandrodnm/stockbot/internal/application/recovery"
	"github.com/alejandrodnm/stockbot/internal/application/risk"
	"github.com/alejandrodnm/stockbot/internal/application/worker"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	paper := flag.Bool("paper", false, "simulated broker, no real orders")
	table := flag.Bool("table", true, "print settlement table on market close")
	allowDegraded := flag.Bool("allow-degraded", false, "trade even if startup recovery fails (operator override)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *allowDegraded {
		cfg.Engine.AllowDegraded = true
	}
	setupLogger(cfg.Log)

	slog.Info("stockbot starting",
		"config", *configPath,
		"paper", *paper,
		"workers", cfg.Workers.Count,
		"watchlist", cfg.Workers.Watchlist,
		"allow_degraded", cfg.Engine.AllowDegraded,
	)

	store, err := storage.NewStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	var (
		brk    ports.Broker
		stream ports.RealtimeStream
	)
	if *paper {
		sim := broker.NewPaper(1_000_000)
		for _, symbol := range cfg.Workers.Watchlist {
			sim.SetPrice(symbol, 100)
		}
		brk = sim
		stream = broker.NewPaperStream(sim, time.Second)
		fmt.Println("⚠ PAPER MODE — simulated broker, no real orders")
	} else {
		if cfg.Credentials.AppKey == "" || cfg.Credentials.AppSecret == "" {
			slog.Error("missing broker credentials — set BROKER_APP_KEY and BROKER_APP_SECRET")
			os.Exit(1)
		}
		brk = broker.NewClient(cfg.Broker.RESTBase, cfg.Broker.AccountID,
			cfg.Credentials.AppKey, cfg.Credentials.AppSecret)
		stream = broker.NewStream(cfg.Broker.RealtimeBase)
	}

	riskMgr := risk.New(risk.Config{
		MaxPositionValue:  cfg.Risk.MaxPositionValue,
		MaxTotalPositions: cfg.Risk.MaxTotalPositions,
		DailyLossLimitPct: cfg.Risk.DailyLossLimitPct,
	}, nil)

	limiter := ratelimit.New(cfg.Engine.BrokerRatePerSec)
	orders := ledger.NewOrderLedger(store, brk, riskMgr, limiter)
	positions := ledger.NewPositionLedger(store, store)
	locks := lock.NewManager(store, cfg.LockTTL())
	monitor := worker.NewMonitor(store, locks)
	if cfg.Storage.PruneEnabled {
		locks.SetRetention(7 * 24 * time.Hour)
		monitor.SetRetention(30 * 24 * time.Hour)
	}
	snaps := snapshot.NewFileStore(cfg.Engine.SnapshotPath)
	coordinator := recovery.NewCoordinator(brk, store, orders, snaps, riskMgr.Controls)

	console := notify.NewConsole(*table)
	var notifier ports.Notifier = console
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.Fanout{console, notify.NewWebhook(cfg.Notify.WebhookURL)}
	}

	var mtr *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		mtr = metrics.New()
		go func() {
			slog.Info("metrics endpoint up", "addr", cfg.Metrics.Addr)
			if err := mtr.Serve(cfg.Metrics.Addr); err != nil {
				slog.Error("metrics endpoint failed", "err", err)
			}
		}()
	}

	eng := engine.New(engine.Config{
		StopLossPct:          cfg.Engine.StopLossPct,
		TakeProfitPct:        cfg.Engine.TakeProfitPct,
		ReconcileInterval:    cfg.ReconcileInterval(),
		PriceMonitorInterval: time.Duration(cfg.Engine.PriceMonitorSeconds) * time.Second,
		LockSweepInterval:    time.Duration(cfg.Workers.LockSweepSeconds) * time.Second,
		DeadMonitorInterval:  time.Duration(cfg.Workers.DeadMonitorSeconds) * time.Second,
		SnapshotInterval:     cfg.ReconcileInterval(),
		StopTimeout:          cfg.StopTimeout(),
	}, engine.Deps{
		Orders:       orders,
		Positions:    positions,
		PositionRepo: store,
		Risk:         riskMgr,
		Locks:        locks,
		Monitor:      monitor,
		Lifecycle: lifecycle.NewController(
			lifecycle.Config{AllowDegraded: cfg.Engine.AllowDegraded},
			brk, coordinator, riskMgr, stream, store, notifier, console, nil),
		Broker:    brk,
		Stream:    stream,
		Snapshots: snaps,
		Notifier:  notifier,
		Metrics:   mtr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		slog.Error("engine failed to start", "err", err)
		os.Exit(1)
	}

	scanner := strategy.NewWatchlist(cfg.Workers.Watchlist)
	momentum := strategy.NewMomentum(cfg.Strategy.Lookback, cfg.Strategy.BuyPct, cfg.Strategy.SellPct)

	workerErrs := make(chan error, cfg.Workers.Count)
	for i := 0; i < cfg.Workers.Count; i++ {
		w := worker.New(worker.Config{
			ID:                  fmt.Sprintf("worker-%d", i+1),
			ConfidenceThreshold: cfg.Workers.ConfidenceThreshold,
			ScanInterval:        time.Duration(cfg.Workers.ScanIntervalSeconds) * time.Second,
			HeartbeatInterval:   cfg.HeartbeatInterval(),
		}, store, locks, scanner, momentum, eng, store, eng)
		go func() { workerErrs <- w.Run(ctx) }()
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping workers")

	for i := 0; i < cfg.Workers.Count; i++ {
		if err := <-workerErrs; err != nil {
			slog.Error("worker exited with error", "err", err)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.StopTimeout())
	defer stopCancel()
	if err := eng.Stop(stopCtx); err != nil {
		slog.Error("engine stop failed", "err", err)
		os.Exit(1)
	}

	slog.Info("stockbot stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
