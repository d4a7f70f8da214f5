package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"optionsPilot/config"
	"optionsPilot/internal/adapters/logger"
	"optionsPilot/internal/adapters/paper"
	"optionsPilot/internal/adapters/sqlite"
	"optionsPilot/internal/adapters/telemetry"
	"optionsPilot/internal/engine"
	"optionsPilot/internal/monitor"
	"optionsPilot/internal/risk"
	"optionsPilot/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFilePath,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// Root context, cancelled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Audit Telemetry Hub
	hub := telemetry.NewHub(appLogger)
	go hub.Run()
	defer hub.Close()

	// 5. Initialize Broker (paper venue) and Session
	broker := paper.NewBroker(cfg.Underlying, 14, 20)
	session := &paper.Session{} // never expires in paper mode
	appLogger.Info(context.Background(), "Paper broker initialized", map[string]interface{}{"underlying": cfg.Underlying})

	// 6. Initialize Risk Service
	riskSvc := risk.NewService(risk.Config{
		DailyBudget:     cfg.DailyBudget,
		LotsCap:         cfg.LotsCap,
		OrdersPerMinCap: cfg.OrdersPerMinCap,
		Location:        cfg.Location,
	}, appLogger)
	broker.SetFillListener(riskSvc)

	// 7. Initialize Strategy Service
	strat, err := strategy.New(strategy.Config{
		Underlying:        cfg.Underlying,
		StrikeStep:        cfg.StrikeStep,
		LotSize:           cfg.LotSize,
		Lots:              cfg.Lots,
		SLRatio:           cfg.Policy.SLEntryRatio,
		TPRatio:           cfg.Policy.TPRatio,
		TTLMinutes:        cfg.Policy.ExitTTLMinutes,
		MinScore:          cfg.Policy.MinEntryScore,
		VolQuietMaxPct:    cfg.Policy.VolQuietMaxPct,
		VolVolatileMinPct: cfg.Policy.VolVolatileMinPct,
	}, appLogger, broker, repo)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize strategy service")
		log.Fatalf("FATAL: Failed to initialize strategy service: %v", err)
	}

	// 8. Initialize Metrics
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)

	// 9. Initialize Engine
	eng, err := engine.New(engine.Config{
		Underlying:             cfg.Underlying,
		LotSize:                cfg.LotSize,
		TickInterval:           cfg.TickInterval,
		AnalysisInterval:       cfg.AnalysisInterval,
		ScanLimit:              cfg.Policy.ScanLimit,
		MaxExecPerTick:         cfg.Policy.MaxExecPerTick,
		SLEntryRatio:           cfg.Policy.SLEntryRatio,
		TrailTriggerRatio:      cfg.Policy.TrailTriggerRatio,
		RestrikeCheckInterval:  time.Duration(cfg.Policy.RestrikeCheckMinutes) * time.Minute,
		RestrikeCutoffHour:     cfg.Policy.RestrikeCutoffHour,
		RestrikeMaxPerHour:     cfg.Policy.RestrikeMaxPerHour,
		StrikeStep:             cfg.StrikeStep,
		ATMShiftSteps:          cfg.Policy.ATMShiftSteps,
		DirectionFlipThreshold: cfg.Policy.DirectionFlipThreshold,
		VolQuietMaxPct:         cfg.Policy.VolQuietMaxPct,
		VolVolatileMinPct:      cfg.Policy.VolVolatileMinPct,
		Location:               cfg.Location,
	}, engine.Deps{
		Logger:    appLogger,
		Risk:      riskSvc,
		Strategy:  strat,
		Proposals: repo,
		Orders:    broker,
		Market:    broker,
		Portfolio: broker,
		Session:   session,
		Audit:     hub,
		Metrics:   metrics,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize engine")
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	// Proposal lifecycle events flow from the store back into the engine.
	repo.SetListener(eng)

	// 10. Start Monitoring Server
	monSrv := monitor.NewServer(cfg.MonitorAddr, appLogger, eng.GetState, reg, hub.Handler)
	monSrv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := monSrv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(context.Background(), err, "Error shutting down monitor server")
		}
	}()

	// 11. Start the Market Simulator
	sim := paper.NewSimulator(broker, appLogger, cfg.Underlying, cfg.PaperSpot, cfg.StrikeStep, time.Second)
	go sim.Run(ctx)

	// 12. Start the Engine and run the scheduler until a signal arrives.
	if _, err := eng.Start(ctx); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to start engine")
		log.Fatalf("FATAL: Failed to start engine: %v", err)
	}
	eng.Run(ctx)

	// The scheduler returned: the context was cancelled by a signal.
	if _, err := eng.Stop(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Error stopping engine")
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
