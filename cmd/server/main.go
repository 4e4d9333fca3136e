package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fondora/fundledger/internal/clients/mt5"
	"github.com/fondora/fundledger/internal/config"
	"github.com/fondora/fundledger/internal/database"
	"github.com/fondora/fundledger/internal/events"
	"github.com/fondora/fundledger/internal/locking"
	"github.com/fondora/fundledger/internal/modules/accounts"
	"github.com/fondora/fundledger/internal/modules/allocations"
	"github.com/fondora/fundledger/internal/modules/funds"
	"github.com/fondora/fundledger/internal/modules/history"
	"github.com/fondora/fundledger/internal/modules/recalc"
	"github.com/fondora/fundledger/internal/modules/validation"
	"github.com/fondora/fundledger/internal/scheduler"
	"github.com/fondora/fundledger/internal/server"
	"github.com/fondora/fundledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Fund Ledger")

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Create schemas
	if err := initSchemas(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schemas")
	}

	// Shared infrastructure
	eventManager := events.NewManager(log)
	lockManager := locking.NewManager(log)

	// Repositories
	fundsRepo := funds.NewRepository(db.Conn(), log)
	allocsRepo := allocations.NewRepository(db.Conn(), log)
	historyRepo := history.NewRepository(db.Conn(), log)
	accountsRepo := accounts.NewRepository(db.Conn(), log)

	// MT5 bridge
	bridgeClient := mt5.NewClient(cfg.MT5BridgeURL, log)
	bridge := accounts.NewMT5Adapter(bridgeClient)

	// Services
	registry := accounts.NewRegistry(db.Conn(), accountsRepo, historyRepo, eventManager, lockManager, log)
	validator := validation.NewService(accountsRepo, log)

	recalcs := []allocations.Recalculator{
		recalc.NewCashTotalsEngine(db.Conn(), log),
		recalc.NewCommissionEngine(db.Conn(), cfg.CommissionRate, log),
		recalc.NewPerformanceEngine(db.Conn(), historyRepo, log),
	}

	orchestrator := allocations.NewService(
		db, fundsRepo, allocsRepo, historyRepo, accountsRepo,
		validator, recalcs, eventManager, lockManager, log,
	)

	// Background jobs
	syncJob := accounts.NewSyncJob(accountsRepo, bridge, eventManager, log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if !cfg.DisableSyncJob {
		if err := sched.AddJob(cfg.MT5SyncSchedule, syncJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register sync job")
		}
	}

	// HTTP server
	srv := server.New(server.Config{
		Port:        cfg.Port,
		Log:         log,
		DB:          db,
		DevMode:     cfg.DevMode,
		Accounts:    accounts.NewHandler(accountsRepo, registry, syncJob, log),
		Allocations: allocations.NewHandler(orchestrator, log),
		System:      server.NewSystemHandlers(log, db, bridge),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// initSchemas creates every module's tables
func initSchemas(db *database.DB) error {
	for _, init := range []func(*sql.DB) error{
		funds.InitSchema,
		history.InitSchema,
		accounts.InitSchema,
		allocations.InitSchema,
		recalc.InitSchema,
	} {
		if err := init(db.Conn()); err != nil {
			return err
		}
	}
	return nil
}
