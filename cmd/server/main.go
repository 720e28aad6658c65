// Package main is the entry point for the Folio investment-tracking server.
//
// Startup sequence: configuration, logging, the two databases (ledger and
// market data), services, the scheduler and finally the HTTP server. The
// process then waits for SIGINT/SIGTERM and shuts down gracefully.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/avramides/folio/internal/config"
	"github.com/avramides/folio/internal/database"
	"github.com/avramides/folio/internal/events"
	"github.com/avramides/folio/internal/modules/coveredcalls"
	"github.com/avramides/folio/internal/modules/dashboard"
	"github.com/avramides/folio/internal/modules/funds"
	"github.com/avramides/folio/internal/modules/options"
	"github.com/avramides/folio/internal/modules/prices"
	"github.com/avramides/folio/internal/modules/stocks"
	"github.com/avramides/folio/internal/reliability"
	"github.com/avramides/folio/internal/scheduler"
	"github.com/avramides/folio/internal/server"
	"github.com/avramides/folio/internal/utils"
	"github.com/avramides/folio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Folio")

	// ledger.db holds the financial event logs; marketdata.db is the
	// ephemeral cache (quotes, snapshots, job history).
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	marketDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "marketdata.db"),
		Profile: database.ProfileCache,
		Name:    "marketdata",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market data database")
	}
	defer marketDB.Close()

	if err := ledgerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate ledger database")
	}
	if err := marketDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate market data database")
	}

	bus := events.NewBus(log)

	// Prices
	priceRepo := prices.NewRepository(marketDB.Conn(), log)
	priceService := prices.NewService(priceRepo, cfg.QuoteTTL, bus, log)

	// Stocks. The covered-call repository doubles as the reservation source
	// for the share-lock guard.
	actionRepo := stocks.NewActionRepository(ledgerDB.Conn(), log)
	callRepo := coveredcalls.NewRepository(ledgerDB.Conn(), log)
	stockService := stocks.NewService(actionRepo, callRepo, priceService, utils.NewKeyedMutex(), bus, log)

	// Funds
	fundRepo := funds.NewTradeRepository(ledgerDB.Conn(), log)
	fundService := funds.NewService(fundRepo, priceService, bus, log)

	// Options settle exercises into the stock ledger.
	optionRepo := options.NewTradeRepository(ledgerDB.Conn(), log)
	optionService := options.NewService(optionRepo, stockService, priceService, bus, log)

	// Covered calls get their own keyed mutex: settlement calls back into
	// the stock service, which locks the same symbol on its own mutex.
	callService := coveredcalls.NewService(callRepo, stockService, utils.NewKeyedMutex(), bus, log)

	// Dashboard
	snapshotRepo := dashboard.NewSnapshotRepository(marketDB.Conn(), log)
	dashboardService := dashboard.NewService(stockService, fundService, optionService, callService, priceService, snapshotRepo, bus, log)

	// Backups: remote when S3 credentials are configured, local otherwise.
	var store reliability.ObjectStore
	if cfg.Backup != nil {
		client, err := reliability.NewStorageClient(
			context.Background(),
			cfg.Backup.Endpoint,
			cfg.Backup.Region,
			cfg.Backup.AccessKeyID,
			cfg.Backup.SecretAccessKey,
			cfg.Backup.Bucket,
			log,
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize backup storage - falling back to local backups")
		} else {
			store = client
			log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Remote backups enabled")
		}
	}
	backupService := reliability.NewBackupService(
		map[string]*sql.DB{
			"ledger":     ledgerDB.Conn(),
			"marketdata": marketDB.Conn(),
		},
		cfg.DataDir,
		store,
		cfg.BackupRetentionDays,
		log,
	)

	// Scheduler
	historyRepo := scheduler.NewHistoryRepository(marketDB.Conn(), log)
	sched := scheduler.New(historyRepo, bus, log)

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.SnapshotSchedule, &scheduler.SnapshotJob{Dashboard: dashboardService, Log: log}},
		{cfg.SweepSchedule, &scheduler.ExpirationSweepJob{Options: optionService, CoveredCalls: callService, Log: log}},
		{cfg.QuotePurgeSchedule, &scheduler.QuotePurgeJob{Prices: priceService}},
		{cfg.BackupSchedule, &scheduler.BackupJob{Backups: backupService, Log: log}},
		{cfg.MaintenanceSchedule, &scheduler.WALCheckpointJob{
			Databases: []scheduler.Checkpointer{ledgerDB, marketDB},
			Log:       log,
		}},
	}
	for _, entry := range jobs {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			log.Fatal().Err(err).Str("job", entry.job.Name()).Msg("Failed to register job")
		}
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		LedgerDB:     ledgerDB,
		MarketDB:     marketDB,
		Bus:          bus,
		Stocks:       stockService,
		Funds:        fundService,
		Options:      optionService,
		CoveredCalls: callService,
		Prices:       priceService,
		Dashboard:    dashboardService,
		Backups:      backupService,
		JobHistory:   historyRepo,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Folio stopped")
}
