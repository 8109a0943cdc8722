package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/pulseboard/pulseboard/internal/api"
	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/directory"
	"github.com/pulseboard/pulseboard/internal/engine"
	"github.com/pulseboard/pulseboard/internal/metrics"
	"github.com/pulseboard/pulseboard/internal/provider"
	"github.com/pulseboard/pulseboard/internal/timerange"
	"go.uber.org/zap"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	loc, err := time.LoadLocation(cfg.Engine.BusinessTimezone)
	if err != nil {
		logger.Fatal("Invalid business timezone", zap.String("timezone", cfg.Engine.BusinessTimezone), zap.Error(err))
	}

	// Database
	db, err := directory.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Cache
	store := cache.NewRedisStore(cfg.Redis.URL)
	defer store.Close()

	// Engine
	collector := metrics.NewCollector()
	dir := directory.NewPostgres(db)
	client := provider.NewClient(cfg.Provider, cfg.Engine.BusinessTimezone, logger).WithCollector(collector)
	resolver := timerange.NewResolver(loc)
	regen := engine.NewRegenerator(dir, client, cfg.Provider.InterCallDelay, logger, collector)
	orch := engine.NewOrchestrator(dir, store, regen, resolver, cfg.Engine.Ranges, logger, collector)
	sched := engine.NewScheduler(orch, loc, cfg.Engine.TriggerHour, cfg.Engine.TriggerQueueSize, logger, collector)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Fatal("Scheduler failed to start", zap.Error(err))
		}
	}()

	// Drain selective outcomes so they are always logged even when no one
	// else is listening.
	go func() {
		for result := range sched.Results() {
			logger.Info("Selective outcome",
				zap.Int64("tenant_id", result.TenantID),
				zap.String("subject", result.Subject),
				zap.String("range", result.Range),
				zap.String("outcome", result.Outcome),
			)
		}
	}()

	// API Server
	server := api.NewServer(cfg, store, sched, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Engine started",
		zap.String("port", cfg.Server.Port),
		zap.String("business_timezone", cfg.Engine.BusinessTimezone),
		zap.Int("trigger_hour", cfg.Engine.TriggerHour),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down engine...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Engine exited")
}

func runMigrations(path, databaseURL string) error {
	m, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
