package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/talentpipe/sentinel/engine"
	"github.com/talentpipe/sentinel/entitysource"
	"github.com/talentpipe/sentinel/internal/logger"
	"github.com/talentpipe/sentinel/notify"
	"github.com/talentpipe/sentinel/scheduler"
)

func main() {
	if err := run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Register an accessor per declared entity type
	registry := engine.NewRegistry()
	for _, desc := range cfg.Entities {
		accessor, err := entitysource.NewSQLAccessor(db, desc)
		if err != nil {
			return fmt.Errorf("entity %q: %w", desc.EntityType, err)
		}
		if err := registry.Register(accessor); err != nil {
			return fmt.Errorf("entity %q: %w", desc.EntityType, err)
		}
	}
	logger.Info("entity types registered", "count", len(cfg.Entities), "types", registry.Types())

	executions := engine.NewPostgresExecutionStore(db)

	dispatcher, err := engine.NewDispatcher(engine.DispatcherConfig{
		Rules:           engine.NewPostgresRuleStore(db),
		Cache:           engine.NewMemoryRuleCache(engine.CacheConfig{TTL: cfg.CacheTTL}),
		Registry:        registry,
		Transitions:     entitysource.NewSQLTransitionLog(db),
		Users:           entitysource.NewSQLUserDirectory(db),
		Channel:         notify.NewChannel(db, nil, logger.Logger),
		Tasks:           notify.NewSQLTaskStore(db),
		Executions:      executions,
		DeliveryTimeout: cfg.DeliveryTimeout,
		Logger:          logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build dispatcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ticker *scheduler.Ticker
	if cfg.Scheduler.Enabled {
		ticker = scheduler.New(ctx, dispatcher, scheduler.Config{
			Interval:   cfg.Scheduler.Interval,
			RunTimeout: cfg.Scheduler.RunTimeout,
		}, logger.Logger)
		ticker.Start()
		defer ticker.Stop()
	}

	server := NewServer(db, dispatcher, executions, registry, ticker, logger.Logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}

	logger.Info("server stopped")
	return nil
}
