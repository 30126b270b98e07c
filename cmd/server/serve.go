package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"syncbridge/internal/adapters/alert"
	"syncbridge/internal/adapters/gateway"
	"syncbridge/internal/adapters/handler"
	"syncbridge/internal/adapters/repository"
	"syncbridge/internal/adapters/websocket"
	"syncbridge/internal/clock"
	"syncbridge/internal/config"
	"syncbridge/internal/core/ports"
	"syncbridge/internal/core/services"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and sync workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath)
		},
	}
}

func runServe(cmd *cobra.Command, configPath string) error {
	// ========================================================================
	// Step 1: Configuration and logging
	// ========================================================================
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Operators on the websocket feed receive every log line
	hub := websocket.NewFeedHub(cfg.App.FeedSecret)
	slog.SetDefault(newLogger(cfg.App, io.MultiWriter(os.Stdout, hub)))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	slog.Info("Starting syncbridge",
		"version", Version,
		"db_driver", cfg.DB.Driver,
		"redis_enabled", cfg.Redis.Enabled,
		"port", cfg.App.Port,
	)

	// ========================================================================
	// Step 2: Infrastructure
	// ========================================================================
	db, store, err := openStore(cfg.DB)
	if err != nil {
		return err
	}
	defer closeDB(db)

	var (
		cache ports.DedupCache
		redis handler.Pinger
	)
	if cfg.Redis.Enabled {
		rdb, err := repository.ConnectRedis(ctx, cfg.Redis, cfg.DB.ConnectRetries, cfg.DB.ConnectDelay.Std())
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisCache := repository.NewRedisCache(rdb)
		cache, redis = redisCache, redisCache
	}

	// ========================================================================
	// Step 3: Services
	// ========================================================================
	clk := clock.Real()
	liveChat := gateway.NewLiveChat(cfg.LiveChat)
	ringCentral := gateway.NewRingCentral(cfg.RingCentral)

	locks := services.NewKeyedMutex()
	directory := services.NewAgentDirectory(store, store)
	reconciler := services.NewReconciler(store, store, store, locks, clk)
	unifier := services.NewUnifier(store, clk)
	gate := services.NewDispatchGate(clk)

	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		BaseBackoff:    cfg.Dispatch.BaseBackoff.Std(),
		MaxBackoff:     cfg.Dispatch.MaxBackoff.Std(),
		AttemptTimeout: cfg.Dispatch.AttemptTimeout.Std(),
		RatePerSecond:  cfg.Dispatch.RatePerSecond,
		Burst:          cfg.Dispatch.Burst,
	}, services.DispatcherDeps{
		Platforms:     []ports.Platform{liveChat, ringCentral},
		Directory:     directory,
		Desired:       reconciler,
		Conversations: store,
		Customers:     store,
		SyncLogs:      store,
		Alerter:       alert.New(cfg.Alert),
		Observer:      hub,
		Gate:          gate,
		Locks:         locks,
		Clock:         clk,
	})

	sequencer := services.NewSequencer(cfg.Ingest.Workers, cfg.Ingest.MaxPending)
	processor := services.NewProcessor(
		services.NewNormalizer(liveChat, ringCentral),
		services.NewLedger(store, cache, cfg.Ledger.Retention.Std(), clk),
		sequencer,
		directory,
		services.NewContactResolver(store, cfg.Contacts.DefaultRegion),
		unifier,
		reconciler,
		dispatcher,
		cfg.Ingest.Timeout.Std(),
	)

	maintenance := newMaintenance(cfg, store, clk)

	if err := maintenance.Start(cfg.Maintenance.PurgeSchedule); err != nil {
		return err
	}
	dispatcher.Start()
	sequencer.Start()

	// Presence may have drifted while we were down
	if changed, err := processor.Resync(ctx); err != nil {
		slog.Error("Startup presence resync failed", "error", err)
	} else {
		slog.Info("Startup presence resync complete", "agents_changed", changed)
	}

	// ========================================================================
	// Step 4: HTTP server
	// ========================================================================
	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.RouterDeps{
		Webhooks:    handler.NewWebhookHandler(processor, ringCentral),
		Health:      handler.NewHealthHandler(store, redis, sequencer, dispatcher, gate, Version),
		Admin:       handler.NewAdminHandler(gate, store, directory),
		Feed:        hub.ServeWS,
		AdminSecret: cfg.App.AdminSecret,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case serveErr = <-errCh:
		slog.Error("HTTP server failed", "error", serveErr)
	}

	// ========================================================================
	// Step 5: Graceful shutdown, ingress first so no new work arrives
	// ========================================================================
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := sequencer.Stop(shutdownCtx); err != nil {
		slog.Error("Ingest queue did not drain", "error", err, "pending", sequencer.Pending())
	}
	dispatcher.Stop()
	maintenance.Stop()

	slog.Info("Syncbridge stopped")
	return serveErr
}

func newMaintenance(cfg *config.Config, store *repository.Store, clk clock.Clock) *services.Maintenance {
	return services.NewMaintenance(store, store, services.MaintenanceConfig{
		ReceiptRetention: cfg.Ledger.Retention.Std(),
		SyncLogRetention: cfg.Maintenance.SyncLogRetention.Std(),
		DiskWarnPercent:  cfg.Maintenance.DiskWarnPercent,
	}, diskUsage, clk)
}
