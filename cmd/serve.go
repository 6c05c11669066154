package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/alert"
	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/dispatch"
	"github.com/nextlevelbuilder/wagate/internal/httpapi"
	"github.com/nextlevelbuilder/wagate/internal/instance"
	"github.com/nextlevelbuilder/wagate/internal/media"
	"github.com/nextlevelbuilder/wagate/internal/pending"
	"github.com/nextlevelbuilder/wagate/internal/retention"
	"github.com/nextlevelbuilder/wagate/internal/tracing"
	"github.com/nextlevelbuilder/wagate/internal/wa"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	transport, err := wa.NewMeowTransport(cfg.SessionsDir)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	hub := bus.New()
	notifier := alert.NewWebhook(cfg.AlertWebhookURL)
	manager := instance.NewManager(transport, instance.Options{
		Notifier: notifier,
		Hub:      hub,
	})
	defer manager.Shutdown()

	locks := pending.NewKeyLock()
	fetcher := media.NewFetcher()
	dispatcher := dispatch.NewDispatcher(manager, store, locks, fetcher, hub)
	autoReply := dispatch.NewAutoReply(manager, cfg.AutoReply.Enabled, cfg.AutoReply.Message, cfg.AutoReply.Keywords)
	flusher := dispatch.NewFlusher(manager, store, locks, fetcher, hub, autoReply)
	manager.SetInboundHandler(flusher.HandleInbound)

	sweeper, err := retention.New(store, cfg.Retention.Schedule, cfg.RetentionMaxAge())
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// auto-reply settings follow the config file without a restart
	if watcher, err := config.NewWatcher(configPath); err == nil {
		watcher.OnChange(func(next *config.Config) {
			autoReply.Update(next.AutoReply.Enabled, next.AutoReply.Message, next.AutoReply.Keywords)
		})
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		} else {
			slog.Warn("config watch unavailable", "error", err)
		}
	}

	server := httpapi.New(cfg.Listen, cfg.Token, manager, dispatcher, store, hub)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	slog.Info("wagate started", "listen", cfg.Listen, "store", cfg.Store.Driver)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(stopCtx)
}

func openStore(cfg *config.Config) (pending.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return pending.NewPGStore(cfg.Store.PostgresDSN)
	default:
		return pending.NewSQLiteStore(cfg.Store.Path)
	}
}
