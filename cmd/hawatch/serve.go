package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/hawatch/internal/action"
	"github.com/gyaneshwarpardhi/hawatch/internal/api"
	"github.com/gyaneshwarpardhi/hawatch/internal/config"
	"github.com/gyaneshwarpardhi/hawatch/internal/engine"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll every configured target and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, addr string) error {
	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		return err
	}
	logger, err := newLogger(os.Stdout, cfg.Log, opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if addr == "" {
		addr = cfg.Server.Addr
	}

	// ── Handlers and notifications ───────────────────────────────────────────
	webhook := action.NewWebhook(ctx, action.WebhookConf{}, logger)
	defer webhook.Close()
	reg := action.NewRegistry()
	reg.Register(action.NewLog(logger))
	reg.Register(webhook)

	bus := notify.NewBus(logger)
	bus.OnAny(func(_ context.Context, n notify.Notification) {
		logger.Debug("notification", "name", n.Name, "target", n.Target, "cycle_id", n.CycleID, "rule_id", n.RuleID)
	})

	// ── Engines ──────────────────────────────────────────────────────────────
	group, err := engine.FromConfig(cfg, reg, bus, logger)
	if err != nil {
		return fmt.Errorf("build engines: %w", err)
	}
	for _, e := range group.Engines() {
		logger.Info("target configured", "target", e.Target(), "rules", e.Rules().Len(), "interval", e.Interval())
	}

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	reloader := engine.NewReloader(group, reg)
	loader.OnChange(reloader.Apply)
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	stream := api.NewStream(bus)
	defer stream.Close()
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(group, loader, reloader, stream),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	pollCtx, cancelPolls := context.WithCancel(ctx)
	defer cancelPolls()
	group.Start(pollCtx)

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		logger.Info("shutting down…")
	case err := <-srvErr:
		if err != nil {
			cancelPolls()
			group.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancelPolls()
	group.Wait()
	logger.Info("goodbye")
	return nil
}
