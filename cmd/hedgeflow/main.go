// Package main is the entry point for the hedgeflow backend: the
// workflow-builder core that persists flow graphs, tracks remote run
// connections and serves the editor-facing HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/zwldarren/ai-hedge-fund-sub000/config"
	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
	"github.com/zwldarren/ai-hedge-fund-sub000/flowstate"
	"github.com/zwldarren/ai-hedge-fund-sub000/flowstore"
	"github.com/zwldarren/ai-hedge-fund-sub000/history"
	"github.com/zwldarren/ai-hedge-fund-sub000/localstore"
	"github.com/zwldarren/ai-hedge-fund-sub000/metric"
	"github.com/zwldarren/ai-hedge-fund-sub000/natsclient"
	"github.com/zwldarren/ai-hedge-fund-sub000/runmanager"
	"github.com/zwldarren/ai-hedge-fund-sub000/service"
	"github.com/zwldarren/ai-hedge-fund-sub000/stream"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "hedgeflow"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return err
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsClient, err := connectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = natsClient.Close(closeCtx)
	}()

	metrics := metric.NewMetrics()

	workflows, err := flowstore.NewStore(natsClient)
	if err != nil {
		return err
	}
	local, err := localstore.NewStore(natsClient)
	if err != nil {
		return err
	}

	state := flowstate.NewStore(logger)

	opener, err := buildOpener(cfg, logger)
	if err != nil {
		return err
	}

	runs := runmanager.NewManager(state, opener,
		runmanager.WithLogger(logger),
		runmanager.WithMetrics(metrics),
		runmanager.WithStaleAfter(cfg.Engine.StaleAfter),
		runmanager.WithSweepInterval(cfg.Engine.SweepInterval),
		runmanager.WithGraceWindow(cfg.Engine.GraceWindow),
	)
	hist := history.NewEngine(cfg.Engine.HistoryLimit, logger, metrics)

	rt, err := service.NewRuntime(service.Dependencies{
		State:     state,
		Workflows: workflows,
		Local:     local,
		Runs:      runs,
		History:   hist,
		Notifier:  service.NewNotifier(50),
		Logger:    logger,
		Metrics:   metrics,
	},
		service.WithAutosaveDebounce(cfg.Engine.AutosaveDebounce),
		service.WithSnapshotDebounce(cfg.Engine.SnapshotDebounce),
	)
	if err != nil {
		return err
	}
	defer rt.Close()

	if id, err := rt.RestoreSession(ctx); err != nil {
		logger.Warn("restoring previous session failed", "error", err)
	} else if id != "" {
		logger.Info("restored previous session", "workflow", id)
	}

	runs.StartSweeper(ctx)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           service.NewServer(rt, metrics, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	return nil
}

func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClientName(appName + "-" + cfg.Platform.ID),
	}
	if cfg.NATS.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects))
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithUserInfo(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithAuthToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func buildOpener(cfg *config.Config, logger *slog.Logger) (runmanager.StreamOpener, error) {
	switch cfg.Engine.Transport {
	case config.TransportWebSocket:
		return stream.NewWSOpener(cfg.Engine.APIBaseURL, logger), nil
	case config.TransportSSE:
		return stream.NewClient(cfg.Engine.APIBaseURL, stream.WithClientLogger(logger)), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "main", "buildOpener",
			fmt.Sprintf("unknown transport %q", cfg.Engine.Transport))
	}
}
