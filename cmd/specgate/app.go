package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/specgate/specgate/config"
	"github.com/specgate/specgate/gateway"
	"github.com/specgate/specgate/metric"
	"github.com/specgate/specgate/pluginregistry"
	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/store"
)

// app bundles everything a command needs to talk to a configured gateway
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	gateway *gateway.Gateway
	metrics *metric.Registry
}

// buildApp loads the config and assembles the store, registry, and gateway
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	var st store.Store
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		st = store.NewMemory()
	case config.StoreDriverSQLite:
		st, err = store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	reg := registry.New()
	if err := pluginregistry.Register(reg); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("register plugins: %w", err)
	}

	metrics := metric.NewRegistry()
	g, err := gateway.New(gateway.Options{
		Store:       st,
		Registry:    reg,
		Metrics:     metrics.CoreMetrics(),
		Logger:      logger,
		JWTSecret:   []byte(cfg.Auth.JWTSecret),
		CallTimeout: cfg.Gateway.CallTimeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		gateway: g,
		metrics: metrics,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", "specgate",
		"version", Version,
	)
}
