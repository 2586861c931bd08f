package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"flowops/handler"
	"flowops/internal/app"
	"flowops/internal/config"
	"flowops/internal/devserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(envOr("FLOWOPS_CONFIG_FILE", "flowops.yaml"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg)
	if cfg.Dev.JWTSecret == "" {
		logger.Error("dev.jwt_secret is required (FLOWOPS_DEV__JWT_SECRET)")
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.NewLocal(ctx, cfg, logger, reg)
	if err != nil {
		logger.Error("failed to wire dependencies", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	actionsH, err := handler.NewActions(a.Actions, logger)
	if err != nil {
		logger.Error("failed to create actions handler", "err", err)
		os.Exit(1)
	}
	agentH, err := handler.NewAgent(a.Gateway, logger)
	if err != nil {
		logger.Error("failed to create agent handler", "err", err)
		os.Exit(1)
	}

	srv, err := devserver.New(devserver.Options{
		Addr:           cfg.Dev.Addr,
		Secret:         []byte(cfg.Dev.JWTSecret),
		AllowedOrigins: cfg.Dev.AllowedOrigins,
	}, devserver.Deps{
		Actions:       actionsH,
		Agent:         agentH,
		Tickets:       a.Tickets,
		Conversations: a.Conversations,
		Summaries:     a.Summaries,
		Gatherer:      reg,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to create server", "err", err)
		os.Exit(1)
	}

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
