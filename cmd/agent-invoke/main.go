package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"flowops/handler"
	"flowops/internal/app"
	"flowops/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("FLOWOPS_CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	// ---- Wiring ----
	a, err := app.NewAWS(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Error("failed to wire dependencies", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// ---- Handler ----
	h, err := handler.NewAgent(a.Gateway, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
