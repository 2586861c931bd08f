package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"flowops/internal/app"
	"flowops/internal/config"
)

func main() {
	if err := newRootCmd(awsApp).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// awsApp wires the CLI against the deployed tables. Logs are discarded so
// only command output reaches stdout.
func awsApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.NewAWS(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}
