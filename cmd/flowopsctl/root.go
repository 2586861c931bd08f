package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"flowops/internal/app"
	"flowops/internal/config"
)

type appFactory func(ctx context.Context, cfg *config.Config) (*app.App, error)

// cli carries the flags shared by every subcommand.
type cli struct {
	cfgFile string
	tenant  string
	factory appFactory
}

func newRootCmd(factory appFactory) *cobra.Command {
	c := &cli{factory: factory}
	root := &cobra.Command{
		Use:           "flowopsctl",
		Short:         "Operate FlowOps tenants, agents and tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file path (FLOWOPS_* env vars override it)")
	root.PersistentFlags().StringVar(&c.tenant, "tenant", "", "tenant id")

	root.AddCommand(c.agentConfigCmd(), c.ticketCmd(), c.tokenCmd())
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	return config.Load(c.cfgFile)
}

// open loads config and wires the core. The caller closes the app.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	if strings.TrimSpace(c.tenant) == "" {
		return nil, errors.New("--tenant is required")
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return c.factory(ctx, cfg)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
