package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"flowops/internal/domain"
)

func (c *cli) agentConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent-config",
		Short: "Read or write a tenant's agent configuration",
	}

	var (
		cfg   domain.AgentConfig
		kind  string
		tools []string
	)
	put := &cobra.Command{
		Use:   "put",
		Short: "Create or replace the tenant's agent configuration",
		Long: `Tools are given as name[:confirm], for example
  --tool create_ticket:confirm --tool request_logs`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			cfg.TenantID = c.tenant
			cfg.AgentType = domain.AgentType(kind)
			cfg.Tools, err = parseTools(tools)
			if err != nil {
				return err
			}
			saved, err := a.AgentConfigs.Put(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd, saved)
		},
	}
	put.Flags().StringVar(&cfg.AgentID, "agent-id", "", "managed agent id")
	put.Flags().StringVar(&cfg.AgentAliasID, "alias-id", "", "managed agent alias id")
	put.Flags().StringVar(&cfg.AgentArn, "agent-arn", "", "managed agent ARN")
	put.Flags().StringVar(&cfg.GuardrailID, "guardrail-id", "", "optional guardrail id")
	put.Flags().StringVar(&kind, "type", string(domain.AgentSingle), "agent type: single or swarm")
	put.Flags().StringArrayVar(&tools, "tool", nil, "enabled tool as name[:confirm]; repeatable")
	_ = put.MarkFlagRequired("agent-id")
	_ = put.MarkFlagRequired("alias-id")

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the tenant's agent configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			cfg, err := a.AgentConfigs.Get(cmd.Context(), c.tenant)
			if err != nil {
				return err
			}
			return printJSON(cmd, cfg)
		},
	}

	cmd.AddCommand(put, get)
	return cmd
}

func parseTools(specs []string) ([]domain.AgentTool, error) {
	out := make([]domain.AgentTool, 0, len(specs))
	for _, spec := range specs {
		name, opt, _ := strings.Cut(spec, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid --tool %q: empty name", spec)
		}
		tool := domain.AgentTool{Name: name, Enabled: true}
		switch opt {
		case "":
		case "confirm":
			tool.RequiresConfirmation = true
		default:
			return nil, fmt.Errorf("invalid --tool %q: unknown option %q", spec, opt)
		}
		out = append(out, tool)
	}
	return out, nil
}
