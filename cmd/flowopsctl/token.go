package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"flowops/internal/devserver"
)

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dev-token",
		Short: "Print a bearer token for the local server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(c.tenant) == "" {
				return errors.New("--tenant is required")
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Dev.JWTSecret == "" {
				return errors.New("dev.jwt_secret is not configured")
			}
			tok, err := devserver.IssueToken([]byte(cfg.Dev.JWTSecret), c.tenant, subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-operator", "token subject (user id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
