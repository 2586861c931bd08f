package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flowops/internal/domain"
)

func (c *cli) ticketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Inspect and move tickets",
	}

	get := &cobra.Command{
		Use:   "get TICKET_ID",
		Short: "Show one ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.Tickets.Get(cmd.Context(), c.tenant, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}

	var (
		status string
		since  time.Duration
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List tickets by status, or those updated recently with --since",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var out []domain.Ticket
			if since > 0 {
				out, err = a.Tickets.ListUpdatedSince(cmd.Context(), c.tenant, time.Now().Add(-since))
			} else {
				s := domain.TicketStatus(status)
				if !s.Valid() {
					return fmt.Errorf("invalid --status %q", status)
				}
				out, err = a.Tickets.ListByStatus(cmd.Context(), c.tenant, s)
			}
			if err != nil {
				return err
			}
			if out == nil {
				out = []domain.Ticket{}
			}
			return printJSON(cmd, out)
		},
	}
	list.Flags().StringVar(&status, "status", string(domain.StatusOpen), "ticket status")
	list.Flags().DurationVar(&since, "since", 0, "list tickets updated within this window instead")

	transition := &cobra.Command{
		Use:   "transition TICKET_ID STATUS",
		Short: "Move a ticket to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.Tickets.Transition(cmd.Context(), c.tenant, args[0], domain.TicketStatus(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}

	var assignee string
	assign := &cobra.Command{
		Use:   "assign TICKET_ID",
		Short: "Assign a ticket to a human agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.Tickets.Assign(cmd.Context(), c.tenant, args[0], assignee)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}
	assign.Flags().StringVar(&assignee, "to", "", "assignee id")
	_ = assign.MarkFlagRequired("to")

	summarize := &cobra.Command{
		Use:   "summarize TICKET_ID",
		Short: "Generate and store an AI summary of the ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.Summaries.Summarize(cmd.Context(), c.tenant, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}

	cmd.AddCommand(get, list, transition, assign, summarize)
	return cmd
}
