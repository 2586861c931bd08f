package main

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"flowops/internal/agent"
	"flowops/internal/app"
	"flowops/internal/config"
	"flowops/internal/conversation"
	"flowops/internal/domain"
	"flowops/internal/repository"
	"flowops/internal/ticket"
)

type nopInvoker struct{}

func (nopInvoker) Invoke(context.Context, agent.InvokeInput) iter.Seq2[[]byte, error] {
	return func(func([]byte, error) bool) {}
}

type nopParams struct{}

func (nopParams) GetParameter(context.Context, string) (string, error) { return "", nil }

func memoryApp(t *testing.T) (*app.App, appFactory) {
	t.Helper()
	cfg := config.Default()
	cfg.SummaryModel = "gpt-test"
	a, err := app.Assemble(cfg, app.Deps{
		Stores: app.Stores{
			Tickets:       repository.NewMemory(ticket.Indexes()...),
			Conversations: repository.NewMemory(conversation.Indexes()...),
			AgentConfigs:  repository.NewMemory(),
		},
		Invoker: nopInvoker{},
		Params:  nopParams{},
	})
	require.NoError(t, err)
	return a, func(context.Context, *config.Config) (*app.App, error) { return a, nil }
}

func run(t *testing.T, factory appFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAgentConfig_PutThenGet(t *testing.T) {
	_, factory := memoryApp(t)

	out, err := run(t, factory, "agent-config", "put", "--tenant", "tenant-a",
		"--agent-id", "A1", "--alias-id", "AL1", "--type", "swarm",
		"--tool", "create_ticket:confirm", "--tool", "request_logs")
	require.NoError(t, err)
	var saved domain.AgentConfig
	require.NoError(t, json.Unmarshal([]byte(out), &saved))
	require.Equal(t, domain.AgentSwarm, saved.AgentType)
	require.Equal(t, []domain.AgentTool{
		{Name: "create_ticket", Enabled: true, RequiresConfirmation: true},
		{Name: "request_logs", Enabled: true},
	}, saved.Tools)

	out, err = run(t, factory, "agent-config", "get", "--tenant", "tenant-a")
	require.NoError(t, err)
	require.Contains(t, out, `"agentAliasId": "AL1"`)

	_, err = run(t, factory, "agent-config", "get", "--tenant", "tenant-b")
	require.Equal(t, domain.ErrorAgentNotConfigured, domain.CodeOf(err))
}

func TestAgentConfig_Validation(t *testing.T) {
	_, factory := memoryApp(t)

	_, err := run(t, factory, "agent-config", "get")
	require.ErrorContains(t, err, "--tenant")

	_, err = run(t, factory, "agent-config", "put", "--tenant", "t", "--agent-id", "A1")
	require.ErrorContains(t, err, "alias-id")

	_, err = run(t, factory, "agent-config", "put", "--tenant", "t", "--agent-id", "A1", "--alias-id", "AL1", "--tool", "x:maybe")
	require.ErrorContains(t, err, "unknown option")

	_, err = run(t, factory, "agent-config", "put", "--tenant", "t", "--agent-id", "A1", "--alias-id", "AL1", "--type", "cluster")
	require.Equal(t, domain.ErrorInvalidPayload, domain.CodeOf(err))
}

func TestTicket_Commands(t *testing.T) {
	a, factory := memoryApp(t)
	ctx := context.Background()
	tk, err := a.Tickets.Create(ctx, "tenant-a", ticket.CreateInput{Subject: "Disk full"})
	require.NoError(t, err)

	out, err := run(t, factory, "ticket", "get", tk.TicketID, "--tenant", "tenant-a")
	require.NoError(t, err)
	require.Contains(t, out, "Disk full")

	_, err = run(t, factory, "ticket", "get", tk.TicketID, "--tenant", "tenant-b")
	require.Equal(t, domain.ErrorNotFound, domain.CodeOf(err))

	_, err = run(t, factory, "ticket", "transition", tk.TicketID, "in_progress", "--tenant", "tenant-a")
	require.NoError(t, err)
	_, err = run(t, factory, "ticket", "transition", tk.TicketID, "open", "--tenant", "tenant-a")
	require.Equal(t, domain.ErrorInvalidTransition, domain.CodeOf(err))

	out, err = run(t, factory, "ticket", "assign", tk.TicketID, "--to", "agent-7", "--tenant", "tenant-a")
	require.NoError(t, err)
	require.Contains(t, out, `"assignedTo": "agent-7"`)

	out, err = run(t, factory, "ticket", "list", "--status", "in_progress", "--tenant", "tenant-a")
	require.NoError(t, err)
	var list []domain.Ticket
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)

	out, err = run(t, factory, "ticket", "list", "--status", "closed", "--tenant", "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "[]", strings.TrimSpace(out))

	_, err = run(t, factory, "ticket", "list", "--status", "bogus", "--tenant", "tenant-a")
	require.ErrorContains(t, err, "invalid --status")
}

func TestDevToken(t *testing.T) {
	_, factory := memoryApp(t)

	t.Setenv("FLOWOPS_DEV__JWT_SECRET", "")
	_, err := run(t, factory, "dev-token", "--tenant", "tenant-a")
	require.ErrorContains(t, err, "jwt_secret")

	t.Setenv("FLOWOPS_DEV__JWT_SECRET", "s3cret")
	out, err := run(t, factory, "dev-token", "--tenant", "tenant-a")
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}
