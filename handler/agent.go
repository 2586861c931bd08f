package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"flowops/internal/agent"
	"flowops/internal/domain"
)

type AgentInvoker interface {
	Invoke(ctx context.Context, req agent.Request) (agent.Response, error)
}

// Agent serves the agent-invoke Lambda.
type Agent struct {
	gateway AgentInvoker
	logger  *slog.Logger
}

func NewAgent(gateway AgentInvoker, logger *slog.Logger) (*Agent, error) {
	if gateway == nil {
		return nil, errors.New("handler: gateway must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{gateway: gateway, logger: logger}, nil
}

func (h *Agent) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corr := correlationID(event)

	var req agent.Request
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return errorResponse(h.logger, corr, domain.NewError(domain.ErrorInvalidPayload, "malformed_body", err)), nil
	}
	tenant, err := resolveTenant(identityFrom(event), req.TenantID)
	if err != nil {
		return errorResponse(h.logger, corr, err), nil
	}
	req.TenantID = tenant

	resp, err := h.gateway.Invoke(ctx, req)
	if err != nil {
		return errorResponse(h.logger, corr, err, "tenant_id", tenant, "session_id", req.SessionID), nil
	}
	h.logger.InfoContext(ctx, "agent invoked",
		"correlation_id", corr,
		"tenant_id", tenant,
		"session_id", resp.SessionID,
		"agent_id", resp.AgentID,
	)
	return jsonResponse(http.StatusOK, corr, resp), nil
}
