package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"flowops/internal/actions"
	"flowops/internal/domain"
)

type ActionExecutor interface {
	ExecuteRaw(ctx context.Context, raw actions.RawRequest) (actions.Result, error)
}

// Actions serves the safe-actions Lambda.
type Actions struct {
	exec   ActionExecutor
	logger *slog.Logger
}

func NewActions(exec ActionExecutor, logger *slog.Logger) (*Actions, error) {
	if exec == nil {
		return nil, errors.New("handler: executor must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{exec: exec, logger: logger}, nil
}

func (h *Actions) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corr := correlationID(event)

	var raw actions.RawRequest
	if err := json.Unmarshal([]byte(event.Body), &raw); err != nil {
		return errorResponse(h.logger, corr, domain.NewError(domain.ErrorInvalidPayload, "malformed_body", err)), nil
	}
	id := identityFrom(event)
	tenant, err := resolveTenant(id, raw.TenantID)
	if err != nil {
		return errorResponse(h.logger, corr, err, "action", raw.ActionType), nil
	}
	raw.TenantID = tenant
	if raw.UserID == "" {
		raw.UserID = id.UserID
	}
	if raw.IdempotencyKey == "" {
		raw.IdempotencyKey = header(event.Headers, idempotencyHeader)
	}

	res, err := h.exec.ExecuteRaw(ctx, raw)
	if err != nil {
		return errorResponse(h.logger, corr, err, "tenant_id", tenant, "action", raw.ActionType), nil
	}
	h.logger.InfoContext(ctx, "action executed",
		"correlation_id", corr,
		"tenant_id", tenant,
		"action", raw.ActionType,
		"ticket_id", res.TicketID,
		"status", res.Status,
	)
	return jsonResponse(http.StatusOK, corr, res), nil
}
