package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flowops/internal/domain"
	"flowops/internal/keys"
	"flowops/internal/metrics"
	"flowops/internal/ticket"
)

// Tickets is the ticket workflow as seen by the executor.
type Tickets interface {
	Create(ctx context.Context, tenantID string, in ticket.CreateInput) (domain.Ticket, error)
	Escalate(ctx context.Context, tenantID, ticketID, reason string) (domain.Ticket, error)
	NotifyEscalation(ctx context.Context, tenantID, ticketID, reason string) (domain.Ticket, error)
}

type Notifier interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Guard deduplicates requests that carry an idempotency key. Keys are
// scoped to the tenant and the action type.
type Guard interface {
	Begin(ctx context.Context, tenantID, action, key string) (stored []byte, claimed bool, err error)
	Complete(ctx context.Context, tenantID, action, key string, result []byte) error
	Release(ctx context.Context, tenantID, action, key string) error
}

// Executor dispatches the closed set of safe actions.
type Executor struct {
	tickets  Tickets
	notifier Notifier
	guard    Guard
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Executor)

// WithGuard enables idempotency keys. Without a guard keys are ignored.
func WithGuard(g Guard) Option {
	return func(e *Executor) { e.guard = g }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func NewExecutor(tickets Tickets, notifier Notifier, opts ...Option) (*Executor, error) {
	if tickets == nil {
		return nil, errors.New("actions: tickets must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("actions: notifier must not be nil")
	}
	e := &Executor{
		tickets:  tickets,
		notifier: notifier,
		logger:   slog.Default(),
		tracer:   otel.Tracer("flowops/internal/actions"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ExecuteRaw decodes and runs a wire request.
func (e *Executor) ExecuteRaw(ctx context.Context, raw RawRequest) (Result, error) {
	req, err := Decode(raw)
	if err != nil {
		label := "unsupported"
		if a := ActionType(raw.ActionType); a.Known() {
			label = string(a)
		}
		e.metrics.ObserveAction(label, string(domain.CodeOf(err)), 0)
		return Result{}, err
	}
	return e.Execute(ctx, req)
}

// Execute validates req and runs it. Validation failures happen before any
// side effect.
func (e *Executor) Execute(ctx context.Context, req Request) (res Result, err error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return Result{}, domain.NewError(domain.ErrorMissingTenant, "missing_tenant", nil)
	}
	if err := keys.ValidateID(req.TenantID); err != nil {
		return Result{}, domain.NewError(domain.ErrorInvalidPayload, "invalid_tenant_id", err)
	}
	if req.Payload == nil {
		return Result{}, domain.NewError(domain.ErrorInvalidPayload, "missing_payload", nil)
	}
	if err := req.Payload.validate(); err != nil {
		return Result{}, err
	}

	action := req.Payload.Action()
	ctx, span := e.tracer.Start(ctx, "actions.Execute", trace.WithAttributes(
		attribute.String("flowops.tenant_id", req.TenantID),
		attribute.String("flowops.action", string(action)),
	))
	start := time.Now()
	defer func() {
		result := "OK"
		if err != nil {
			result = string(domain.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		e.metrics.ObserveAction(string(action), result, time.Since(start))
		span.End()
	}()

	if req.IdempotencyKey == "" || e.guard == nil {
		if res, err = e.dispatch(ctx, req); err != nil {
			return Result{}, err
		}
		return res, nil
	}

	stored, claimed, err := e.guard.Begin(ctx, req.TenantID, string(action), req.IdempotencyKey)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		var rec storedResult
		if err := json.Unmarshal(stored, &rec); err != nil {
			return Result{}, fmt.Errorf("actions: decode stored result: %w", err)
		}
		span.SetAttributes(attribute.Bool("flowops.replayed", true))
		if rec.AlertPending == nil {
			return rec.Result, nil
		}
		return e.resendAlert(ctx, req, rec)
	}

	res, err = e.dispatch(ctx, req)
	if pending, ok := alertPending(req, res, err); ok {
		// The ticket is escalated but operators were not told. Keep the claim
		// so a retry re-sends the alert instead of failing the transition.
		e.record(ctx, req, storedResult{Result: res, AlertPending: pending})
		return Result{}, err
	}
	if err != nil {
		if relErr := e.guard.Release(ctx, req.TenantID, string(action), req.IdempotencyKey); relErr != nil {
			e.logger.WarnContext(ctx, "idempotency release failed", "tenant_id", req.TenantID, "err", relErr)
		}
		return Result{}, err
	}
	e.record(ctx, req, storedResult{Result: res})
	return res, nil
}

// storedResult is what the guard keeps for a completed key. AlertPending is
// set while an escalation alert still has to be delivered.
type storedResult struct {
	Result
	AlertPending *EscalatePayload `json:"alertPending,omitempty"`
}

func alertPending(req Request, res Result, err error) (*EscalatePayload, bool) {
	p, ok := req.Payload.(EscalatePayload)
	if !ok || res.TicketID == "" || domain.ReasonOf(err) != ticket.NotificationFailed {
		return nil, false
	}
	return &p, true
}

func (e *Executor) resendAlert(ctx context.Context, req Request, rec storedResult) (Result, error) {
	_, err := e.tickets.NotifyEscalation(ctx, req.TenantID, rec.AlertPending.TicketID, rec.AlertPending.Reason)
	// A ticket that already left escalated no longer needs the alert.
	if err != nil && !domain.HasCode(err, domain.ErrorInvalidTransition) {
		return Result{}, err
	}
	rec.AlertPending = nil
	e.record(ctx, req, rec)
	return rec.Result, nil
}

func (e *Executor) record(ctx context.Context, req Request, rec storedResult) {
	data, err := json.Marshal(rec)
	if err == nil {
		err = e.guard.Complete(ctx, req.TenantID, string(req.Payload.Action()), req.IdempotencyKey, data)
	}
	if err != nil {
		// The action already happened; a lost record only means a retry may repeat it.
		e.logger.WarnContext(ctx, "idempotency record failed", "tenant_id", req.TenantID, "err", err)
	}
}

func (e *Executor) dispatch(ctx context.Context, req Request) (Result, error) {
	switch p := req.Payload.(type) {
	case CreateTicketPayload:
		return e.createTicket(ctx, req.TenantID, p)
	case EscalatePayload:
		return e.escalate(ctx, req.TenantID, p)
	case RequestLogsPayload:
		return e.requestLogs(ctx, req.TenantID, req.UserID, p)
	default:
		return Result{}, domain.NewError(domain.ErrorUnsupportedAction, "unsupported_action",
			fmt.Errorf("payload %T", req.Payload))
	}
}

func (e *Executor) createTicket(ctx context.Context, tenantID string, p CreateTicketPayload) (Result, error) {
	t, err := e.tickets.Create(ctx, tenantID, ticket.CreateInput{
		Subject:        p.Subject,
		Description:    p.Description,
		Category:       p.Category,
		Priority:       p.Priority,
		Sentiment:      p.Sentiment,
		Severity:       p.Severity,
		ConversationID: p.ConversationID,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{TicketID: t.TicketID, Status: StatusCreated}, nil
}

// escalate relies on the ticket workflow for the high-priority alert. When
// only the alert failed the escalated ticket is reported with the error.
func (e *Executor) escalate(ctx context.Context, tenantID string, p EscalatePayload) (Result, error) {
	t, err := e.tickets.Escalate(ctx, tenantID, p.TicketID, p.Reason)
	if t.TicketID == "" {
		return Result{}, err
	}
	return Result{TicketID: t.TicketID, Status: StatusEscalated}, err
}

// requestLogs only alerts operators; the ticket is not touched.
func (e *Executor) requestLogs(ctx context.Context, tenantID, userID string, p RequestLogsPayload) (Result, error) {
	p = p.withDefaults()
	details := map[string]string{
		"logType":   p.LogType,
		"timeRange": p.TimeRange,
	}
	if userID != "" {
		details["requestedBy"] = userID
	}
	n := domain.Notification{
		TenantID:  tenantID,
		TicketID:  p.TicketID,
		Action:    string(ActionRequestLogs),
		Priority:  domain.NotifyNormal,
		Subject:   fmt.Sprintf("[FlowOps] Log Request - Tenant %s", tenantID),
		Details:   details,
		Timestamp: e.now().UTC(),
		Attributes: map[string]string{
			"tenantId":   tenantID,
			"actionType": string(ActionRequestLogs),
		},
	}
	if err := e.notifier.Publish(ctx, n); err != nil {
		return Result{}, fmt.Errorf("actions: request_logs: %w", err)
	}
	return Result{TicketID: p.TicketID, Status: StatusLogsRequested}, nil
}
