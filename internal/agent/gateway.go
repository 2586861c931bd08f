package agent

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flowops/internal/domain"
	"flowops/internal/metrics"
)

// InvokeInput is what the inference service needs for one turn.
type InvokeInput struct {
	AgentID      string
	AgentAliasID string
	SessionID    string
	InputText    string
	EnableTrace  bool
}

// Invoker calls the conversational-inference service. The returned sequence
// yields response chunks in delivery order and ends after the first error.
type Invoker interface {
	Invoke(ctx context.Context, in InvokeInput) iter.Seq2[[]byte, error]
}

type ConfigReader interface {
	Get(ctx context.Context, tenantID string) (domain.AgentConfig, error)
}

// Recorder persists a chat turn. conversation.Service satisfies it.
type Recorder interface {
	Record(ctx context.Context, tenantID, conversationID, ticketID string, msgs ...domain.Message) error
}

// TicketLinker adds a conversation to a ticket's list. ticket.Service
// satisfies it.
type TicketLinker interface {
	AttachConversation(ctx context.Context, tenantID, ticketID, conversationID string) (domain.Ticket, error)
}

type Request struct {
	TenantID       string `json:"tenantId"`
	SessionID      string `json:"sessionId"`
	InputText      string `json:"inputText"`
	EnableTrace    bool   `json:"enableTrace,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	TicketID       string `json:"ticketId,omitempty"`
}

type Response struct {
	TenantID  string `json:"tenantId"`
	SessionID string `json:"sessionId"`
	Response  string `json:"response"`
	AgentID   string `json:"agentId"`
}

type Gateway struct {
	configs  ConfigReader
	invoker  Invoker
	recorder Recorder
	linker   TicketLinker
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Gateway)

// WithRecorder stores each turn when the request names a conversation.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithTicketLinker attaches recorded conversations to the ticket the request
// names.
func WithTicketLinker(l TicketLinker) Option {
	return func(g *Gateway) { g.linker = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func NewGateway(configs ConfigReader, invoker Invoker, opts ...Option) (*Gateway, error) {
	if configs == nil {
		return nil, errors.New("agent: configs must not be nil")
	}
	if invoker == nil {
		return nil, errors.New("agent: invoker must not be nil")
	}
	g := &Gateway{
		configs: configs,
		invoker: invoker,
		tracer:  otel.Tracer("flowops/internal/agent"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Invoke routes one chat turn to the tenant's agent and returns the
// reassembled answer. There is no retry; transport failures surface as
// InferenceFailure.
func (g *Gateway) Invoke(ctx context.Context, req Request) (resp Response, err error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return Response{}, domain.NewError(domain.ErrorMissingTenant, "missing_tenant", nil)
	}
	if strings.TrimSpace(req.InputText) == "" {
		return Response{}, domain.NewError(domain.ErrorInvalidPayload, "missing_input_text", nil)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx, span := g.tracer.Start(ctx, "agent.Invoke", trace.WithAttributes(
		attribute.String("flowops.tenant_id", req.TenantID),
		attribute.String("flowops.session_id", req.SessionID),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(domain.CodeOf(err)))
		}
		span.End()
	}()

	cfg, err := g.configs.Get(ctx, req.TenantID)
	if err != nil {
		return Response{}, err
	}
	span.SetAttributes(attribute.String("flowops.agent_id", cfg.AgentID))

	text, err := collect(g.invoker.Invoke(ctx, InvokeInput{
		AgentID:      cfg.AgentID,
		AgentAliasID: cfg.AgentAliasID,
		SessionID:    req.SessionID,
		InputText:    req.InputText,
		EnableTrace:  req.EnableTrace,
	}))
	if err != nil {
		err = domain.NewError(domain.ErrorInferenceFailure, "invoke_agent_failed", err)
		g.metrics.ObserveInference(string(domain.ErrorInferenceFailure), time.Since(start))
		return Response{}, err
	}
	g.metrics.ObserveInference("OK", time.Since(start))

	if g.recorder != nil && req.ConversationID != "" {
		turn := []domain.Message{{Role: domain.RoleUser, Content: req.InputText}}
		if strings.TrimSpace(text) != "" {
			turn = append(turn, domain.Message{Role: domain.RoleAssistant, Content: text})
		}
		if err = g.recorder.Record(ctx, req.TenantID, req.ConversationID, req.TicketID, turn...); err != nil {
			return Response{}, err
		}
		if err = g.link(ctx, req); err != nil {
			return Response{}, err
		}
	}

	return Response{
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		Response:  text,
		AgentID:   cfg.AgentID,
	}, nil
}

// link records the conversation on its ticket. A missing or closed ticket
// does not fail the turn; the conversation stays reachable by ticket index.
func (g *Gateway) link(ctx context.Context, req Request) error {
	if g.linker == nil || req.TicketID == "" {
		return nil
	}
	_, err := g.linker.AttachConversation(ctx, req.TenantID, req.TicketID, req.ConversationID)
	if domain.HasCode(err, domain.ErrorNotFound) || domain.HasCode(err, domain.ErrorInvalidTransition) {
		return nil
	}
	return err
}

// collect folds the chunk sequence in delivery order.
func collect(chunks iter.Seq2[[]byte, error]) (string, error) {
	var buf bytes.Buffer
	for chunk, err := range chunks {
		if err != nil {
			return "", err
		}
		buf.Write(chunk)
	}
	return buf.String(), nil
}
