package summary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"flowops/internal/domain"
	"flowops/internal/integrations/openai"
)

const defaultMaxMessages = 50

type LLM interface {
	Chat(ctx context.Context, req openai.Request) (string, error)
}

type Tickets interface {
	Get(ctx context.Context, tenantID, ticketID string) (domain.Ticket, error)
	SetSummary(ctx context.Context, tenantID, ticketID, summary string) (domain.Ticket, error)
}

type Conversations interface {
	ByTicket(ctx context.Context, tenantID, ticketID string) ([]domain.Conversation, error)
	Get(ctx context.Context, tenantID, conversationID string) (domain.Conversation, error)
}

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Service writes an LLM summary of a ticket and its transcript onto the ticket.
type Service struct {
	llm         LLM
	tickets     Tickets
	convs       Conversations
	params      ParamGetter
	paramPrefix string
	maxMessages int

	mu    sync.RWMutex
	model string
}

type Option func(*Service)

// WithModel pins the model and skips the parameter lookup.
func WithModel(model string) Option {
	return func(s *Service) { s.model = strings.TrimSpace(model) }
}

// WithParams reads the model from <prefix>/config/summary_model on first use.
func WithParams(p ParamGetter, prefix string) Option {
	return func(s *Service) {
		s.params = p
		s.paramPrefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

func WithMaxMessages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMessages = n
		}
	}
}

func NewService(llm LLM, tickets Tickets, convs Conversations, opts ...Option) (*Service, error) {
	if llm == nil {
		return nil, errors.New("summary: llm client must not be nil")
	}
	if tickets == nil {
		return nil, errors.New("summary: tickets must not be nil")
	}
	if convs == nil {
		return nil, errors.New("summary: conversations must not be nil")
	}
	s := &Service{
		llm:         llm,
		tickets:     tickets,
		convs:       convs,
		maxMessages: defaultMaxMessages,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.model == "" && (s.params == nil || s.paramPrefix == "") {
		return nil, errors.New("summary: either a model or a parameter source is required")
	}
	return s, nil
}

// Summarize generates a summary for the ticket and stores it.
func (s *Service) Summarize(ctx context.Context, tenantID, ticketID string) (domain.Ticket, error) {
	if strings.TrimSpace(tenantID) == "" {
		return domain.Ticket{}, domain.NewError(domain.ErrorMissingTenant, "missing_tenant", nil)
	}
	t, err := s.tickets.Get(ctx, tenantID, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	model, err := s.ensureModel(ctx)
	if err != nil {
		return domain.Ticket{}, domain.NewError(domain.ErrorInternal, "summary_model_load_error", err)
	}
	convs, err := s.conversations(ctx, t)
	if err != nil {
		return domain.Ticket{}, err
	}

	raw, err := s.llm.Chat(ctx, openai.Request{
		Model:      model,
		Messages:   buildPromptMessages(t, convs, s.maxMessages),
		SchemaName: schemaName,
		Schema:     responseSchema,
	})
	if err != nil {
		if status, ok := openai.StatusCode(err); ok && status == http.StatusTooManyRequests {
			return domain.Ticket{}, domain.NewError(domain.ErrorInferenceFailure, "summary_rate_limited", err)
		}
		return domain.Ticket{}, domain.NewError(domain.ErrorInferenceFailure, "summary_failed", err)
	}
	text, err := parseSummary(raw)
	if err != nil {
		return domain.Ticket{}, domain.NewError(domain.ErrorInferenceFailure, "summary_malformed_response", err)
	}
	return s.tickets.SetSummary(ctx, tenantID, t.TicketID, text)
}

// conversations loads every conversation linked to t, either through the
// ticket's own list or the conversation index, in first-seen order.
func (s *Service) conversations(ctx context.Context, t domain.Ticket) ([]domain.Conversation, error) {
	ids := append([]string(nil), t.ConversationIDs...)
	linked, err := s.convs.ByTicket(ctx, t.TenantID, t.TicketID)
	if err != nil {
		return nil, fmt.Errorf("summary: list conversations: %w", err)
	}
	for _, c := range linked {
		ids = append(ids, c.ConversationID)
	}

	seen := make(map[string]bool, len(ids))
	var out []domain.Conversation
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		c, err := s.convs.Get(ctx, t.TenantID, id)
		if domain.HasCode(err, domain.ErrorNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("summary: load conversation %q: %w", id, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Service) ensureModel(ctx context.Context) (string, error) {
	s.mu.RLock()
	model := s.model
	s.mu.RUnlock()
	if model != "" {
		return model, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != "" {
		return s.model, nil
	}
	v, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/summary_model")
	if err != nil {
		return "", fmt.Errorf("summary: load model: %w", err)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("summary: model parameter is empty")
	}
	s.model = v
	return v, nil
}
