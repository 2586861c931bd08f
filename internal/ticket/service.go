package ticket

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowops/internal/domain"
	"flowops/internal/keys"
	"flowops/internal/metrics"
	"flowops/internal/repository"
)

const (
	defaultSubject  = "New support request"
	defaultCategory = "general"
	defaultSeverity = 3

	escalationAction = "escalate_to_human"
	defaultReason    = "Customer requested human assistance"
)

// Store is the subset of repository.Store the workflow needs.
type Store interface {
	Get(ctx context.Context, tenantID string, key repository.Key) (repository.Item, bool, error)
	Insert(ctx context.Context, tenantID string, item repository.Item) error
	Update(ctx context.Context, tenantID string, key repository.Key, u repository.Update) (repository.Item, error)
	QueryByIndex(ctx context.Context, tenantID, index, indexKey string, r *repository.Range) iter.Seq2[repository.Item, error]
}

type Notifier interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Service owns ticket state transitions. It performs no retries; a
// PreconditionFailed error means another writer changed the ticket first.
type Service struct {
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, notifier Notifier, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ticket: store must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("ticket: notifier must not be nil")
	}
	s := &Service{store: store, notifier: notifier, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput carries caller-supplied ticket fields. Zero values take the
// documented defaults.
type CreateInput struct {
	Subject        string
	Description    string
	Category       string
	Priority       domain.Priority
	Sentiment      domain.Sentiment
	Severity       int
	ConversationID string
	AssignedTo     string
}

func (in CreateInput) withDefaults() CreateInput {
	if strings.TrimSpace(in.Subject) == "" {
		in.Subject = defaultSubject
	}
	if strings.TrimSpace(in.Category) == "" {
		in.Category = defaultCategory
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityMedium
	}
	if in.Sentiment == "" {
		in.Sentiment = domain.SentimentNeutral
	}
	if in.Severity == 0 {
		in.Severity = defaultSeverity
	}
	return in
}

func (in CreateInput) validate() error {
	if !in.Priority.Valid() {
		return domain.NewError(domain.ErrorInvalidPayload, "invalid_priority", fmt.Errorf("priority %q", in.Priority))
	}
	if !in.Sentiment.Valid() {
		return domain.NewError(domain.ErrorInvalidPayload, "invalid_sentiment", fmt.Errorf("sentiment %q", in.Sentiment))
	}
	if in.Severity < domain.MinSeverity || in.Severity > domain.MaxSeverity {
		return domain.NewError(domain.ErrorInvalidPayload, "invalid_severity", fmt.Errorf("severity %d", in.Severity))
	}
	if in.ConversationID != "" {
		if err := keys.ValidateID(in.ConversationID); err != nil {
			return domain.NewError(domain.ErrorInvalidPayload, "invalid_conversation_id", err)
		}
	}
	return nil
}

// Create persists a new open ticket.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (domain.Ticket, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.Ticket{}, err
	}
	in = in.withDefaults()
	if err := in.validate(); err != nil {
		return domain.Ticket{}, err
	}

	now := s.now().UTC()
	t := domain.Ticket{
		TenantID:        tenantID,
		TicketID:        newTicketID(),
		Status:          domain.StatusOpen,
		Priority:        in.Priority,
		Subject:         in.Subject,
		Description:     in.Description,
		Category:        in.Category,
		Sentiment:       in.Sentiment,
		Severity:        in.Severity,
		SLARisk:         false,
		CreatedAt:       now,
		UpdatedAt:       now,
		ConversationIDs: []string{},
		AssignedTo:      in.AssignedTo,
	}
	if in.ConversationID != "" {
		t.ConversationIDs = []string{in.ConversationID}
	}

	item, err := toItem(t)
	if err != nil {
		return domain.Ticket{}, err
	}
	if err := s.store.Insert(ctx, tenantID, item); err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: Create: %w", err)
	}
	return t, nil
}

// Get loads one ticket, failing with NotFound when it does not exist.
func (s *Service) Get(ctx context.Context, tenantID, ticketID string) (domain.Ticket, error) {
	if err := requireTenant(tenantID); err != nil {
		return domain.Ticket{}, err
	}
	if err := keys.ValidateID(ticketID); err != nil {
		return domain.Ticket{}, domain.NewError(domain.ErrorInvalidPayload, "invalid_ticket_id", err)
	}
	item, found, err := s.store.Get(ctx, tenantID, itemKey(tenantID, ticketID))
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: Get: %w", err)
	}
	if !found {
		return domain.Ticket{}, domain.NewError(domain.ErrorNotFound, "ticket_not_found", fmt.Errorf("ticket %q", ticketID))
	}
	return fromItem(item)
}

// Escalate hands the ticket to a human: status=escalated, slaRisk=true, and
// one high-priority notification once the write has succeeded. When the
// notification fails the escalated ticket is returned together with the error.
func (s *Service) Escalate(ctx context.Context, tenantID, ticketID, reason string) (domain.Ticket, error) {
	current, err := s.Get(ctx, tenantID, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	updated, err := s.write(ctx, current, domain.StatusEscalated, map[string]any{attrSLARisk: true})
	if err != nil {
		return domain.Ticket{}, err
	}

	return updated, s.alertEscalation(ctx, updated, reason)
}

// NotifyEscalation re-sends the high-priority alert for a ticket that is
// already escalated, for callers retrying an Escalate whose notification
// failed. The ticket is not written.
func (s *Service) NotifyEscalation(ctx context.Context, tenantID, ticketID, reason string) (domain.Ticket, error) {
	t, err := s.Get(ctx, tenantID, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.Status != domain.StatusEscalated {
		return domain.Ticket{}, domain.NewError(domain.ErrorInvalidTransition, "not_escalated",
			fmt.Errorf("ticket %q is %s", ticketID, t.Status))
	}
	return t, s.alertEscalation(ctx, t, reason)
}

// NotificationFailed is the reason carried by Escalate and NotifyEscalation
// when the ticket is escalated but the alert was not delivered.
const NotificationFailed = "notification_failed"

func (s *Service) alertEscalation(ctx context.Context, t domain.Ticket, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = defaultReason
	}
	if err := s.notifier.Publish(ctx, escalationNotice(t, reason)); err != nil {
		return domain.NewError(domain.ErrorInternal, NotificationFailed, err)
	}
	return nil
}

// Transition moves a ticket along the transition table. Moving to escalated
// goes through Escalate so the SLA flag and notification are never skipped.
func (s *Service) Transition(ctx context.Context, tenantID, ticketID string, to domain.TicketStatus) (domain.Ticket, error) {
	if !to.Valid() {
		return domain.Ticket{}, domain.NewError(domain.ErrorInvalidPayload, "invalid_status", fmt.Errorf("status %q", to))
	}
	if to == domain.StatusEscalated {
		return s.Escalate(ctx, tenantID, ticketID, "")
	}
	current, err := s.Get(ctx, tenantID, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	return s.write(ctx, current, to, nil)
}

// write performs the compare-and-swap status change from current.Status.
func (s *Service) write(ctx context.Context, current domain.Ticket, to domain.TicketStatus, extra map[string]any) (domain.Ticket, error) {
	if !CanTransition(current.Status, to) {
		return domain.Ticket{}, domain.NewError(domain.ErrorInvalidTransition, "transition_not_allowed",
			fmt.Errorf("%s -> %s", current.Status, to))
	}
	now := s.now().UTC()
	set := map[string]any{
		attrStatus:      string(to),
		attrUpdatedAt:   formatTime(now),
		attrStatusIndex: keys.TicketStatus(current.TenantID, string(to)),
		attrRecentSort:  keys.Updated(now),
	}
	for k, v := range extra {
		set[k] = v
	}
	item, err := s.store.Update(ctx, current.TenantID, itemKey(current.TenantID, current.TicketID), repository.Update{
		Set:    set,
		Expect: map[string]any{attrStatus: string(current.Status)},
	})
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: transition %s -> %s: %w", current.Status, to, err)
	}
	s.metrics.TicketTransition(string(current.Status), string(to))
	return fromItem(item)
}

// AttachConversation appends a conversation id to the ticket's list once.
// The append is conditional on the id being absent, so concurrent attaches
// of the same id leave a single entry.
func (s *Service) AttachConversation(ctx context.Context, tenantID, ticketID, conversationID string) (domain.Ticket, error) {
	if err := keys.ValidateID(conversationID); err != nil {
		return domain.Ticket{}, domain.NewError(domain.ErrorInvalidPayload, "invalid_conversation_id", err)
	}
	t, err := s.mutate(ctx, tenantID, ticketID, func(current domain.Ticket) (repository.Update, error) {
		if slices.Contains(current.ConversationIDs, conversationID) {
			return repository.Update{}, errNoChange
		}
		return repository.Update{
			Append:  map[string][]any{attrConversationIDs: {conversationID}},
			Exclude: map[string]string{attrConversationIDs: conversationID},
		}, nil
	})
	if domain.HasCode(err, domain.ErrorPreconditionFailed) {
		// Lost the race; fine if the winner attached the same id.
		current, gerr := s.Get(ctx, tenantID, ticketID)
		if gerr == nil && slices.Contains(current.ConversationIDs, conversationID) {
			return current, nil
		}
	}
	return t, err
}

// Assign sets the human owner of a ticket.
func (s *Service) Assign(ctx context.Context, tenantID, ticketID, assignee string) (domain.Ticket, error) {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return domain.Ticket{}, domain.NewError(domain.ErrorInvalidPayload, "missing_assignee", nil)
	}
	return s.mutate(ctx, tenantID, ticketID, func(domain.Ticket) (repository.Update, error) {
		return repository.Update{Set: map[string]any{attrAssignedTo: assignee}}, nil
	})
}

// SetSummary stores an AI-generated summary on the ticket.
func (s *Service) SetSummary(ctx context.Context, tenantID, ticketID, summary string) (domain.Ticket, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return domain.Ticket{}, domain.NewError(domain.ErrorInvalidPayload, "empty_summary", nil)
	}
	return s.mutate(ctx, tenantID, ticketID, func(domain.Ticket) (repository.Update, error) {
		return repository.Update{Set: map[string]any{attrAISummary: summary}}, nil
	})
}

var errNoChange = errors.New("ticket: no change")

// mutate applies a non-status change to an open ticket, guarded by the
// status it was read with.
func (s *Service) mutate(ctx context.Context, tenantID, ticketID string, change func(domain.Ticket) (repository.Update, error)) (domain.Ticket, error) {
	current, err := s.Get(ctx, tenantID, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if current.Status == domain.StatusClosed {
		return domain.Ticket{}, domain.NewError(domain.ErrorInvalidTransition, "ticket_closed", fmt.Errorf("ticket %q is closed", ticketID))
	}
	u, err := change(current)
	if errors.Is(err, errNoChange) {
		return current, nil
	}
	if err != nil {
		return domain.Ticket{}, err
	}

	now := s.now().UTC()
	if u.Set == nil {
		u.Set = map[string]any{}
	}
	u.Set[attrUpdatedAt] = formatTime(now)
	u.Set[attrRecentSort] = keys.Updated(now)
	if u.Expect == nil {
		u.Expect = map[string]any{}
	}
	u.Expect[attrStatus] = string(current.Status)

	item, err := s.store.Update(ctx, tenantID, itemKey(tenantID, ticketID), u)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: update %s: %w", ticketID, err)
	}
	return fromItem(item)
}

// ListByStatus returns a tenant's tickets in one status, oldest first.
func (s *Service) ListByStatus(ctx context.Context, tenantID string, status domain.TicketStatus) ([]domain.Ticket, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.NewError(domain.ErrorInvalidPayload, "invalid_status", fmt.Errorf("status %q", status))
	}
	seq := s.store.QueryByIndex(ctx, tenantID, IndexByStatus, keys.TicketStatus(tenantID, string(status)), nil)
	out, err := repository.Collect(seq, fromItem)
	if err != nil {
		return nil, fmt.Errorf("ticket: ListByStatus: %w", err)
	}
	return out, nil
}

// ListUpdatedSince returns tickets updated at or after since, oldest first.
func (s *Service) ListUpdatedSince(ctx context.Context, tenantID string, since time.Time) ([]domain.Ticket, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	seq := s.store.QueryByIndex(ctx, tenantID, IndexRecent, keys.Tenant(tenantID), &repository.Range{From: keys.Updated(since)})
	out, err := repository.Collect(seq, fromItem)
	if err != nil {
		return nil, fmt.Errorf("ticket: ListUpdatedSince: %w", err)
	}
	return out, nil
}

func escalationNotice(t domain.Ticket, reason string) domain.Notification {
	return domain.Notification{
		TenantID:  t.TenantID,
		TicketID:  t.TicketID,
		Action:    escalationAction,
		Priority:  domain.NotifyHigh,
		Subject:   fmt.Sprintf("[FlowOps] Escalation Required - Tenant %s", t.TenantID),
		Details:   map[string]string{"reason": reason},
		Timestamp: t.UpdatedAt,
		Attributes: map[string]string{
			"tenantId":   t.TenantID,
			"actionType": escalationAction,
			"priority":   string(domain.NotifyHigh),
		},
	}
}

func requireTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return domain.NewError(domain.ErrorMissingTenant, "missing_tenant", nil)
	}
	return nil
}

// newTicketID returns a UUIDv7: unique, and lexically ordered by creation time.
var newTicketID = func() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
