package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"flowops/internal/domain"
	"flowops/internal/keys"
	"flowops/internal/repository"
)

type Store interface {
	Get(ctx context.Context, tenantID string, key repository.Key) (repository.Item, bool, error)
	Insert(ctx context.Context, tenantID string, item repository.Item) error
	Update(ctx context.Context, tenantID string, key repository.Key, u repository.Update) (repository.Item, error)
	QueryByIndex(ctx context.Context, tenantID, index, indexKey string, r *repository.Range) iter.Seq2[repository.Item, error]
}

// Service is the append-only conversation log.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store, now func() time.Time) (*Service, error) {
	if store == nil {
		return nil, errors.New("conversation: store must not be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, now: now}, nil
}

type StartInput struct {
	// ConversationID is generated when empty.
	ConversationID string
	TicketID       string
}

// Start creates an empty conversation. Starting an id that already exists
// fails with PreconditionFailed.
func (s *Service) Start(ctx context.Context, tenantID string, in StartInput) (domain.Conversation, error) {
	if in.ConversationID == "" {
		in.ConversationID = newID()
	}
	if err := keys.ValidateID(in.ConversationID); err != nil {
		return domain.Conversation{}, domain.NewError(domain.ErrorInvalidPayload, "invalid_conversation_id", err)
	}
	if in.TicketID != "" {
		if err := keys.ValidateID(in.TicketID); err != nil {
			return domain.Conversation{}, domain.NewError(domain.ErrorInvalidPayload, "invalid_ticket_id", err)
		}
	}

	now := s.now().UTC()
	c := domain.Conversation{
		TenantID:       tenantID,
		ConversationID: in.ConversationID,
		TicketID:       in.TicketID,
		Messages:       []domain.Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	item, err := headerItem(c)
	if err != nil {
		return domain.Conversation{}, err
	}
	if err := s.store.Insert(ctx, tenantID, item); err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation: Start: %w", err)
	}
	return c, nil
}

// Append adds one message to an existing conversation. MessageID and
// Timestamp are assigned here; the stored message is never rewritten.
func (s *Service) Append(ctx context.Context, tenantID, conversationID string, m domain.Message) (domain.Message, error) {
	if !m.Role.Valid() {
		return domain.Message{}, domain.NewError(domain.ErrorInvalidPayload, "invalid_role", fmt.Errorf("role %q", m.Role))
	}
	if strings.TrimSpace(m.Content) == "" {
		return domain.Message{}, domain.NewError(domain.ErrorInvalidPayload, "empty_message", nil)
	}
	if _, err := s.header(ctx, tenantID, conversationID); err != nil {
		return domain.Message{}, err
	}

	now := s.now().UTC()
	m.MessageID = newID()
	m.Timestamp = now
	item, err := messageItem(tenantID, conversationID, m)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.store.Insert(ctx, tenantID, item); err != nil {
		return domain.Message{}, fmt.Errorf("conversation: Append: %w", err)
	}
	if _, err := s.store.Update(ctx, tenantID, headerKey(tenantID, conversationID), repository.Update{
		Set: map[string]any{attrUpdatedAt: now.Format(time.RFC3339Nano)},
	}); err != nil {
		return domain.Message{}, fmt.Errorf("conversation: Append: touch header: %w", err)
	}
	return m, nil
}

// Record appends messages in order, starting the conversation first when it
// does not exist yet.
func (s *Service) Record(ctx context.Context, tenantID, conversationID, ticketID string, msgs ...domain.Message) error {
	_, err := s.header(ctx, tenantID, conversationID)
	if domain.HasCode(err, domain.ErrorNotFound) {
		_, err = s.Start(ctx, tenantID, StartInput{ConversationID: conversationID, TicketID: ticketID})
		if domain.HasCode(err, domain.ErrorPreconditionFailed) {
			err = nil
		}
	}
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if _, err := s.Append(ctx, tenantID, conversationID, m); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the conversation with its messages in insertion order.
func (s *Service) Get(ctx context.Context, tenantID, conversationID string) (domain.Conversation, error) {
	c, err := s.header(ctx, tenantID, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	seq := s.store.QueryByIndex(ctx, tenantID, repository.PrimaryIndex, keys.Tenant(tenantID),
		&repository.Range{Prefix: keys.ConversationMessages(conversationID)})
	msgs, err := repository.Collect(seq, fromMessage)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation: Get messages: %w", err)
	}
	if msgs != nil {
		c.Messages = msgs
	}
	return c, nil
}

// ByTicket lists the conversation headers linked to a ticket, oldest first.
// Messages are not loaded.
func (s *Service) ByTicket(ctx context.Context, tenantID, ticketID string) ([]domain.Conversation, error) {
	if err := keys.ValidateID(ticketID); err != nil {
		return nil, domain.NewError(domain.ErrorInvalidPayload, "invalid_ticket_id", err)
	}
	seq := s.store.QueryByIndex(ctx, tenantID, IndexByTicket, keys.TicketConversations(tenantID, ticketID), nil)
	out, err := repository.Collect(seq, fromHeader)
	if err != nil {
		return nil, fmt.Errorf("conversation: ByTicket: %w", err)
	}
	return out, nil
}

func (s *Service) header(ctx context.Context, tenantID, conversationID string) (domain.Conversation, error) {
	if err := keys.ValidateID(conversationID); err != nil {
		return domain.Conversation{}, domain.NewError(domain.ErrorInvalidPayload, "invalid_conversation_id", err)
	}
	item, found, err := s.store.Get(ctx, tenantID, headerKey(tenantID, conversationID))
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation: Get: %w", err)
	}
	if !found {
		return domain.Conversation{}, domain.NewError(domain.ErrorNotFound, "conversation_not_found",
			fmt.Errorf("conversation %q", conversationID))
	}
	return fromHeader(item)
}

// newID returns a UUIDv7. Within one process successive ids are strictly
// increasing, so message sort keys follow append order.
var newID = func() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
