package conversation

import (
	"fmt"
	"time"

	"flowops/internal/domain"
	"flowops/internal/keys"
	"flowops/internal/repository"
)

// IndexByTicket lists conversation headers by ticket.
const IndexByTicket = "GSI1"

func Indexes() []repository.Index {
	return []repository.Index{
		{Name: IndexByTicket, PartitionAttr: "GSI1PK", SortAttr: "GSI1SK"},
	}
}

const attrUpdatedAt = "updatedAt"

type header struct {
	TenantID       string `dynamodbav:"tenantId"`
	ConversationID string `dynamodbav:"conversationId"`
	TicketID       string `dynamodbav:"ticketId,omitempty"`
	CreatedAt      string `dynamodbav:"createdAt"`
	UpdatedAt      string `dynamodbav:"updatedAt"`

	GSI1PK string `dynamodbav:"GSI1PK,omitempty"`
	GSI1SK string `dynamodbav:"GSI1SK,omitempty"`
}

type citation struct {
	DocumentID     string  `dynamodbav:"documentId"`
	DocumentTitle  string  `dynamodbav:"documentTitle"`
	Snippet        string  `dynamodbav:"snippet"`
	RelevanceScore float64 `dynamodbav:"relevanceScore"`
}

type message struct {
	MessageID  string     `dynamodbav:"messageId"`
	Role       string     `dynamodbav:"role"`
	Content    string     `dynamodbav:"content"`
	Citations  []citation `dynamodbav:"citations,omitempty"`
	Confidence *float64   `dynamodbav:"confidence,omitempty"`
	Timestamp  string     `dynamodbav:"timestamp"`
}

func headerKey(tenantID, conversationID string) repository.Key {
	return repository.Key{PK: keys.Tenant(tenantID), SK: keys.Conversation(conversationID, "")}
}

func headerItem(c domain.Conversation) (repository.Item, error) {
	h := header{
		TenantID:       c.TenantID,
		ConversationID: c.ConversationID,
		TicketID:       c.TicketID,
		CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.TicketID != "" {
		h.GSI1PK = keys.TicketConversations(c.TenantID, c.TicketID)
		h.GSI1SK = keys.Created(c.CreatedAt)
	}
	return repository.MarshalItem(headerKey(c.TenantID, c.ConversationID), h)
}

func fromHeader(item repository.Item) (domain.Conversation, error) {
	var h header
	if err := repository.UnmarshalItem(item, &h); err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation: decode header: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, h.CreatedAt)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation: decode createdAt: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, h.UpdatedAt)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation: decode updatedAt: %w", err)
	}
	return domain.Conversation{
		TenantID:       h.TenantID,
		ConversationID: h.ConversationID,
		TicketID:       h.TicketID,
		Messages:       []domain.Message{},
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

func messageItem(tenantID, conversationID string, m domain.Message) (repository.Item, error) {
	r := message{
		MessageID:  m.MessageID,
		Role:       string(m.Role),
		Content:    m.Content,
		Confidence: m.Confidence,
		Timestamp:  m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	for _, c := range m.Citations {
		r.Citations = append(r.Citations, citation(c))
	}
	key := repository.Key{PK: keys.Tenant(tenantID), SK: keys.Conversation(conversationID, m.MessageID)}
	return repository.MarshalItem(key, r)
}

func fromMessage(item repository.Item) (domain.Message, error) {
	var r message
	if err := repository.UnmarshalItem(item, &r); err != nil {
		return domain.Message{}, fmt.Errorf("conversation: decode message: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return domain.Message{}, fmt.Errorf("conversation: decode timestamp: %w", err)
	}
	m := domain.Message{
		MessageID:  r.MessageID,
		Role:       domain.Role(r.Role),
		Content:    r.Content,
		Confidence: r.Confidence,
		Timestamp:  ts,
	}
	for _, c := range r.Citations {
		m.Citations = append(m.Citations, domain.Citation(c))
	}
	return m, nil
}
