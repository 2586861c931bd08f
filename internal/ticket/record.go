package ticket

import (
	"fmt"
	"time"

	"flowops/internal/domain"
	"flowops/internal/keys"
	"flowops/internal/repository"
)

// Index names on the tickets table.
const (
	IndexByStatus = "GSI1"
	IndexRecent   = "GSI2"
)

// Indexes describes the tickets table's secondary indexes.
func Indexes() []repository.Index {
	return []repository.Index{
		{Name: IndexByStatus, PartitionAttr: "GSI1PK", SortAttr: "GSI1SK"},
		{Name: IndexRecent, PartitionAttr: "GSI2PK", SortAttr: "GSI2SK"},
	}
}

const (
	attrStatus          = "status"
	attrSLARisk         = "slaRisk"
	attrUpdatedAt       = "updatedAt"
	attrAssignedTo      = "assignedTo"
	attrAISummary       = "aiSummary"
	attrConversationIDs = "conversationIds"
	attrStatusIndex     = "GSI1PK"
	attrRecentSort      = "GSI2SK"
)

// record is the persisted shape of a ticket.
type record struct {
	TenantID        string   `dynamodbav:"tenantId"`
	TicketID        string   `dynamodbav:"ticketId"`
	Status          string   `dynamodbav:"status"`
	Priority        string   `dynamodbav:"priority"`
	Subject         string   `dynamodbav:"subject"`
	Description     string   `dynamodbav:"description"`
	Category        string   `dynamodbav:"category"`
	Sentiment       string   `dynamodbav:"sentiment"`
	Severity        int      `dynamodbav:"severity"`
	SLARisk         bool     `dynamodbav:"slaRisk"`
	CreatedAt       string   `dynamodbav:"createdAt"`
	UpdatedAt       string   `dynamodbav:"updatedAt"`
	ConversationIDs []string `dynamodbav:"conversationIds"`
	AssignedTo      string   `dynamodbav:"assignedTo,omitempty"`
	AISummary       string   `dynamodbav:"aiSummary,omitempty"`

	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	GSI2PK string `dynamodbav:"GSI2PK"`
	GSI2SK string `dynamodbav:"GSI2SK"`
}

func itemKey(tenantID, ticketID string) repository.Key {
	return repository.Key{PK: keys.Tenant(tenantID), SK: keys.Ticket(ticketID)}
}

func toItem(t domain.Ticket) (repository.Item, error) {
	convIDs := t.ConversationIDs
	if convIDs == nil {
		convIDs = []string{}
	}
	return repository.MarshalItem(itemKey(t.TenantID, t.TicketID), record{
		TenantID:        t.TenantID,
		TicketID:        t.TicketID,
		Status:          string(t.Status),
		Priority:        string(t.Priority),
		Subject:         t.Subject,
		Description:     t.Description,
		Category:        t.Category,
		Sentiment:       string(t.Sentiment),
		Severity:        t.Severity,
		SLARisk:         t.SLARisk,
		CreatedAt:       formatTime(t.CreatedAt),
		UpdatedAt:       formatTime(t.UpdatedAt),
		ConversationIDs: convIDs,
		AssignedTo:      t.AssignedTo,
		AISummary:       t.AISummary,
		GSI1PK:          keys.TicketStatus(t.TenantID, string(t.Status)),
		GSI1SK:          keys.Created(t.CreatedAt),
		GSI2PK:          keys.Tenant(t.TenantID),
		GSI2SK:          keys.Updated(t.UpdatedAt),
	})
}

func fromItem(item repository.Item) (domain.Ticket, error) {
	var r record
	if err := repository.UnmarshalItem(item, &r); err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: decode: %w", err)
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: decode createdAt: %w", err)
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket: decode updatedAt: %w", err)
	}
	return domain.Ticket{
		TenantID:        r.TenantID,
		TicketID:        r.TicketID,
		Status:          domain.TicketStatus(r.Status),
		Priority:        domain.Priority(r.Priority),
		Subject:         r.Subject,
		Description:     r.Description,
		Category:        r.Category,
		Sentiment:       domain.Sentiment(r.Sentiment),
		Severity:        r.Severity,
		SLARisk:         r.SLARisk,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		ConversationIDs: r.ConversationIDs,
		AssignedTo:      r.AssignedTo,
		AISummary:       r.AISummary,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
