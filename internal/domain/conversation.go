package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type Citation struct {
	DocumentID     string  `json:"documentId"`
	DocumentTitle  string  `json:"documentTitle"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// Message is a single write-once conversation entry.
type Message struct {
	MessageID  string     `json:"messageId"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Citations  []Citation `json:"citations,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Conversation holds messages in insertion order.
type Conversation struct {
	TenantID       string    `json:"tenantId"`
	ConversationID string    `json:"conversationId"`
	TicketID       string    `json:"ticketId,omitempty"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
