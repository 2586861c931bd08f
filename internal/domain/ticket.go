package domain

import "time"

type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusEscalated  TicketStatus = "escalated"
	StatusResolved   TicketStatus = "resolved"
	StatusClosed     TicketStatus = "closed"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusEscalated, StatusResolved, StatusClosed:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

const (
	MinSeverity = 1
	MaxSeverity = 5
)

// Ticket is a support ticket. Tickets are never deleted; closed is terminal.
type Ticket struct {
	TenantID        string       `json:"tenantId"`
	TicketID        string       `json:"ticketId"`
	Status          TicketStatus `json:"status"`
	Priority        Priority     `json:"priority"`
	Subject         string       `json:"subject"`
	Description     string       `json:"description"`
	Category        string       `json:"category"`
	Sentiment       Sentiment    `json:"sentiment"`
	Severity        int          `json:"severity"`
	SLARisk         bool         `json:"slaRisk"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	ConversationIDs []string     `json:"conversationIds"`
	AssignedTo      string       `json:"assignedTo,omitempty"`
	AISummary       string       `json:"aiSummary,omitempty"`
}
