// Package keys derives the composite partition, sort and index keys used by
// every FlowOps table. All functions are pure.
package keys

import (
	"errors"
	"strings"
	"time"
)

const (
	Delimiter = "#"

	tenantPrefix  = "TENANT#"
	ticketPrefix  = "TICKET#"
	convPrefix    = "CONV#"
	msgInfix      = "#MSG#"
	statusInfix   = "#STATUS#"
	createdPrefix = "CREATED#"
	updatedPrefix = "UPDATED#"

	// AgentConfigSK is the sort key of a tenant's agent routing record.
	AgentConfigSK = "AGENT#CONFIG"
)

var (
	ErrEmptyID     = errors.New("keys: id must not be empty")
	ErrDelimiterID = errors.New("keys: id must not contain '#'")
)

// Tenant returns the partition key of every item owned by tenantID.
func Tenant(tenantID string) string {
	return tenantPrefix + tenantID
}

// Ticket returns the sort key of a ticket item.
func Ticket(ticketID string) string {
	return ticketPrefix + ticketID
}

// Conversation returns the sort key of a conversation header, or of one of
// its messages when messageID is non-empty.
func Conversation(conversationID, messageID string) string {
	if messageID != "" {
		return convPrefix + conversationID + msgInfix + messageID
	}
	return convPrefix + conversationID
}

// ConversationMessages is the sort-key prefix shared by every message of a
// conversation and by nothing else.
func ConversationMessages(conversationID string) string {
	return convPrefix + conversationID + msgInfix
}

// TicketStatus is the tickets-by-status index partition key. It stays under
// the tenant prefix so index reads obey the same scope rule as the base table.
func TicketStatus(tenantID, status string) string {
	return Tenant(tenantID) + statusInfix + status
}

// TicketConversations is the conversations-by-ticket index partition key.
func TicketConversations(tenantID, ticketID string) string {
	return Tenant(tenantID) + Delimiter + Ticket(ticketID)
}

// Created and Updated are index sort keys. RFC3339Nano in UTC sorts
// lexicographically in time order.
func Created(ts time.Time) string {
	return createdPrefix + timestamp(ts)
}

func Updated(ts time.Time) string {
	return updatedPrefix + timestamp(ts)
}

func timestamp(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// InTenant reports whether key lies inside tenantID's key space: it is the
// tenant key itself or the tenant key followed by the delimiter. A bare
// prefix test would let TENANT#ab pass for tenant "a".
func InTenant(tenantID, key string) bool {
	if tenantID == "" {
		return false
	}
	root := Tenant(tenantID)
	return key == root || strings.HasPrefix(key, root+Delimiter)
}

// ValidateID rejects ids that would make derived keys ambiguous.
func ValidateID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if strings.Contains(id, Delimiter) {
		return ErrDelimiterID
	}
	return nil
}
