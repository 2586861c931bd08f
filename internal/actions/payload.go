package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"flowops/internal/domain"
	"flowops/internal/keys"
)

type ActionType string

const (
	ActionCreateTicket ActionType = "create_ticket"
	ActionEscalate     ActionType = "escalate_to_human"
	ActionRequestLogs  ActionType = "request_logs"
)

// Known reports whether a is one of the supported actions.
func (a ActionType) Known() bool {
	switch a {
	case ActionCreateTicket, ActionEscalate, ActionRequestLogs:
		return true
	}
	return false
}

const (
	defaultLogType   = "application"
	defaultTimeRange = "1h"
)

// Payload is one of CreateTicketPayload, EscalatePayload or
// RequestLogsPayload. The set is closed.
type Payload interface {
	Action() ActionType
	validate() error
}

type CreateTicketPayload struct {
	Subject        string           `json:"subject,omitempty"`
	Description    string           `json:"description,omitempty"`
	Category       string           `json:"category,omitempty"`
	Priority       domain.Priority  `json:"priority,omitempty"`
	Sentiment      domain.Sentiment `json:"sentiment,omitempty"`
	Severity       int              `json:"severity,omitempty"`
	ConversationID string           `json:"conversationId,omitempty"`
}

func (CreateTicketPayload) Action() ActionType { return ActionCreateTicket }

// Field values are checked by the ticket workflow on create.
func (CreateTicketPayload) validate() error { return nil }

type EscalatePayload struct {
	TicketID string `json:"ticketId"`
	Reason   string `json:"reason,omitempty"`
}

func (EscalatePayload) Action() ActionType { return ActionEscalate }

func (p EscalatePayload) validate() error { return requireTicketID(p.TicketID) }

type RequestLogsPayload struct {
	TicketID  string `json:"ticketId"`
	LogType   string `json:"logType,omitempty"`
	TimeRange string `json:"timeRange,omitempty"`
}

func (RequestLogsPayload) Action() ActionType { return ActionRequestLogs }

func (p RequestLogsPayload) validate() error { return requireTicketID(p.TicketID) }

func (p RequestLogsPayload) withDefaults() RequestLogsPayload {
	if strings.TrimSpace(p.LogType) == "" {
		p.LogType = defaultLogType
	}
	if strings.TrimSpace(p.TimeRange) == "" {
		p.TimeRange = defaultTimeRange
	}
	return p
}

func requireTicketID(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewError(domain.ErrorInvalidPayload, "missing_ticket_id", nil)
	}
	if err := keys.ValidateID(id); err != nil {
		return domain.NewError(domain.ErrorInvalidPayload, "invalid_ticket_id", err)
	}
	return nil
}

// Request is a validated, typed safe-action call.
type Request struct {
	TenantID       string
	Payload        Payload
	UserID         string
	IdempotencyKey string
}

// RawRequest is the wire form of a safe-action call.
type RawRequest struct {
	TenantID       string          `json:"tenantId"`
	ActionType     string          `json:"actionType"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// Decode turns a wire request into a typed one. Checks run in a fixed
// order: tenant, then action type, then payload.
func Decode(raw RawRequest) (Request, error) {
	if strings.TrimSpace(raw.TenantID) == "" {
		return Request{}, domain.NewError(domain.ErrorMissingTenant, "missing_tenant", nil)
	}

	var p Payload
	var err error
	switch ActionType(raw.ActionType) {
	case ActionCreateTicket:
		p, err = decodePayload[CreateTicketPayload](raw.Payload)
	case ActionEscalate:
		p, err = decodePayload[EscalatePayload](raw.Payload)
	case ActionRequestLogs:
		p, err = decodePayload[RequestLogsPayload](raw.Payload)
	default:
		return Request{}, domain.NewError(domain.ErrorUnsupportedAction, "unsupported_action",
			fmt.Errorf("action type %q", raw.ActionType))
	}
	if err != nil {
		return Request{}, err
	}
	if err := p.validate(); err != nil {
		return Request{}, err
	}
	return Request{
		TenantID:       raw.TenantID,
		Payload:        p,
		UserID:         raw.UserID,
		IdempotencyKey: raw.IdempotencyKey,
	}, nil
}

func decodePayload[T Payload](data json.RawMessage) (Payload, error) {
	var p T
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, domain.NewError(domain.ErrorInvalidPayload, "malformed_payload", err)
	}
	return p, nil
}

// Result reports what an action did.
type Result struct {
	TicketID string `json:"ticketId"`
	Status   string `json:"status"`
}

const (
	StatusCreated       = "created"
	StatusEscalated     = "escalated"
	StatusLogsRequested = "logs_requested"
)
