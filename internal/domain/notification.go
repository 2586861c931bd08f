package domain

import "time"

type NotificationPriority string

const (
	NotifyNormal NotificationPriority = "normal"
	NotifyHigh   NotificationPriority = "high"
)

// Notification is a structured operator alert. Body is rendered as JSON by
// publishers; Attributes become transport-level message attributes.
type Notification struct {
	TenantID   string               `json:"tenantId"`
	TicketID   string               `json:"ticketId"`
	Action     string               `json:"action"`
	Priority   NotificationPriority `json:"priority"`
	Subject    string               `json:"-"`
	Details    map[string]string    `json:"details,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
	Attributes map[string]string    `json:"-"`
}

// Body is the flat message publishers serialize: the core fields plus every
// detail entry. Details never override core fields.
func (n Notification) Body() map[string]any {
	body := make(map[string]any, len(n.Details)+5)
	for k, v := range n.Details {
		body[k] = v
	}
	body["tenantId"] = n.TenantID
	body["ticketId"] = n.TicketID
	body["action"] = n.Action
	body["priority"] = string(n.Priority)
	body["timestamp"] = n.Timestamp.UTC().Format(time.RFC3339Nano)
	return body
}
