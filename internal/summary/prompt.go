package summary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"flowops/internal/domain"
	"flowops/internal/integrations/openai"
)

const schemaName = "ticket_summary"

var responseSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "summary": {"type": "string"}
  },
  "required": ["summary"],
  "additionalProperties": false
}`)

type summaryResponse struct {
	Summary string `json:"summary"`
}

func buildPromptMessages(t domain.Ticket, convs []domain.Conversation, maxMessages int) []openai.Message {
	return []openai.Message{
		{Role: "system", Content: buildPolicyPrompt()},
		{Role: "user", Content: buildTicketPrompt(t, convs, maxMessages)},
	}
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are a support operations assistant writing an internal note for the human agent who picks up this ticket.",
		"",
		"Task:",
		"Summarize the customer's problem, what has been tried, and what is still open.",
		"",
		"Rules:",
		"1) Use only the ticket fields and transcript provided in this request.",
		"2) Write at most five sentences in plain text.",
		"3) Do not include greetings, apologies, or speculation about causes that the transcript does not support.",
		"4) Do not copy credentials, tokens, or personal data from the transcript.",
		"",
		"Output Contract:",
		"Return JSON only with the key summary (string).",
	}, "\n")
}

func buildTicketPrompt(t domain.Ticket, convs []domain.Conversation, maxMessages int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s\n", t.TicketID)
	fmt.Fprintf(&b, "Status: %s\nPriority: %s\nSeverity: %d\nSentiment: %s\n", t.Status, t.Priority, t.Severity, t.Sentiment)
	if t.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", t.Category)
	}
	fmt.Fprintf(&b, "Subject: %s\n", normalizePromptInput(t.Subject))
	fmt.Fprintf(&b, "Description: %s\n", normalizePromptInput(t.Description))

	msgs := transcript(convs, maxMessages)
	b.WriteString("\nTranscript:\n")
	if len(msgs) == 0 {
		b.WriteString("(no messages)\n")
		return b.String()
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, normalizePromptInput(m.Content))
	}
	return b.String()
}

// transcript flattens the conversations and keeps the most recent
// maxMessages entries. System messages are dropped.
func transcript(convs []domain.Conversation, maxMessages int) []domain.Message {
	var out []domain.Message
	for _, c := range convs {
		for _, m := range c.Messages {
			if m.Role == domain.RoleSystem || strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, m)
		}
	}
	if maxMessages > 0 && len(out) > maxMessages {
		out = out[len(out)-maxMessages:]
	}
	return out
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func parseSummary(raw string) (string, error) {
	var out summaryResponse
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return "", fmt.Errorf("summary: decode response: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return "", errors.New("summary: decode response: multiple JSON values")
		}
		return "", fmt.Errorf("summary: decode response trailing data: %w", err)
	}
	s := strings.TrimSpace(out.Summary)
	if s == "" {
		return "", errors.New("summary: empty summary")
	}
	return s, nil
}
