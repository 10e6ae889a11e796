package models

import (
	"encoding/json"
	"strings"
)

const TicketStatusOpen = "Open"

// Ticket is consumed from the tickets service, never owned here. Status is kept
// raw so a missing or non-string value can be told apart from an empty one.
type Ticket struct {
	ID             int64           `json:"id"`
	Status         json.RawMessage `json:"status"`
	ConversationID *int64          `json:"conversationId,omitempty"`
}

// StatusString returns the status when it is a non-empty JSON string.
func (t Ticket) StatusString() (string, bool) {
	if len(t.Status) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(t.Status, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// TicketStatusEvent is published on the ticket status topic.
type TicketStatusEvent struct {
	TicketID       int64  `json:"ticketId"`
	ConversationID int64  `json:"conversationId"`
	Status         string `json:"status"`
}
