package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeTicketSubmitted = "TICKET_SUBMITTED"
	EventTypeTicketIngested  = "TICKET_INGESTED"
	EventTypeTicketRejected  = "TICKET_REJECTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// TicketSubmittedEvent published when a ticket is accepted for async processing.
// The attachment itself stays in Redis under StagingKey.
type TicketSubmittedEvent struct {
	BaseEvent
	TicketID   string `json:"ticket_id"`
	UserEmail  string `json:"user_email"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type,omitempty"`
	StagingKey string `json:"staging_key"`
}

// TicketIngestedEvent published after a ticket is committed
type TicketIngestedEvent struct {
	BaseEvent
	TicketID        string          `json:"ticket_id,omitempty"`
	InvoiceNumber   string          `json:"invoice_number"`
	UserEmail       string          `json:"user_email"`
	Total           decimal.Decimal `json:"total"`
	ItemsInserted   int             `json:"items_inserted"`
	TicketTimestamp time.Time       `json:"ticket_timestamp"`
}

// TicketRejectedEvent published when async processing of a ticket fails
type TicketRejectedEvent struct {
	BaseEvent
	TicketID  string `json:"ticket_id"`
	UserEmail string `json:"user_email"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}
