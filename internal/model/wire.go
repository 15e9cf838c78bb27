package model

import "time"

// Message is a chat message as exchanged over REST and the ticket socket.
type Message struct {
	ID        uint64     `json:"id"`
	TicketID  uint64     `json:"ticket_id,omitempty"`
	SenderID  uint64     `json:"sender_id"`
	Content   string     `json:"content,omitempty"`
	MediaURL  *string    `json:"media_url,omitempty"`
	ReplyToID *uint64    `json:"reply_to_id"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the message carries a deletion marker.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// TicketInfo is the ticket view returned by GET /api/support/tickets/:id.
type TicketInfo struct {
	ID            uint64       `json:"id"`
	Subject       string       `json:"subject"`
	Status        TicketStatus `json:"status"`
	UserID        uint64       `json:"user_id"`
	UserName      string       `json:"user_name"`
	OperatorID    *uint64      `json:"operator_id"`
	OperatorName  *string      `json:"operator_name"`
	LastMessageAt time.Time    `json:"last_message_at"`
}

// TicketSummary is one row of the "my tickets" and operator queue lists.
type TicketSummary struct {
	ID            uint64       `json:"id"`
	Subject       string       `json:"subject"`
	Status        TicketStatus `json:"status"`
	StatusLabel   string       `json:"status_label,omitempty"`
	UserID        uint64       `json:"user_id,omitempty"`
	UserName      string       `json:"user_name,omitempty"`
	OperatorID    *uint64      `json:"operator_id"`
	LastMessageAt time.Time    `json:"last_message_at"`
}

// Socket event names carried in Envelope.Event.
const (
	EventTicketMessage  = "support:ticket_message"
	EventTicketDelete   = "support:ticket_delete"
	EventTicketPresence = "support:ticket_presence"
	EventTicketClosed   = "support:ticket_closed"

	// Queue feed events, sent to staff watching the ticket queue.
	EventNewTicket      = "support:new_ticket"
	EventTicketAssigned = "support:ticket_assigned"
)

// Envelope is the server-to-client socket frame.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// DeletePayload is the data of a support:ticket_delete event.
type DeletePayload struct {
	MessageID uint64 `json:"message_id"`
}

// ClosedPayload is the data of a support:ticket_closed event.
type ClosedPayload struct {
	TicketID uint64 `json:"ticket_id"`
}

// NewTicketPayload is the data of a support:new_ticket event.
type NewTicketPayload struct {
	TicketID      uint64    `json:"ticket_id"`
	Subject       string    `json:"subject"`
	UserID        uint64    `json:"user_id"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// AssignedPayload is the data of a support:ticket_assigned event.
type AssignedPayload struct {
	TicketID   uint64  `json:"ticket_id"`
	OperatorID *uint64 `json:"operator_id"`
}

// OutboundMessage is the client-to-server send frame.
type OutboundMessage struct {
	Content string `json:"content"`
	ReplyTo uint64 `json:"reply_to,omitempty"`
	Media   string `json:"media,omitempty"`
}

// OutboundDelete is the client-to-server delete request frame.
type OutboundDelete struct {
	DeleteID uint64 `json:"delete_id"`
}

// InboundFrame is how the server reads any client frame; pointer fields tell
// a delete request from a send.
type InboundFrame struct {
	Content  *string `json:"content"`
	ReplyTo  *uint64 `json:"reply_to"`
	Media    *string `json:"media"`
	DeleteID *uint64 `json:"delete_id"`
}
