package model

import (
	"time"

	"gorm.io/gorm"
)

type TicketStatus string

const (
	TicketStatusNew    TicketStatus = "new"
	TicketStatusActive TicketStatus = "active"
	TicketStatusClosed TicketStatus = "closed"
)

// Valid reports whether s is one of the known ticket statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusNew, TicketStatusActive, TicketStatusClosed:
		return true
	}
	return false
}

// Label is the human readable status shown in ticket lists.
func (s TicketStatus) Label() string {
	switch s {
	case TicketStatusNew:
		return "New"
	case TicketStatusActive:
		return "In progress"
	case TicketStatusClosed:
		return "Closed"
	}
	return string(s)
}

type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Staff reports whether the role works the support queue.
func (r Role) Staff() bool {
	return r == RoleOperator || r == RoleAdmin
}

type User struct {
	ID   uint64 `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(255);not null" json:"name"`
	Role Role   `gorm:"type:varchar(32);not null" json:"role"`
}

type Ticket struct {
	ID            uint64       `gorm:"primaryKey" json:"id"`
	Subject       string       `gorm:"type:varchar(255)" json:"subject"`
	Status        TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	UserID        uint64       `gorm:"index;not null" json:"user_id"`
	OperatorID    *uint64      `gorm:"index" json:"operator_id"`
	LastMessageAt time.Time    `gorm:"index" json:"last_message_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TicketMessage is the stored form of a chat message. DeletedAt makes deletes soft.
type TicketMessage struct {
	ID         uint64         `gorm:"primaryKey" json:"id"`
	TicketID   uint64         `gorm:"index;not null" json:"ticket_id"`
	SenderID   uint64         `gorm:"not null" json:"sender_id"`
	SenderRole string         `gorm:"type:varchar(32);not null" json:"sender_role"`
	Content    string         `gorm:"type:text" json:"content,omitempty"`
	MediaURL   *string        `gorm:"type:varchar(512)" json:"media_url,omitempty"`
	ReplyToID  *uint64        `json:"reply_to_id"`
	CreatedAt  time.Time      `json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Message converts the stored row into its wire form.
func (m *TicketMessage) Message() Message {
	out := Message{
		ID:        m.ID,
		TicketID:  m.TicketID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		MediaURL:  m.MediaURL,
		ReplyToID: m.ReplyToID,
		CreatedAt: m.CreatedAt,
	}
	if m.DeletedAt.Valid {
		at := m.DeletedAt.Time
		out.DeletedAt = &at
	}
	return out
}
