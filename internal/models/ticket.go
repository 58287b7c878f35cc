package models

import "time"

// TicketStatus tracks a support conversation lifecycle.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority orders support tickets.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityNormal TicketPriority = "NORMAL"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusResolved, TicketStatusClosed},
	TicketStatusResolved:   {TicketStatusClosed, TicketStatusInProgress},
	TicketStatusClosed:     {TicketStatusInProgress},
}

// ValidTicketStatus reports whether the value is a known ticket status.
func ValidTicketStatus(s TicketStatus) bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// ValidTicketPriority reports whether the value is a known priority.
func ValidTicketPriority(p TicketPriority) bool {
	switch p {
	case TicketPriorityLow, TicketPriorityNormal, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// CanTransitionTicket reports whether from→to is an allowed transition.
func CanTransitionTicket(from, to TicketStatus) bool {
	for _, allowed := range ticketTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Ticket is a support conversation thread, optionally tied to a request.
type Ticket struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	RequestID *string        `db:"request_id" json:"request_id,omitempty"`
	Subject   string         `db:"subject" json:"subject"`
	Priority  TicketPriority `db:"priority" json:"priority"`
	Status    TicketStatus   `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// TicketReply is one append-only entry in a ticket conversation.
type TicketReply struct {
	ID          string    `db:"id" json:"id"`
	TicketID    string    `db:"ticket_id" json:"ticket_id"`
	AuthorID    string    `db:"author_id" json:"author_id"`
	AdminAuthor bool      `db:"admin_author" json:"admin_author"`
	Message     string    `db:"message" json:"message"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TicketFilter captures listing criteria for tickets.
type TicketFilter struct {
	UserID    string
	RequestID string
	Status    []TicketStatus
	Priority  *TicketPriority
	Page      int
	PageSize  int
}
