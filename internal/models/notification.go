package models

import "time"

// NotificationType tags the state change a notification signals.
const (
	NotificationTypeRequest = "REQUEST_UPDATE"
	NotificationTypePayment = "PAYMENT_UPDATE"
	NotificationTypeDispute = "DISPUTE_UPDATE"
	NotificationTypeTicket  = "TICKET_UPDATE"
	NotificationTypeAccount = "ACCOUNT_UPDATE"
)

// Notification is an in-app message targeted at one user. Rows are created
// only as a side effect of workflow mutations, inside the same transaction.
type Notification struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Type      string     `db:"type" json:"type"`
	Title     string     `db:"title" json:"title"`
	Message   string     `db:"message" json:"message"`
	Link      string     `db:"link" json:"link"`
	Read      bool       `db:"read" json:"read"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// NotificationFilter captures listing criteria for a user's notifications.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Type       string
	Page       int
	PageSize   int
}
