package models

import "time"

// DisputeStatus tracks a payment dispute lifecycle.
type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "OPEN"
	DisputeStatusUnderReview DisputeStatus = "UNDER_REVIEW"
	DisputeStatusResolved    DisputeStatus = "RESOLVED"
	DisputeStatusRejected    DisputeStatus = "REJECTED"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeStatusOpen:        {DisputeStatusUnderReview, DisputeStatusResolved, DisputeStatusRejected},
	DisputeStatusUnderReview: {DisputeStatusResolved, DisputeStatusRejected},
}

// ValidDisputeStatus reports whether the value is a known dispute status.
func ValidDisputeStatus(s DisputeStatus) bool {
	switch s {
	case DisputeStatusOpen, DisputeStatusUnderReview, DisputeStatusResolved, DisputeStatusRejected:
		return true
	}
	return false
}

// CanTransitionDispute reports whether from→to is an allowed transition.
func CanTransitionDispute(from, to DisputeStatus) bool {
	for _, allowed := range disputeTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// FinalDisputeStatus reports whether the status terminates the dispute.
func FinalDisputeStatus(s DisputeStatus) bool {
	return s == DisputeStatusResolved || s == DisputeStatusRejected
}

// PaymentDispute is a student's challenge to a rejected or flagged payment.
// At most one dispute exists per payment.
type PaymentDispute struct {
	ID            string        `db:"id" json:"id"`
	PaymentID     string        `db:"payment_id" json:"payment_id"`
	StudentID     string        `db:"student_id" json:"student_id"`
	Explanation   string        `db:"explanation" json:"explanation"`
	AdminResponse *string       `db:"admin_response" json:"admin_response,omitempty"`
	Status        DisputeStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	ResolvedAt    *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}
