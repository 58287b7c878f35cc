package models

import "time"

// PaymentStatus tracks a submitted proof of payment.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusApproved    PaymentStatus = "APPROVED"
	PaymentStatusRejected    PaymentStatus = "REJECTED"
	PaymentStatusUnderReview PaymentStatus = "UNDER_REVIEW"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:     {PaymentStatusApproved, PaymentStatusRejected, PaymentStatusUnderReview},
	PaymentStatusRejected:    {PaymentStatusUnderReview},
	PaymentStatusUnderReview: {PaymentStatusApproved, PaymentStatusRejected},
}

// ValidPaymentStatus reports whether the value is a known payment status.
func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected, PaymentStatusUnderReview:
		return true
	}
	return false
}

// CanTransitionPayment reports whether from→to is an allowed transition.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Payment is a student's submitted proof of payment against a request.
type Payment struct {
	ID              string        `db:"id" json:"id"`
	RequestID       string        `db:"request_id" json:"request_id"`
	UserID          string        `db:"user_id" json:"user_id"`
	Reference       string        `db:"reference" json:"reference"`
	Amount          float64       `db:"amount" json:"amount"`
	Currency        string        `db:"currency" json:"currency"`
	Status          PaymentStatus `db:"status" json:"status"`
	ReceiptFileID   *string       `db:"receipt_file_id" json:"receipt_file_id,omitempty"`
	FraudFlagged    bool          `db:"fraud_flagged" json:"fraud_flagged"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// PaymentFilter captures listing criteria for payments.
type PaymentFilter struct {
	UserID    string
	RequestID string
	Status    []PaymentStatus
	Reference string
	Page      int
	PageSize  int
}
