package models

import "time"

// RequestStatus tracks a request through the payment and fulfilment lifecycle.
type RequestStatus string

const (
	RequestStatusCreated          RequestStatus = "CREATED"
	RequestStatusPaymentSubmitted RequestStatus = "PAYMENT_SUBMITTED"
	RequestStatusPaymentApproved  RequestStatus = "PAYMENT_APPROVED"
	RequestStatusPaymentRejected  RequestStatus = "PAYMENT_REJECTED"
	RequestStatusInProgress       RequestStatus = "IN_PROGRESS"
	RequestStatusDelivered        RequestStatus = "DELIVERED"
	RequestStatusClosed           RequestStatus = "CLOSED"
)

// requestTransitions enumerates allowed source→target status pairs. Any status
// may move to CLOSED. Admins can bypass the table with an explicit force flag;
// forced transitions are still audited.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusCreated:          {RequestStatusPaymentSubmitted},
	RequestStatusPaymentSubmitted: {RequestStatusPaymentApproved, RequestStatusPaymentRejected},
	RequestStatusPaymentApproved:  {RequestStatusInProgress},
	RequestStatusPaymentRejected:  {RequestStatusPaymentSubmitted, RequestStatusPaymentApproved},
	RequestStatusInProgress:       {RequestStatusDelivered},
	RequestStatusDelivered:        {RequestStatusInProgress, RequestStatusClosed},
}

// ValidRequestStatus reports whether the value is a known request status.
func ValidRequestStatus(s RequestStatus) bool {
	switch s {
	case RequestStatusCreated, RequestStatusPaymentSubmitted, RequestStatusPaymentApproved,
		RequestStatusPaymentRejected, RequestStatusInProgress, RequestStatusDelivered, RequestStatusClosed:
		return true
	}
	return false
}

// CanTransitionRequest reports whether from→to is an allowed transition.
func CanTransitionRequest(from, to RequestStatus) bool {
	if to == RequestStatusClosed {
		return from != RequestStatusClosed
	}
	for _, allowed := range requestTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Request is a student's academic-assistance order tied to one catalog service.
type Request struct {
	ID              string        `db:"id" json:"id"`
	StudentID       string        `db:"student_id" json:"student_id"`
	ServiceID       string        `db:"service_id" json:"service_id"`
	Title           string        `db:"title" json:"title"`
	Instructions    string        `db:"instructions" json:"instructions"`
	Deadline        time.Time     `db:"deadline" json:"deadline"`
	Status          RequestStatus `db:"status" json:"status"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	DeliveredAt     *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ClosedAt        *time.Time    `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// RequestFilter captures listing criteria for requests.
type RequestFilter struct {
	StudentID string
	ServiceID string
	Status    []RequestStatus
	Search    string
	Page      int
	PageSize  int
}
