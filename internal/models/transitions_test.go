package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionRequest(t *testing.T) {
	cases := []struct {
		from, to RequestStatus
		want     bool
	}{
		{RequestStatusCreated, RequestStatusPaymentSubmitted, true},
		{RequestStatusCreated, RequestStatusInProgress, false},
		{RequestStatusPaymentSubmitted, RequestStatusPaymentApproved, true},
		{RequestStatusPaymentSubmitted, RequestStatusPaymentRejected, true},
		{RequestStatusPaymentRejected, RequestStatusPaymentSubmitted, true},
		{RequestStatusPaymentRejected, RequestStatusPaymentApproved, true},
		{RequestStatusPaymentApproved, RequestStatusInProgress, true},
		{RequestStatusInProgress, RequestStatusDelivered, true},
		{RequestStatusDelivered, RequestStatusInProgress, true},
		{RequestStatusDelivered, RequestStatusCreated, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransitionRequest(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestAnyRequestStatusCanClose(t *testing.T) {
	for _, from := range []RequestStatus{
		RequestStatusCreated, RequestStatusPaymentSubmitted, RequestStatusPaymentApproved,
		RequestStatusPaymentRejected, RequestStatusInProgress, RequestStatusDelivered,
	} {
		assert.True(t, CanTransitionRequest(from, RequestStatusClosed), "%s should close", from)
	}
	assert.False(t, CanTransitionRequest(RequestStatusClosed, RequestStatusClosed))
}

func TestCanTransitionPayment(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentStatusPending, PaymentStatusApproved))
	assert.True(t, CanTransitionPayment(PaymentStatusPending, PaymentStatusRejected))
	assert.True(t, CanTransitionPayment(PaymentStatusPending, PaymentStatusUnderReview))
	assert.True(t, CanTransitionPayment(PaymentStatusRejected, PaymentStatusUnderReview))
	assert.True(t, CanTransitionPayment(PaymentStatusUnderReview, PaymentStatusApproved))
	assert.False(t, CanTransitionPayment(PaymentStatusApproved, PaymentStatusRejected))
	assert.False(t, CanTransitionPayment(PaymentStatusRejected, PaymentStatusApproved))
}

func TestCanTransitionDispute(t *testing.T) {
	assert.True(t, CanTransitionDispute(DisputeStatusOpen, DisputeStatusUnderReview))
	assert.True(t, CanTransitionDispute(DisputeStatusOpen, DisputeStatusResolved))
	assert.True(t, CanTransitionDispute(DisputeStatusUnderReview, DisputeStatusRejected))
	assert.False(t, CanTransitionDispute(DisputeStatusResolved, DisputeStatusRejected))
	assert.False(t, CanTransitionDispute(DisputeStatusRejected, DisputeStatusOpen))
}

func TestFinalDisputeStatus(t *testing.T) {
	assert.True(t, FinalDisputeStatus(DisputeStatusResolved))
	assert.True(t, FinalDisputeStatus(DisputeStatusRejected))
	assert.False(t, FinalDisputeStatus(DisputeStatusOpen))
	assert.False(t, FinalDisputeStatus(DisputeStatusUnderReview))
}

func TestCanTransitionTicket(t *testing.T) {
	assert.True(t, CanTransitionTicket(TicketStatusOpen, TicketStatusInProgress))
	assert.True(t, CanTransitionTicket(TicketStatusResolved, TicketStatusInProgress))
	assert.True(t, CanTransitionTicket(TicketStatusClosed, TicketStatusInProgress))
	assert.False(t, CanTransitionTicket(TicketStatusClosed, TicketStatusOpen))
	assert.False(t, CanTransitionTicket(TicketStatusResolved, TicketStatusOpen))
}

func TestValidStatuses(t *testing.T) {
	assert.True(t, ValidRequestStatus(RequestStatusInProgress))
	assert.False(t, ValidRequestStatus("SHIPPED"))
	assert.True(t, ValidPaymentStatus(PaymentStatusUnderReview))
	assert.False(t, ValidPaymentStatus(""))
	assert.True(t, ValidTicketPriority(TicketPriorityUrgent))
	assert.False(t, ValidTicketPriority("CRITICAL"))
}
