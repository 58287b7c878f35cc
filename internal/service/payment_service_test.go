package service

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/repository"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type mockPaymentRepo struct {
	items      map[string]*models.Payment
	listResult []models.Payment
	listTotal  int
}

func (m *mockPaymentRepo) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	return m.listResult, m.listTotal, nil
}

func (m *mockPaymentRepo) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	if p, ok := m.items[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

type mockDisputeRepo struct {
	items         map[string]*models.PaymentDispute
	byPayment     map[string]*models.PaymentDispute
	lastStudentID string
}

func (m *mockDisputeRepo) FindByID(ctx context.Context, id string) (*models.PaymentDispute, error) {
	if d, ok := m.items[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDisputeRepo) FindByPaymentID(ctx context.Context, paymentID string) (*models.PaymentDispute, error) {
	if d, ok := m.byPayment[paymentID]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDisputeRepo) List(ctx context.Context, studentID string, statuses []models.DisputeStatus, page, pageSize int) ([]models.PaymentDispute, int, error) {
	m.lastStudentID = studentID
	return nil, 0, nil
}

type mockPaymentWorkflow struct {
	payments    []repository.CreatePaymentParams
	reviews     []repository.UpdatePaymentStatusParams
	disputes    []repository.CreateDisputeParams
	resolutions []repository.ResolveDisputeParams
}

func (m *mockPaymentWorkflow) CreatePayment(ctx context.Context, params repository.CreatePaymentParams) error {
	m.payments = append(m.payments, params)
	return nil
}

func (m *mockPaymentWorkflow) UpdatePaymentStatus(ctx context.Context, params repository.UpdatePaymentStatusParams) error {
	m.reviews = append(m.reviews, params)
	return nil
}

func (m *mockPaymentWorkflow) CreateDispute(ctx context.Context, params repository.CreateDisputeParams) error {
	m.disputes = append(m.disputes, params)
	return nil
}

func (m *mockPaymentWorkflow) ResolveDispute(ctx context.Context, params repository.ResolveDisputeParams) error {
	m.resolutions = append(m.resolutions, params)
	return nil
}

func newPaymentService(repo *mockPaymentRepo, requests *mockRequestRepo, disputes *mockDisputeRepo, workflow *mockPaymentWorkflow) *PaymentService {
	return NewPaymentService(repo, requests, disputes, workflow, validator.New(), zap.NewNop())
}

func TestPaymentServiceSubmit(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1", Title: "Thesis", Status: models.RequestStatusCreated},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(&mockPaymentRepo{}, requests, &mockDisputeRepo{}, workflow)

	payment, err := service.Submit(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, SubmitPaymentRequest{
		RequestID: "req-1",
		Amount:    150.00,
		Currency:  "USD",
	}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Regexp(t, regexp.MustCompile(`^PAY-\d+-[A-Z0-9]{9}$`), payment.Reference)

	require.Len(t, workflow.payments, 1)
	params := workflow.payments[0]
	assert.Equal(t, models.RequestStatusPaymentSubmitted, params.RequestStatus)
	require.NotNil(t, params.Effects.AdminBroadcast)
}

func TestPaymentServiceSubmitWrongOwner(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1", Status: models.RequestStatusCreated},
	}}
	service := newPaymentService(&mockPaymentRepo{}, requests, &mockDisputeRepo{}, &mockPaymentWorkflow{})

	_, err := service.Submit(context.Background(), models.Actor{ID: "stu-2", Role: models.RoleStudent}, SubmitPaymentRequest{
		RequestID: "req-1", Amount: 20, Currency: "USD",
	}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestPaymentServiceSubmitRequestNotAccepting(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1", Status: models.RequestStatusInProgress},
	}}
	service := newPaymentService(&mockPaymentRepo{}, requests, &mockDisputeRepo{}, &mockPaymentWorkflow{})

	_, err := service.Submit(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, SubmitPaymentRequest{
		RequestID: "req-1", Amount: 20, Currency: "USD",
	}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestPaymentServiceReviewApprovedCascades(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", RequestID: "req-1", UserID: "stu-1", Reference: "PAY-1-ABCDEFGHI", Status: models.PaymentStatusPending},
	}}
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1", Title: "Thesis", Status: models.RequestStatusPaymentSubmitted},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(repo, requests, &mockDisputeRepo{}, workflow)

	payment, err := service.Review(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "pay-1",
		ReviewPaymentRequest{Status: models.PaymentStatusApproved}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusApproved, payment.Status)

	require.Len(t, workflow.reviews, 1)
	params := workflow.reviews[0]
	assert.Equal(t, models.RequestStatusPaymentApproved, params.RequestStatus)
	require.Len(t, params.Effects.Notifications, 1)
	assert.Equal(t, "stu-1", params.Effects.Notifications[0].UserID)
}

func TestPaymentServiceReviewUnderReviewKeepsRequestStatus(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", RequestID: "req-1", UserID: "stu-1", Status: models.PaymentStatusPending},
	}}
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1", Status: models.RequestStatusPaymentSubmitted},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(repo, requests, &mockDisputeRepo{}, workflow)

	_, err := service.Review(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "pay-1",
		ReviewPaymentRequest{Status: models.PaymentStatusUnderReview}, models.RequestMeta{})
	require.NoError(t, err)

	require.Len(t, workflow.reviews, 1)
	assert.Equal(t, models.RequestStatusPaymentSubmitted, workflow.reviews[0].RequestStatus)
}

func TestPaymentServiceReviewRejectionRequiresReason(t *testing.T) {
	service := newPaymentService(&mockPaymentRepo{}, &mockRequestRepo{}, &mockDisputeRepo{}, &mockPaymentWorkflow{})

	_, err := service.Review(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "pay-1",
		ReviewPaymentRequest{Status: models.PaymentStatusRejected}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestPaymentServiceReviewForbiddenForStudents(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", Status: models.PaymentStatusPending},
	}}
	service := newPaymentService(repo, &mockRequestRepo{}, &mockDisputeRepo{}, &mockPaymentWorkflow{})

	// The policy check fires before the payment is ever loaded.
	_, err := service.Review(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "missing",
		ReviewPaymentRequest{Status: models.PaymentStatusApproved}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestPaymentServiceFileDispute(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", RequestID: "req-1", UserID: "stu-1", Reference: "PAY-1-ABCDEFGHI", Status: models.PaymentStatusRejected},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(repo, &mockRequestRepo{}, &mockDisputeRepo{}, workflow)

	dispute, err := service.FileDispute(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "pay-1",
		FileDisputeRequest{Explanation: "the receipt was valid and legible"}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusOpen, dispute.Status)

	require.Len(t, workflow.disputes, 1)
	params := workflow.disputes[0]
	assert.Equal(t, models.PaymentStatusUnderReview, params.PaymentStatus)
	require.NotNil(t, params.Effects.AdminBroadcast)
}

func TestPaymentServiceFileDisputeAdminOnBehalf(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", RequestID: "req-1", UserID: "stu-1", Reference: "PAY-1-ABCDEFGHI", Status: models.PaymentStatusRejected},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(repo, &mockRequestRepo{}, &mockDisputeRepo{}, workflow)

	dispute, err := service.FileDispute(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "pay-1",
		FileDisputeRequest{Explanation: "student reported the rejection by phone"}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "stu-1", dispute.StudentID, "dispute is attributed to the payment owner")
	assert.Len(t, workflow.disputes, 1)
}

func TestPaymentServiceFileDisputeWrongOwner(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", UserID: "stu-1", Status: models.PaymentStatusRejected},
	}}
	service := newPaymentService(repo, &mockRequestRepo{}, &mockDisputeRepo{}, &mockPaymentWorkflow{})

	_, err := service.FileDispute(context.Background(), models.Actor{ID: "stu-2", Role: models.RoleStudent}, "pay-1",
		FileDisputeRequest{Explanation: "the receipt was valid and legible"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestPaymentServiceFileDisputeTwiceConflicts(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", UserID: "stu-1", Status: models.PaymentStatusRejected},
	}}
	disputes := &mockDisputeRepo{byPayment: map[string]*models.PaymentDispute{
		"pay-1": {ID: "dsp-1", PaymentID: "pay-1", StudentID: "stu-1", Status: models.DisputeStatusOpen},
	}}
	service := newPaymentService(repo, &mockRequestRepo{}, disputes, &mockPaymentWorkflow{})

	_, err := service.FileDispute(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "pay-1",
		FileDisputeRequest{Explanation: "the receipt was valid and legible"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrConflict.Code)
}

func TestPaymentServiceFileDisputeApprovedPaymentConflicts(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", UserID: "stu-1", Status: models.PaymentStatusApproved},
	}}
	service := newPaymentService(repo, &mockRequestRepo{}, &mockDisputeRepo{}, &mockPaymentWorkflow{})

	_, err := service.FileDispute(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "pay-1",
		FileDisputeRequest{Explanation: "I would like my money back"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrConflict.Code)
}

func TestPaymentServiceFileDisputeFraudFlagged(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", UserID: "stu-1", Status: models.PaymentStatusPending, FraudFlagged: true},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(repo, &mockRequestRepo{}, &mockDisputeRepo{}, workflow)

	_, err := service.FileDispute(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "pay-1",
		FileDisputeRequest{Explanation: "this payment is legitimate"}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Len(t, workflow.disputes, 1)
}

func TestPaymentServiceResolveDisputeAccepted(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", RequestID: "req-1", UserID: "stu-1", Reference: "PAY-1-ABCDEFGHI", Status: models.PaymentStatusUnderReview},
	}}
	disputes := &mockDisputeRepo{items: map[string]*models.PaymentDispute{
		"dsp-1": {ID: "dsp-1", PaymentID: "pay-1", StudentID: "stu-1", Status: models.DisputeStatusOpen},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(repo, &mockRequestRepo{}, disputes, workflow)

	dispute, err := service.ResolveDispute(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "dsp-1",
		ResolveDisputeRequest{Status: models.DisputeStatusResolved, Response: "receipt verified", ApprovePayment: true}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, dispute.Status)
	require.NotNil(t, dispute.ResolvedAt)

	require.Len(t, workflow.resolutions, 1)
	params := workflow.resolutions[0]
	require.NotNil(t, params.PaymentStatus)
	assert.Equal(t, models.PaymentStatusApproved, *params.PaymentStatus)
	require.NotNil(t, params.RequestStatus)
	assert.Equal(t, models.RequestStatusPaymentApproved, *params.RequestStatus)
	assert.Contains(t, string(params.Effects.Audit.NewValues), `"approve_payment":true`)
}

func TestPaymentServiceResolveDisputeWithoutApproval(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", RequestID: "req-1", UserID: "stu-1", Reference: "PAY-1-ABCDEFGHI", Status: models.PaymentStatusUnderReview},
	}}
	disputes := &mockDisputeRepo{items: map[string]*models.PaymentDispute{
		"dsp-1": {ID: "dsp-1", PaymentID: "pay-1", StudentID: "stu-1", Status: models.DisputeStatusOpen},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(repo, &mockRequestRepo{}, disputes, workflow)

	dispute, err := service.ResolveDispute(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "dsp-1",
		ResolveDisputeRequest{Status: models.DisputeStatusResolved, Response: "needs a fresh review"}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolved, dispute.Status)

	require.Len(t, workflow.resolutions, 1)
	params := workflow.resolutions[0]
	assert.Nil(t, params.PaymentStatus, "payment is untouched without the approval flag")
	assert.Nil(t, params.RequestStatus)
	require.Len(t, params.Effects.Notifications, 1)
	assert.Equal(t, "stu-1", params.Effects.Notifications[0].UserID)
}

func TestPaymentServiceResolveDisputeRejected(t *testing.T) {
	repo := &mockPaymentRepo{items: map[string]*models.Payment{
		"pay-1": {ID: "pay-1", RequestID: "req-1", UserID: "stu-1", Status: models.PaymentStatusUnderReview},
	}}
	disputes := &mockDisputeRepo{items: map[string]*models.PaymentDispute{
		"dsp-1": {ID: "dsp-1", PaymentID: "pay-1", StudentID: "stu-1", Status: models.DisputeStatusUnderReview},
	}}
	workflow := &mockPaymentWorkflow{}
	service := newPaymentService(repo, &mockRequestRepo{}, disputes, workflow)

	_, err := service.ResolveDispute(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "dsp-1",
		ResolveDisputeRequest{Status: models.DisputeStatusRejected, Response: "receipt did not match"}, models.RequestMeta{})
	require.NoError(t, err)

	require.Len(t, workflow.resolutions, 1)
	params := workflow.resolutions[0]
	require.NotNil(t, params.PaymentStatus)
	assert.Equal(t, models.PaymentStatusRejected, *params.PaymentStatus)
	assert.Nil(t, params.RequestStatus, "rejection should not touch the request")
}

func TestPaymentServiceResolveDisputeNonFinalStatus(t *testing.T) {
	service := newPaymentService(&mockPaymentRepo{}, &mockRequestRepo{}, &mockDisputeRepo{}, &mockPaymentWorkflow{})

	_, err := service.ResolveDispute(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "dsp-1",
		ResolveDisputeRequest{Status: models.DisputeStatusUnderReview, Response: "looking"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestPaymentServiceResolveDisputeAlreadyFinal(t *testing.T) {
	disputes := &mockDisputeRepo{items: map[string]*models.PaymentDispute{
		"dsp-1": {ID: "dsp-1", PaymentID: "pay-1", StudentID: "stu-1", Status: models.DisputeStatusResolved},
	}}
	service := newPaymentService(&mockPaymentRepo{}, &mockRequestRepo{}, disputes, &mockPaymentWorkflow{})

	_, err := service.ResolveDispute(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, "dsp-1",
		ResolveDisputeRequest{Status: models.DisputeStatusRejected, Response: "no"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrInvalidTransition.Code)
}

func TestPaymentServiceListDisputesScopesStudents(t *testing.T) {
	disputes := &mockDisputeRepo{}
	service := newPaymentService(&mockPaymentRepo{}, &mockRequestRepo{}, disputes, &mockPaymentWorkflow{})

	_, _, err := service.ListDisputes(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, nil, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", disputes.lastStudentID)

	_, _, err = service.ListDisputes(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin}, nil, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, disputes.lastStudentID, "admins see every dispute")
}

func TestGeneratePaymentReference(t *testing.T) {
	seen := make(map[string]struct{})
	pattern := regexp.MustCompile(`^PAY-\d+-[A-Z0-9]{9}$`)
	for i := 0; i < 50; i++ {
		ref, err := generatePaymentReference()
		require.NoError(t, err)
		assert.Regexp(t, pattern, ref)
		seen[ref] = struct{}{}
	}
	assert.Len(t, seen, 50, "references should not collide")
}
