package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/internal/repository"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type paymentRepository interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
	FindByID(ctx context.Context, id string) (*models.Payment, error)
}

type paymentRequestReader interface {
	FindByID(ctx context.Context, id string) (*models.Request, error)
}

type disputeRepository interface {
	FindByID(ctx context.Context, id string) (*models.PaymentDispute, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.PaymentDispute, error)
	List(ctx context.Context, studentID string, statuses []models.DisputeStatus, page, pageSize int) ([]models.PaymentDispute, int, error)
}

type paymentWorkflow interface {
	CreatePayment(ctx context.Context, params repository.CreatePaymentParams) error
	UpdatePaymentStatus(ctx context.Context, params repository.UpdatePaymentStatusParams) error
	CreateDispute(ctx context.Context, params repository.CreateDisputeParams) error
	ResolveDispute(ctx context.Context, params repository.ResolveDisputeParams) error
}

// SubmitPaymentRequest holds payload for submitting proof of payment.
type SubmitPaymentRequest struct {
	RequestID     string  `json:"request_id" validate:"required"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	Currency      string  `json:"currency" validate:"required,len=3"`
	ReceiptFileID *string `json:"receipt_file_id,omitempty"`
}

// ReviewPaymentRequest holds payload for an admin payment review.
type ReviewPaymentRequest struct {
	Status       models.PaymentStatus `json:"status" validate:"required"`
	Reason       string               `json:"reason"`
	FraudFlagged *bool                `json:"fraud_flagged,omitempty"`
}

// FileDisputeRequest holds payload for challenging a rejected payment.
type FileDisputeRequest struct {
	Explanation string `json:"explanation" validate:"required,min=10"`
}

// ResolveDisputeRequest holds payload for closing a dispute. ApprovePayment
// cascades the disputed payment to APPROVED when the resolution is RESOLVED;
// without it the dispute closes and the payment is left for a separate review.
type ResolveDisputeRequest struct {
	Status         models.DisputeStatus `json:"status" validate:"required"`
	Response       string               `json:"response" validate:"required"`
	ApprovePayment bool                 `json:"approve_payment"`
}

// PaymentService drives payment submission, review and disputes. Every
// mutation cascades to the parent request inside one transaction.
type PaymentService struct {
	repo      paymentRepository
	requests  paymentRequestReader
	disputes  disputeRepository
	workflow  paymentWorkflow
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaymentService constructs the payment service.
func NewPaymentService(repo paymentRepository, requests paymentRequestReader, disputes disputeRepository, workflow paymentWorkflow, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{repo: repo, requests: requests, disputes: disputes, workflow: workflow, validator: validate, logger: logger}
}

// List returns payments and pagination metadata. Students only see their own.
func (s *PaymentService) List(ctx context.Context, actor models.Actor, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	if !actor.IsAdmin() {
		filter.UserID = actor.ID
	}
	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one payment, enforcing ownership for students.
func (s *PaymentService) Get(ctx context.Context, actor models.Actor, id string) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if !actor.IsAdmin() && payment.UserID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot access another student's payment")
	}
	return payment, nil
}

// Submit records proof of payment against a request the student owns. The
// payment starts PENDING and moves the request to PAYMENT_SUBMITTED in the
// same transaction. Admins receive one batched notification.
func (s *PaymentService) Submit(ctx context.Context, actor models.Actor, payload SubmitPaymentRequest, meta models.RequestMeta) (*models.Payment, error) {
	if err := Authorize(actor, ActionPaymentSubmit); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	req, err := s.requests.FindByID(ctx, payload.RequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if req.StudentID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot pay for another student's request")
	}
	if !models.CanTransitionRequest(req.Status, models.RequestStatusPaymentSubmitted) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("request in status %s does not accept payments", req.Status))
	}

	reference, err := generatePaymentReference()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate payment reference")
	}

	payment := &models.Payment{
		ID:            uuid.NewString(),
		RequestID:     req.ID,
		UserID:        actor.ID,
		Reference:     reference,
		Amount:        payload.Amount,
		Currency:      payload.Currency,
		Status:        models.PaymentStatusPending,
		ReceiptFileID: payload.ReceiptFileID,
	}

	newValues, _ := json.Marshal(map[string]interface{}{"reference": reference, "amount": payment.Amount, "currency": payment.Currency})
	err = s.workflow.CreatePayment(ctx, repository.CreatePaymentParams{
		Payment:       payment,
		RequestStatus: models.RequestStatusPaymentSubmitted,
		Effects: repository.SideEffects{
			Audit: &models.AuditLog{
				UserID:     &actor.ID,
				Action:     models.AuditActionSubmitPayment,
				Resource:   "payment",
				ResourceID: &payment.ID,
				NewValues:  newValues,
				IPAddress:  meta.IP,
				UserAgent:  meta.UserAgent,
			},
			AdminBroadcast: &models.Notification{
				Type:    models.NotificationTypePayment,
				Title:   "Payment submitted",
				Message: fmt.Sprintf("Payment %s awaits review for request %q.", reference, req.Title),
				Link:    "/admin/payments/" + payment.ID,
			},
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit payment")
	}
	return payment, nil
}

// Review moves a payment to APPROVED, REJECTED or UNDER_REVIEW and cascades
// the matching request status. Rejections require a reason.
func (s *PaymentService) Review(ctx context.Context, actor models.Actor, id string, payload ReviewPaymentRequest, meta models.RequestMeta) (*models.Payment, error) {
	if err := Authorize(actor, ActionPaymentReview); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if !models.ValidPaymentStatus(payload.Status) || payload.Status == models.PaymentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown review status")
	}
	if payload.Status == models.PaymentStatusRejected && payload.Reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection requires a reason")
	}

	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if !models.CanTransitionPayment(payment.Status, payload.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move payment from %s to %s", payment.Status, payload.Status))
	}

	req, err := s.requests.FindByID(ctx, payment.RequestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent request")
	}

	requestStatus := req.Status
	var notifyTitle, notifyMessage string
	switch payload.Status {
	case models.PaymentStatusApproved:
		requestStatus = models.RequestStatusPaymentApproved
		notifyTitle = "Payment approved"
		notifyMessage = fmt.Sprintf("Payment %s was approved. Work on %q can begin.", payment.Reference, req.Title)
	case models.PaymentStatusRejected:
		requestStatus = models.RequestStatusPaymentRejected
		notifyTitle = "Payment rejected"
		notifyMessage = fmt.Sprintf("Payment %s was rejected: %s", payment.Reference, payload.Reason)
	case models.PaymentStatusUnderReview:
		notifyTitle = "Payment under review"
		notifyMessage = fmt.Sprintf("Payment %s is being looked at by our team.", payment.Reference)
	}

	params := repository.UpdatePaymentStatusParams{
		PaymentID:     id,
		Status:        payload.Status,
		FraudFlagged:  payload.FraudFlagged,
		RequestID:     payment.RequestID,
		RequestStatus: requestStatus,
	}
	if payload.Status == models.PaymentStatusRejected {
		params.RejectionReason = &payload.Reason
	}

	oldValues, _ := json.Marshal(map[string]interface{}{"status": payment.Status})
	newValues, _ := json.Marshal(map[string]interface{}{"status": payload.Status, "reason": payload.Reason, "fraud_flagged": payload.FraudFlagged})
	params.Effects = repository.SideEffects{
		Audit: &models.AuditLog{
			UserID:     &actor.ID,
			Action:     fmt.Sprintf("%s_%s", models.AuditActionUpdatePaymentStatus, payload.Status),
			Resource:   "payment",
			ResourceID: &id,
			OldValues:  oldValues,
			NewValues:  newValues,
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		},
		Notifications: []models.Notification{{
			UserID:  payment.UserID,
			Type:    models.NotificationTypePayment,
			Title:   notifyTitle,
			Message: notifyMessage,
			Link:    "/payments/" + payment.ID,
		}},
	}

	if err := s.workflow.UpdatePaymentStatus(ctx, params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to review payment")
	}

	payment.Status = payload.Status
	payment.UpdatedAt = time.Now().UTC()
	if params.RejectionReason != nil {
		payment.RejectionReason = params.RejectionReason
	}
	if payload.FraudFlagged != nil {
		payment.FraudFlagged = *payload.FraudFlagged
	}
	return payment, nil
}

// FileDispute opens a dispute against a rejected or fraud-flagged payment.
// The owning student files for themselves; an admin may file on the student's
// behalf, and the dispute is attributed to the payment's owner either way.
// At most one dispute exists per payment; a second filing is a conflict. The
// payment moves to UNDER_REVIEW in the same transaction.
func (s *PaymentService) FileDispute(ctx context.Context, actor models.Actor, paymentID string, payload FileDisputeRequest, meta models.RequestMeta) (*models.PaymentDispute, error) {
	if err := Authorize(actor, ActionDisputeFile); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dispute payload")
	}

	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if !actor.IsAdmin() && payment.UserID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot dispute another student's payment")
	}
	if payment.Status != models.PaymentStatusRejected && !payment.FraudFlagged {
		return nil, appErrors.Clone(appErrors.ErrConflict, "only rejected or flagged payments can be disputed")
	}

	if _, err := s.disputes.FindByPaymentID(ctx, paymentID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a dispute already exists for this payment")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing dispute")
	}

	dispute := &models.PaymentDispute{
		ID:          uuid.NewString(),
		PaymentID:   paymentID,
		StudentID:   payment.UserID,
		Explanation: payload.Explanation,
		Status:      models.DisputeStatusOpen,
	}

	newValues, _ := json.Marshal(map[string]interface{}{"payment_id": paymentID, "explanation": payload.Explanation})
	err = s.workflow.CreateDispute(ctx, repository.CreateDisputeParams{
		Dispute:       dispute,
		PaymentStatus: models.PaymentStatusUnderReview,
		Effects: repository.SideEffects{
			Audit: &models.AuditLog{
				UserID:     &actor.ID,
				Action:     models.AuditActionFileDispute,
				Resource:   "payment_dispute",
				ResourceID: &dispute.ID,
				NewValues:  newValues,
				IPAddress:  meta.IP,
				UserAgent:  meta.UserAgent,
			},
			AdminBroadcast: &models.Notification{
				Type:    models.NotificationTypeDispute,
				Title:   "Payment disputed",
				Message: fmt.Sprintf("Payment %s was disputed by the student.", payment.Reference),
				Link:    "/admin/disputes/" + dispute.ID,
			},
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to file dispute")
	}
	return dispute, nil
}

// ResolveDispute finalises a dispute. RESOLVED with ApprovePayment cascades
// the payment to APPROVED and its request to PAYMENT_APPROVED; RESOLVED alone
// closes the dispute without touching the payment; REJECTED returns the
// payment to REJECTED. Every outcome notifies the student in the same
// transaction.
func (s *PaymentService) ResolveDispute(ctx context.Context, actor models.Actor, disputeID string, payload ResolveDisputeRequest, meta models.RequestMeta) (*models.PaymentDispute, error) {
	if err := Authorize(actor, ActionDisputeResolve); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolution payload")
	}
	if !models.FinalDisputeStatus(payload.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resolution must be RESOLVED or REJECTED")
	}

	dispute, err := s.disputes.FindByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "dispute not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dispute")
	}
	if !models.CanTransitionDispute(dispute.Status, payload.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move dispute from %s to %s", dispute.Status, payload.Status))
	}

	payment, err := s.repo.FindByID(ctx, dispute.PaymentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load disputed payment")
	}

	now := time.Now().UTC()
	params := repository.ResolveDisputeParams{
		DisputeID:     disputeID,
		Status:        payload.Status,
		AdminResponse: &payload.Response,
		ResolvedAt:    now,
		PaymentID:     dispute.PaymentID,
		RequestID:     payment.RequestID,
	}

	var notifyTitle, notifyMessage string
	switch {
	case payload.Status == models.DisputeStatusResolved && payload.ApprovePayment:
		approved := models.PaymentStatusApproved
		requestApproved := models.RequestStatusPaymentApproved
		params.PaymentStatus = &approved
		params.RequestStatus = &requestApproved
		notifyTitle = "Dispute resolved"
		notifyMessage = fmt.Sprintf("Your dispute was accepted and payment %s is approved.", payment.Reference)
	case payload.Status == models.DisputeStatusResolved:
		notifyTitle = "Dispute resolved"
		notifyMessage = fmt.Sprintf("Your dispute for payment %s was resolved: %s", payment.Reference, payload.Response)
	default:
		rejected := models.PaymentStatusRejected
		params.PaymentStatus = &rejected
		notifyTitle = "Dispute rejected"
		notifyMessage = fmt.Sprintf("Your dispute for payment %s was rejected: %s", payment.Reference, payload.Response)
	}

	oldValues, _ := json.Marshal(map[string]interface{}{"status": dispute.Status})
	newValues, _ := json.Marshal(map[string]interface{}{"status": payload.Status, "response": payload.Response, "approve_payment": payload.ApprovePayment})
	params.Effects = repository.SideEffects{
		Audit: &models.AuditLog{
			UserID:     &actor.ID,
			Action:     models.AuditActionResolveDispute,
			Resource:   "payment_dispute",
			ResourceID: &disputeID,
			OldValues:  oldValues,
			NewValues:  newValues,
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		},
		Notifications: []models.Notification{{
			UserID:  dispute.StudentID,
			Type:    models.NotificationTypeDispute,
			Title:   notifyTitle,
			Message: notifyMessage,
			Link:    "/payments/" + dispute.PaymentID,
		}},
	}

	if err := s.workflow.ResolveDispute(ctx, params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve dispute")
	}

	dispute.Status = payload.Status
	dispute.AdminResponse = &payload.Response
	dispute.ResolvedAt = &now
	return dispute, nil
}

// GetDispute returns the dispute attached to a payment.
func (s *PaymentService) GetDispute(ctx context.Context, actor models.Actor, paymentID string) (*models.PaymentDispute, error) {
	dispute, err := s.disputes.FindByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "dispute not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dispute")
	}
	if !actor.IsAdmin() && dispute.StudentID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot access another student's dispute")
	}
	return dispute, nil
}

// ListDisputes returns disputes and pagination metadata. Students only see
// their own.
func (s *PaymentService) ListDisputes(ctx context.Context, actor models.Actor, statuses []models.DisputeStatus, page, pageSize int) ([]models.PaymentDispute, *models.Pagination, error) {
	studentID := ""
	if !actor.IsAdmin() {
		studentID = actor.ID
	}
	disputes, total, err := s.disputes.List(ctx, studentID, statuses, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list disputes")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return disputes, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generatePaymentReference mints a reference of the form
// PAY-<unix-millis>-<9 random alphanumerics>.
func generatePaymentReference() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return fmt.Sprintf("PAY-%d-%s", time.Now().UnixMilli(), string(buf)), nil
}
