package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eduforge/eduforge-api/internal/models"
)

// workflowMetrics counts applied transitions and notification fan-out.
type workflowMetrics interface {
	RecordTransition(entity, status string)
	RecordNotifications(n int)
}

// WorkflowRepository applies status transitions together with their audit and
// notification side effects in a single database transaction. A workflow
// mutation either lands with its full trail or not at all.
type WorkflowRepository struct {
	db      *sqlx.DB
	metrics workflowMetrics
}

// NewWorkflowRepository constructs the repository.
func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// WithMetrics attaches a transition counter. Safe to skip in tests.
func (r *WorkflowRepository) WithMetrics(m workflowMetrics) *WorkflowRepository {
	r.metrics = m
	return r
}

func (r *WorkflowRepository) recordTransition(entity, status string, notified int) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordTransition(entity, status)
	if notified > 0 {
		r.metrics.RecordNotifications(notified)
	}
}

// SideEffects bundles the trail written alongside a workflow mutation.
// AdminBroadcast inserts one notification per non-suspended admin in a single
// INSERT ... SELECT statement.
type SideEffects struct {
	Audit          *models.AuditLog
	Notifications  []models.Notification
	AdminBroadcast *models.Notification
}

// CreateRequestParams captures a new request and its trail.
type CreateRequestParams struct {
	Request *models.Request
	Effects SideEffects
}

// CreateRequest inserts a request and records the trail.
func (r *WorkflowRepository) CreateRequest(ctx context.Context, params CreateRequestParams) (err error) {
	req := params.Request
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertQuery = `INSERT INTO requests (id, student_id, service_id, title, instructions, deadline, status, rejection_reason, delivered_at, closed_at, created_at, updated_at)
	VALUES (:id, :student_id, :service_id, :title, :instructions, :deadline, :status, :rejection_reason, :delivered_at, :closed_at, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, req); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit request: %w", err)
	}
	r.recordTransition("request", string(req.Status), notified)
	return nil
}

// UpdateRequestStatusParams captures a request status change.
type UpdateRequestStatusParams struct {
	RequestID       string
	Status          models.RequestStatus
	RejectionReason *string
	DeliveredAt     *time.Time
	ClosedAt        *time.Time
	Effects         SideEffects
}

// UpdateRequestStatus transitions a request and records the trail.
func (r *WorkflowRepository) UpdateRequestStatus(ctx context.Context, params UpdateRequestStatusParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request status transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	setParts := []string{"status = $2", "updated_at = $3"}
	args := []interface{}{params.RequestID, params.Status, time.Now().UTC()}
	if params.RejectionReason != nil {
		args = append(args, *params.RejectionReason)
		setParts = append(setParts, fmt.Sprintf("rejection_reason = $%d", len(args)))
	}
	if params.DeliveredAt != nil {
		args = append(args, *params.DeliveredAt)
		setParts = append(setParts, fmt.Sprintf("delivered_at = $%d", len(args)))
	}
	if params.ClosedAt != nil {
		args = append(args, *params.ClosedAt)
		setParts = append(setParts, fmt.Sprintf("closed_at = $%d", len(args)))
	}

	query := fmt.Sprintf("UPDATE requests SET %s WHERE id = $1", strings.Join(setParts, ", "))
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update request status: %w", err)
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit request status: %w", err)
	}
	r.recordTransition("request", string(params.Status), notified)
	return nil
}

// CreatePaymentParams captures a payment submission and its request cascade.
type CreatePaymentParams struct {
	Payment       *models.Payment
	RequestStatus models.RequestStatus
	Effects       SideEffects
}

// CreatePayment inserts the payment, cascades the parent request status and
// records the trail.
func (r *WorkflowRepository) CreatePayment(ctx context.Context, params CreatePaymentParams) (err error) {
	payment := params.Payment
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertQuery = `INSERT INTO payments (id, request_id, user_id, reference, amount, currency, status, receipt_file_id, fraud_flagged, rejection_reason, created_at, updated_at)
	VALUES (:id, :request_id, :user_id, :reference, :amount, :currency, :status, :receipt_file_id, :fraud_flagged, :rejection_reason, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, payment); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	const cascadeQuery = `UPDATE requests SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, cascadeQuery, payment.RequestID, params.RequestStatus, now); err != nil {
		return fmt.Errorf("cascade request status: %w", err)
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit payment: %w", err)
	}
	r.recordTransition("payment", string(payment.Status), notified)
	return nil
}

// UpdatePaymentStatusParams captures a payment review and its request cascade.
type UpdatePaymentStatusParams struct {
	PaymentID       string
	Status          models.PaymentStatus
	RejectionReason *string
	FraudFlagged    *bool
	RequestID       string
	RequestStatus   models.RequestStatus
	Effects         SideEffects
}

// UpdatePaymentStatus transitions a payment, cascades the parent request and
// records the trail.
func (r *WorkflowRepository) UpdatePaymentStatus(ctx context.Context, params UpdatePaymentStatusParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment status transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	setParts := []string{"status = $2", "updated_at = $3"}
	args := []interface{}{params.PaymentID, params.Status, now}
	if params.RejectionReason != nil {
		args = append(args, *params.RejectionReason)
		setParts = append(setParts, fmt.Sprintf("rejection_reason = $%d", len(args)))
	}
	if params.FraudFlagged != nil {
		args = append(args, *params.FraudFlagged)
		setParts = append(setParts, fmt.Sprintf("fraud_flagged = $%d", len(args)))
	}

	query := fmt.Sprintf("UPDATE payments SET %s WHERE id = $1", strings.Join(setParts, ", "))
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	const cascadeQuery = `UPDATE requests SET status = $2, rejection_reason = $3, updated_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, cascadeQuery, params.RequestID, params.RequestStatus, params.RejectionReason, now); err != nil {
		return fmt.Errorf("cascade request status: %w", err)
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit payment status: %w", err)
	}
	r.recordTransition("payment", string(params.Status), notified)
	return nil
}

// CreateDisputeParams captures a dispute filing and its payment transition.
type CreateDisputeParams struct {
	Dispute       *models.PaymentDispute
	PaymentStatus models.PaymentStatus
	Effects       SideEffects
}

// CreateDispute inserts the dispute, moves the payment under review and
// records the trail.
func (r *WorkflowRepository) CreateDispute(ctx context.Context, params CreateDisputeParams) (err error) {
	dispute := params.Dispute
	if dispute.ID == "" {
		dispute.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if dispute.CreatedAt.IsZero() {
		dispute.CreatedAt = now
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dispute transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertQuery = `INSERT INTO payment_disputes (id, payment_id, student_id, explanation, admin_response, status, created_at, resolved_at)
	VALUES (:id, :payment_id, :student_id, :explanation, :admin_response, :status, :created_at, :resolved_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, dispute); err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}

	const paymentQuery = `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, paymentQuery, dispute.PaymentID, params.PaymentStatus, now); err != nil {
		return fmt.Errorf("update disputed payment: %w", err)
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit dispute: %w", err)
	}
	r.recordTransition("dispute", string(dispute.Status), notified)
	return nil
}

// ResolveDisputeParams captures a dispute resolution and its cascades.
type ResolveDisputeParams struct {
	DisputeID     string
	Status        models.DisputeStatus
	AdminResponse *string
	ResolvedAt    time.Time
	PaymentID     string
	PaymentStatus *models.PaymentStatus
	RequestID     string
	RequestStatus *models.RequestStatus
	Effects       SideEffects
}

// ResolveDispute finalises a dispute and optionally cascades approval to the
// payment and request.
func (r *WorkflowRepository) ResolveDispute(ctx context.Context, params ResolveDisputeParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dispute resolution transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	const disputeQuery = `UPDATE payment_disputes SET status = $2, admin_response = $3, resolved_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, disputeQuery, params.DisputeID, params.Status, params.AdminResponse, params.ResolvedAt); err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}

	if params.PaymentStatus != nil {
		const paymentQuery = `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, paymentQuery, params.PaymentID, *params.PaymentStatus, now); err != nil {
			return fmt.Errorf("cascade payment status: %w", err)
		}
	}
	if params.RequestStatus != nil {
		const requestQuery = `UPDATE requests SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, requestQuery, params.RequestID, *params.RequestStatus, now); err != nil {
			return fmt.Errorf("cascade request status: %w", err)
		}
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit dispute resolution: %w", err)
	}
	r.recordTransition("dispute", string(params.Status), notified)
	return nil
}

// SetUserSuspensionParams captures an account suspension change.
type SetUserSuspensionParams struct {
	UserID    string
	Suspended bool
	Reason    *string
	Effects   SideEffects
}

// SetUserSuspension flips a user's suspension flag and records the trail.
func (r *WorkflowRepository) SetUserSuspension(ctx context.Context, params SetUserSuspensionParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin suspension transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE users SET suspended = $2, suspension_reason = $3, updated_at = $4 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, query, params.UserID, params.Suspended, params.Reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("update user suspension: %w", err)
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit suspension: %w", err)
	}
	status := "ACTIVE"
	if params.Suspended {
		status = "SUSPENDED"
	}
	r.recordTransition("user", status, notified)
	return nil
}

// UpdateTicketStatusParams captures a ticket status change.
type UpdateTicketStatusParams struct {
	TicketID string
	Status   models.TicketStatus
	Effects  SideEffects
}

// UpdateTicketStatus transitions a ticket and records the trail.
func (r *WorkflowRepository) UpdateTicketStatus(ctx context.Context, params UpdateTicketStatusParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ticket status transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE tickets SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, query, params.TicketID, params.Status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ticket status: %w", err)
	}
	r.recordTransition("ticket", string(params.Status), notified)
	return nil
}

// CreateTicketReplyParams captures a ticket reply and an optional reopen.
type CreateTicketReplyParams struct {
	Reply        *models.TicketReply
	TicketStatus *models.TicketStatus
	Effects      SideEffects
}

// CreateTicketReply appends a ticket reply, optionally reopening the ticket,
// and records the trail.
func (r *WorkflowRepository) CreateTicketReply(ctx context.Context, params CreateTicketReplyParams) (err error) {
	reply := params.Reply
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ticket reply transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertQuery = `INSERT INTO ticket_replies (id, ticket_id, author_id, admin_author, message, created_at)
	VALUES (:id, :ticket_id, :author_id, :admin_author, :message, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, reply); err != nil {
		return fmt.Errorf("insert ticket reply: %w", err)
	}

	if params.TicketStatus != nil {
		const reopenQuery = `UPDATE tickets SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, reopenQuery, reply.TicketID, *params.TicketStatus, time.Now().UTC()); err != nil {
			return fmt.Errorf("reopen ticket: %w", err)
		}
	} else {
		const touchQuery = `UPDATE tickets SET updated_at = $2 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, touchQuery, reply.TicketID, time.Now().UTC()); err != nil {
			return fmt.Errorf("touch ticket: %w", err)
		}
	}

	var notified int
	if notified, err = r.applySideEffects(ctx, tx, params.Effects); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ticket reply: %w", err)
	}
	if params.TicketStatus != nil {
		r.recordTransition("ticket", string(*params.TicketStatus), notified)
	} else if r.metrics != nil && notified > 0 {
		r.metrics.RecordNotifications(notified)
	}
	return nil
}

func (r *WorkflowRepository) applySideEffects(ctx context.Context, tx *sqlx.Tx, fx SideEffects) (int, error) {
	if fx.Audit != nil {
		log := fx.Audit
		if log.ID == "" {
			log.ID = uuid.NewString()
		}
		if log.CreatedAt.IsZero() {
			log.CreatedAt = time.Now().UTC()
		}
		const auditQuery = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at)
	VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
		if _, err := tx.NamedExecContext(ctx, auditQuery, log); err != nil {
			return 0, fmt.Errorf("insert audit log: %w", err)
		}
	}

	notified := 0
	const notificationQuery = `INSERT INTO notifications (id, user_id, type, title, message, link, read, created_at)
	VALUES (:id, :user_id, :type, :title, :message, :link, :read, :created_at)`
	for i := range fx.Notifications {
		n := &fx.Notifications[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.NamedExecContext(ctx, notificationQuery, n); err != nil {
			return 0, fmt.Errorf("insert notification: %w", err)
		}
		notified++
	}

	if fx.AdminBroadcast != nil {
		b := fx.AdminBroadcast
		const broadcastQuery = `INSERT INTO notifications (id, user_id, type, title, message, link, read, created_at)
	SELECT gen_random_uuid()::text, u.id, $1, $2, $3, $4, FALSE, $5 FROM users u WHERE u.role = 'ADMIN' AND u.suspended = FALSE`
		res, err := tx.ExecContext(ctx, broadcastQuery, b.Type, b.Title, b.Message, b.Link, time.Now().UTC())
		if err != nil {
			return 0, fmt.Errorf("broadcast admin notifications: %w", err)
		}
		if rows, err := res.RowsAffected(); err == nil {
			notified += int(rows)
		}
	}

	return notified, nil
}
