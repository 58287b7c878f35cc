package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/eduforge/eduforge-api/internal/models"
)

// DisputeRepository reads payment disputes. Dispute mutations run through the
// WorkflowRepository.
type DisputeRepository struct {
	db *sqlx.DB
}

// NewDisputeRepository constructs the repository.
func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

const disputeColumns = `id, payment_id, student_id, explanation, admin_response, status, created_at, resolved_at`

// FindByID returns one dispute.
func (r *DisputeRepository) FindByID(ctx context.Context, id string) (*models.PaymentDispute, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_disputes WHERE id = $1 LIMIT 1`, disputeColumns)
	var dispute models.PaymentDispute
	if err := r.db.GetContext(ctx, &dispute, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find dispute: %w", err)
	}
	return &dispute, nil
}

// FindByPaymentID returns the dispute attached to a payment, if any.
func (r *DisputeRepository) FindByPaymentID(ctx context.Context, paymentID string) (*models.PaymentDispute, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_disputes WHERE payment_id = $1 LIMIT 1`, disputeColumns)
	var dispute models.PaymentDispute
	if err := r.db.GetContext(ctx, &dispute, query, paymentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find dispute by payment: %w", err)
	}
	return &dispute, nil
}

// List returns disputes, optionally scoped to a student or status set.
func (r *DisputeRepository) List(ctx context.Context, studentID string, statuses []models.DisputeStatus, page, pageSize int) ([]models.PaymentDispute, int, error) {
	baseQuery := `FROM payment_disputes WHERE 1=1`
	var conditions []string
	var args []interface{}

	if studentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, studentID)
	}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	limit, offset := pageWindow(page, pageSize, 20, 100)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", disputeColumns, baseQuery, limit, offset)

	var disputes []models.PaymentDispute
	if err := r.db.SelectContext(ctx, &disputes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list disputes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count disputes: %w", err)
	}

	return disputes, total, nil
}
