package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eduforge/eduforge-api/internal/models"
)

// TicketRepository persists support tickets and their replies. Status changes
// and reply insertion run through the WorkflowRepository.
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository constructs the repository.
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketColumns = `id, user_id, request_id, subject, priority, status, created_at, updated_at`

// FindByID returns a ticket by identifier.
func (r *TicketRepository) FindByID(ctx context.Context, id string) (*models.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id = $1 LIMIT 1`, ticketColumns)
	var ticket models.Ticket
	if err := r.db.GetContext(ctx, &ticket, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find ticket by id: %w", err)
	}
	return &ticket, nil
}

// List returns tickets matching the filter with total count.
func (r *TicketRepository) List(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, int, error) {
	baseQuery := `FROM tickets WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.RequestID != "" {
		conditions = append(conditions, fmt.Sprintf("request_id = $%d", len(args)+1))
		args = append(args, filter.RequestID)
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, *filter.Priority)
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	limit, offset := pageWindow(filter.Page, filter.PageSize, 20, 100)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY updated_at DESC LIMIT %d OFFSET %d", ticketColumns, baseQuery, limit, offset)

	var tickets []models.Ticket
	if err := r.db.SelectContext(ctx, &tickets, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	return tickets, total, nil
}

// Create inserts a new ticket.
func (r *TicketRepository) Create(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketStatusOpen
	}
	if ticket.Priority == "" {
		ticket.Priority = models.TicketPriorityNormal
	}
	now := time.Now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now

	const query = `INSERT INTO tickets (id, user_id, request_id, subject, priority, status, created_at, updated_at)
	VALUES (:id, :user_id, :request_id, :subject, :priority, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ticket); err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

// ListReplies returns a ticket's replies in chronological order.
func (r *TicketRepository) ListReplies(ctx context.Context, ticketID string) ([]models.TicketReply, error) {
	const query = `SELECT id, ticket_id, author_id, admin_author, message, created_at FROM ticket_replies WHERE ticket_id = $1 ORDER BY created_at ASC`
	var replies []models.TicketReply
	if err := r.db.SelectContext(ctx, &replies, query, ticketID); err != nil {
		return nil, fmt.Errorf("list ticket replies: %w", err)
	}
	return replies, nil
}
