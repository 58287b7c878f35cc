package service

import (
	"context"
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

type ticketRepository interface {
	List(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, int, error)
	FindByID(ctx context.Context, id string) (*models.Ticket, error)
	Create(ctx context.Context, ticket *models.Ticket) error
	ListReplies(ctx context.Context, ticketID string) ([]models.TicketReply, error)
}

type ticketRequestReader interface {
	FindByID(ctx context.Context, id string) (*models.Request, error)
}

type ticketWorkflow interface {
	UpdateTicketStatus(ctx context.Context, params repository.UpdateTicketStatusParams) error
	CreateTicketReply(ctx context.Context, params repository.CreateTicketReplyParams) error
}

// CreateTicketRequest holds payload for opening a support ticket.
type CreateTicketRequest struct {
	Subject   string                `json:"subject" validate:"required,max=200"`
	Message   string                `json:"message" validate:"required"`
	Priority  models.TicketPriority `json:"priority"`
	RequestID *string               `json:"request_id,omitempty"`
}

// UpdateTicketStatusRequest holds payload for a ticket status change.
type UpdateTicketStatusRequest struct {
	Status models.TicketStatus `json:"status" validate:"required"`
}

// AddTicketReplyRequest holds payload for appending to a ticket conversation.
type AddTicketReplyRequest struct {
	Message string `json:"message" validate:"required"`
}

// TicketService drives the support ticket lifecycle.
type TicketService struct {
	repo      ticketRepository
	requests  ticketRequestReader
	workflow  ticketWorkflow
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTicketService constructs the ticket service.
func NewTicketService(repo ticketRepository, requests ticketRequestReader, workflow ticketWorkflow, validate *validator.Validate, logger *zap.Logger) *TicketService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{repo: repo, requests: requests, workflow: workflow, validator: validate, logger: logger}
}

// List returns tickets and pagination metadata. Students only see their own.
func (s *TicketService) List(ctx context.Context, actor models.Actor, filter models.TicketFilter) ([]models.Ticket, *models.Pagination, error) {
	if !actor.IsAdmin() {
		filter.UserID = actor.ID
	}
	tickets, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tickets")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return tickets, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one ticket, enforcing ownership for students.
func (s *TicketService) Get(ctx context.Context, actor models.Actor, id string) (*models.Ticket, error) {
	ticket, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "ticket not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ticket")
	}
	if !actor.IsAdmin() && ticket.UserID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot access another student's ticket")
	}
	return ticket, nil
}

// Replies returns the conversation for a ticket the actor may read.
func (s *TicketService) Replies(ctx context.Context, actor models.Actor, ticketID string) ([]models.TicketReply, error) {
	if _, err := s.Get(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	replies, err := s.repo.ListReplies(ctx, ticketID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list replies")
	}
	return replies, nil
}

// Create opens a ticket with its first message as the opening reply.
func (s *TicketService) Create(ctx context.Context, actor models.Actor, payload CreateTicketRequest, meta models.RequestMeta) (*models.Ticket, error) {
	if err := Authorize(actor, ActionTicketCreate); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ticket payload")
	}
	priority := payload.Priority
	if priority == "" {
		priority = models.TicketPriorityNormal
	}
	if !models.ValidTicketPriority(priority) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown ticket priority")
	}

	if payload.RequestID != nil {
		req, err := s.requests.FindByID(ctx, *payload.RequestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
		}
		if !actor.IsAdmin() && req.StudentID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot reference another student's request")
		}
	}

	now := time.Now().UTC()
	ticket := &models.Ticket{
		ID:        uuid.NewString(),
		UserID:    actor.ID,
		RequestID: payload.RequestID,
		Subject:   payload.Subject,
		Priority:  priority,
		Status:    models.TicketStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, ticket); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create ticket")
	}

	newValues, _ := json.Marshal(map[string]interface{}{"subject": ticket.Subject, "priority": ticket.Priority})
	effects := repository.SideEffects{
		Audit: &models.AuditLog{
			UserID:     &actor.ID,
			Action:     models.AuditActionTicketCreate,
			Resource:   "ticket",
			ResourceID: &ticket.ID,
			NewValues:  newValues,
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		},
	}
	if !actor.IsAdmin() {
		effects.AdminBroadcast = &models.Notification{
			Type:    models.NotificationTypeTicket,
			Title:   "New support ticket",
			Message: fmt.Sprintf("Ticket %q was opened.", ticket.Subject),
			Link:    "/admin/tickets/" + ticket.ID,
		}
	}

	err := s.workflow.CreateTicketReply(ctx, repository.CreateTicketReplyParams{
		Reply: &models.TicketReply{
			ID:          uuid.NewString(),
			TicketID:    ticket.ID,
			AuthorID:    actor.ID,
			AdminAuthor: actor.IsAdmin(),
			Message:     payload.Message,
		},
		Effects: effects,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record opening message")
	}
	return ticket, nil
}

// UpdateStatus transitions a ticket through the support lifecycle.
func (s *TicketService) UpdateStatus(ctx context.Context, actor models.Actor, id string, payload UpdateTicketStatusRequest, meta models.RequestMeta) (*models.Ticket, error) {
	if err := Authorize(actor, ActionTicketUpdateStatus); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidTicketStatus(payload.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown ticket status")
	}

	ticket, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "ticket not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ticket")
	}

	if ticket.Status == payload.Status {
		return ticket, nil
	}
	if !models.CanTransitionTicket(ticket.Status, payload.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move ticket from %s to %s", ticket.Status, payload.Status))
	}

	oldValues, _ := json.Marshal(map[string]interface{}{"status": ticket.Status})
	newValues, _ := json.Marshal(map[string]interface{}{"status": payload.Status})
	err = s.workflow.UpdateTicketStatus(ctx, repository.UpdateTicketStatusParams{
		TicketID: id,
		Status:   payload.Status,
		Effects: repository.SideEffects{
			Audit: &models.AuditLog{
				UserID:     &actor.ID,
				Action:     fmt.Sprintf("%s_%s", models.AuditActionUpdateTicketStatus, payload.Status),
				Resource:   "ticket",
				ResourceID: &id,
				OldValues:  oldValues,
				NewValues:  newValues,
				IPAddress:  meta.IP,
				UserAgent:  meta.UserAgent,
			},
			Notifications: []models.Notification{{
				UserID:  ticket.UserID,
				Type:    models.NotificationTypeTicket,
				Title:   "Ticket updated",
				Message: fmt.Sprintf("Ticket %q is now %s.", ticket.Subject, payload.Status),
				Link:    "/tickets/" + ticket.ID,
			}},
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update ticket status")
	}

	ticket.Status = payload.Status
	ticket.UpdatedAt = time.Now().UTC()
	return ticket, nil
}

// AddReply appends to the conversation. A reply from either party to a
// RESOLVED or CLOSED ticket reopens it to IN_PROGRESS in the same transaction.
func (s *TicketService) AddReply(ctx context.Context, actor models.Actor, ticketID string, payload AddTicketReplyRequest, meta models.RequestMeta) (*models.TicketReply, error) {
	if err := Authorize(actor, ActionTicketReply); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reply payload")
	}

	ticket, err := s.repo.FindByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "ticket not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ticket")
	}
	if !actor.IsAdmin() && ticket.UserID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot reply to another student's ticket")
	}

	reply := &models.TicketReply{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		AuthorID:    actor.ID,
		AdminAuthor: actor.IsAdmin(),
		Message:     payload.Message,
	}

	// A reply from either party reopens a settled ticket.
	params := repository.CreateTicketReplyParams{Reply: reply}
	reopened := false
	if ticket.Status == models.TicketStatusResolved || ticket.Status == models.TicketStatusClosed {
		inProgress := models.TicketStatusInProgress
		params.TicketStatus = &inProgress
		reopened = true
	}

	newValues, _ := json.Marshal(map[string]interface{}{"message": payload.Message, "reopened": reopened})
	params.Effects = repository.SideEffects{
		Audit: &models.AuditLog{
			UserID:     &actor.ID,
			Action:     models.AuditActionAddTicketReply,
			Resource:   "ticket",
			ResourceID: &ticketID,
			NewValues:  newValues,
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		},
	}
	title := "New reply"
	if reopened {
		title = "Ticket reopened"
	}
	if actor.IsAdmin() {
		params.Effects.Notifications = []models.Notification{{
			UserID:  ticket.UserID,
			Type:    models.NotificationTypeTicket,
			Title:   title,
			Message: fmt.Sprintf("Support replied to ticket %q.", ticket.Subject),
			Link:    "/tickets/" + ticket.ID,
		}}
	} else {
		params.Effects.AdminBroadcast = &models.Notification{
			Type:    models.NotificationTypeTicket,
			Title:   title,
			Message: fmt.Sprintf("The student replied to ticket %q.", ticket.Subject),
			Link:    "/admin/tickets/" + ticket.ID,
		}
	}

	if err := s.workflow.CreateTicketReply(ctx, params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add reply")
	}
	return reply, nil
}
