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

type requestRepository interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
	FindByID(ctx context.Context, id string) (*models.Request, error)
}

type requestCatalogReader interface {
	FindByID(ctx context.Context, id string) (*models.CatalogService, error)
}

type requestWorkflow interface {
	CreateRequest(ctx context.Context, params repository.CreateRequestParams) error
	UpdateRequestStatus(ctx context.Context, params repository.UpdateRequestStatusParams) error
}

// CreateRequestRequest holds payload for opening a request.
type CreateRequestRequest struct {
	ServiceID    string    `json:"service_id" validate:"required"`
	Title        string    `json:"title" validate:"required,max=200"`
	Instructions string    `json:"instructions" validate:"required"`
	Deadline     time.Time `json:"deadline" validate:"required"`
}

// UpdateRequestStatusRequest holds payload for a status transition. Force lets
// an admin bypass the transition table; forced moves are still audited.
type UpdateRequestStatusRequest struct {
	Status models.RequestStatus `json:"status" validate:"required"`
	Reason string               `json:"reason"`
	Force  bool                 `json:"force"`
}

// RequestService drives the request lifecycle.
type RequestService struct {
	repo      requestRepository
	catalog   requestCatalogReader
	workflow  requestWorkflow
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService constructs the request service.
func NewRequestService(repo requestRepository, catalog requestCatalogReader, workflow requestWorkflow, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{repo: repo, catalog: catalog, workflow: workflow, validator: validate, logger: logger}
}

// List returns requests and pagination metadata. Students only see their own.
func (s *RequestService) List(ctx context.Context, actor models.Actor, filter models.RequestFilter) ([]models.Request, *models.Pagination, error) {
	if !actor.IsAdmin() {
		filter.StudentID = actor.ID
	}
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one request, enforcing ownership for students.
func (s *RequestService) Get(ctx context.Context, actor models.Actor, id string) (*models.Request, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !actor.IsAdmin() && req.StudentID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot access another student's request")
	}
	return req, nil
}

// Create opens a request in CREATED status against an active catalog service.
// Admins are notified in a single batched insert within the same transaction.
func (s *RequestService) Create(ctx context.Context, actor models.Actor, payload CreateRequestRequest, meta models.RequestMeta) (*models.Request, error) {
	if err := Authorize(actor, ActionRequestCreate); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	if !payload.Deadline.After(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "deadline must be in the future")
	}

	svc, err := s.catalog.FindByID(ctx, payload.ServiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "service not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service")
	}
	if !svc.Active {
		return nil, appErrors.Clone(appErrors.ErrConflict, "service is not accepting requests")
	}

	req := &models.Request{
		ID:           uuid.NewString(),
		StudentID:    actor.ID,
		ServiceID:    svc.ID,
		Title:        payload.Title,
		Instructions: payload.Instructions,
		Deadline:     payload.Deadline.UTC(),
		Status:       models.RequestStatusCreated,
	}

	newValues, _ := json.Marshal(map[string]interface{}{"status": req.Status, "service_id": req.ServiceID, "title": req.Title})
	err = s.workflow.CreateRequest(ctx, repository.CreateRequestParams{
		Request: req,
		Effects: repository.SideEffects{
			Audit: &models.AuditLog{
				UserID:     &actor.ID,
				Action:     models.AuditActionRequestCreate,
				Resource:   "request",
				ResourceID: &req.ID,
				NewValues:  newValues,
				IPAddress:  meta.IP,
				UserAgent:  meta.UserAgent,
			},
			AdminBroadcast: &models.Notification{
				Type:    models.NotificationTypeRequest,
				Title:   "New request",
				Message: fmt.Sprintf("A new request %q was opened for %s.", req.Title, svc.Title),
				Link:    "/admin/requests/" + req.ID,
			},
		},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	return req, nil
}

// UpdateStatus transitions a request. Only admins drive the lifecycle; the
// role check runs before the lookup so a non-admin probing an arbitrary ID
// learns nothing about its existence. Illegal moves are rejected against the
// transition table before anything is written.
func (s *RequestService) UpdateStatus(ctx context.Context, actor models.Actor, id string, payload UpdateRequestStatusRequest, meta models.RequestMeta) (*models.Request, error) {
	if err := Authorize(actor, ActionRequestUpdateStatus); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidRequestStatus(payload.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown request status")
	}

	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}

	if req.Status == payload.Status {
		return req, nil
	}
	forced := payload.Force
	if !forced && !models.CanTransitionRequest(req.Status, payload.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot move request from %s to %s", req.Status, payload.Status))
	}

	now := time.Now().UTC()
	params := repository.UpdateRequestStatusParams{
		RequestID: id,
		Status:    payload.Status,
	}
	if payload.Status == models.RequestStatusPaymentRejected && payload.Reason != "" {
		params.RejectionReason = &payload.Reason
	}
	if payload.Status == models.RequestStatusDelivered {
		params.DeliveredAt = &now
	}
	if payload.Status == models.RequestStatusClosed {
		params.ClosedAt = &now
	}

	oldValues, _ := json.Marshal(map[string]interface{}{"status": req.Status})
	newValues, _ := json.Marshal(map[string]interface{}{"status": payload.Status, "forced": forced, "reason": payload.Reason})
	params.Effects = repository.SideEffects{
		Audit: &models.AuditLog{
			UserID:     &actor.ID,
			Action:     fmt.Sprintf("%s_%s", models.AuditActionUpdateRequestStatus, payload.Status),
			Resource:   "request",
			ResourceID: &id,
			OldValues:  oldValues,
			NewValues:  newValues,
			IPAddress:  meta.IP,
			UserAgent:  meta.UserAgent,
		},
	}
	// The student only hears about the milestones they act on; intermediate
	// fulfilment states stay internal.
	if payload.Status == models.RequestStatusDelivered || payload.Status == models.RequestStatusClosed {
		params.Effects.Notifications = []models.Notification{{
			UserID:  req.StudentID,
			Type:    models.NotificationTypeRequest,
			Title:   "Request updated",
			Message: fmt.Sprintf("Your request %q is now %s.", req.Title, payload.Status),
			Link:    "/requests/" + req.ID,
		}}
	}

	if err := s.workflow.UpdateRequestStatus(ctx, params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request status")
	}

	req.Status = payload.Status
	req.UpdatedAt = now
	if params.RejectionReason != nil {
		req.RejectionReason = params.RejectionReason
	}
	if params.DeliveredAt != nil {
		req.DeliveredAt = params.DeliveredAt
	}
	if params.ClosedAt != nil {
		req.ClosedAt = params.ClosedAt
	}
	return req, nil
}
