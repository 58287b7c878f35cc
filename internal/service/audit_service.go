package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/eduforge/eduforge-api/internal/models"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type auditRepository interface {
	FindByID(ctx context.Context, id string) (*models.AuditLog, error)
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// AuditService exposes the read-only audit trail to admins.
type AuditService struct {
	repo   auditRepository
	logger *zap.Logger
}

// NewAuditService constructs the audit service.
func NewAuditService(repo auditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// List returns audit entries and pagination metadata.
func (s *AuditService) List(ctx context.Context, actor models.Actor, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	if err := Authorize(actor, ActionAuditView); err != nil {
		return nil, nil, err
	}
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return logs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one audit entry.
func (s *AuditService) Get(ctx context.Context, actor models.Actor, id string) (*models.AuditLog, error) {
	if err := Authorize(actor, ActionAuditView); err != nil {
		return nil, err
	}
	log, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "audit log not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit log")
	}
	return log, nil
}
