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
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type catalogRepository interface {
	List(ctx context.Context, filter models.CatalogFilter) ([]models.CatalogService, int, error)
	FindByID(ctx context.Context, id string) (*models.CatalogService, error)
	Create(ctx context.Context, svc *models.CatalogService) error
	Update(ctx context.Context, svc *models.CatalogService) error
	Delete(ctx context.Context, id string) error
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type catalogAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateCatalogServiceRequest holds payload for adding a catalog entry.
type CreateCatalogServiceRequest struct {
	Title       string  `json:"title" validate:"required"`
	Description string  `json:"description" validate:"required"`
	Price       float64 `json:"price" validate:"required,gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Active      bool    `json:"active"`
}

// UpdateCatalogServiceRequest holds payload for updating a catalog entry.
type UpdateCatalogServiceRequest struct {
	Title       string  `json:"title" validate:"required"`
	Description string  `json:"description" validate:"required"`
	Price       float64 `json:"price" validate:"required,gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Active      bool    `json:"active"`
}

type cachedCatalogList struct {
	Services []models.CatalogService `json:"services"`
	Total    int                     `json:"total"`
}

// CatalogService manages the offered services, with a Redis cache in front of
// the read paths. Writes invalidate the whole catalog keyspace.
type CatalogService struct {
	repo      catalogRepository
	cache     catalogCache
	audit     catalogAuditWriter
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewCatalogService constructs the catalog service.
func NewCatalogService(repo catalogRepository, cache catalogCache, audit catalogAuditWriter, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CatalogService{repo: repo, cache: cache, audit: audit, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

// List returns catalog entries and pagination metadata. Students only see
// active entries; the visibility restriction is part of the cache key.
func (s *CatalogService) List(ctx context.Context, actor models.Actor, filter models.CatalogFilter) ([]models.CatalogService, *models.Pagination, error) {
	if !actor.IsAdmin() {
		active := true
		filter.Active = &active
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	key := catalogListKey(filter, page, size)
	if s.cache != nil {
		var cached cachedCatalogList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Services, &models.Pagination{Page: page, PageSize: size, TotalCount: cached.Total}, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("catalog cache read failed", zap.Error(err))
		}
	}

	services, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list catalog")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedCatalogList{Services: services, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("catalog cache write failed", zap.Error(err))
		}
	}

	return services, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one catalog entry. Inactive entries are hidden from students.
func (s *CatalogService) Get(ctx context.Context, actor models.Actor, id string) (*models.CatalogService, error) {
	key := fmt.Sprintf("catalog:item:%s", id)
	if s.cache != nil {
		var cached models.CatalogService
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if !cached.Active && !actor.IsAdmin() {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "service not found")
			}
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("catalog cache read failed", zap.Error(err))
		}
	}

	svc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "service not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, svc, s.cacheTTL); err != nil {
			s.logger.Warn("catalog cache write failed", zap.Error(err))
		}
	}

	if !svc.Active && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "service not found")
	}
	return svc, nil
}

// Create adds a catalog entry.
func (s *CatalogService) Create(ctx context.Context, actor models.Actor, req CreateCatalogServiceRequest, meta models.RequestMeta) (*models.CatalogService, error) {
	if err := Authorize(actor, ActionCatalogManage); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid service payload")
	}

	now := time.Now().UTC()
	svc := &models.CatalogService{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		Active:      req.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, svc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create service")
	}

	s.invalidate(ctx)
	s.auditChange(ctx, actor, models.AuditActionServiceCreate, svc, meta)
	return svc, nil
}

// Update modifies a catalog entry.
func (s *CatalogService) Update(ctx context.Context, actor models.Actor, id string, req UpdateCatalogServiceRequest, meta models.RequestMeta) (*models.CatalogService, error) {
	if err := Authorize(actor, ActionCatalogManage); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid service payload")
	}

	svc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "service not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service")
	}

	svc.Title = req.Title
	svc.Description = req.Description
	svc.Price = req.Price
	svc.Currency = req.Currency
	svc.Active = req.Active
	svc.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, svc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update service")
	}

	s.invalidate(ctx)
	s.auditChange(ctx, actor, models.AuditActionServiceUpdate, svc, meta)
	return svc, nil
}

// Delete removes a catalog entry. Existing requests keep their service ID.
func (s *CatalogService) Delete(ctx context.Context, actor models.Actor, id string, meta models.RequestMeta) error {
	if err := Authorize(actor, ActionCatalogManage); err != nil {
		return err
	}

	svc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "service not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete service")
	}

	s.invalidate(ctx)
	s.auditChange(ctx, actor, models.AuditActionServiceDelete, svc, meta)
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "catalog:*"); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

func (s *CatalogService) auditChange(ctx context.Context, actor models.Actor, action string, svc *models.CatalogService, meta models.RequestMeta) {
	payload, _ := json.Marshal(svc)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     action,
		Resource:   "catalog_service",
		ResourceID: &svc.ID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record catalog audit log", zap.String("action", action), zap.Error(err))
	}
}

func catalogListKey(filter models.CatalogFilter, page, size int) string {
	active := "all"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("catalog:list:%s:%s:%d:%d", active, filter.Search, page, size)
}
