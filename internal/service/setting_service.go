package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eduforge/eduforge-api/internal/models"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type settingRepository interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	List(ctx context.Context) ([]models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
}

type settingCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type settingAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UpdateSettingRequest holds payload for writing a setting.
type UpdateSettingRequest struct {
	Value string `json:"value" validate:"required"`
	Type  string `json:"type" validate:"required,oneof=string int csv"`
}

// SettingService manages platform settings with a short-lived cache.
type SettingService struct {
	repo      settingRepository
	cache     settingCache
	audit     settingAuditWriter
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewSettingService constructs the setting service.
func NewSettingService(repo settingRepository, cache settingCache, audit settingAuditWriter, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *SettingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &SettingService{repo: repo, cache: cache, audit: audit, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

// List returns all settings.
func (s *SettingService) List(ctx context.Context) ([]models.Setting, error) {
	if s.cache != nil {
		var cached []models.Setting
		if err := s.cache.Get(ctx, "settings:all", &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("settings cache read failed", zap.Error(err))
		}
	}

	settings, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list settings")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, "settings:all", settings, s.cacheTTL); err != nil {
			s.logger.Warn("settings cache write failed", zap.Error(err))
		}
	}
	return settings, nil
}

// Get returns one setting by key.
func (s *SettingService) Get(ctx context.Context, key string) (*models.Setting, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "setting not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting")
	}
	return setting, nil
}

// Update writes a setting and invalidates the cache.
func (s *SettingService) Update(ctx context.Context, actor models.Actor, key string, req UpdateSettingRequest, meta models.RequestMeta) (*models.Setting, error) {
	if err := Authorize(actor, ActionSettingManage); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid setting payload")
	}
	if req.Type == "int" {
		if _, err := strconv.ParseInt(req.Value, 10, 64); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "value is not a valid integer")
		}
	}

	setting := &models.Setting{
		Key:       key,
		Value:     req.Value,
		Type:      req.Type,
		UpdatedBy: &actor.ID,
	}
	if err := s.repo.Upsert(ctx, setting); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update setting")
	}

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "settings:*"); err != nil {
			s.logger.Warn("settings cache invalidation failed", zap.Error(err))
		}
	}

	newValues, _ := json.Marshal(map[string]string{"value": req.Value, "type": req.Type})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionSettingUpdate,
		Resource:   "setting",
		ResourceID: &setting.Key,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record setting audit log", zap.Error(err))
	}
	return setting, nil
}

// MaxUploadSizeBytes resolves the configured upload cap, falling back to the
// provided default when unset or malformed.
func (s *SettingService) MaxUploadSizeBytes(ctx context.Context, fallback int64) int64 {
	setting, err := s.repo.Get(ctx, models.SettingMaxUploadSizeBytes)
	if err != nil {
		return fallback
	}
	size, err := strconv.ParseInt(setting.Value, 10, 64)
	if err != nil || size <= 0 {
		return fallback
	}
	return size
}

// AllowedUploadTypes resolves the accepted MIME types, falling back to the
// provided default when unset.
func (s *SettingService) AllowedUploadTypes(ctx context.Context, fallback []string) []string {
	setting, err := s.repo.Get(ctx, models.SettingAllowedUploadTypes)
	if err != nil {
		return fallback
	}
	if strings.TrimSpace(setting.Value) == "" {
		return fallback
	}
	parts := strings.Split(setting.Value, ",")
	types := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	if len(types) == 0 {
		return fallback
	}
	return types
}
