package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduforge/eduforge-api/internal/models"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type mockSettingRepo struct {
	items     map[string]*models.Setting
	listCalls int
}

func (m *mockSettingRepo) Get(ctx context.Context, key string) (*models.Setting, error) {
	setting, ok := m.items[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *setting
	return &copied, nil
}

func (m *mockSettingRepo) List(ctx context.Context) ([]models.Setting, error) {
	m.listCalls++
	settings := make([]models.Setting, 0, len(m.items))
	for _, setting := range m.items {
		settings = append(settings, *setting)
	}
	return settings, nil
}

func (m *mockSettingRepo) Upsert(ctx context.Context, setting *models.Setting) error {
	if m.items == nil {
		m.items = map[string]*models.Setting{}
	}
	m.items[setting.Key] = setting
	return nil
}

func newSettingService(repo *mockSettingRepo, cache *mockCache) *SettingService {
	return NewSettingService(repo, cache, &mockAuditWriter{}, nil, nil, time.Minute)
}

func TestSettingServiceListCaches(t *testing.T) {
	repo := &mockSettingRepo{items: map[string]*models.Setting{
		"support_email": {Key: "support_email", Value: "help@eduforge.io", Type: "string"},
	}}
	cache := &mockCache{}
	service := newSettingService(repo, cache)

	first, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = service.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls, "second read should be served from cache")
}

func TestSettingServiceUpdate(t *testing.T) {
	repo := &mockSettingRepo{}
	cache := &mockCache{}
	service := newSettingService(repo, cache)

	_, err := service.List(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, cache.entries)

	setting, err := service.Update(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin},
		"max_upload_size_bytes", UpdateSettingRequest{Value: "5242880", Type: "int"}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "5242880", setting.Value)
	require.NotNil(t, setting.UpdatedBy)
	assert.Equal(t, "adm-1", *setting.UpdatedBy)
	assert.Equal(t, []string{"settings:*"}, cache.invalidated)
}

func TestSettingServiceUpdateInvalidInt(t *testing.T) {
	service := newSettingService(&mockSettingRepo{}, &mockCache{})

	_, err := service.Update(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin},
		"max_upload_size_bytes", UpdateSettingRequest{Value: "lots", Type: "int"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestSettingServiceUpdateForbiddenForStudents(t *testing.T) {
	service := newSettingService(&mockSettingRepo{}, &mockCache{})

	_, err := service.Update(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		"support_email", UpdateSettingRequest{Value: "x@y.z", Type: "string"}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestSettingServiceGetMissing(t *testing.T) {
	service := newSettingService(&mockSettingRepo{}, &mockCache{})

	_, err := service.Get(context.Background(), "nope")
	assertErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestSettingServiceMaxUploadSizeBytes(t *testing.T) {
	repo := &mockSettingRepo{items: map[string]*models.Setting{
		models.SettingMaxUploadSizeBytes: {Key: models.SettingMaxUploadSizeBytes, Value: "1024", Type: "int"},
	}}
	service := newSettingService(repo, &mockCache{})

	assert.Equal(t, int64(1024), service.MaxUploadSizeBytes(context.Background(), 99))

	repo.items[models.SettingMaxUploadSizeBytes].Value = "garbage"
	assert.Equal(t, int64(99), service.MaxUploadSizeBytes(context.Background(), 99))

	delete(repo.items, models.SettingMaxUploadSizeBytes)
	assert.Equal(t, int64(99), service.MaxUploadSizeBytes(context.Background(), 99))
}

func TestSettingServiceAllowedUploadTypes(t *testing.T) {
	repo := &mockSettingRepo{items: map[string]*models.Setting{
		models.SettingAllowedUploadTypes: {Key: models.SettingAllowedUploadTypes, Value: "application/pdf, image/png", Type: "csv"},
	}}
	service := newSettingService(repo, &mockCache{})

	assert.Equal(t, []string{"application/pdf", "image/png"},
		service.AllowedUploadTypes(context.Background(), []string{"text/plain"}))

	repo.items[models.SettingAllowedUploadTypes].Value = "  ,  "
	assert.Equal(t, []string{"text/plain"},
		service.AllowedUploadTypes(context.Background(), []string{"text/plain"}))
}
