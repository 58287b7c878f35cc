package service

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/pkg/storage"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type mockFileRepo struct {
	items map[string]*models.RequestFile
}

func (m *mockFileRepo) Create(ctx context.Context, file *models.RequestFile) error {
	if m.items == nil {
		m.items = map[string]*models.RequestFile{}
	}
	m.items[file.ID] = file
	return nil
}

func (m *mockFileRepo) FindByID(ctx context.Context, id string) (*models.RequestFile, error) {
	file, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *file
	return &copied, nil
}

func (m *mockFileRepo) ListByRequest(ctx context.Context, requestID string) ([]models.RequestFile, error) {
	files := make([]models.RequestFile, 0)
	for _, file := range m.items {
		if file.RequestID == requestID {
			files = append(files, *file)
		}
	}
	return files, nil
}

func (m *mockFileRepo) Delete(ctx context.Context, id string) error {
	delete(m.items, id)
	return nil
}

type mockFileStorage struct {
	saved map[string][]byte
}

func (m *mockFileStorage) Save(filename string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = map[string][]byte{}
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *mockFileStorage) Open(filename string) (*os.File, error) {
	if _, ok := m.saved[filename]; !ok {
		return nil, os.ErrNotExist
	}
	return os.Open(os.DevNull)
}

func (m *mockFileStorage) Delete(filename string) error {
	delete(m.saved, filename)
	return nil
}

func newFileService(repo *mockFileRepo, requests *mockRequestRepo, store *mockFileStorage) *FileService {
	limits := newSettingService(&mockSettingRepo{}, &mockCache{})
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewFileService(repo, requests, limits, store, &mockAuditWriter{}, signer, nil, UploadPolicy{
		MaxSizeBytes: 1024,
		AllowedMIMEs: []string{"application/pdf"},
	})
}

func TestFileServiceUpload(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1", Status: models.RequestStatusPaymentSubmitted},
	}}
	repo := &mockFileRepo{}
	store := &mockFileStorage{}
	service := newFileService(repo, requests, store)

	file, err := service.Upload(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		UploadFileRequest{
			RequestID: "req-1",
			Filename:  "receipt.pdf",
			MimeType:  "application/pdf",
			Kind:      models.RequestFileKindReceipt,
			Data:      []byte("%PDF-1.4"),
		}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "req-1", file.RequestID)
	assert.Equal(t, int64(8), file.SizeBytes)
	assert.Contains(t, store.saved, file.StoredPath)
}

func TestFileServiceUploadRejectsOversize(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1"},
	}}
	service := newFileService(&mockFileRepo{}, requests, &mockFileStorage{})

	_, err := service.Upload(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		UploadFileRequest{
			RequestID: "req-1",
			Filename:  "huge.pdf",
			MimeType:  "application/pdf",
			Kind:      models.RequestFileKindReceipt,
			Data:      make([]byte, 2048),
		}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestFileServiceUploadRejectsMimeType(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1"},
	}}
	service := newFileService(&mockFileRepo{}, requests, &mockFileStorage{})

	_, err := service.Upload(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		UploadFileRequest{
			RequestID: "req-1",
			Filename:  "virus.exe",
			MimeType:  "application/x-msdownload",
			Kind:      models.RequestFileKindReceipt,
			Data:      []byte("MZ"),
		}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestFileServiceUploadDeliverableAdminOnly(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1"},
	}}
	service := newFileService(&mockFileRepo{}, requests, &mockFileStorage{})

	_, err := service.Upload(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		UploadFileRequest{
			RequestID: "req-1",
			Filename:  "essay.pdf",
			MimeType:  "application/pdf",
			Kind:      models.RequestFileKindDeliverable,
			Data:      []byte("%PDF-1.4"),
		}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	_, err = service.Upload(context.Background(), models.Actor{ID: "adm-1", Role: models.RoleAdmin},
		UploadFileRequest{
			RequestID: "req-1",
			Filename:  "essay.pdf",
			MimeType:  "application/pdf",
			Kind:      models.RequestFileKindDeliverable,
			Data:      []byte("%PDF-1.4"),
		}, models.RequestMeta{})
	require.NoError(t, err)
}

func TestFileServiceUploadOwnership(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-2"},
	}}
	service := newFileService(&mockFileRepo{}, requests, &mockFileStorage{})

	_, err := service.Upload(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent},
		UploadFileRequest{
			RequestID: "req-1",
			Filename:  "receipt.pdf",
			MimeType:  "application/pdf",
			Kind:      models.RequestFileKindReceipt,
			Data:      []byte("%PDF-1.4"),
		}, models.RequestMeta{})
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)
}

func TestFileServiceListByRequestOwnership(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1"},
	}}
	repo := &mockFileRepo{items: map[string]*models.RequestFile{
		"fil-1": {ID: "fil-1", RequestID: "req-1", Filename: "receipt.pdf"},
	}}
	service := newFileService(repo, requests, &mockFileStorage{})

	_, err := service.ListByRequest(context.Background(), models.Actor{ID: "stu-2", Role: models.RoleStudent}, "req-1")
	assertErrorCode(t, err, appErrors.ErrForbidden.Code)

	files, err := service.ListByRequest(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "req-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestFileServiceSignedURLRoundTrip(t *testing.T) {
	requests := &mockRequestRepo{items: map[string]*models.Request{
		"req-1": {ID: "req-1", StudentID: "stu-1"},
	}}
	repo := &mockFileRepo{items: map[string]*models.RequestFile{
		"fil-1": {ID: "fil-1", RequestID: "req-1", Filename: "receipt.pdf", StoredPath: "requests/req-1/fil-1.pdf"},
	}}
	store := &mockFileStorage{saved: map[string][]byte{"requests/req-1/fil-1.pdf": []byte("%PDF-1.4")}}
	service := newFileService(repo, requests, store)

	token, expiresAt, err := service.SignedURL(context.Background(), models.Actor{ID: "stu-1", Role: models.RoleStudent}, "fil-1")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	download, err := service.OpenSigned(context.Background(), token)
	require.NoError(t, err)
	defer download.Body.Close()
	assert.Equal(t, "fil-1", download.File.ID)
}

func TestFileServiceOpenSignedRejectsGarbage(t *testing.T) {
	service := newFileService(&mockFileRepo{}, &mockRequestRepo{}, &mockFileStorage{})

	_, err := service.OpenSigned(context.Background(), "not-a-token")
	assertErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}
