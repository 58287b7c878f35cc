package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/pkg/storage"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type fileRepository interface {
	Create(ctx context.Context, file *models.RequestFile) error
	FindByID(ctx context.Context, id string) (*models.RequestFile, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.RequestFile, error)
	Delete(ctx context.Context, id string) error
}

type fileRequestReader interface {
	FindByID(ctx context.Context, id string) (*models.Request, error)
}

type uploadLimits interface {
	MaxUploadSizeBytes(ctx context.Context, fallback int64) int64
	AllowedUploadTypes(ctx context.Context, fallback []string) []string
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type fileAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UploadFileRequest holds an upload's metadata and content.
type UploadFileRequest struct {
	RequestID string
	Filename  string
	MimeType  string
	Kind      models.RequestFileKind
	Data      []byte
}

// FileDownload bundles a stored file handle with its metadata.
type FileDownload struct {
	File *models.RequestFile
	Body *os.File
}

// UploadPolicy holds the fallback limits used when settings are unset.
type UploadPolicy struct {
	MaxSizeBytes int64
	AllowedMIMEs []string
}

// FileService stores receipts and deliverables attached to requests.
type FileService struct {
	repo     fileRepository
	requests fileRequestReader
	limits   uploadLimits
	storage  fileStorage
	audit    fileAuditWriter
	signer   *storage.SignedURLSigner
	logger   *zap.Logger
	policy   UploadPolicy
}

// NewFileService constructs the file service.
func NewFileService(repo fileRepository, requests fileRequestReader, limits uploadLimits, store fileStorage, audit fileAuditWriter, signer *storage.SignedURLSigner, logger *zap.Logger, policy UploadPolicy) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxSizeBytes <= 0 {
		policy.MaxSizeBytes = 10 << 20
	}
	if len(policy.AllowedMIMEs) == 0 {
		policy.AllowedMIMEs = []string{"application/pdf", "image/png", "image/jpeg"}
	}
	return &FileService{repo: repo, requests: requests, limits: limits, storage: store, audit: audit, signer: signer, logger: logger, policy: policy}
}

// Upload validates and stores a file against a request. Students attach
// receipts to their own requests; deliverables are admin-only.
func (s *FileService) Upload(ctx context.Context, actor models.Actor, payload UploadFileRequest, meta models.RequestMeta) (*models.RequestFile, error) {
	if err := Authorize(actor, ActionFileUpload); err != nil {
		return nil, err
	}
	if payload.Filename == "" || len(payload.Data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file name and content are required")
	}
	if payload.Kind != models.RequestFileKindReceipt && payload.Kind != models.RequestFileKindDeliverable {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown file kind")
	}
	if payload.Kind == models.RequestFileKindDeliverable && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can upload deliverables")
	}

	maxSize := s.limits.MaxUploadSizeBytes(ctx, s.policy.MaxSizeBytes)
	if int64(len(payload.Data)) > maxSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds the %d byte limit", maxSize))
	}
	allowed := s.limits.AllowedUploadTypes(ctx, s.policy.AllowedMIMEs)
	if !containsString(allowed, payload.MimeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("mime type %s is not accepted", payload.MimeType))
	}

	req, err := s.requests.FindByID(ctx, payload.RequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !actor.IsAdmin() && req.StudentID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot attach files to another student's request")
	}

	id := uuid.NewString()
	relPath := fmt.Sprintf("requests/%s/%s%s", req.ID, id, filepath.Ext(payload.Filename))
	storedPath, err := s.storage.Save(relPath, payload.Data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	file := &models.RequestFile{
		ID:         id,
		RequestID:  req.ID,
		UploaderID: actor.ID,
		Filename:   payload.Filename,
		StoredPath: storedPath,
		SizeBytes:  int64(len(payload.Data)),
		MimeType:   payload.MimeType,
		Kind:       payload.Kind,
	}
	if err := s.repo.Create(ctx, file); err != nil {
		if delErr := s.storage.Delete(storedPath); delErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("path", storedPath), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file")
	}

	newValues, _ := json.Marshal(map[string]interface{}{"filename": file.Filename, "kind": file.Kind, "size_bytes": file.SizeBytes})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionFileUpload,
		Resource:   "request_file",
		ResourceID: &file.ID,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record upload audit log", zap.Error(err))
	}
	return file, nil
}

// ListByRequest returns the files attached to a request the actor may read.
func (s *FileService) ListByRequest(ctx context.Context, actor models.Actor, requestID string) ([]models.RequestFile, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !actor.IsAdmin() && req.StudentID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot access another student's files")
	}
	files, err := s.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	return files, nil
}

// Download opens a stored file after an ownership check.
func (s *FileService) Download(ctx context.Context, actor models.Actor, fileID string) (*FileDownload, error) {
	file, err := s.repo.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if !actor.IsAdmin() {
		req, err := s.requests.FindByID(ctx, file.RequestID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
		}
		if req.StudentID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot access another student's files")
		}
	}

	body, err := s.storage.Open(file.StoredPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored file")
	}
	return &FileDownload{File: file, Body: body}, nil
}

// SignedURL mints a short-lived download token for a file the actor may read.
func (s *FileService) SignedURL(ctx context.Context, actor models.Actor, fileID string) (string, time.Time, error) {
	file, err := s.repo.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if !actor.IsAdmin() {
		req, err := s.requests.FindByID(ctx, file.RequestID)
		if err != nil {
			return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
		}
		if req.StudentID != actor.ID {
			return "", time.Time{}, appErrors.Clone(appErrors.ErrForbidden, "cannot access another student's files")
		}
	}
	token, expiresAt, err := s.signer.Generate(file.ID, file.StoredPath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return token, expiresAt, nil
}

// OpenSigned resolves a signed token to a stored file.
func (s *FileService) OpenSigned(ctx context.Context, token string) (*FileDownload, error) {
	fileID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	file, err := s.repo.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if file.StoredPath != relPath {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token does not match file")
	}
	body, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored file")
	}
	return &FileDownload{File: file, Body: body}, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
