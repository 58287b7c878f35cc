package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduforge/eduforge-api/internal/models"
	"github.com/eduforge/eduforge-api/pkg/export"
	"github.com/eduforge/eduforge-api/pkg/jobs"
	"github.com/eduforge/eduforge-api/pkg/storage"
	appErrors "github.com/eduforge/eduforge-api/pkg/errors"
)

type exportJobRepository interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, filePath string) error
	MarkFailed(ctx context.Context, id, reason string) error
	ListStale(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error)
	Delete(ctx context.Context, id string) error
}

type exportAuditReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

type exportAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type exportStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type exportQueue interface {
	Enqueue(job jobs.Job) error
}

// ExportConfig tunes audit export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult returns the signed download handle for a completed job.
type ExportResult struct {
	JobID     string    `json:"job_id"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExportJobPayload travels through the job queue.
type ExportJobPayload struct {
	JobID  string
	Filter models.AuditFilter
}

// ExportService renders audit-trail exports asynchronously. Requesting an
// export creates a PENDING job row and enqueues it; workers render the file
// and flip the job to COMPLETED or FAILED.
type ExportService struct {
	jobs    exportJobRepository
	audits  exportAuditReader
	trail   exportAuditWriter
	storage exportStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	queue   exportQueue
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(jobRepo exportJobRepository, audits exportAuditReader, trail exportAuditWriter, store exportStorage, signer *storage.SignedURLSigner, queue exportQueue, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		jobs:    jobRepo,
		audits:  audits,
		trail:   trail,
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		queue:   queue,
		logger:  logger,
		cfg:     cfg,
	}
}

// Request creates a PENDING export job and enqueues it for a worker.
func (s *ExportService) Request(ctx context.Context, actor models.Actor, format models.ExportFormat, filter models.AuditFilter, meta models.RequestMeta) (*models.ExportJob, error) {
	if err := Authorize(actor, ActionAuditExport); err != nil {
		return nil, err
	}
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be CSV or PDF")
	}

	job := &models.ExportJob{
		ID:          uuid.NewString(),
		RequestedBy: actor.ID,
		Format:      format,
		Status:      models.ExportStatusPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if err := s.queue.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    "audit_export",
		Payload: ExportJobPayload{JobID: job.ID, Filter: filter},
	}); err != nil {
		if markErr := s.jobs.MarkFailed(ctx, job.ID, "queue unavailable"); markErr != nil {
			s.logger.Warn("failed to mark unqueued export job", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}

	if err := s.trail.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionAuditExport,
		Resource:   "export_job",
		ResourceID: &job.ID,
		NewValues:  []byte(fmt.Sprintf(`{"format":%q}`, format)),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record export audit log", zap.Error(err))
	}
	return job, nil
}

// Process is the queue handler. It renders the dataset and records the outcome
// on the job row.
func (s *ExportService) Process(ctx context.Context, queued jobs.Job) error {
	payload, ok := queued.Payload.(ExportJobPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type for job %s", queued.ID)
	}

	job, err := s.jobs.FindByID(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", payload.JobID, err)
	}
	if job.Status != models.ExportStatusPending {
		return nil
	}
	if err := s.jobs.MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("mark export job running: %w", err)
	}

	relPath, err := s.render(ctx, job, payload.Filter)
	if err != nil {
		if markErr := s.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return fmt.Errorf("render export %s: %w", job.ID, err)
	}

	if err := s.jobs.MarkCompleted(ctx, job.ID, relPath); err != nil {
		return fmt.Errorf("mark export job completed: %w", err)
	}
	s.logger.Info("audit export completed", zap.String("job_id", job.ID), zap.String("path", relPath))
	return nil
}

// Status returns a job to its requester (or any admin).
func (s *ExportService) Status(ctx context.Context, actor models.Actor, jobID string) (*models.ExportJob, error) {
	if err := Authorize(actor, ActionAuditExport); err != nil {
		return nil, err
	}
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

// DownloadURL mints a signed link for a completed job.
func (s *ExportService) DownloadURL(ctx context.Context, actor models.Actor, jobID string) (*ExportResult, error) {
	job, err := s.Status(ctx, actor, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ExportStatusCompleted || job.FilePath == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "export is not ready for download")
	}

	token, expiresAt, err := s.signer.Generate(job.ID, *job.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &ExportResult{
		JobID:     job.ID,
		Token:     token,
		URL:       fmt.Sprintf("%s/audit/exports/download/%s", prefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// ParseToken validates a download token.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Cleanup removes stale export files and their job rows.
func (s *ExportService) Cleanup(ctx context.Context) error {
	stale, err := s.jobs.ListStale(ctx, time.Now().UTC().Add(-s.cfg.ResultTTL))
	if err != nil {
		return err
	}
	for _, job := range stale {
		if job.FilePath != nil {
			if err := s.storage.Delete(*job.FilePath); err != nil {
				s.logger.Warn("failed to delete stale export file", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
		}
		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			s.logger.Warn("failed to delete stale export job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if _, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("failed to sweep export storage", zap.Error(err))
	}
	return nil
}

func (s *ExportService) render(ctx context.Context, job *models.ExportJob, filter models.AuditFilter) (string, error) {
	dataset, err := s.buildDataset(ctx, filter)
	if err != nil {
		return "", err
	}

	var payload []byte
	switch job.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Audit Trail")
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("audit/%s_%s.%s", time.Now().UTC().Format("20060102_150405"), job.ID, strings.ToLower(string(job.Format)))
	return s.storage.Save(filename, payload)
}

// buildDataset drains the audit trail page by page so exports are not capped
// by the repository's page size limit.
func (s *ExportService) buildDataset(ctx context.Context, filter models.AuditFilter) (export.Dataset, error) {
	headers := []string{"Time", "User ID", "Action", "Resource", "Resource ID", "IP Address"}
	rows := make([]map[string]string, 0)

	filter.Page = 1
	filter.PageSize = 200
	for {
		logs, total, err := s.audits.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, err
		}
		for _, log := range logs {
			userID := ""
			if log.UserID != nil {
				userID = *log.UserID
			}
			resourceID := ""
			if log.ResourceID != nil {
				resourceID = *log.ResourceID
			}
			rows = append(rows, map[string]string{
				"Time":        log.CreatedAt.UTC().Format(time.RFC3339),
				"User ID":     userID,
				"Action":      log.Action,
				"Resource":    log.Resource,
				"Resource ID": resourceID,
				"IP Address":  log.IPAddress,
			})
		}
		if len(rows) >= total || len(logs) == 0 {
			break
		}
		filter.Page++
	}

	return export.Dataset{Headers: headers, Rows: rows}, nil
}
