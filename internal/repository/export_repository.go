package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/eduforge/eduforge-api/internal/models"
)

const exportJobColumns = `id, requested_by, format, status, file_path, error, created_at, completed_at`

// ExportRepository persists asynchronous audit export jobs.
type ExportRepository struct {
	db *sqlx.DB
}

// NewExportRepository constructs the repository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create inserts a new pending job.
func (r *ExportRepository) Create(ctx context.Context, job *models.ExportJob) error {
	job.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO export_jobs (id, requested_by, format, status, file_path, error, created_at, completed_at)
	VALUES (:id, :requested_by, :format, :status, :file_path, :error, :created_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// FindByID returns one export job.
func (r *ExportRepository) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM export_jobs WHERE id = $1 LIMIT 1`, exportJobColumns)
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find export job: %w", err)
	}
	return &job, nil
}

// MarkRunning flips a pending job to RUNNING.
func (r *ExportRepository) MarkRunning(ctx context.Context, id string) error {
	const query = `UPDATE export_jobs SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.ExportStatusRunning); err != nil {
		return fmt.Errorf("mark export job running: %w", err)
	}
	return nil
}

// MarkCompleted records the rendered artifact path.
func (r *ExportRepository) MarkCompleted(ctx context.Context, id, filePath string) error {
	const query = `UPDATE export_jobs SET status = $2, file_path = $3, completed_at = $4 WHERE id = $1`
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, id, models.ExportStatusCompleted, filePath, now); err != nil {
		return fmt.Errorf("mark export job completed: %w", err)
	}
	return nil
}

// MarkFailed records the failure reason.
func (r *ExportRepository) MarkFailed(ctx context.Context, id, reason string) error {
	const query = `UPDATE export_jobs SET status = $2, error = $3, completed_at = $4 WHERE id = $1`
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, id, models.ExportStatusFailed, reason, now); err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	return nil
}

// ListStale returns completed jobs older than the cutoff, for cleanup.
func (r *ExportRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM export_jobs WHERE status = $1 AND completed_at < $2`, exportJobColumns)
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ExportStatusCompleted, cutoff); err != nil {
		return nil, fmt.Errorf("list stale export jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job record.
func (r *ExportRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete export job: %w", err)
	}
	return nil
}
