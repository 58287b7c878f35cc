package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/eduforge/eduforge-api/internal/models"
)

const requestFileColumns = `id, request_id, uploader_id, filename, stored_path, size_bytes, mime_type, kind, created_at`

// FileRepository persists request file metadata. File bytes live in storage.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository constructs the repository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create records a stored file.
func (r *FileRepository) Create(ctx context.Context, file *models.RequestFile) error {
	file.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO request_files (id, request_id, uploader_id, filename, stored_path, size_bytes, mime_type, kind, created_at)
	VALUES (:id, :request_id, :uploader_id, :filename, :stored_path, :size_bytes, :mime_type, :kind, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, file); err != nil {
		return fmt.Errorf("create request file: %w", err)
	}
	return nil
}

// FindByID returns one file record.
func (r *FileRepository) FindByID(ctx context.Context, id string) (*models.RequestFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM request_files WHERE id = $1 LIMIT 1`, requestFileColumns)
	var file models.RequestFile
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find request file: %w", err)
	}
	return &file, nil
}

// ListByRequest returns all files attached to a request, newest first.
func (r *FileRepository) ListByRequest(ctx context.Context, requestID string) ([]models.RequestFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM request_files WHERE request_id = $1 ORDER BY created_at DESC`, requestFileColumns)
	var files []models.RequestFile
	if err := r.db.SelectContext(ctx, &files, query, requestID); err != nil {
		return nil, fmt.Errorf("list request files: %w", err)
	}
	return files, nil
}

// Delete removes a file record.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM request_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete request file: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
