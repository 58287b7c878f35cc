package models

import "time"

// ExportFormat selects the rendering backend for audit exports.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "CSV"
	ExportFormatPDF ExportFormat = "PDF"
)

// ExportStatus tracks an asynchronous export job.
type ExportStatus string

const (
	ExportStatusPending   ExportStatus = "PENDING"
	ExportStatusRunning   ExportStatus = "RUNNING"
	ExportStatusCompleted ExportStatus = "COMPLETED"
	ExportStatusFailed    ExportStatus = "FAILED"
)

// ExportJob records one requested audit-log export.
type ExportJob struct {
	ID          string       `db:"id" json:"id"`
	RequestedBy string       `db:"requested_by" json:"requested_by"`
	Format      ExportFormat `db:"format" json:"format"`
	Status      ExportStatus `db:"status" json:"status"`
	FilePath    *string      `db:"file_path" json:"-"`
	Error       *string      `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	CompletedAt *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
}
