package models

import "time"

// RequestFileKind distinguishes uploaded receipts from admin deliverables.
type RequestFileKind string

const (
	RequestFileKindReceipt     RequestFileKind = "RECEIPT"
	RequestFileKindDeliverable RequestFileKind = "DELIVERABLE"
)

// RequestFile describes a stored file attached to a request.
type RequestFile struct {
	ID         string          `db:"id" json:"id"`
	RequestID  string          `db:"request_id" json:"request_id"`
	UploaderID string          `db:"uploader_id" json:"uploader_id"`
	Filename   string          `db:"filename" json:"filename"`
	StoredPath string          `db:"stored_path" json:"-"`
	SizeBytes  int64           `db:"size_bytes" json:"size_bytes"`
	MimeType   string          `db:"mime_type" json:"mime_type"`
	Kind       RequestFileKind `db:"kind" json:"kind"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
