package models

import "time"

// Well-known setting keys consumed by the upload validator and support pages.
const (
	SettingMaxUploadSizeBytes = "max_upload_size_bytes"
	SettingAllowedUploadTypes = "allowed_upload_types"
	SettingSupportEmail       = "support_email"
	SettingPaymentInstruction = "payment_instructions"
)

// Setting is a typed key/value configuration row.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	Type      string    `db:"type" json:"type"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
