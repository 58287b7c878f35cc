package models

import "time"

// AuditAction constants represent actions to be logged. Status-change actions
// are suffixed with the target status at call sites, e.g.
// UPDATE_REQUEST_STATUS_DELIVERED.
const (
	AuditActionLogin               = "LOGIN"
	AuditActionLogout              = "LOGOUT"
	AuditActionUserCreate          = "USER_CREATE"
	AuditActionUserUpdate          = "USER_UPDATE"
	AuditActionUserSuspend         = "USER_SUSPEND"
	AuditActionUserUnsuspend       = "USER_UNSUSPEND"
	AuditActionPasswordChange      = "PASSWORD_CHANGE"
	AuditActionServiceCreate       = "SERVICE_CREATE"
	AuditActionServiceUpdate       = "SERVICE_UPDATE"
	AuditActionServiceDelete       = "SERVICE_DELETE"
	AuditActionRequestCreate       = "CREATE_REQUEST"
	AuditActionUpdateRequestStatus = "UPDATE_REQUEST_STATUS"
	AuditActionSubmitPayment       = "SUBMIT_PAYMENT"
	AuditActionUpdatePaymentStatus = "UPDATE_PAYMENT_STATUS"
	AuditActionFileDispute         = "FILE_PAYMENT_DISPUTE"
	AuditActionResolveDispute      = "RESOLVE_PAYMENT_DISPUTE"
	AuditActionTicketCreate        = "CREATE_TICKET"
	AuditActionUpdateTicketStatus  = "UPDATE_TICKET_STATUS"
	AuditActionAddTicketReply      = "ADD_TICKET_REPLY"
	AuditActionSettingUpdate       = "SETTING_UPDATE"
	AuditActionFileUpload          = "FILE_UPLOAD"
	AuditActionAuditExport         = "AUDIT_EXPORT"
)

// AuditLog represents an immutable audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter captures listing criteria for the audit trail.
type AuditFilter struct {
	Action   string
	Resource string
	UserID   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}
