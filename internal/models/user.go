package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStudent UserRole = "STUDENT"
)

// User represents an application user stored in the users table.
type User struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	FullName         string     `db:"full_name" json:"full_name"`
	Role             UserRole   `db:"role" json:"role"`
	Suspended        bool       `db:"suspended" json:"suspended"`
	SuspensionReason *string    `db:"suspension_reason" json:"suspension_reason,omitempty"`
	LastLogin        *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Actor is the capability-tagged identity every workflow operation receives.
// It is derived from the session claims exactly once per request.
type Actor struct {
	ID   string
	Role UserRole
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// RequestMeta carries transport-level context recorded on audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Suspended *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
