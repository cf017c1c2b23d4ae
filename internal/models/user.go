package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSEBServerAdmin     UserRole = "SEB_SERVER_ADMIN"
	RoleInstitutionalAdmin UserRole = "INSTITUTIONAL_ADMIN"
	RoleExamAdmin          UserRole = "EXAM_ADMIN"
	RoleExamSupporter      UserRole = "EXAM_SUPPORTER"
)

// User represents an administrative console account.
type User struct {
	ID            string    `db:"id" json:"id"`
	InstitutionID string    `db:"institution_id" json:"institution_id"`
	Username      string    `db:"username" json:"username"`
	Name          string    `db:"name" json:"name"`
	Role          UserRole  `db:"role" json:"role"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
