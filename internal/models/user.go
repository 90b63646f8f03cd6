package models

import "time"

// User is a desk operator stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         RoleID     `db:"role" json:"role"`
	RoleRef      *string    `db:"role_ref" json:"role_ref,omitempty"`
	StationName  *string    `db:"station_name" json:"station_name,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// UserFilter constrains user listing.
type UserFilter struct {
	Role     *RoleID
	Active   *bool
	Search   string
	Station  string
	Page     int
	PageSize int
}
