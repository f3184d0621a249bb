package entity

import (
	"encoding/json"
	"time"
)

// Status values of an account row.
const (
	StatusActive   = "active"
	StatusLocked   = "locked"
	StatusDisabled = "disabled"
)

// User represents an account row in the `users` table.
// The application profile lives in `profiles`, keyed by the same id.
type User struct {
	ID                  string     `db:"id"`
	Email               string     `db:"email"`
	EmailVerified       bool       `db:"email_verified"`
	PasswordHash        *string    `db:"password_hash"`
	PasswordAlgo        *string    `db:"password_algo"`
	PasswordUpdatedAt   *time.Time `db:"password_updated_at"`
	Status              string     `db:"status"` // active / locked / disabled
	LoginFailedAttempts int        `db:"login_failed_attempts"`
	LockedUntil         *time.Time `db:"locked_until"`
	LastLoginAt         *time.Time `db:"last_login_at"`
	Version             int64      `db:"version"`
	MetadataRaw         []byte     `db:"metadata"` // JSONB sign-up metadata
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	DeactivatedAt       *time.Time `db:"deactivated_at"`
}

// Metadata is the free-form data supplied at sign-up.
type Metadata struct {
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Metadata decodes MetadataRaw; malformed JSON yields empty metadata.
func (u *User) Metadata() Metadata {
	var m Metadata
	if len(u.MetadataRaw) > 0 {
		_ = json.Unmarshal(u.MetadataRaw, &m)
	}
	return m
}

// MinimalAuthView is the minimal projection required for token claim hydration.
type MinimalAuthView struct {
	ID            string    `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	EmailVerified bool      `db:"email_verified" json:"email_verified"`
	Version       int64     `db:"version" json:"-"`
	MetadataRaw   []byte    `db:"metadata" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Metadata decodes MetadataRaw; malformed JSON yields empty metadata.
func (v *MinimalAuthView) Metadata() Metadata {
	var m Metadata
	if len(v.MetadataRaw) > 0 {
		_ = json.Unmarshal(v.MetadataRaw, &m)
	}
	return m
}
