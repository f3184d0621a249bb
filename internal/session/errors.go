package session

import (
	"errors"
	"fmt"
)

type AuthCode string

const (
	CodeInvalidCredentials AuthCode = "invalid_credentials"
	CodeDuplicateAccount   AuthCode = "user_already_exists"
	CodeInvalidInput       AuthCode = "validation_failed"
	CodeSessionExpired     AuthCode = "session_expired"
	CodeNetwork            AuthCode = "network"
	CodeLocked             AuthCode = "locked"
	CodeUnknown            AuthCode = "unknown"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrDuplicateAccount   = errors.New("account already exists")
	ErrSessionExpired     = errors.New("session expired")
	ErrAuthNetwork        = errors.New("auth backend unreachable")

	ErrProfileNotFound  = errors.New("profile not found")
	ErrProfileMalformed = errors.New("profile malformed")
	ErrNotSignedIn      = errors.New("not signed in")

	ErrClosed = errors.New("resolver closed")
)

// AuthError is returned by sign-in, sign-up and sign-out.
type AuthError struct {
	Op   string
	Code AuthCode
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches the code sentinels, so errors.Is(err, ErrInvalidCredentials)
// works whatever the underlying cause.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Code == CodeInvalidCredentials
	case ErrDuplicateAccount:
		return e.Code == CodeDuplicateAccount
	case ErrSessionExpired:
		return e.Code == CodeSessionExpired
	case ErrAuthNetwork:
		return e.Code == CodeNetwork
	}
	return false
}

// asAuthError keeps an AuthError from the backend and wraps anything else.
func asAuthError(op string, err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		if ae.Op != "" {
			return ae
		}
		cp := *ae
		cp.Op = op
		return &cp
	}
	return &AuthError{Op: op, Code: CodeUnknown, Err: err}
}

// ProfileError is a profile fetch or write failure.
type ProfileError struct {
	Op     string
	UserID string
	Err    error
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("profile %s %s: %v", e.Op, e.UserID, e.Err)
}

func (e *ProfileError) Unwrap() error { return e.Err }
