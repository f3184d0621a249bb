package oidc

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	userentity "github.com/ovaphlow/englishbuds/internal/user/entity"
)

// RefreshSession represents a persisted refresh session.
type RefreshSession struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	UserID    string    `db:"user_id"`
	ClientID  string    `db:"client_id"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Claims is the payload of access tokens issued by this service.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
	Version   int64  `json:"v"`
	Role      string `json:"role,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Tokens is one issued session: a signed access/id token pair plus an opaque
// refresh token.
type Tokens struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	SessionID    string
	ExpiresAt    time.Time
	TTL          time.Duration
}

// UserResponse is the public account shape returned by the auth endpoints.
type UserResponse struct {
	ID            string              `json:"id"`
	Email         string              `json:"email"`
	EmailVerified bool                `json:"email_verified"`
	CreatedAt     time.Time           `json:"created_at"`
	UserMetadata  userentity.Metadata `json:"user_metadata"`
}

// SessionResponse is returned by signup and both token grants.
type SessionResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	IDToken      string       `json:"id_token,omitempty"`
	User         UserResponse `json:"user"`
}

// ErrorResponse is the error body of every auth endpoint.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func toUserResponse(v *userentity.MinimalAuthView) UserResponse {
	return UserResponse{
		ID:            v.ID,
		Email:         v.Email,
		EmailVerified: v.EmailVerified,
		CreatedAt:     v.CreatedAt.UTC(),
		UserMetadata:  v.Metadata(),
	}
}

func toSessionResponse(t *Tokens, v *userentity.MinimalAuthView) SessionResponse {
	return SessionResponse{
		AccessToken:  t.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(t.TTL.Seconds()),
		ExpiresAt:    t.ExpiresAt.Unix(),
		RefreshToken: t.RefreshToken,
		IDToken:      t.IDToken,
		User:         toUserResponse(v),
	}
}
