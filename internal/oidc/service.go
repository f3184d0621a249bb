package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	userentity "github.com/ovaphlow/englishbuds/internal/user/entity"
)

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidToken        = errors.New("invalid token")
)

// RefreshStore persists refresh sessions; *repo.RefreshRepo implements it.
type RefreshStore interface {
	Save(ctx context.Context, tokenHash, sessionID, userID, clientID string, expiresAt time.Time) (int64, error)
	Get(ctx context.Context, tokenHash string) (int64, string, string, string, time.Time, error)
	Delete(ctx context.Context, tokenHash string) (bool, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteUser(ctx context.Context, userID string) error
}

// OIDCService manages signing keys and token issuance.
type OIDCService struct {
	key    *rsa.PrivateKey
	kid    string
	issuer string
	// DB-backed refresh repository
	refreshRepo RefreshStore
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	now         func() time.Time
}

// NewOIDCService generates a fresh RSA signing key. Tokens do not survive a
// restart with a different key; clients then fall back to their refresh token.
func NewOIDCService(refresh RefreshStore, issuer string) (*OIDCService, error) {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return NewOIDCServiceWithKey(refresh, issuer, k), nil
}

func NewOIDCServiceWithKey(refresh RefreshStore, issuer string, k *rsa.PrivateKey) *OIDCService {
	// generate simple kid as base64 of SHA256 of public key
	pubBytes, _ := json.Marshal(k.PublicKey)
	h := sha256.Sum256(pubBytes)
	kid := base64.RawURLEncoding.EncodeToString(h[:8])
	return &OIDCService{
		key:         k,
		kid:         kid,
		issuer:      issuer,
		refreshRepo: refresh,
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  30 * 24 * time.Hour,
		now:         time.Now,
	}
}

// Issuer returns the configured token issuer.
func (s *OIDCService) Issuer() string { return s.issuer }

// JWKS returns a minimal JWKS containing the public key.
func (s *OIDCService) JWKS() map[string]any {
	pub := s.key.PublicKey
	n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	// encode exponent using big.Int to get minimal big-endian bytes
	e := base64.RawURLEncoding.EncodeToString(new(big.Int).SetInt64(int64(pub.E)).Bytes())
	jwk := map[string]any{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": s.kid,
		"n":   n,
		"e":   e,
	}
	return map[string]any{"keys": []any{jwk}}
}

// PublicKey returns the RSA public key for verification.
func (s *OIDCService) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// IssueSession starts a new session for the user.
func (s *OIDCService) IssueSession(ctx context.Context, u *userentity.MinimalAuthView, audience string) (*Tokens, error) {
	return s.issue(ctx, u, audience, uuid.NewString())
}

// issue creates an id_token, an access_token and a refresh token bound to sessionID.
func (s *OIDCService) issue(ctx context.Context, u *userentity.MinimalAuthView, audience, sessionID string) (*Tokens, error) {
	now := s.now()
	exp := now.Add(s.AccessTTL)
	meta := u.Metadata()

	// ID Token
	idClaims := jwt.MapClaims{
		"iss":            s.issuer,
		"sub":            u.ID,
		"aud":            audience,
		"exp":            exp.Unix(),
		"iat":            now.Unix(),
		"email":          u.Email,
		"email_verified": u.EmailVerified,
		"name":           meta.DisplayName,
	}
	idTok := jwt.NewWithClaims(jwt.SigningMethodRS256, idClaims)
	idTok.Header["kid"] = s.kid
	signedID, err := idTok.SignedString(s.key)
	if err != nil {
		return nil, err
	}

	access := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   u.ID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		SessionID: sessionID,
		Version:   u.Version,
		Role:      meta.Role,
		Email:     u.Email,
	})
	access.Header["kid"] = s.kid
	signedAccess, err := access.SignedString(s.key)
	if err != nil {
		return nil, err
	}

	// create a simple opaque refresh token and persist its digest
	rtBytes := make([]byte, 32)
	if _, err := rand.Read(rtBytes); err != nil {
		return nil, err
	}
	refresh := base64.RawURLEncoding.EncodeToString(rtBytes)
	if _, err := s.refreshRepo.Save(ctx, hashToken(refresh), sessionID, u.ID, audience, now.Add(s.RefreshTTL)); err != nil {
		return nil, fmt.Errorf("save refresh session: %w", err)
	}

	return &Tokens{
		AccessToken:  signedAccess,
		IDToken:      signedID,
		RefreshToken: refresh,
		SessionID:    sessionID,
		ExpiresAt:    exp,
		TTL:          s.AccessTTL,
	}, nil
}

// ValidateRefreshToken checks an opaque refresh token and returns the session if valid.
func (s *OIDCService) ValidateRefreshToken(ctx context.Context, token string) (*RefreshSession, error) {
	id, sessionID, userID, clientID, expiresAt, err := s.refreshRepo.Get(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	rs := RefreshSession{ID: id, SessionID: sessionID, UserID: userID, ClientID: clientID, ExpiresAt: expiresAt}
	if rs.ExpiresAt.Before(s.now()) {
		return nil, ErrInvalidRefreshToken
	}
	return &rs, nil
}

// Rotate consumes a refresh token and issues a new token set in the same
// session. A token that was already consumed is rejected.
func (s *OIDCService) Rotate(ctx context.Context, rs *RefreshSession, token string, u *userentity.MinimalAuthView) (*Tokens, error) {
	deleted, err := s.refreshRepo.Delete(ctx, hashToken(token))
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrInvalidRefreshToken
	}
	return s.issue(ctx, u, rs.ClientID, rs.SessionID)
}

// RevokeSession removes every refresh token of one session.
func (s *OIDCService) RevokeSession(ctx context.Context, sessionID string) error {
	return s.refreshRepo.DeleteSession(ctx, sessionID)
}

// RevokeUser removes every refresh token of every session of the user.
func (s *OIDCService) RevokeUser(ctx context.Context, userID string) error {
	return s.refreshRepo.DeleteUser(ctx, userID)
}

// ParseAccessToken verifies signature, issuer and expiry of an access token.
func (s *OIDCService) ParseAccessToken(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrInvalidToken)
	}
	return &claims, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
