package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/englishbuds/internal/user/entity"
)

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email CITEXT UNIQUE NOT NULL,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  password_hash TEXT,
  password_algo TEXT,
  password_updated_at TIMESTAMPTZ,
  status TEXT NOT NULL DEFAULT 'active',
  login_failed_attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ,
  last_login_at TIMESTAMPTZ,
  version BIGINT NOT NULL DEFAULT 1,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  deactivated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row. The caller supplies the id.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id,email,email_verified,password_hash,password_algo,password_updated_at,status,version,metadata)
		  VALUES (:id,:email,:email_verified,:password_hash,:password_algo,NOW(),:status,:version,COALESCE(:metadata,'{}'::jsonb))`
	meta := json.RawMessage("{}")
	if len(u.MetadataRaw) > 0 {
		meta = json.RawMessage(u.MetadataRaw)
	}
	params := map[string]any{
		"id":             u.ID,
		"email":          u.Email,
		"email_verified": u.EmailVerified,
		"password_hash":  u.PasswordHash,
		"password_algo":  u.PasswordAlgo,
		"status":         u.Status,
		"version":        u.Version,
		"metadata":       meta,
	}
	_, err := r.db.NamedExecContext(ctx, q, params)
	return err
}

const userColumns = `id, email, email_verified, password_hash, password_algo, password_updated_at,
	status, login_failed_attempts, locked_until, last_login_at, version, metadata,
	created_at, updated_at, deactivated_at`

// GetByEmail returns a user matched by email (case-insensitive due to citext) or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE email=$1`, email); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByID fetches a full user row.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	var row entity.User
	if err := r.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetMinimalAuthView returns only the fields needed for token claim hydration.
func (r *UserRepo) GetMinimalAuthView(ctx context.Context, id string) (*entity.MinimalAuthView, error) {
	const q = `SELECT id, email, email_verified, version, metadata, created_at FROM users WHERE id=$1`
	var v entity.MinimalAuthView
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, id string) (int, error) {
	const q = `UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at=NOW() WHERE id=$1 RETURNING login_failed_attempts`
	var v int
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return 0, err
	}
	return v, nil
}

// LockIfThreshold locks the user if attempts >= threshold and currently active.
func (r *UserRepo) LockIfThreshold(ctx context.Context, id string, threshold int, lockMinutes int) (bool, error) {
	const q = `UPDATE users SET status='locked', locked_until = NOW() + make_interval(mins => $2), updated_at=NOW()
              WHERE id=$1 AND status='active' AND login_failed_attempts >= $3 RETURNING 1`
	var one int
	err := r.db.GetContext(ctx, &one, q, id, lockMinutes, threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, id string) error {
	const q = `UPDATE users SET login_failed_attempts=0, last_login_at=NOW(), locked_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// BumpVersion increments version for token invalidation and returns the new value.
func (r *UserRepo) BumpVersion(ctx context.Context, id string) (int64, error) {
	const q = `UPDATE users SET version = version + 1, updated_at=NOW() WHERE id=$1 RETURNING version`
	var v int64
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		return 0, err
	}
	return v, nil
}

// UnlockIfExpired sets status back to active if locked_until passed.
func (r *UserRepo) UnlockIfExpired(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE users SET status='active', locked_until=NULL, login_failed_attempts=0, updated_at=NOW()
               WHERE id=$1 AND status='locked' AND locked_until IS NOT NULL AND locked_until < NOW() RETURNING 1`
	var one int
	err := r.db.GetContext(ctx, &one, q, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdatePassword updates password hash & algo without touching the version.
func (r *UserRepo) UpdatePassword(ctx context.Context, id string, hash, algo string) error {
	const q = `UPDATE users SET password_hash=$2, password_algo=$3, password_updated_at=NOW(), updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, hash, algo)
	return err
}
