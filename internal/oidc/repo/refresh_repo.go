package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Refresh tokens are stored as sha256 digests; the raw token only ever
// exists on the client.
type RefreshRepo struct {
	db *sqlx.DB
}

func NewRefreshRepo(db *sqlx.DB) *RefreshRepo {
	return &RefreshRepo{db: db}
}

// EnsureTable creates oidc_refresh_sessions if not exists (idempotent).
func (r *RefreshRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS oidc_refresh_sessions (
  token_hash TEXT PRIMARY KEY,
  id BIGSERIAL,
  session_id UUID NOT NULL,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  client_id TEXT NOT NULL DEFAULT '',
  expires_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refresh_sessions_session ON oidc_refresh_sessions(session_id);
CREATE INDEX IF NOT EXISTS idx_refresh_sessions_user ON oidc_refresh_sessions(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *RefreshRepo) Save(ctx context.Context, tokenHash, sessionID, userID, clientID string, expiresAt time.Time) (int64, error) {
	query := `INSERT INTO oidc_refresh_sessions (token_hash, session_id, user_id, client_id, expires_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	var id int64
	row := r.db.QueryRowxContext(ctx, query, tokenHash, sessionID, userID, clientID, expiresAt)
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the session row for a token digest or sql.ErrNoRows.
func (r *RefreshRepo) Get(ctx context.Context, tokenHash string) (id int64, sessionID, userID, clientID string, expiresAt time.Time, err error) {
	query := `SELECT id, session_id, user_id, client_id, expires_at FROM oidc_refresh_sessions WHERE token_hash = $1`
	row := r.db.QueryRowxContext(ctx, query, tokenHash)
	err = row.Scan(&id, &sessionID, &userID, &clientID, &expiresAt)
	return
}

// Delete removes one token and reports whether it existed, so rotation can
// detect a concurrent reuse.
func (r *RefreshRepo) Delete(ctx context.Context, tokenHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oidc_refresh_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *RefreshRepo) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM oidc_refresh_sessions WHERE session_id = $1`, sessionID)
	return err
}

func (r *RefreshRepo) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM oidc_refresh_sessions WHERE user_id = $1`, userID)
	return err
}
