// Package credstore persists the CLI's session credential between runs.
package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("no stored credential")

// Credential is one persisted session, keyed by the API it was issued by.
type Credential struct {
	API          string    `db:"api"`
	UserID       string    `db:"user_id"`
	Email        string    `db:"email"`
	Role         string    `db:"role"`
	DisplayName  string    `db:"display_name"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"-"`
	ExpiresUnix  int64     `db:"expires_at"`
	UpdatedUnix  int64     `db:"updated_at"`
}

type Store struct {
	db *sqlx.DB
}

// Open opens (and creates when missing) the sqlite file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("credential store path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; the file is private to this process
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureTable(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create credentials table: %w", err)
	}
	return s, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS credentials (
  api TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  email TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT '',
  display_name TEXT NOT NULL DEFAULT '',
  access_token TEXT NOT NULL,
  refresh_token TEXT NOT NULL,
  expires_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
)`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Load returns the credential stored for api or ErrNotFound.
func (s *Store) Load(ctx context.Context, api string) (*Credential, error) {
	var c Credential
	err := s.db.GetContext(ctx, &c, `SELECT api, user_id, email, role, display_name, access_token,
		refresh_token, expires_at, updated_at FROM credentials WHERE api = ?`, api)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.ExpiresAt = time.Unix(c.ExpiresUnix, 0)
	return &c, nil
}

// Save replaces the credential for c.API.
func (s *Store) Save(ctx context.Context, c Credential) error {
	c.ExpiresUnix = c.ExpiresAt.Unix()
	c.UpdatedUnix = time.Now().Unix()
	const q = `INSERT INTO credentials (api, user_id, email, role, display_name, access_token, refresh_token, expires_at, updated_at)
		VALUES (:api, :user_id, :email, :role, :display_name, :access_token, :refresh_token, :expires_at, :updated_at)
		ON CONFLICT(api) DO UPDATE SET user_id=excluded.user_id, email=excluded.email, role=excluded.role,
		display_name=excluded.display_name, access_token=excluded.access_token,
		refresh_token=excluded.refresh_token, expires_at=excluded.expires_at, updated_at=excluded.updated_at`
	_, err := s.db.NamedExecContext(ctx, q, c)
	return err
}

// Delete forgets the credential for api. Deleting nothing is not an error.
func (s *Store) Delete(ctx context.Context, api string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE api = ?`, api)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
