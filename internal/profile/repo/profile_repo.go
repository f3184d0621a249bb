package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
)

// ProfileRepo provides data access for the profiles table using sqlx.
type ProfileRepo struct {
	db *sqlx.DB
}

func NewProfileRepo(db *sqlx.DB) *ProfileRepo { return &ProfileRepo{db: db} }

// EnsureTable creates the profiles table if not exists (idempotent).
// It references users(id), so the users table must exist first.
func (r *ProfileRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS profiles (
  id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
  email CITEXT,
  role TEXT NOT NULL CHECK (role IN ('student','teacher','parent','admin')),
  display_name TEXT,
  avatar_url TEXT,
  first_name TEXT,
  last_name TEXT,
  date_of_birth TEXT,
  gender TEXT,
  language TEXT,
  phone TEXT,
  bio TEXT,
  specialization TEXT,
  total_stars INT NOT NULL DEFAULT 0,
  level INT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_profiles_role ON profiles(role);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const selectColumns = `id, email, role, display_name, avatar_url, first_name, last_name,
	date_of_birth, gender, language, phone, bio, specialization, total_stars, level,
	created_at, updated_at`

// Insert writes a new profile row. A second insert for the same id fails with
// a unique violation, see database.IsUniqueViolation.
func (r *ProfileRepo) Insert(ctx context.Context, np entity.NewProfile) error {
	const q = `INSERT INTO profiles (id, email, role, display_name, avatar_url)
		VALUES (:id, NULLIF(:email, ''), :role, :display_name, :avatar_url)`
	params := map[string]any{
		"id":           np.ID,
		"email":        np.Email,
		"role":         string(np.Role),
		"display_name": np.DisplayName,
		"avatar_url":   np.AvatarURL,
	}
	_, err := r.db.NamedExecContext(ctx, q, params)
	return err
}

// GetByID returns the raw record or sql.ErrNoRows.
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*entity.Record, error) {
	q := `SELECT ` + selectColumns + ` FROM profiles WHERE id=$1`
	var rec entity.Record
	if err := r.db.GetContext(ctx, &rec, q, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update sets the patch columns and returns the number of rows touched
// (0 when the profile does not exist).
func (r *ProfileRepo) Update(ctx context.Context, id string, patch entity.Patch) (int64, error) {
	cols := patch.Columns()
	if len(cols) == 0 {
		return 0, entity.ErrEmptyPatch
	}
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	args = append(args, id)
	for i, c := range cols {
		// column names come from Patch.Columns, never from input
		sets = append(sets, fmt.Sprintf("%s=$%d", c.Name, i+2))
		args = append(args, c.Value)
	}
	sets = append(sets, "updated_at=NOW()")
	q := `UPDATE profiles SET ` + strings.Join(sets, ", ") + ` WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
