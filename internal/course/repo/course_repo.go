package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/englishbuds/internal/course/entity"
)

// CourseRepo reads the course catalog and purchases. Rows are written by
// the catalog tooling, never by this service.
type CourseRepo struct {
	db *sqlx.DB
}

func NewCourseRepo(db *sqlx.DB) *CourseRepo { return &CourseRepo{db: db} }

// EnsureTable creates courses, course_contents and purchases if missing.
// courses references users(id), so the users table must exist first.
func (r *CourseRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS courses (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price NUMERIC(10,2) NOT NULL DEFAULT 0,
  teacher_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  thumbnail_url TEXT,
  is_bundle BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_courses_teacher ON courses(teacher_id);
CREATE TABLE IF NOT EXISTS course_contents (
  id TEXT PRIMARY KEY,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  type TEXT NOT NULL CHECK (type IN ('video','quiz','worksheet')),
  content_url TEXT,
  position INT NOT NULL,
  is_free BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_course_contents_course ON course_contents(course_id, position);
CREATE TABLE IF NOT EXISTS purchases (
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (user_id, course_id)
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const courseColumns = `c.id, c.title, c.description, c.price, c.teacher_id, c.thumbnail_url,
	c.is_bundle, c.created_at, c.updated_at`

// ListByTeacher returns the teacher's courses, newest first.
func (r *CourseRepo) ListByTeacher(ctx context.Context, teacherID string) ([]entity.Course, error) {
	q := `SELECT ` + courseColumns + ` FROM courses c WHERE c.teacher_id=$1 ORDER BY c.created_at DESC, c.id`
	out := []entity.Course{}
	if err := r.db.SelectContext(ctx, &out, q, teacherID); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPurchased returns the courses userID bought, latest purchase first.
func (r *CourseRepo) ListPurchased(ctx context.Context, userID string) ([]entity.Course, error) {
	q := `SELECT ` + courseColumns + ` FROM courses c
		JOIN purchases p ON p.course_id = c.id
		WHERE p.user_id=$1 ORDER BY p.created_at DESC, c.id`
	out := []entity.Course{}
	if err := r.db.SelectContext(ctx, &out, q, userID); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns the course or sql.ErrNoRows.
func (r *CourseRepo) GetByID(ctx context.Context, id string) (*entity.Course, error) {
	q := `SELECT ` + courseColumns + ` FROM courses c WHERE c.id=$1`
	var c entity.Course
	if err := r.db.GetContext(ctx, &c, q, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContents returns the course items in position order.
func (r *CourseRepo) ListContents(ctx context.Context, courseID string) ([]entity.Content, error) {
	const q = `SELECT id, course_id, title, type, content_url, position, is_free, created_at
		FROM course_contents WHERE course_id=$1 ORDER BY position ASC, id`
	out := []entity.Content{}
	if err := r.db.SelectContext(ctx, &out, q, courseID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *CourseRepo) HasPurchase(ctx context.Context, userID, courseID string) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `SELECT EXISTS(SELECT 1 FROM purchases WHERE user_id=$1 AND course_id=$2)`, userID, courseID)
	return ok, err
}
