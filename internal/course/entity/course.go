// Package entity holds the read-only course catalog types.
package entity

import "time"

type ContentType string

const (
	ContentVideo     ContentType = "video"
	ContentQuiz      ContentType = "quiz"
	ContentWorksheet ContentType = "worksheet"
)

// Course is a row of the courses table.
type Course struct {
	ID           string    `db:"id" json:"id"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description"`
	Price        float64   `db:"price" json:"price"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	ThumbnailURL *string   `db:"thumbnail_url" json:"thumbnail_url"`
	IsBundle     bool      `db:"is_bundle" json:"is_bundle"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Content is one lesson item of a course, ordered by Position.
type Content struct {
	ID         string      `db:"id" json:"id"`
	CourseID   string      `db:"course_id" json:"course_id"`
	Title      string      `db:"title" json:"title"`
	Type       ContentType `db:"type" json:"type"`
	ContentURL *string     `db:"content_url" json:"content_url"`
	Position   int         `db:"position" json:"position"`
	IsFree     bool        `db:"is_free" json:"is_free"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// Preview hides the link of a paid item.
func (c Content) Preview() Content {
	if !c.IsFree {
		c.ContentURL = nil
	}
	return c
}
