package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed marks a backend record that cannot be mapped onto Profile.
var ErrMalformed = errors.New("malformed profile record")

// Record is the raw profile shape as stored and as sent over the wire.
// Every field is optional here; Parse decides what is acceptable.
type Record struct {
	ID             *string    `json:"id" db:"id"`
	Email          *string    `json:"email" db:"email"`
	Role           *string    `json:"role" db:"role"`
	DisplayName    *string    `json:"display_name" db:"display_name"`
	AvatarURL      *string    `json:"avatar_url" db:"avatar_url"`
	FirstName      *string    `json:"first_name" db:"first_name"`
	LastName       *string    `json:"last_name" db:"last_name"`
	DateOfBirth    *string    `json:"date_of_birth" db:"date_of_birth"`
	Gender         *string    `json:"gender" db:"gender"`
	Language       *string    `json:"language" db:"language"`
	Phone          *string    `json:"phone" db:"phone"`
	Bio            *string    `json:"bio" db:"bio"`
	Specialization *string    `json:"specialization" db:"specialization"`
	TotalStars     *int       `json:"total_stars" db:"total_stars"`
	Level          *int       `json:"level" db:"level"`
	CreatedAt      *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at" db:"updated_at"`
}

// Parse validates a raw record and maps it onto Profile. Missing or invalid
// identity and role are errors; optional display attributes stay nil.
func Parse(rec Record) (*Profile, error) {
	if rec.ID == nil || strings.TrimSpace(*rec.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if rec.Role == nil {
		return nil, fmt.Errorf("%w: missing role", ErrMalformed)
	}
	role, err := ParseRole(*rec.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: role %q", ErrMalformed, *rec.Role)
	}
	p := &Profile{
		ID:             *rec.ID,
		Role:           role,
		DisplayName:    nonEmpty(rec.DisplayName),
		AvatarURL:      nonEmpty(rec.AvatarURL),
		FirstName:      nonEmpty(rec.FirstName),
		LastName:       nonEmpty(rec.LastName),
		DateOfBirth:    nonEmpty(rec.DateOfBirth),
		Gender:         nonEmpty(rec.Gender),
		Language:       nonEmpty(rec.Language),
		Phone:          nonEmpty(rec.Phone),
		Bio:            nonEmpty(rec.Bio),
		Specialization: nonEmpty(rec.Specialization),
	}
	if rec.Email != nil && *rec.Email != "" {
		if err := validate.Var(*rec.Email, "email"); err != nil {
			return nil, fmt.Errorf("%w: email %q", ErrMalformed, *rec.Email)
		}
		p.Email = *rec.Email
	}
	if p.DateOfBirth != nil {
		if _, err := time.Parse("2006-01-02", *p.DateOfBirth); err != nil {
			return nil, fmt.Errorf("%w: date_of_birth %q", ErrMalformed, *p.DateOfBirth)
		}
	}
	if rec.TotalStars != nil {
		if *rec.TotalStars < 0 {
			return nil, fmt.Errorf("%w: total_stars %d", ErrMalformed, *rec.TotalStars)
		}
		p.TotalStars = *rec.TotalStars
	}
	if rec.Level != nil {
		if *rec.Level < 1 {
			return nil, fmt.Errorf("%w: level %d", ErrMalformed, *rec.Level)
		}
		p.Level = *rec.Level
	}
	if rec.CreatedAt != nil {
		p.CreatedAt = rec.CreatedAt.UTC()
	}
	if rec.UpdatedAt != nil {
		p.UpdatedAt = rec.UpdatedAt.UTC()
	}
	return p, nil
}

// ToRecord is the inverse of Parse, used when writing a profile out.
func ToRecord(p *Profile) Record {
	id := p.ID
	role := string(p.Role)
	stars := p.TotalStars
	rec := Record{
		ID:             &id,
		Role:           &role,
		DisplayName:    cloneString(p.DisplayName),
		AvatarURL:      cloneString(p.AvatarURL),
		FirstName:      cloneString(p.FirstName),
		LastName:       cloneString(p.LastName),
		DateOfBirth:    cloneString(p.DateOfBirth),
		Gender:         cloneString(p.Gender),
		Language:       cloneString(p.Language),
		Phone:          cloneString(p.Phone),
		Bio:            cloneString(p.Bio),
		Specialization: cloneString(p.Specialization),
		TotalStars:     &stars,
	}
	if p.Level > 0 {
		level := p.Level
		rec.Level = &level
	}
	if p.Email != "" {
		email := p.Email
		rec.Email = &email
	}
	if !p.CreatedAt.IsZero() {
		t := p.CreatedAt
		rec.CreatedAt = &t
	}
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		rec.UpdatedAt = &t
	}
	return rec
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
