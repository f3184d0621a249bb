package entity

import (
	"errors"
	"time"
)

// Role selects which dashboard composes around a profile. It is fixed at
// creation; nothing in the normal flow changes it.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
	RoleAdmin   Role = "admin"
)

// Roles lists every valid role.
var Roles = []Role{RoleStudent, RoleTeacher, RoleParent, RoleAdmin}

var ErrUnknownRole = errors.New("unknown role")

// ParseRole maps a raw string onto a Role. Unknown values are an error,
// never a default role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStudent, RoleTeacher, RoleParent, RoleAdmin:
		return r, nil
	}
	return "", ErrUnknownRole
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Profile is the application-level user record, 1:1 with an account id.
type Profile struct {
	ID          string  `json:"id"`
	Email       string  `json:"email,omitempty"`
	Role        Role    `json:"role"`
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`

	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Gender      *string `json:"gender,omitempty"`
	Language    *string `json:"language,omitempty"`
	Phone       *string `json:"phone,omitempty"`

	// teacher attributes
	Bio            *string `json:"bio,omitempty"`
	Specialization *string `json:"specialization,omitempty"`

	// student gamification; zero means the backend does not track it
	TotalStars int `json:"total_stars"`
	Level      int `json:"level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so snapshots handed to callers never alias
// resolver state.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.DisplayName = cloneString(p.DisplayName)
	c.AvatarURL = cloneString(p.AvatarURL)
	c.FirstName = cloneString(p.FirstName)
	c.LastName = cloneString(p.LastName)
	c.DateOfBirth = cloneString(p.DateOfBirth)
	c.Gender = cloneString(p.Gender)
	c.Language = cloneString(p.Language)
	c.Phone = cloneString(p.Phone)
	c.Bio = cloneString(p.Bio)
	c.Specialization = cloneString(p.Specialization)
	return &c
}

// Name returns the display name or the email when no display name is set.
func (p *Profile) Name() string {
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	return p.Email
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// NewProfile is the input for creating a profile at sign-up time.
type NewProfile struct {
	ID          string  `json:"id" validate:"required,max=64"`
	Email       string  `json:"email,omitempty" validate:"omitempty,email"`
	Role        Role    `json:"role" validate:"required,role"`
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,max=80"`
	AvatarURL   *string `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

func (np NewProfile) Validate() error { return validateStruct(np) }

// Patch is a partial profile update. Absent (nil) fields are left alone.
// Role is not patchable.
type Patch struct {
	DisplayName    *string `json:"display_name,omitempty" validate:"omitempty,max=80"`
	AvatarURL      *string `json:"avatar_url,omitempty" validate:"omitempty,url"`
	FirstName      *string `json:"first_name,omitempty" validate:"omitempty,max=80"`
	LastName       *string `json:"last_name,omitempty" validate:"omitempty,max=80"`
	DateOfBirth    *string `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender         *string `json:"gender,omitempty" validate:"omitempty,max=32"`
	Language       *string `json:"language,omitempty" validate:"omitempty,max=16"`
	Phone          *string `json:"phone,omitempty" validate:"omitempty,e164"`
	Bio            *string `json:"bio,omitempty" validate:"omitempty,max=1000"`
	Specialization *string `json:"specialization,omitempty" validate:"omitempty,max=120"`
	TotalStars     *int    `json:"total_stars,omitempty" validate:"omitempty,min=0"`
	Level          *int    `json:"level,omitempty" validate:"omitempty,min=1"`
}

func (p Patch) Validate() error {
	if p.Empty() {
		return ErrEmptyPatch
	}
	return validateStruct(p)
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.Columns()) == 0
}

// Columns returns the set column names and values in a stable order.
func (p Patch) Columns() []Column {
	var cols []Column
	add := func(name string, set bool, v any) {
		if set {
			cols = append(cols, Column{Name: name, Value: v})
		}
	}
	add("display_name", p.DisplayName != nil, deref(p.DisplayName))
	add("avatar_url", p.AvatarURL != nil, deref(p.AvatarURL))
	add("first_name", p.FirstName != nil, deref(p.FirstName))
	add("last_name", p.LastName != nil, deref(p.LastName))
	add("date_of_birth", p.DateOfBirth != nil, deref(p.DateOfBirth))
	add("gender", p.Gender != nil, deref(p.Gender))
	add("language", p.Language != nil, deref(p.Language))
	add("phone", p.Phone != nil, deref(p.Phone))
	add("bio", p.Bio != nil, deref(p.Bio))
	add("specialization", p.Specialization != nil, deref(p.Specialization))
	if p.TotalStars != nil {
		cols = append(cols, Column{Name: "total_stars", Value: *p.TotalStars})
	}
	if p.Level != nil {
		cols = append(cols, Column{Name: "level", Value: *p.Level})
	}
	return cols
}

// Apply writes the set fields onto p.
func (p Patch) Apply(dst *Profile) {
	set := func(d **string, v *string) {
		if v != nil {
			*d = nonEmpty(v)
		}
	}
	set(&dst.DisplayName, p.DisplayName)
	set(&dst.AvatarURL, p.AvatarURL)
	set(&dst.FirstName, p.FirstName)
	set(&dst.LastName, p.LastName)
	set(&dst.DateOfBirth, p.DateOfBirth)
	set(&dst.Gender, p.Gender)
	set(&dst.Language, p.Language)
	set(&dst.Phone, p.Phone)
	set(&dst.Bio, p.Bio)
	set(&dst.Specialization, p.Specialization)
	if p.TotalStars != nil {
		dst.TotalStars = *p.TotalStars
	}
	if p.Level != nil {
		dst.Level = *p.Level
	}
}

// Column is one SET target of a patch.
type Column struct {
	Name  string
	Value any
}

// deref maps an empty string onto NULL so a patch can clear a column.
func deref(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
