package session

import (
	"time"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
)

// User is the identity confirmed by the auth layer. Role and DisplayName
// echo sign-up metadata; the Profile is authoritative for both.
type User struct {
	ID          string
	Email       string
	Role        string
	DisplayName string
}

// Session is the single active credential of the process.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// Metadata is attached to an account at sign-up.
type Metadata struct {
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Event names an auth state change pushed by the backend.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

type Status int

const (
	StatusUninitialized Status = iota
	StatusResolving
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusResolving:
		return "resolving"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	}
	return "unknown"
}

// State is a snapshot of the resolver. Snapshots never share memory with
// the resolver or with each other.
type State struct {
	Status  Status
	User    *User
	Profile *entity.Profile
	Loading bool
}

func (s State) clone() State {
	c := s
	if s.User != nil {
		u := *s.User
		c.User = &u
	}
	c.Profile = s.Profile.Clone()
	return c
}

// SignedIn reports whether a profile is present. A user without a profile
// counts as signed out.
func (s State) SignedIn() bool { return s.Profile != nil }

func (s State) hasRole(r entity.Role) bool { return s.Profile != nil && s.Profile.Role == r }

func (s State) IsStudent() bool { return s.hasRole(entity.RoleStudent) }
func (s State) IsTeacher() bool { return s.hasRole(entity.RoleTeacher) }
func (s State) IsParent() bool  { return s.hasRole(entity.RoleParent) }
func (s State) IsAdmin() bool   { return s.hasRole(entity.RoleAdmin) }

// Dashboard is the view composed around the current profile.
type Dashboard string

const (
	DashboardLoading Dashboard = "loading"
	DashboardSignIn  Dashboard = "sign-in"
	DashboardTeacher Dashboard = "teacher"
	DashboardStudent Dashboard = "student"
)

// Dashboard picks the view for the state: teachers and admins get the
// teacher dashboard, students and parents the student one.
func (s State) Dashboard() Dashboard {
	switch {
	case s.Loading:
		return DashboardLoading
	case !s.SignedIn():
		return DashboardSignIn
	case s.IsTeacher() || s.IsAdmin():
		return DashboardTeacher
	default:
		return DashboardStudent
	}
}
