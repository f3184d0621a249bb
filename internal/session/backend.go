package session

import (
	"context"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
)

// AuthBackend is the authentication service the resolver bridges.
// Expected failures come back as *AuthError.
type AuthBackend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, meta Metadata) (*Session, error)
	SignOut(ctx context.Context) error
	// GetSession returns the persisted session or nil when there is none.
	GetSession(ctx context.Context) (*Session, error)
	// GetUser asks the backend who the current credential belongs to.
	GetUser(ctx context.Context) (*User, error)
	// OnAuthStateChange registers fn for pushed changes. fn may be called
	// from any goroutine and must not block for long.
	OnAuthStateChange(fn func(Event, *Session)) Subscription
}

type Subscription interface {
	Unsubscribe()
}

// ProfileStore reads and writes profiles keyed by user id. Get fails with
// ErrProfileNotFound when the user has no profile and with
// ErrProfileMalformed when the stored record does not parse.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*entity.Profile, error)
	Insert(ctx context.Context, np entity.NewProfile) error
	Update(ctx context.Context, userID string, patch entity.Patch) error
}
