package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
	userentity "github.com/ovaphlow/englishbuds/internal/user/entity"
	"github.com/ovaphlow/englishbuds/pkg/database"
	"github.com/ovaphlow/englishbuds/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", b.cost()), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports whether the stored hash was made with a different cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return c != b.cost()
}

// Store is the persistence the service needs; *repo.UserRepo implements it.
type Store interface {
	Create(ctx context.Context, u *userentity.User) error
	GetByEmail(ctx context.Context, email string) (*userentity.User, error)
	GetMinimalAuthView(ctx context.Context, id string) (*userentity.MinimalAuthView, error)
	IncrementFailedLogin(ctx context.Context, id string) (int, error)
	LockIfThreshold(ctx context.Context, id string, threshold int, lockMinutes int) (bool, error)
	ResetLoginSuccess(ctx context.Context, id string) error
	BumpVersion(ctx context.Context, id string) (int64, error)
	UnlockIfExpired(ctx context.Context, id string) (bool, error)
	UpdatePassword(ctx context.Context, id string, hash, algo string) error
}

// UserService orchestrates authentication and account lifecycle flows.
type UserService struct {
	repo   Store
	hasher PasswordHasher
	// configuration knobs
	MaxFailed   int
	LockMinutes int
	newID       func() string
}

func NewUserService(r Store, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{repo: r, hasher: hasher, MaxFailed: 6, LockMinutes: 15, newID: utilities.NewKSUID}
}

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrLocked         = errors.New("user locked")
	ErrDisabled       = errors.New("user disabled")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrInvalidSignup  = errors.New("invalid signup")
)

// NewAccount is the sign-up input.
type NewAccount struct {
	Email    string              `json:"email" validate:"required,email,max=254"`
	Password string              `json:"password" validate:"required,min=6,max=72"`
	Metadata userentity.Metadata `json:"data"`
}

func (na *NewAccount) clean() error {
	na.Email = strings.ToLower(strings.TrimSpace(na.Email))
	na.Metadata.DisplayName = strings.TrimSpace(na.Metadata.DisplayName)
	if err := entity.Validator().Struct(na); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignup, err)
	}
	if na.Metadata.Role != "" {
		if _, err := entity.ParseRole(na.Metadata.Role); err != nil {
			return fmt.Errorf("%w: role %q", ErrInvalidSignup, na.Metadata.Role)
		}
	}
	return nil
}

// AuthenticatePassword performs password authentication by email.
// On success resets counters and returns the user minimal auth view.
func (s *UserService) AuthenticatePassword(ctx context.Context, email, password string) (*userentity.MinimalAuthView, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrBadCredentials
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, err
	}

	// Expired lock auto-unlock attempt
	if u.Status == userentity.StatusLocked && u.LockedUntil != nil && u.LockedUntil.Before(time.Now()) {
		if unlocked, _ := s.repo.UnlockIfExpired(ctx, u.ID); unlocked {
			u.Status = userentity.StatusActive
			u.LockedUntil = nil
		}
	}

	if u.Status == userentity.StatusLocked {
		return nil, ErrLocked
	}
	if u.Status == userentity.StatusDisabled {
		return nil, ErrDisabled
	}
	if u.PasswordHash == nil || *u.PasswordHash == "" {
		return nil, ErrBadCredentials
	}

	if !s.hasher.Verify(*u.PasswordHash, password) {
		// failure path
		if _, incErr := s.repo.IncrementFailedLogin(ctx, u.ID); incErr == nil {
			// attempt lock
			_, _ = s.repo.LockIfThreshold(ctx, u.ID, s.MaxFailed, s.LockMinutes)
		}
		return nil, ErrBadCredentials
	}

	// success path
	if err := s.repo.ResetLoginSuccess(ctx, u.ID); err != nil {
		return nil, err
	}

	view, err := s.repo.GetMinimalAuthView(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	if s.hasher.NeedsRehash(*u.PasswordHash) {
		if newHash, algo, hErr := s.hasher.Hash(password); hErr == nil {
			_ = s.repo.UpdatePassword(ctx, u.ID, newHash, algo)
		}
	}
	return view, nil
}

// SignupUser creates an account with password (hashing inside) and returns its auth view.
func (s *UserService) SignupUser(ctx context.Context, na NewAccount) (*userentity.MinimalAuthView, error) {
	if err := na.clean(); err != nil {
		return nil, err
	}
	hash, algo, err := s.hasher.Hash(na.Password)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(na.Metadata)
	if err != nil {
		return nil, err
	}
	u := &userentity.User{
		ID:            s.newID(),
		Email:         na.Email,
		EmailVerified: false,
		PasswordHash:  &hash,
		PasswordAlgo:  &algo,
		Status:        userentity.StatusActive,
		Version:       1,
		MetadataRaw:   meta,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	return s.repo.GetMinimalAuthView(ctx, u.ID)
}

// BumpVersionAndRevoke invalidates every token issued so far for the user and
// returns the new version (refresh tokens are revoked by the caller).
func (s *UserService) BumpVersionAndRevoke(ctx context.Context, userID string) (int64, error) {
	v, err := s.repo.BumpVersion(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return v, nil
}

// GetMinimalAuthView retrieves the minimal projection for a user by ID.
func (s *UserService) GetMinimalAuthView(ctx context.Context, id string) (*userentity.MinimalAuthView, error) {
	v, err := s.repo.GetMinimalAuthView(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return v, nil
}
