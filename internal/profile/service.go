package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/profile/entity"
	"github.com/ovaphlow/englishbuds/pkg/database"
)

var (
	ErrNotFound = errors.New("profile not found")
	ErrExists   = errors.New("profile already exists")
	ErrNoUser   = errors.New("no account for profile id")
)

// Repository is the persistence the service needs; *repo.ProfileRepo implements it.
type Repository interface {
	Insert(ctx context.Context, np entity.NewProfile) error
	GetByID(ctx context.Context, id string) (*entity.Record, error)
	Update(ctx context.Context, id string, patch entity.Patch) (int64, error)
}

// Cache is an optional read-through cache in front of the repository.
type Cache interface {
	Get(ctx context.Context, id string) (*entity.Profile, error)
	Set(ctx context.Context, p *entity.Profile) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	repo   Repository
	cache  Cache
	logger *zap.SugaredLogger
}

func NewService(repo Repository, logger *zap.SugaredLogger) *Service {
	return &Service{repo: repo, logger: logger}
}

// WithCache enables the read cache. Cache failures are logged and never fail a request.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

// Get loads and parses the profile for id.
func (s *Service) Get(ctx context.Context, id string) (*entity.Profile, error) {
	if s.cache != nil {
		p, err := s.cache.Get(ctx, id)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, ErrCacheMiss):
			s.logger.Warnw("profile cache get", "id", id, "err", err)
		}
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load profile %s: %w", id, err)
	}
	p, err := entity.Parse(*rec)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.Warnw("profile cache set", "id", id, "err", err)
		}
	}
	return p, nil
}

// Create inserts a profile and returns it as stored.
func (s *Service) Create(ctx context.Context, np entity.NewProfile) (*entity.Profile, error) {
	if err := np.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, np); err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return nil, ErrExists
		case database.IsForeignKeyViolation(err):
			return nil, ErrNoUser
		}
		return nil, fmt.Errorf("insert profile %s: %w", np.ID, err)
	}
	s.logger.Infow("profile created", "id", np.ID, "role", np.Role)
	return s.Get(ctx, np.ID)
}

// Update applies patch and returns the updated profile.
func (s *Service) Update(ctx context.Context, id string, patch entity.Patch) (*entity.Profile, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	n, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", id, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	s.invalidate(ctx, id)
	return s.Get(ctx, id)
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warnw("profile cache delete", "id", id, "err", err)
	}
}
