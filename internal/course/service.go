// Package course serves the read-only course catalog behind the dashboards:
// a teacher's own courses, a student's purchases and a course's items.
package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/englishbuds/internal/course/entity"
)

var ErrNotFound = errors.New("course not found")

// Repository is the persistence the service needs; *repo.CourseRepo implements it.
type Repository interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]entity.Course, error)
	ListPurchased(ctx context.Context, userID string) ([]entity.Course, error)
	GetByID(ctx context.Context, id string) (*entity.Course, error)
	ListContents(ctx context.Context, courseID string) ([]entity.Content, error)
	HasPurchase(ctx context.Context, userID, courseID string) (bool, error)
}

type Service struct {
	repo   Repository
	logger *zap.SugaredLogger
}

func NewService(repo Repository, logger *zap.SugaredLogger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) TeacherCourses(ctx context.Context, teacherID string) ([]entity.Course, error) {
	cs, err := s.repo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, fmt.Errorf("list courses of %s: %w", teacherID, err)
	}
	return cs, nil
}

func (s *Service) PurchasedCourses(ctx context.Context, userID string) ([]entity.Course, error) {
	cs, err := s.repo.ListPurchased(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list purchases of %s: %w", userID, err)
	}
	return cs, nil
}

// Contents lists the items of courseID. The course teacher and buyers get
// every link; anyone else gets a preview with only the free links.
func (s *Service) Contents(ctx context.Context, viewerID, courseID string) ([]entity.Content, error) {
	c, err := s.repo.GetByID(ctx, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course %s: %w", courseID, err)
	}
	full := c.TeacherID == viewerID
	if !full {
		if full, err = s.repo.HasPurchase(ctx, viewerID, courseID); err != nil {
			return nil, fmt.Errorf("check purchase of %s: %w", courseID, err)
		}
	}
	items, err := s.repo.ListContents(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list contents of %s: %w", courseID, err)
	}
	if !full {
		s.logger.Debugw("course preview", "course_id", courseID, "viewer", viewerID)
		for i := range items {
			items[i] = items[i].Preview()
		}
	}
	return items, nil
}
