package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/repository"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

type waitlistRepository interface {
	CountByCourseAndStatus(ctx context.Context, courseID string, status models.ApplicationStatus) (int, error)
	PromoteWaitlisted(ctx context.Context, courseID string, limit int, at time.Time) ([]models.Application, error)
}

type promotionObserver interface {
	PromotionCompleted(promoted int)
}

// WaitlistOption customises optional collaborators of WaitlistService.
type WaitlistOption func(*WaitlistService)

// WithPromotionObserver wires a metrics sink for promotion runs.
func WithPromotionObserver(observer promotionObserver) WaitlistOption {
	return func(s *WaitlistService) {
		s.observer = observer
	}
}

// WaitlistService backfills freed course seats from the waitlist, oldest
// application first. Promotion is triggered after declines, withdrawals and
// capacity increases; it is safe to invoke when no seat is actually free.
type WaitlistService struct {
	repo     waitlistRepository
	courses  courseReader
	notify   notifier
	logger   *zap.Logger
	attempts int
	observer promotionObserver
}

// NewWaitlistService constructs WaitlistService. attempts bounds the retry
// loop when the promotion batch loses a race.
func NewWaitlistService(repo waitlistRepository, courses courseReader, notify notifier, logger *zap.Logger, attempts int, opts ...WaitlistOption) *WaitlistService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts < 1 {
		attempts = 1
	}
	s := &WaitlistService{repo: repo, courses: courses, notify: notify, logger: logger, attempts: attempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Promote admits as many waitlisted applications as the course has free
// seats. Free seats are capacity minus current acceptances; a capacity of
// zero means the course never has seats to give. Returns the promoted
// applications, possibly none.
func (s *WaitlistService) Promote(ctx context.Context, courseID string) ([]models.Application, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Capacity <= 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		promoted, err := s.promoteOnce(ctx, course)
		if err == nil {
			s.notifyPromoted(ctx, course, promoted)
			return promoted, nil
		}
		if errors.Is(err, repository.ErrStaleStatus) {
			lastErr = err
			s.logger.Warn("waitlist promotion lost a race, recomputing",
				zap.String("course_id", courseID), zap.Int("attempt", attempt))
			continue
		}
		return nil, err
	}
	return nil, appErrors.Wrap(lastErr, appErrors.ErrPromotionIncomplete.Code,
		appErrors.ErrPromotionIncomplete.Status, appErrors.ErrPromotionIncomplete.Message)
}

func (s *WaitlistService) promoteOnce(ctx context.Context, course *models.Course) ([]models.Application, error) {
	enrolled, err := s.repo.CountByCourseAndStatus(ctx, course.ID, models.ApplicationStatusAccepted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrolled students")
	}
	available := course.Capacity - enrolled
	if available <= 0 {
		return nil, nil
	}

	promoted, err := s.repo.PromoteWaitlisted(ctx, course.ID, available, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote waitlist")
	}
	return promoted, nil
}

func (s *WaitlistService) notifyPromoted(ctx context.Context, course *models.Course, promoted []models.Application) {
	for _, app := range promoted {
		s.notify.Notify(ctx, app.StudentID,
			fmt.Sprintf("You have been admitted to %s from the waitlist", course.Name),
			models.NotificationTypePromotion)
	}
	if s.observer != nil {
		s.observer.PromotionCompleted(len(promoted))
	}
	if len(promoted) > 0 {
		s.logger.Info("waitlist promotion complete",
			zap.String("course_id", course.ID), zap.Int("promoted", len(promoted)))
	}
}
