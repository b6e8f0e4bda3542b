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
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/config"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

type selectionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
	ListLiveByStudent(ctx context.Context, studentID string) ([]models.Application, error)
	ApplySelection(ctx context.Context, acceptID string, declineIDs []string, at time.Time) error
}

type selectionLocker interface {
	Acquire(ctx context.Context, studentID string) (func(), error)
}

type selectionObserver interface {
	SelectionCompleted(alreadySelected bool)
}

// SelectionOption customises optional collaborators of SelectionService.
type SelectionOption func(*SelectionService)

// WithSelectionObserver wires a metrics sink for completed selections.
func WithSelectionObserver(observer selectionObserver) SelectionOption {
	return func(s *SelectionService) {
		s.observer = observer
	}
}

// SelectionService coordinates the accept-one-decline-rest admission
// selection. Every write goes through one conditional batch; the per-student
// lock only narrows the race window, correctness comes from the batch.
type SelectionService struct {
	repo         selectionRepository
	lock         selectionLocker
	institutions institutionReader
	waitlist     coursePromoter
	notify       notifier
	logger       *zap.Logger
	cfg          config.SelectionConfig
	observer     selectionObserver
}

// NewSelectionService constructs SelectionService.
func NewSelectionService(repo selectionRepository, lock selectionLocker, institutions institutionReader, waitlist coursePromoter, notify notifier, logger *zap.Logger, cfg config.SelectionConfig, opts ...SelectionOption) *SelectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteAttempts < 1 {
		cfg.WriteAttempts = 1
	}
	s := &SelectionService{
		repo:         repo,
		lock:         lock,
		institutions: institutions,
		waitlist:     waitlist,
		notify:       notify,
		logger:       logger,
		cfg:          cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectOffer accepts the chosen admitted offer and declines the rest of the
// student's live portfolio in one atomic batch. Selecting an offer that is
// already accepted is an idempotent no-op. After the batch commits, each
// declined course's waitlist is backfilled; a promotion failure never rolls
// the selection back.
func (s *SelectionService) SelectOffer(ctx context.Context, studentID, applicationID string) (*models.SelectionOutcome, error) {
	release, err := s.acquireLock(ctx, studentID)
	if err != nil {
		return nil, err
	}
	defer release()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.WriteAttempts; attempt++ {
		outcome, err := s.selectOnce(ctx, studentID, applicationID)
		if err == nil {
			s.finishSelection(ctx, outcome)
			return outcome, nil
		}
		if errors.Is(err, repository.ErrStaleStatus) {
			lastErr = err
			s.logger.Warn("selection batch lost a race, recomputing",
				zap.String("student_id", studentID),
				zap.String("application_id", applicationID),
				zap.Int("attempt", attempt))
			continue
		}
		return nil, err
	}
	return nil, appErrors.Wrap(lastErr, appErrors.ErrSelectionIncomplete.Code,
		appErrors.ErrSelectionIncomplete.Status, appErrors.ErrSelectionIncomplete.Message)
}

// selectOnce recomputes the portfolio from current state and attempts the
// batch exactly once. ErrStaleStatus means another writer moved first.
func (s *SelectionService) selectOnce(ctx context.Context, studentID, applicationID string) (*models.SelectionOutcome, error) {
	chosen, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if chosen.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrInvalidSelection, "application belongs to another student")
	}
	if chosen.Status == models.ApplicationStatusAccepted {
		return &models.SelectionOutcome{Accepted: *chosen, AlreadySelected: true}, nil
	}
	if chosen.Status != models.ApplicationStatusAdmitted {
		return nil, appErrors.Clone(appErrors.ErrInvalidSelection,
			fmt.Sprintf("application is %s, only admitted offers can be selected", chosen.Status))
	}

	live, err := s.repo.ListLiveByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}

	now := time.Now().UTC()
	declined := make([]models.Application, 0, len(live))
	declineIDs := make([]string, 0, len(live))
	for _, app := range live {
		if app.ID == chosen.ID {
			continue
		}
		declineIDs = append(declineIDs, app.ID)
		reason := models.DeclineReasonSuperseded
		app.Status = models.ApplicationStatusDeclined
		declinedAt := now
		app.DeclinedAt = &declinedAt
		app.DeclineReason = &reason
		declined = append(declined, app)
	}

	if err := s.repo.ApplySelection(ctx, chosen.ID, declineIDs, now); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply selection")
	}

	chosen.Status = models.ApplicationStatusAccepted
	acceptedAt := now
	chosen.AcceptedAt = &acceptedAt
	return &models.SelectionOutcome{Accepted: *chosen, Declined: declined}, nil
}

// finishSelection runs the post-commit side effects: waitlist backfill for
// every course that lost a live applicant, notifications, metrics. The
// selection itself is already durable; failures here are logged and the
// promotion can be re-run.
func (s *SelectionService) finishSelection(ctx context.Context, outcome *models.SelectionOutcome) {
	if s.observer != nil {
		s.observer.SelectionCompleted(outcome.AlreadySelected)
	}
	if outcome.AlreadySelected {
		return
	}

	s.notify.Notify(ctx, outcome.Accepted.StudentID,
		"Your admission acceptance has been recorded", models.NotificationTypeSelection)

	courses := make(map[string]struct{}, len(outcome.Declined))
	institutions := make(map[string]struct{}, len(outcome.Declined))
	for _, app := range outcome.Declined {
		if app.CourseID != outcome.Accepted.CourseID {
			courses[app.CourseID] = struct{}{}
		}
		if _, seen := institutions[app.InstitutionID]; seen {
			continue
		}
		institutions[app.InstitutionID] = struct{}{}
		s.notifyInstitution(ctx, app.InstitutionID,
			"An applicant declined their offer", models.NotificationTypeSelection)
	}
	for courseID := range courses {
		if _, err := s.waitlist.Promote(ctx, courseID); err != nil {
			s.logger.Error("waitlist promotion after selection failed",
				zap.String("course_id", courseID), zap.Error(err))
		}
	}
}

func (s *SelectionService) notifyInstitution(ctx context.Context, institutionID, message string, typ models.NotificationType) {
	inst, err := s.institutions.FindByID(ctx, institutionID)
	if err != nil {
		s.logger.Warn("failed to resolve institution for notification",
			zap.String("institution_id", institutionID), zap.Error(err))
		return
	}
	s.notify.Notify(ctx, inst.UserID, message, typ)
}

// acquireLock takes the per-student lock, backing off a bounded number of
// times when another selection holds it.
func (s *SelectionService) acquireLock(ctx context.Context, studentID string) (func(), error) {
	retries := s.cfg.LockRetries
	if retries < 0 {
		retries = 0
	}
	for attempt := 0; ; attempt++ {
		release, err := s.lock.Acquire(ctx, studentID)
		if err == nil {
			return release, nil
		}
		var appErr *appErrors.Error
		if !errors.As(err, &appErr) || appErr.Code != appErrors.ErrConcurrentModification.Code {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire selection lock")
		}
		if attempt >= retries {
			return nil, appErrors.ErrConcurrentModification
		}
		select {
		case <-ctx.Done():
			return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "selection cancelled")
		case <-time.After(s.cfg.LockBackoff):
		}
	}
}
