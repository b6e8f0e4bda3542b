package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/config"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

func selectionConfig() config.SelectionConfig {
	return config.SelectionConfig{
		LockTTL:       30 * time.Second,
		LockRetries:   2,
		LockBackoff:   time.Millisecond,
		WriteAttempts: 3,
	}
}

// portfolio: two admitted offers and a pending application across two
// institutions, the shape produced by a typical admission round.
func selectionFixtures() (*memApplicationRepo, *memInstitutions) {
	now := time.Now().UTC()
	admittedAt := now.Add(-time.Hour)
	repo := newMemApplicationRepo(
		models.Application{ID: "offer-a", StudentID: "student-1", CourseID: "course-a", InstitutionID: "inst-1",
			Status: models.ApplicationStatusAdmitted, AppliedAt: now.Add(-72 * time.Hour), AdmittedAt: &admittedAt},
		models.Application{ID: "offer-b", StudentID: "student-1", CourseID: "course-b", InstitutionID: "inst-2",
			Status: models.ApplicationStatusAdmitted, AppliedAt: now.Add(-48 * time.Hour), AdmittedAt: &admittedAt},
		models.Application{ID: "pending-c", StudentID: "student-1", CourseID: "course-c", InstitutionID: "inst-2",
			Status: models.ApplicationStatusPending, AppliedAt: now.Add(-24 * time.Hour)},
		models.Application{ID: "other-student", StudentID: "student-2", CourseID: "course-a", InstitutionID: "inst-1",
			Status: models.ApplicationStatusAdmitted, AppliedAt: now.Add(-24 * time.Hour), AdmittedAt: &admittedAt},
	)
	institutions := newMemInstitutions(
		models.Institution{ID: "inst-1", UserID: "user-inst-1", Name: "Limkokwing"},
		models.Institution{ID: "inst-2", UserID: "user-inst-2", Name: "NUL"},
	)
	return repo, institutions
}

func newTestSelectionService(repo *memApplicationRepo, institutions *memInstitutions, lock *fakeLock, notify *recordingNotifier, promoter *recordingPromoter) *SelectionService {
	return NewSelectionService(repo, lock, institutions, promoter, notify, zap.NewNop(), selectionConfig())
}

func TestSelectOfferAcceptsChosenAndDeclinesRest(t *testing.T) {
	repo, institutions := selectionFixtures()
	lock := &fakeLock{}
	notify := &recordingNotifier{}
	promoter := &recordingPromoter{}
	svc := newTestSelectionService(repo, institutions, lock, notify, promoter)

	outcome, err := svc.SelectOffer(context.Background(), "student-1", "offer-a")
	require.NoError(t, err)
	require.False(t, outcome.AlreadySelected)

	assert.Equal(t, models.ApplicationStatusAccepted, outcome.Accepted.Status)
	require.NotNil(t, outcome.Accepted.AcceptedAt)

	require.Len(t, outcome.Declined, 2)
	for _, app := range outcome.Declined {
		assert.Equal(t, models.ApplicationStatusDeclined, app.Status)
		require.NotNil(t, app.DeclineReason)
		assert.Equal(t, models.DeclineReasonSuperseded, *app.DeclineReason)
	}

	// Persisted state matches the outcome.
	assert.Equal(t, models.ApplicationStatusAccepted, repo.get("offer-a").Status)
	assert.Equal(t, models.ApplicationStatusDeclined, repo.get("offer-b").Status)
	assert.Equal(t, models.ApplicationStatusDeclined, repo.get("pending-c").Status)

	// Another student's offer on the same course is untouched.
	assert.Equal(t, models.ApplicationStatusAdmitted, repo.get("other-student").Status)

	// Declined courses get a waitlist backfill; the accepted course does not.
	assert.ElementsMatch(t, []string{"course-b", "course-c"}, promoter.courses)

	assert.NotEmpty(t, notify.forUser("student-1"))
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestSelectOfferIsIdempotent(t *testing.T) {
	repo, institutions := selectionFixtures()
	lock := &fakeLock{}
	notify := &recordingNotifier{}
	promoter := &recordingPromoter{}
	svc := newTestSelectionService(repo, institutions, lock, notify, promoter)

	first, err := svc.SelectOffer(context.Background(), "student-1", "offer-b")
	require.NoError(t, err)
	require.False(t, first.AlreadySelected)
	promotionsAfterFirst := len(promoter.courses)

	second, err := svc.SelectOffer(context.Background(), "student-1", "offer-b")
	require.NoError(t, err)
	assert.True(t, second.AlreadySelected)
	assert.Equal(t, first.Accepted.ID, second.Accepted.ID)
	assert.Empty(t, second.Declined)

	// The replay writes nothing and triggers nothing.
	assert.Len(t, promoter.courses, promotionsAfterFirst)
}

func TestSelectOfferRejectsNonAdmitted(t *testing.T) {
	repo, institutions := selectionFixtures()
	svc := newTestSelectionService(repo, institutions, &fakeLock{}, &recordingNotifier{}, &recordingPromoter{})

	_, err := svc.SelectOffer(context.Background(), "student-1", "pending-c")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSelection.Code, appErrors.FromError(err).Code)
}

func TestSelectOfferRejectsForeignApplication(t *testing.T) {
	repo, institutions := selectionFixtures()
	svc := newTestSelectionService(repo, institutions, &fakeLock{}, &recordingNotifier{}, &recordingPromoter{})

	_, err := svc.SelectOffer(context.Background(), "student-1", "other-student")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidSelection.Code, appErrors.FromError(err).Code)
}

func TestSelectOfferRetriesAfterLostRace(t *testing.T) {
	repo, institutions := selectionFixtures()
	repo.failNextApply(2)
	svc := newTestSelectionService(repo, institutions, &fakeLock{}, &recordingNotifier{}, &recordingPromoter{})

	outcome, err := svc.SelectOffer(context.Background(), "student-1", "offer-a")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusAccepted, outcome.Accepted.Status)
}

func TestSelectOfferGivesUpAfterBoundedRetries(t *testing.T) {
	repo, institutions := selectionFixtures()
	repo.failNextApply(10)
	svc := newTestSelectionService(repo, institutions, &fakeLock{}, &recordingNotifier{}, &recordingPromoter{})

	_, err := svc.SelectOffer(context.Background(), "student-1", "offer-a")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSelectionIncomplete.Code, appErrors.FromError(err).Code)

	// Nothing committed: the portfolio is unchanged.
	assert.Equal(t, models.ApplicationStatusAdmitted, repo.get("offer-a").Status)
	assert.Equal(t, models.ApplicationStatusAdmitted, repo.get("offer-b").Status)
}

func TestSelectOfferWaitsOutLockContention(t *testing.T) {
	repo, institutions := selectionFixtures()
	lock := &fakeLock{busy: 2}
	svc := newTestSelectionService(repo, institutions, lock, &recordingNotifier{}, &recordingPromoter{})

	outcome, err := svc.SelectOffer(context.Background(), "student-1", "offer-a")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusAccepted, outcome.Accepted.Status)
	assert.Equal(t, 1, lock.acquired)
}

func TestSelectOfferFailsWhenLockStaysHeld(t *testing.T) {
	repo, institutions := selectionFixtures()
	lock := &fakeLock{busy: 10}
	svc := newTestSelectionService(repo, institutions, lock, &recordingNotifier{}, &recordingPromoter{})

	_, err := svc.SelectOffer(context.Background(), "student-1", "offer-a")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConcurrentModification.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.ApplicationStatusAdmitted, repo.get("offer-a").Status)
}

func TestSelectOfferSupersedesAcceptedAndFreesSeat(t *testing.T) {
	now := time.Now().UTC()
	acceptedAt := now.Add(-time.Hour)
	admittedAt := now.Add(-time.Hour)
	repo := newMemApplicationRepo(
		models.Application{ID: "held-seat", StudentID: "student-1", CourseID: "course-full", InstitutionID: "inst-1",
			Status: models.ApplicationStatusAccepted, AppliedAt: now.Add(-96 * time.Hour), AcceptedAt: &acceptedAt},
		models.Application{ID: "late-offer", StudentID: "student-1", CourseID: "course-other", InstitutionID: "inst-2",
			Status: models.ApplicationStatusAdmitted, AppliedAt: now.Add(-48 * time.Hour), AdmittedAt: &admittedAt},
		models.Application{ID: "wait-early", StudentID: "student-2", CourseID: "course-full", InstitutionID: "inst-1",
			Status: models.ApplicationStatusWaitlisted, AppliedAt: now.Add(-72 * time.Hour)},
		models.Application{ID: "wait-late", StudentID: "student-3", CourseID: "course-full", InstitutionID: "inst-1",
			Status: models.ApplicationStatusWaitlisted, AppliedAt: now.Add(-24 * time.Hour)},
	)
	courses := newMemCourseRepo(
		models.Course{ID: "course-full", InstitutionID: "inst-1", Name: "Medicine", Capacity: 1, Active: true},
		models.Course{ID: "course-other", InstitutionID: "inst-2", Name: "Law", Capacity: 5, Active: true},
	)
	institutions := newMemInstitutions(
		models.Institution{ID: "inst-1", UserID: "user-inst-1", Name: "Limkokwing"},
		models.Institution{ID: "inst-2", UserID: "user-inst-2", Name: "NUL"},
	)
	notify := &recordingNotifier{}
	waitlist := NewWaitlistService(repo, courses, notify, zap.NewNop(), 3)
	svc := NewSelectionService(repo, &fakeLock{}, institutions, waitlist, notify, zap.NewNop(), selectionConfig())

	outcome, err := svc.SelectOffer(context.Background(), "student-1", "late-offer")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusAccepted, outcome.Accepted.Status)

	// The previously accepted seat is released with the supersede reason.
	released := repo.get("held-seat")
	assert.Equal(t, models.ApplicationStatusDeclined, released.Status)
	require.NotNil(t, released.DeclineReason)
	assert.Equal(t, models.DeclineReasonSuperseded, *released.DeclineReason)

	// The freed seat goes to the earliest waitlisted applicant.
	promoted := repo.get("wait-early")
	assert.Equal(t, models.ApplicationStatusAdmitted, promoted.Status)
	require.NotNil(t, promoted.AdmissionSource)
	assert.Equal(t, models.AdmissionSourceWaitlist, *promoted.AdmissionSource)
	assert.NotEmpty(t, notify.forUser("student-2"))

	// One seat, one promotion.
	assert.Equal(t, models.ApplicationStatusWaitlisted, repo.get("wait-late").Status)
}

func TestSelectOfferNotifiesEachInstitutionOnce(t *testing.T) {
	repo, institutions := selectionFixtures()
	notify := &recordingNotifier{}
	svc := newTestSelectionService(repo, institutions, &fakeLock{}, notify, &recordingPromoter{})

	// Declines offer-b and pending-c, both held by the same institution.
	_, err := svc.SelectOffer(context.Background(), "student-1", "offer-a")
	require.NoError(t, err)
	assert.Len(t, notify.forUser("user-inst-2"), 1)
}

func TestSelectOfferSurvivesPromotionFailure(t *testing.T) {
	repo, institutions := selectionFixtures()
	promoter := &recordingPromoter{err: assert.AnError}
	svc := newTestSelectionService(repo, institutions, &fakeLock{}, &recordingNotifier{}, promoter)

	outcome, err := svc.SelectOffer(context.Background(), "student-1", "offer-a")
	require.NoError(t, err, "a failed backfill must not undo the committed selection")
	assert.Equal(t, models.ApplicationStatusAccepted, outcome.Accepted.Status)
	assert.Equal(t, models.ApplicationStatusAccepted, repo.get("offer-a").Status)
}
