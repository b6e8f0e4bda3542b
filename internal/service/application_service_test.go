package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func applicationFixtures(t *testing.T) (*memApplicationRepo, *memCourseRepo, *memInstitutions, *memProfiles, *recordingNotifier, *recordingPromoter) {
	t.Helper()
	courses := newMemCourseRepo(
		models.Course{
			ID:            "course-cs",
			InstitutionID: "inst-1",
			Name:          "Computer Science",
			Capacity:      2,
			Active:        true,
			Requirements: mustJSON(t, eligibility.RequirementSet{
				{Subject: "Mathematics", MinGrade: "C"},
			}),
		},
		models.Course{
			ID:            "course-law",
			InstitutionID: "inst-1",
			Name:          "Law",
			Capacity:      1,
			Active:        true,
		},
		models.Course{
			ID:            "course-med",
			InstitutionID: "inst-1",
			Name:          "Medicine",
			Capacity:      1,
			Active:        true,
		},
	)
	institutions := newMemInstitutions(models.Institution{ID: "inst-1", UserID: "user-inst-1", Name: "Limkokwing"})
	profiles := newMemProfiles(profileWithGrades("student-1", eligibility.GradeSet{
		{Subject: "Mathematics", Grade: "B"},
		{Subject: "English", Grade: "A"},
	}))
	return newMemApplicationRepo(), courses, institutions, profiles, &recordingNotifier{}, &recordingPromoter{}
}

func newTestApplicationService(repo *memApplicationRepo, courses *memCourseRepo, institutions *memInstitutions, profiles *memProfiles, notify *recordingNotifier, promoter *recordingPromoter) *ApplicationService {
	return NewApplicationService(repo, courses, institutions, profiles, promoter, notify, nil, zap.NewNop())
}

func TestApplyCreatesPendingApplication(t *testing.T) {
	repo, courses, institutions, profiles, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	detail, err := svc.Apply(context.Background(), "student-1", SubmitApplicationRequest{CourseID: "course-cs"})
	require.NoError(t, err)

	assert.Equal(t, models.ApplicationStatusPending, detail.Status)
	assert.Equal(t, "student-1", detail.StudentID)
	assert.Equal(t, "inst-1", detail.InstitutionID)
	assert.False(t, detail.AppliedAt.IsZero())

	events := notify.forUser("user-inst-1")
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationTypeApplication, events[0].Type)
}

func TestApplyRejectsIneligibleStudent(t *testing.T) {
	repo, courses, institutions, _, notify, promoter := applicationFixtures(t)
	profiles := newMemProfiles(profileWithGrades("student-1", eligibility.GradeSet{
		{Subject: "Mathematics", Grade: "D"},
	}))
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	_, err := svc.Apply(context.Background(), "student-1", SubmitApplicationRequest{CourseID: "course-cs"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEligible.Code, appErrors.FromError(err).Code)
}

func TestApplyFailsClosedWithoutProfile(t *testing.T) {
	repo, courses, institutions, _, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, newMemProfiles(), notify, promoter)

	// No grades recorded: a course with requirements must refuse.
	_, err := svc.Apply(context.Background(), "student-1", SubmitApplicationRequest{CourseID: "course-cs"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEligible.Code, appErrors.FromError(err).Code)

	// A course with no requirements stays open to all.
	_, err = svc.Apply(context.Background(), "student-1", SubmitApplicationRequest{CourseID: "course-law"})
	assert.NoError(t, err)
}

func TestApplyRejectsDuplicateCourse(t *testing.T) {
	repo, courses, institutions, profiles, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	_, err := svc.Apply(context.Background(), "student-1", SubmitApplicationRequest{CourseID: "course-cs"})
	require.NoError(t, err)

	_, err = svc.Apply(context.Background(), "student-1", SubmitApplicationRequest{CourseID: "course-cs"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateApplication.Code, appErrors.FromError(err).Code)
}

func TestApplyEnforcesInstitutionCap(t *testing.T) {
	repo, courses, institutions, profiles, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	ctx := context.Background()
	_, err := svc.Apply(ctx, "student-1", SubmitApplicationRequest{CourseID: "course-cs"})
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "student-1", SubmitApplicationRequest{CourseID: "course-law"})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, "student-1", SubmitApplicationRequest{CourseID: "course-med"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapExceeded.Code, appErrors.FromError(err).Code)
}

func TestApplyCapFreesUpAfterDecline(t *testing.T) {
	now := time.Now().UTC()
	declinedAt := now.Add(-time.Hour)
	reason := models.DeclineReasonWithdrawn
	repo := newMemApplicationRepo(
		models.Application{ID: "a1", StudentID: "student-1", CourseID: "course-cs", InstitutionID: "inst-1",
			Status: models.ApplicationStatusPending, AppliedAt: now.Add(-2 * time.Hour)},
		models.Application{ID: "a2", StudentID: "student-1", CourseID: "course-law", InstitutionID: "inst-1",
			Status: models.ApplicationStatusDeclined, AppliedAt: now.Add(-2 * time.Hour),
			DeclinedAt: &declinedAt, DeclineReason: &reason},
	)
	_, courses, institutions, profiles, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	// One live + one declined leaves a free slot.
	_, err := svc.Apply(context.Background(), "student-1", SubmitApplicationRequest{CourseID: "course-med"})
	assert.NoError(t, err)
}

func TestPendingSelectionReturnsAdmittedOnly(t *testing.T) {
	now := time.Now().UTC()
	repo := newMemApplicationRepo(
		models.Application{ID: "a1", StudentID: "student-1", CourseID: "course-cs", InstitutionID: "inst-1",
			Status: models.ApplicationStatusAdmitted, AppliedAt: now.Add(-3 * time.Hour)},
		models.Application{ID: "a2", StudentID: "student-1", CourseID: "course-law", InstitutionID: "inst-1",
			Status: models.ApplicationStatusPending, AppliedAt: now.Add(-2 * time.Hour)},
		models.Application{ID: "a3", StudentID: "student-2", CourseID: "course-cs", InstitutionID: "inst-1",
			Status: models.ApplicationStatusAdmitted, AppliedAt: now.Add(-1 * time.Hour)},
	)
	_, courses, institutions, profiles, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	pending, err := svc.PendingSelection(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a1", pending[0].ID)
}

func TestWithdrawDeclinesOwnApplication(t *testing.T) {
	now := time.Now().UTC()
	repo := newMemApplicationRepo(
		models.Application{ID: "a1", StudentID: "student-1", CourseID: "course-cs", InstitutionID: "inst-1",
			Status: models.ApplicationStatusPending, AppliedAt: now},
	)
	_, courses, institutions, profiles, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	detail, err := svc.Withdraw(context.Background(), "student-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusDeclined, detail.Status)
	require.NotNil(t, detail.DeclineReason)
	assert.Equal(t, models.DeclineReasonWithdrawn, *detail.DeclineReason)
	assert.Empty(t, promoter.courses, "withdrawing a pending application frees no seat")
}

func TestWithdrawAcceptedBackfillsWaitlist(t *testing.T) {
	now := time.Now().UTC()
	repo := newMemApplicationRepo(
		models.Application{ID: "a1", StudentID: "student-1", CourseID: "course-cs", InstitutionID: "inst-1",
			Status: models.ApplicationStatusAccepted, AppliedAt: now},
	)
	_, courses, institutions, profiles, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	_, err := svc.Withdraw(context.Background(), "student-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"course-cs"}, promoter.courses)
}

func TestWithdrawRefusesForeignApplication(t *testing.T) {
	now := time.Now().UTC()
	repo := newMemApplicationRepo(
		models.Application{ID: "a1", StudentID: "student-2", CourseID: "course-cs", InstitutionID: "inst-1",
			Status: models.ApplicationStatusPending, AppliedAt: now},
	)
	_, courses, institutions, profiles, notify, promoter := applicationFixtures(t)
	svc := newTestApplicationService(repo, courses, institutions, profiles, notify, promoter)

	_, err := svc.Withdraw(context.Background(), "student-1", "a1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
