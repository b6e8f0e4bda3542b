package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

func courseFixtures(t *testing.T) (*memCourseRepo, *memCache, *memInstitutions, *memProfiles, *memApplicationRepo, *recordingPromoter, *CourseService) {
	t.Helper()
	repo := newMemCourseRepo(
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
	)
	cache := newMemCache()
	institutions := newMemInstitutions(
		models.Institution{ID: "inst-1", UserID: "user-inst-1", Name: "Limkokwing"},
		models.Institution{ID: "inst-2", UserID: "user-inst-2", Name: "Botho"},
	)
	profiles := newMemProfiles(profileWithGrades("student-1", eligibility.GradeSet{
		{Subject: "Mathematics", Grade: "B"},
		{Subject: "English", Grade: "A"},
	}))
	applications := newMemApplicationRepo()
	promoter := &recordingPromoter{}
	svc := NewCourseService(repo, cache, institutions, profiles, applications, promoter, nil, zap.NewNop(), time.Minute)
	return repo, cache, institutions, profiles, applications, promoter, svc
}

func TestCatalogListServesRepeatQueriesFromCache(t *testing.T) {
	repo, _, _, _, _, _, svc := courseFixtures(t)
	ctx := context.Background()
	filter := models.CourseFilter{Page: 1, PageSize: 20}

	_, total, err := svc.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// A write that bypasses the service is invisible until the cache expires.
	repo.courses["course-eng"] = models.Course{ID: "course-eng", InstitutionID: "inst-2", Name: "Engineering", Active: true}

	_, total, err = svc.List(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestBrowseForStudentAnnotatesEligibility(t *testing.T) {
	_, _, _, profiles, applications, _, svc := courseFixtures(t)
	ctx := context.Background()

	require.NoError(t, profiles.Upsert(ctx, &models.StudentProfile{
		UserID: "student-1",
		Grades: mustJSON(t, eligibility.GradeSet{{Subject: "Mathematics", Grade: "D"}}),
	}))
	require.NoError(t, applications.Create(ctx, &models.Application{
		StudentID: "student-1", CourseID: "course-law", InstitutionID: "inst-1",
		Status: models.ApplicationStatusPending, AppliedAt: time.Now().UTC(),
	}))

	offers, total, err := svc.BrowseForStudent(ctx, "student-1", models.CourseFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, offers, 2)

	byID := make(map[string]models.CourseOffer, len(offers))
	for _, offer := range offers {
		byID[offer.ID] = offer
	}
	assert.False(t, byID["course-cs"].Eligibility.Eligible)
	assert.Contains(t, byID["course-cs"].Eligibility.MissingSubjects, "Mathematics")
	assert.True(t, byID["course-law"].Eligibility.Eligible)
	assert.Equal(t, 1, byID["course-law"].ApplicationsUsed)
}

func TestBrowseForStudentSkipsInactiveCourses(t *testing.T) {
	repo, _, _, _, _, _, svc := courseFixtures(t)
	repo.courses["course-old"] = models.Course{ID: "course-old", InstitutionID: "inst-1", Name: "Retired", Active: false}

	offers, _, err := svc.BrowseForStudent(context.Background(), "student-1", models.CourseFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)
	for _, offer := range offers {
		assert.NotEqual(t, "course-old", offer.ID)
	}
}

func TestCreateCourseAssignsOwnInstitution(t *testing.T) {
	_, cache, _, _, _, _, svc := courseFixtures(t)
	ctx := context.Background()

	// Prime the cache so the create has something to invalidate.
	_, _, err := svc.List(ctx, models.CourseFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)

	course, err := svc.Create(ctx, "user-inst-1", CourseRequest{
		Name:     "Information Systems",
		Capacity: 30,
		Active:   true,
		Requirements: []eligibility.SubjectRequirement{
			{Subject: "Mathematics", MinGrade: "D"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "inst-1", course.InstitutionID)
	assert.Equal(t, 1, cache.invalidated)
}

func TestCreateCourseRejectsUnregisteredOwner(t *testing.T) {
	_, _, _, _, _, _, svc := courseFixtures(t)

	_, err := svc.Create(context.Background(), "user-nobody", CourseRequest{Name: "Physics", Active: true})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCreateCourseValidatesGPARange(t *testing.T) {
	_, _, _, _, _, _, svc := courseFixtures(t)
	tooHigh := 4.5

	_, err := svc.Create(context.Background(), "user-inst-1", CourseRequest{
		Name:   "Physics",
		MinGPA: &tooHigh,
		Active: true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateCourseValidatesRequirementGrades(t *testing.T) {
	_, _, _, _, _, _, svc := courseFixtures(t)

	_, err := svc.Create(context.Background(), "user-inst-1", CourseRequest{
		Name:   "Physics",
		Active: true,
		Requirements: []eligibility.SubjectRequirement{
			{Subject: "Physics", MinGrade: "Z"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateCourseRefusesForeignOwner(t *testing.T) {
	_, _, _, _, _, _, svc := courseFixtures(t)

	_, err := svc.Update(context.Background(), "user-inst-2", "course-cs", CourseRequest{
		Name:     "Computer Science",
		Capacity: 5,
		Active:   true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUpdateCapacityIncreaseBackfillsWaitlist(t *testing.T) {
	_, _, _, _, _, promoter, svc := courseFixtures(t)

	course, err := svc.Update(context.Background(), "user-inst-1", "course-cs", CourseRequest{
		Name:     "Computer Science",
		Capacity: 4,
		Active:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, course.Capacity)
	assert.Equal(t, []string{"course-cs"}, promoter.courses)
}

func TestUpdateUnchangedCapacitySkipsBackfill(t *testing.T) {
	_, _, _, _, _, promoter, svc := courseFixtures(t)

	_, err := svc.Update(context.Background(), "user-inst-1", "course-cs", CourseRequest{
		Name:     "Computer Science",
		Capacity: 2,
		Active:   true,
	})
	require.NoError(t, err)
	assert.Empty(t, promoter.courses)
}
