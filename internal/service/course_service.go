package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type liveCounter interface {
	CountLive(ctx context.Context, studentID, institutionID string) (int, error)
}

// CourseRequest carries the editable fields of a course.
type CourseRequest struct {
	Name         string                           `json:"name" validate:"required,min=2,max=200"`
	Description  string                           `json:"description" validate:"max=2000"`
	Capacity     int                              `json:"capacity" validate:"min=0"`
	MinGPA       *float64                         `json:"min_gpa,omitempty"`
	Requirements []eligibility.SubjectRequirement `json:"requirements"`
	Active       bool                             `json:"active"`
}

// CatalogPage is the cacheable course-listing payload.
type CatalogPage struct {
	Courses []models.CourseDetail `json:"courses"`
	Total   int                   `json:"total"`
}

const catalogCachePrefix = "catalog:courses:"

// CourseService manages the course catalog: cached public listing, the
// eligibility-annotated student view, and institution-side editing.
type CourseService struct {
	repo         courseRepository
	cache        catalogCache
	institutions institutionResolver
	profiles     profileReader
	applications liveCounter
	waitlist     coursePromoter
	validator    *validator.Validate
	logger       *zap.Logger
	cacheTTL     time.Duration
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, cache catalogCache, institutions institutionResolver, profiles profileReader, applications liveCounter, waitlist coursePromoter, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CourseService{
		repo:         repo,
		cache:        cache,
		institutions: institutions,
		profiles:     profiles,
		applications: applications,
		waitlist:     waitlist,
		validator:    validate,
		logger:       logger,
		cacheTTL:     cacheTTL,
	}
}

// List returns the course catalog, serving repeat queries from cache.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	key := catalogKey(filter)

	var cached CatalogPage
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached.Courses, cached.Total, nil
	} else if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	if err := s.cache.Set(ctx, key, CatalogPage{Courses: courses, Total: total}, s.cacheTTL); err != nil {
		s.logger.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
	return courses, total, nil
}

// Get returns a single course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// BrowseForStudent lists active courses annotated with the student's
// eligibility verdict and remaining per-institution application slots. The
// verdict is recomputed on every call so profile edits show up immediately.
func (s *CourseService) BrowseForStudent(ctx context.Context, studentID string, filter models.CourseFilter) ([]models.CourseOffer, int, error) {
	active := true
	filter.Active = &active

	courses, total, err := s.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	grades, err := s.studentGrades(ctx, studentID)
	if err != nil {
		return nil, 0, err
	}

	usedByInstitution := make(map[string]int)
	offers := make([]models.CourseOffer, 0, len(courses))
	for _, course := range courses {
		reqs, err := course.RequirementSet()
		if err != nil {
			s.logger.Warn("skipping course with undecodable requirements",
				zap.String("course_id", course.ID), zap.Error(err))
			continue
		}

		used, ok := usedByInstitution[course.InstitutionID]
		if !ok {
			used, err = s.applications.CountLive(ctx, studentID, course.InstitutionID)
			if err != nil {
				return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count applications")
			}
			usedByInstitution[course.InstitutionID] = used
		}

		offers = append(offers, models.CourseOffer{
			CourseDetail:     course,
			Eligibility:      eligibility.Evaluate(reqs, course.MinGPA, grades),
			ApplicationsUsed: used,
		})
	}
	return offers, total, nil
}

// Create adds a course to the authenticated institution's catalog.
func (s *CourseService) Create(ctx context.Context, ownerUserID string, req CourseRequest) (*models.Course, error) {
	inst, err := s.resolveInstitution(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	course, err := s.buildCourse(req)
	if err != nil {
		return nil, err
	}
	course.InstitutionID = inst.ID

	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.invalidateCatalog(ctx)
	return course, nil
}

// Update edits an institution's own course. A capacity increase frees seats,
// so the waitlist is backfilled right after the write.
func (s *CourseService) Update(ctx context.Context, ownerUserID, courseID string, req CourseRequest) (*models.Course, error) {
	inst, err := s.resolveInstitution(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if existing.InstitutionID != inst.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another institution")
	}

	course, err := s.buildCourse(req)
	if err != nil {
		return nil, err
	}
	course.ID = existing.ID
	course.InstitutionID = existing.InstitutionID
	course.CreatedAt = existing.CreatedAt

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.invalidateCatalog(ctx)

	if course.Capacity > existing.Capacity {
		if _, err := s.waitlist.Promote(ctx, course.ID); err != nil {
			s.logger.Error("waitlist promotion after capacity increase failed",
				zap.String("course_id", course.ID), zap.Error(err))
		}
	}
	return course, nil
}

func (s *CourseService) buildCourse(req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if req.MinGPA != nil && (*req.MinGPA < 0 || *req.MinGPA > 4) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "min_gpa must be between 0 and 4")
	}
	if err := validateRequirements(req.Requirements); err != nil {
		return nil, err
	}

	reqsJSON, err := json.Marshal(req.Requirements)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode requirements")
	}

	return &models.Course{
		Name:         req.Name,
		Description:  req.Description,
		Capacity:     req.Capacity,
		MinGPA:       req.MinGPA,
		Requirements: reqsJSON,
		Active:       req.Active,
	}, nil
}

func (s *CourseService) resolveInstitution(ctx context.Context, userID string) (*models.Institution, error) {
	inst, err := s.institutions.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no institution registered for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve institution")
	}
	return inst, nil
}

func (s *CourseService) studentGrades(ctx context.Context, studentID string) (eligibility.GradeSet, error) {
	profile, err := s.profiles.FindByUserID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
	}
	grades, err := profile.GradeSet()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode grades")
	}
	return grades, nil
}

func (s *CourseService) invalidateCatalog(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, catalogCachePrefix+"*"); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

func validateRequirements(reqs []eligibility.SubjectRequirement) error {
	for _, req := range reqs {
		if req.Subject == "" {
			return appErrors.Clone(appErrors.ErrValidation, "requirement entries need a subject")
		}
		if !eligibility.ValidGrade(req.MinGrade) {
			return appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("invalid minimum grade %q for %s", req.MinGrade, req.Subject))
		}
	}
	return nil
}

func catalogKey(filter models.CourseFilter) string {
	active := "any"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("%s%s:%s:%s:%s:%s:%d:%d",
		catalogCachePrefix, filter.InstitutionID, active, filter.Search,
		filter.SortBy, filter.SortOrder, filter.Page, filter.PageSize)
}
