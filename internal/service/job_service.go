package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

type jobRepository interface {
	List(ctx context.Context, filter models.JobFilter) ([]models.JobDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Job, error)
	Create(ctx context.Context, job *models.Job) error
	Update(ctx context.Context, job *models.Job) error
}

type companyResolver interface {
	FindByUserID(ctx context.Context, userID string) (*models.Company, error)
}

// JobRequest carries the editable fields of a job posting.
type JobRequest struct {
	Title        string                           `json:"title" validate:"required,min=2,max=200"`
	Description  string                           `json:"description" validate:"max=2000"`
	Location     string                           `json:"location" validate:"max=200"`
	MinGPA       *float64                         `json:"min_gpa,omitempty"`
	Requirements []eligibility.SubjectRequirement `json:"requirements"`
	Active       bool                             `json:"active"`
}

// JobService manages job postings and the student-facing match view. Jobs
// reuse the course requirement schema, so matching is the same pure check.
type JobService struct {
	repo      jobRepository
	companies companyResolver
	profiles  profileReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewJobService constructs JobService.
func NewJobService(repo jobRepository, companies companyResolver, profiles profileReader, validate *validator.Validate, logger *zap.Logger) *JobService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobService{repo: repo, companies: companies, profiles: profiles, validator: validate, logger: logger}
}

// List returns job postings matching the filter.
func (s *JobService) List(ctx context.Context, filter models.JobFilter) ([]models.JobDetail, int, error) {
	jobs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list jobs")
	}
	return jobs, total, nil
}

// MatchForStudent lists active jobs annotated with the student's eligibility
// against each posting's requirements.
func (s *JobService) MatchForStudent(ctx context.Context, studentID string, filter models.JobFilter) ([]models.JobMatch, int, error) {
	active := true
	filter.Active = &active

	jobs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list jobs")
	}

	grades, err := s.studentGrades(ctx, studentID)
	if err != nil {
		return nil, 0, err
	}

	matches := make([]models.JobMatch, 0, len(jobs))
	for _, job := range jobs {
		reqs, err := job.RequirementSet()
		if err != nil {
			s.logger.Warn("skipping job with undecodable requirements",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		matches = append(matches, models.JobMatch{
			JobDetail:   job,
			Eligibility: eligibility.Evaluate(reqs, job.MinGPA, grades),
		})
	}
	return matches, total, nil
}

// Create adds a posting to the authenticated company's listings.
func (s *JobService) Create(ctx context.Context, ownerUserID string, req JobRequest) (*models.Job, error) {
	company, err := s.resolveCompany(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	job, err := s.buildJob(req)
	if err != nil {
		return nil, err
	}
	job.CompanyID = company.ID

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create job")
	}
	return job, nil
}

// Update edits a company's own posting.
func (s *JobService) Update(ctx context.Context, ownerUserID, jobID string, req JobRequest) (*models.Job, error) {
	company, err := s.resolveCompany(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job")
	}
	if existing.CompanyID != company.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "job belongs to another company")
	}

	job, err := s.buildJob(req)
	if err != nil {
		return nil, err
	}
	job.ID = existing.ID
	job.CompanyID = existing.CompanyID
	job.CreatedAt = existing.CreatedAt

	if err := s.repo.Update(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update job")
	}
	return job, nil
}

func (s *JobService) buildJob(req JobRequest) (*models.Job, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid job payload")
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

	return &models.Job{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		MinGPA:       req.MinGPA,
		Requirements: reqsJSON,
		Active:       req.Active,
	}, nil
}

func (s *JobService) resolveCompany(ctx context.Context, userID string) (*models.Company, error) {
	company, err := s.companies.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no company registered for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve company")
	}
	return company, nil
}

func (s *JobService) studentGrades(ctx context.Context, studentID string) (eligibility.GradeSet, error) {
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
