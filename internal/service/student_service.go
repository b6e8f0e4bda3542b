package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

type studentProfileRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error)
	Upsert(ctx context.Context, profile *models.StudentProfile) error
}

// UpdateProfileRequest replaces the student's academic record.
type UpdateProfileRequest struct {
	Grades   []eligibility.GradeEntry `json:"grades" validate:"dive"`
	Subjects []string                 `json:"subjects"`
}

// StudentService manages student academic profiles. The eligibility status
// is derived from the record, never accepted from the client.
type StudentService struct {
	repo      studentProfileRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentProfileRepository, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, validator: validate, logger: logger}
}

// GetProfile returns the student's profile, or an empty incomplete profile
// when none has been saved yet.
func (s *StudentService) GetProfile(ctx context.Context, userID string) (*models.StudentProfile, error) {
	profile, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.StudentProfile{UserID: userID, EligibilityStatus: models.EligibilityStatusIncomplete}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}
	return profile, nil
}

// UpdateProfile validates and stores the academic record.
func (s *StudentService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*models.StudentProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	for _, entry := range req.Grades {
		if entry.Subject == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "grade entries require a subject")
		}
		if !eligibility.ValidGrade(entry.Grade) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid letter grade %q for %s", entry.Grade, entry.Subject))
		}
	}

	gradesJSON, err := json.Marshal(req.Grades)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode grades")
	}
	subjectsJSON, err := json.Marshal(req.Subjects)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode subjects")
	}

	status := models.EligibilityStatusIncomplete
	if len(req.Grades) > 0 {
		status = models.EligibilityStatusEligible
	}

	profile := &models.StudentProfile{
		UserID:            userID,
		Grades:            gradesJSON,
		Subjects:          subjectsJSON,
		EligibilityStatus: status,
	}
	if err := s.repo.Upsert(ctx, profile); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save profile")
	}
	return profile, nil
}
