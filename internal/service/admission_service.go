package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/repository"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
	"github.com/sechachelebohang0-a11y/career-guidance-app/pkg/export"
)

type admissionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
	FindDetailByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error)
	Transition(ctx context.Context, id string, from, to models.ApplicationStatus, at time.Time, reason *string) error
}

type institutionResolver interface {
	FindByID(ctx context.Context, id string) (*models.Institution, error)
	FindByUserID(ctx context.Context, userID string) (*models.Institution, error)
}

// ReviewRequest is an institution's verdict on a pending application.
type ReviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=admit reject waitlist"`
}

// ExportFormat selects the applicant roster rendering.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// AdmissionService implements institution-side review: admit, reject or
// waitlist applications, list and export the applicant roster.
type AdmissionService struct {
	repo         admissionRepository
	institutions institutionResolver
	notify       notifier
	csv          *export.CSVExporter
	pdf          *export.PDFExporter
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewAdmissionService constructs AdmissionService.
func NewAdmissionService(repo admissionRepository, institutions institutionResolver, notify notifier, validate *validator.Validate, logger *zap.Logger) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{
		repo:         repo,
		institutions: institutions,
		notify:       notify,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		validator:    validate,
		logger:       logger,
	}
}

// Review applies an institution decision to one of its applications.
// Admission is valid from pending or waitlisted; rejection and waitlisting
// from pending only. The student's acceptance is never reviewable.
func (s *AdmissionService) Review(ctx context.Context, reviewerUserID, applicationID string, req ReviewRequest) (*models.ApplicationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	inst, err := s.resolveInstitution(ctx, reviewerUserID)
	if err != nil {
		return nil, err
	}

	app, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if app.InstitutionID != inst.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another institution")
	}

	to, message, err := decisionTransition(req.Decision, app.Status)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Transition(ctx, app.ID, app.Status, to, time.Now().UTC(), nil); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "application was updated concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update application")
	}

	s.notify.Notify(ctx, app.StudentID, message, models.NotificationTypeAdmission)

	detail, err := s.repo.FindDetailByID(ctx, app.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application detail")
	}
	return detail, nil
}

// ListApplicants returns the institution's applicants, optionally filtered by
// course and status. The institution scope is forced from the authenticated
// account, never from the filter.
func (s *AdmissionService) ListApplicants(ctx context.Context, reviewerUserID string, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	inst, err := s.resolveInstitution(ctx, reviewerUserID)
	if err != nil {
		return nil, 0, err
	}
	filter.InstitutionID = inst.ID

	apps, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applicants")
	}
	return apps, total, nil
}

// ExportApplicants renders the institution's applicant roster as CSV or PDF.
func (s *AdmissionService) ExportApplicants(ctx context.Context, reviewerUserID string, filter models.ApplicationFilter, format ExportFormat) ([]byte, string, error) {
	inst, err := s.resolveInstitution(ctx, reviewerUserID)
	if err != nil {
		return nil, "", err
	}
	filter.InstitutionID = inst.ID
	filter.Page = 1
	filter.PageSize = 100

	var all []models.ApplicationDetail
	for {
		page, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applicants")
		}
		all = append(all, page...)
		if len(all) >= total || len(page) == 0 {
			break
		}
		filter.Page++
	}

	data := export.Dataset{
		Headers: []string{"Student", "Course", "Status", "Applied At", "Admission Source"},
		Rows:    make([]map[string]string, 0, len(all)),
	}
	for _, app := range all {
		source := ""
		if app.AdmissionSource != nil {
			source = *app.AdmissionSource
		}
		data.Rows = append(data.Rows, map[string]string{
			"Student":          app.StudentName,
			"Course":           app.CourseName,
			"Status":           string(app.Status),
			"Applied At":       app.AppliedAt.Format(time.RFC3339),
			"Admission Source": source,
		})
	}

	switch format {
	case ExportFormatPDF:
		out, err := s.pdf.Render(data, fmt.Sprintf("%s Applicants", inst.Name))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return out, "application/pdf", nil
	case ExportFormatCSV, "":
		out, err := s.csv.Render(data)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return out, "text/csv", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

func (s *AdmissionService) resolveInstitution(ctx context.Context, userID string) (*models.Institution, error) {
	inst, err := s.institutions.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no institution registered for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve institution")
	}
	return inst, nil
}

func decisionTransition(decision string, from models.ApplicationStatus) (models.ApplicationStatus, string, error) {
	switch decision {
	case "admit":
		if from != models.ApplicationStatusPending && from != models.ApplicationStatusWaitlisted {
			return "", "", appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("cannot admit an application that is %s", from))
		}
		return models.ApplicationStatusAdmitted, "You have been admitted, please confirm your selection", nil
	case "reject":
		if from != models.ApplicationStatusPending {
			return "", "", appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("cannot reject an application that is %s", from))
		}
		return models.ApplicationStatusRejected, "Your application was not successful", nil
	case "waitlist":
		if from != models.ApplicationStatusPending {
			return "", "", appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("cannot waitlist an application that is %s", from))
		}
		return models.ApplicationStatusWaitlisted, "You have been placed on the waitlist", nil
	default:
		return "", "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown decision %q", decision))
	}
}
