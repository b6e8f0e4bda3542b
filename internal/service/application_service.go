package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

// MaxApplicationsPerInstitution caps live applications a student may hold at
// a single institution. Enforced at submission time only.
const MaxApplicationsPerInstitution = 2

type applicationLedger interface {
	Create(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, id string) (*models.Application, error)
	FindDetailByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.ApplicationDetail, error)
	CountLive(ctx context.Context, studentID, institutionID string) (int, error)
	ExistsLive(ctx context.Context, studentID, courseID string) (bool, error)
	Transition(ctx context.Context, id string, from, to models.ApplicationStatus, at time.Time, reason *string) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type institutionReader interface {
	FindByID(ctx context.Context, id string) (*models.Institution, error)
}

type profileReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error)
}

type notifier interface {
	Notify(ctx context.Context, userID, message string, typ models.NotificationType)
}

type coursePromoter interface {
	Promote(ctx context.Context, courseID string) ([]models.Application, error)
}

// SubmitApplicationRequest describes a course application submission.
type SubmitApplicationRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// ApplicationService implements the application ledger: submission with
// eligibility, duplicate and per-institution cap gates, portfolio listing
// and withdrawal.
type ApplicationService struct {
	repo         applicationLedger
	courses      courseReader
	institutions institutionReader
	profiles     profileReader
	waitlist     coursePromoter
	notify       notifier
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewApplicationService constructs ApplicationService.
func NewApplicationService(repo applicationLedger, courses courseReader, institutions institutionReader, profiles profileReader, waitlist coursePromoter, notify notifier, validate *validator.Validate, logger *zap.Logger) *ApplicationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		repo:         repo,
		courses:      courses,
		institutions: institutions,
		profiles:     profiles,
		waitlist:     waitlist,
		notify:       notify,
		validator:    validate,
		logger:       logger,
	}
}

// Apply submits a new application for the student. The cap check runs
// synchronously with submission; two racing submissions can still slip past
// it (see DESIGN.md).
func (s *ApplicationService) Apply(ctx context.Context, studentID string, req SubmitApplicationRequest) (*models.ApplicationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course is not accepting applications")
	}

	grades, err := s.studentGrades(ctx, studentID)
	if err != nil {
		return nil, err
	}
	reqs, err := course.RequirementSet()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode course requirements")
	}
	verdict := eligibility.Evaluate(reqs, course.MinGPA, grades)
	if !verdict.Eligible {
		return nil, appErrors.Clone(appErrors.ErrNotEligible, notEligibleMessage(verdict))
	}

	exists, err := s.repo.ExistsLive(ctx, studentID, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing application")
	}
	if exists {
		return nil, appErrors.ErrDuplicateApplication
	}

	count, err := s.repo.CountLive(ctx, studentID, course.InstitutionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count applications")
	}
	if count >= MaxApplicationsPerInstitution {
		return nil, appErrors.ErrCapExceeded
	}

	app := &models.Application{
		StudentID:     studentID,
		CourseID:      course.ID,
		InstitutionID: course.InstitutionID,
		Status:        models.ApplicationStatusPending,
		AppliedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}

	s.notifyInstitution(ctx, course.InstitutionID,
		fmt.Sprintf("New application received for %s", course.Name), models.NotificationTypeApplication)

	detail, err := s.repo.FindDetailByID(ctx, app.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application detail")
	}
	return detail, nil
}

// ListByStudent returns the student's portfolio newest first.
func (s *ApplicationService) ListByStudent(ctx context.Context, studentID string) ([]models.ApplicationDetail, error) {
	apps, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	return apps, nil
}

// PendingSelection returns the student's admitted offers. A non-empty result
// means the student owes the system a selection; the client polls this
// instead of re-deriving the trigger from its own state.
func (s *ApplicationService) PendingSelection(ctx context.Context, studentID string) ([]models.ApplicationDetail, error) {
	apps, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	admitted := make([]models.ApplicationDetail, 0, len(apps))
	for _, app := range apps {
		if app.Status == models.ApplicationStatusAdmitted {
			admitted = append(admitted, app)
		}
	}
	return admitted, nil
}

// Withdraw declines the student's own live application and backfills the
// course's waitlist.
func (s *ApplicationService) Withdraw(ctx context.Context, studentID, applicationID string) (*models.ApplicationDetail, error) {
	app, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if app.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another student")
	}
	if !app.IsLive() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "application is already closed")
	}

	reason := models.DeclineReasonWithdrawn
	if err := s.repo.Transition(ctx, app.ID, app.Status, models.ApplicationStatusDeclined, time.Now().UTC(), &reason); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "application was updated concurrently, retry")
	}

	// An accepted withdrawal frees a seat; other statuses never held one,
	// but the promoter re-checks counts so the call is safe either way.
	if app.Status == models.ApplicationStatusAccepted {
		if _, err := s.waitlist.Promote(ctx, app.CourseID); err != nil {
			s.logger.Error("waitlist promotion after withdrawal failed",
				zap.String("course_id", app.CourseID), zap.Error(err))
		}
	}

	s.notifyInstitution(ctx, app.InstitutionID, "An applicant withdrew their application", models.NotificationTypeApplication)

	detail, err := s.repo.FindDetailByID(ctx, app.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application detail")
	}
	return detail, nil
}

func (s *ApplicationService) studentGrades(ctx context.Context, studentID string) (eligibility.GradeSet, error) {
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

func (s *ApplicationService) notifyInstitution(ctx context.Context, institutionID, message string, typ models.NotificationType) {
	inst, err := s.institutions.FindByID(ctx, institutionID)
	if err != nil {
		s.logger.Warn("failed to resolve institution for notification",
			zap.String("institution_id", institutionID), zap.Error(err))
		return
	}
	s.notify.Notify(ctx, inst.UserID, message, typ)
}

func notEligibleMessage(result eligibility.Result) string {
	if len(result.MissingSubjects) > 0 {
		return fmt.Sprintf("requirements not met for: %s", strings.Join(result.MissingSubjects, ", "))
	}
	if result.GPAShortfall > 0 {
		return fmt.Sprintf("GPA %.2f is below the course minimum", result.GPA)
	}
	return appErrors.ErrNotEligible.Message
}
