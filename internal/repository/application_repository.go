package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
)

// ErrStaleStatus signals that a conditional status update matched no row,
// i.e. another writer transitioned the application first. Callers recompute
// state and retry the whole unit.
var ErrStaleStatus = errors.New("application status changed concurrently")

// ApplicationRepository handles persistence of course applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `id, student_id, course_id, institution_id, status, applied_at, admitted_at, accepted_at, declined_at, decline_reason, admission_source`

// Create persists a new application record.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.AppliedAt.IsZero() {
		app.AppliedAt = time.Now().UTC()
	}
	if app.Status == "" {
		app.Status = models.ApplicationStatusPending
	}
	const query = `INSERT INTO applications (id, student_id, course_id, institution_id, status, applied_at)
        VALUES (:id, :student_id, :course_id, :institution_id, :status, :applied_at)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// FindByID returns an application by its ID.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE id = $1`, applicationColumns)
	var app models.Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}
	return &app, nil
}

// FindDetailByID returns an application with course and institution info.
func (r *ApplicationRepository) FindDetailByID(ctx context.Context, id string) (*models.ApplicationDetail, error) {
	const query = `SELECT a.id, a.student_id, a.course_id, a.institution_id, a.status, a.applied_at,
        a.admitted_at, a.accepted_at, a.declined_at, a.decline_reason, a.admission_source,
        c.name AS course_name, i.name AS institution_name, u.full_name AS student_name
        FROM applications a
        LEFT JOIN courses c ON c.id = a.course_id
        LEFT JOIN institutions i ON i.id = a.institution_id
        LEFT JOIN users u ON u.id = a.student_id
        WHERE a.id = $1`
	var detail models.ApplicationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByStudent returns the student's applications newest first, enriched
// with course and institution snapshots for display.
func (r *ApplicationRepository) ListByStudent(ctx context.Context, studentID string) ([]models.ApplicationDetail, error) {
	const query = `SELECT a.id, a.student_id, a.course_id, a.institution_id, a.status, a.applied_at,
        a.admitted_at, a.accepted_at, a.declined_at, a.decline_reason, a.admission_source,
        c.name AS course_name, i.name AS institution_name, u.full_name AS student_name
        FROM applications a
        LEFT JOIN courses c ON c.id = a.course_id
        LEFT JOIN institutions i ON i.id = a.institution_id
        LEFT JOIN users u ON u.id = a.student_id
        WHERE a.student_id = $1
        ORDER BY a.applied_at DESC`
	var apps []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &apps, query, studentID); err != nil {
		return nil, fmt.Errorf("list student applications: %w", err)
	}
	return apps, nil
}

// List returns applications filtered for institution review screens.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	base := `FROM applications a
LEFT JOIN courses c ON c.id = a.course_id
LEFT JOIN institutions i ON i.id = a.institution_id
LEFT JOIN users u ON u.id = a.student_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("a.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.InstitutionID != "" {
		conditions = append(conditions, fmt.Sprintf("a.institution_id = $%d", len(args)+1))
		args = append(args, filter.InstitutionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.course_id, a.institution_id, a.status, a.applied_at,
        a.admitted_at, a.accepted_at, a.declined_at, a.decline_reason, a.admission_source,
        c.name AS course_name, i.name AS institution_name, u.full_name AS student_name
        %s ORDER BY a.applied_at ASC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var apps []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return apps, total, nil
}

// CountLive counts the student's applications at an institution that still
// occupy a slot (anything not declined or rejected).
func (r *ApplicationRepository) CountLive(ctx context.Context, studentID, institutionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM applications
        WHERE student_id = $1 AND institution_id = $2 AND status NOT IN ($3, $4)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, institutionID,
		models.ApplicationStatusDeclined, models.ApplicationStatusRejected); err != nil {
		return 0, fmt.Errorf("count live applications: %w", err)
	}
	return count, nil
}

// ExistsLive checks whether the student already has a live application for
// the course.
func (r *ApplicationRepository) ExistsLive(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM applications
        WHERE student_id = $1 AND course_id = $2 AND status NOT IN ($3, $4) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID,
		models.ApplicationStatusDeclined, models.ApplicationStatusRejected); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check live application: %w", err)
	}
	return true, nil
}

// ListLiveByStudent returns every live application of a student, oldest first.
func (r *ApplicationRepository) ListLiveByStudent(ctx context.Context, studentID string) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications
        WHERE student_id = $1 AND status NOT IN ($2, $3) ORDER BY applied_at ASC`, applicationColumns)
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, studentID,
		models.ApplicationStatusDeclined, models.ApplicationStatusRejected); err != nil {
		return nil, fmt.Errorf("list live applications: %w", err)
	}
	return apps, nil
}

// CountByCourseAndStatus counts applications for a course in a given status.
func (r *ApplicationRepository) CountByCourseAndStatus(ctx context.Context, courseID string, status models.ApplicationStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM applications WHERE course_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, status); err != nil {
		return 0, fmt.Errorf("count course applications: %w", err)
	}
	return count, nil
}

// Transition performs a single-row status update, stamping the timestamp
// column that belongs to the new status. It does not enforce cross-row
// invariants; the selection coordinator owns those.
func (r *ApplicationRepository) Transition(ctx context.Context, id string, from, to models.ApplicationStatus, at time.Time, reason *string) error {
	var query string
	args := []interface{}{id, from, at}
	switch to {
	case models.ApplicationStatusAdmitted:
		query = `UPDATE applications SET status = 'admitted', admitted_at = $3 WHERE id = $1 AND status = $2`
	case models.ApplicationStatusAccepted:
		query = `UPDATE applications SET status = 'accepted', accepted_at = $3 WHERE id = $1 AND status = $2`
	case models.ApplicationStatusRejected:
		query = `UPDATE applications SET status = 'rejected', declined_at = $3 WHERE id = $1 AND status = $2`
	case models.ApplicationStatusWaitlisted:
		query = `UPDATE applications SET status = 'waitlisted' WHERE id = $1 AND status = $2`
		args = args[:2]
	case models.ApplicationStatusDeclined:
		query = `UPDATE applications SET status = 'declined', declined_at = $3, decline_reason = $4 WHERE id = $1 AND status = $2`
		args = append(args, reason)
	default:
		return fmt.Errorf("unsupported transition to %q", to)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition application: %w", err)
	}
	if affected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// ApplySelection commits an admission selection as one atomic batch: the
// chosen application flips admitted -> accepted, every other live application
// of the student is declined with the superseded reason. The accept is
// conditional on the row still being admitted; a zero-row match aborts the
// whole batch with ErrStaleStatus so no partial state is ever visible.
func (r *ApplicationRepository) ApplySelection(ctx context.Context, acceptID string, declineIDs []string, at time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin selection: %w", err)
	}

	const acceptQuery = `UPDATE applications SET status = 'accepted', accepted_at = $2
        WHERE id = $1 AND status = 'admitted'`
	res, err := tx.ExecContext(ctx, acceptQuery, acceptID, at)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("accept application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("accept application: %w", err)
	}
	if affected == 0 {
		tx.Rollback() //nolint:errcheck
		return ErrStaleStatus
	}

	if len(declineIDs) > 0 {
		placeholders := make([]string, len(declineIDs))
		args := []interface{}{at, models.DeclineReasonSuperseded}
		for i, id := range declineIDs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, id)
		}
		query := fmt.Sprintf(`UPDATE applications SET status = 'declined', declined_at = $1, decline_reason = $2
            WHERE id IN (%s) AND status NOT IN ('declined', 'rejected')`, strings.Join(placeholders, ","))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("decline superseded applications: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit selection: %w", err)
	}
	return nil
}

// PromoteWaitlisted admits up to limit waitlisted applications for a course
// in applied_at order. The candidate rows are locked for the duration of the
// transaction so concurrent promotions cannot double-admit.
func (r *ApplicationRepository) PromoteWaitlisted(ctx context.Context, courseID string, limit int, at time.Time) ([]models.Application, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promotion: %w", err)
	}

	selectQuery := fmt.Sprintf(`SELECT %s FROM applications
        WHERE course_id = $1 AND status = 'waitlisted'
        ORDER BY applied_at ASC LIMIT $2 FOR UPDATE`, applicationColumns)
	var candidates []models.Application
	if err := tx.SelectContext(ctx, &candidates, selectQuery, courseID, limit); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("lock waitlisted applications: %w", err)
	}
	if len(candidates) == 0 {
		tx.Rollback() //nolint:errcheck
		return nil, nil
	}

	const updateQuery = `UPDATE applications SET status = 'admitted', admitted_at = $2, admission_source = $3
        WHERE id = $1 AND status = 'waitlisted'`
	for i := range candidates {
		if _, err := tx.ExecContext(ctx, updateQuery, candidates[i].ID, at, models.AdmissionSourceWaitlist); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, fmt.Errorf("promote application %s: %w", candidates[i].ID, err)
		}
		candidates[i].Status = models.ApplicationStatusAdmitted
		promotedAt := at
		candidates[i].AdmittedAt = &promotedAt
		source := models.AdmissionSourceWaitlist
		candidates[i].AdmissionSource = &source
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promotion: %w", err)
	}
	return candidates, nil
}
