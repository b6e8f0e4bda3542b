package models

import "time"

// ApplicationStatus tracks the lifecycle of a course application. The
// lowercase strings match the persisted data of the existing portal and must
// not be renamed.
type ApplicationStatus string

const (
	ApplicationStatusPending    ApplicationStatus = "pending"
	ApplicationStatusAdmitted   ApplicationStatus = "admitted"
	ApplicationStatusAccepted   ApplicationStatus = "accepted"
	ApplicationStatusDeclined   ApplicationStatus = "declined"
	ApplicationStatusRejected   ApplicationStatus = "rejected"
	ApplicationStatusWaitlisted ApplicationStatus = "waitlisted"
)

// Decline reason codes. The acceptance-cascade spelling is preserved verbatim
// from the existing data set.
const (
	DeclineReasonSuperseded = "SuperSededByAcceptance"
	DeclineReasonWithdrawn  = "withdrawn"
)

// AdmissionSourceWaitlist tags rows admitted by waitlist promotion rather
// than direct institution review.
const AdmissionSourceWaitlist = "waitlist_promotion"

// Application is a student's request to enroll in a course. Terminal negative
// states are declined and rejected; every other status counts as live.
type Application struct {
	ID              string            `db:"id" json:"id"`
	StudentID       string            `db:"student_id" json:"student_id"`
	CourseID        string            `db:"course_id" json:"course_id"`
	InstitutionID   string            `db:"institution_id" json:"institution_id"`
	Status          ApplicationStatus `db:"status" json:"status"`
	AppliedAt       time.Time         `db:"applied_at" json:"applied_at"`
	AdmittedAt      *time.Time        `db:"admitted_at" json:"admitted_at,omitempty"`
	AcceptedAt      *time.Time        `db:"accepted_at" json:"accepted_at,omitempty"`
	DeclinedAt      *time.Time        `db:"declined_at" json:"declined_at,omitempty"`
	DeclineReason   *string           `db:"decline_reason" json:"decline_reason,omitempty"`
	AdmissionSource *string           `db:"admission_source" json:"admission_source,omitempty"`
}

// IsLive reports whether the application still occupies one of the student's
// per-institution slots.
func (a *Application) IsLive() bool {
	return a.Status != ApplicationStatusDeclined && a.Status != ApplicationStatusRejected
}

// ApplicationDetail enriches Application with course and institution
// snapshots for display (read-time join).
type ApplicationDetail struct {
	Application
	CourseName      string `db:"course_name" json:"course_name"`
	InstitutionName string `db:"institution_name" json:"institution_name"`
	StudentName     string `db:"student_name" json:"student_name"`
}

// ApplicationFilter provides filters for listing applications.
type ApplicationFilter struct {
	StudentID     string
	CourseID      string
	InstitutionID string
	Status        ApplicationStatus
	Page          int
	PageSize      int
}

// SelectionOutcome summarises a completed admission selection.
// AlreadySelected marks the idempotent path: the chosen application was
// accepted previously and nothing was written.
type SelectionOutcome struct {
	Accepted        Application   `json:"accepted"`
	Declined        []Application `json:"declined"`
	AlreadySelected bool          `json:"already_selected"`
}
