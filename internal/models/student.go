package models

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
)

// EligibilityStatus is derived from profile completeness, never set directly.
type EligibilityStatus string

const (
	EligibilityStatusEligible   EligibilityStatus = "eligible"
	EligibilityStatusIncomplete EligibilityStatus = "incomplete"
)

// StudentProfile holds the academic record backing eligibility checks.
// Grades is a JSON array of {subject, grade} entries in recorded order.
type StudentProfile struct {
	ID                string            `db:"id" json:"id"`
	UserID            string            `db:"user_id" json:"user_id"`
	Grades            types.JSONText    `db:"grades" json:"grades"`
	Subjects          types.JSONText    `db:"subjects" json:"subjects"`
	EligibilityStatus EligibilityStatus `db:"eligibility_status" json:"eligibility_status"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// GradeSet decodes the stored grade entries.
func (p *StudentProfile) GradeSet() (eligibility.GradeSet, error) {
	if len(p.Grades) == 0 {
		return nil, nil
	}
	var grades eligibility.GradeSet
	if err := json.Unmarshal(p.Grades, &grades); err != nil {
		return nil, err
	}
	return grades, nil
}

// SubjectList decodes the stored subject names.
func (p *StudentProfile) SubjectList() ([]string, error) {
	if len(p.Subjects) == 0 {
		return nil, nil
	}
	var subjects []string
	if err := json.Unmarshal(p.Subjects, &subjects); err != nil {
		return nil, err
	}
	return subjects, nil
}
