package models

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
)

// Course is an institution-owned program with capacity-bound admission.
// Requirements is a JSON array of {subject, min_grade} entries validated at
// the editing boundary, so readers never parse free-form requirement text.
type Course struct {
	ID            string         `db:"id" json:"id"`
	InstitutionID string         `db:"institution_id" json:"institution_id"`
	Name          string         `db:"name" json:"name"`
	Description   string         `db:"description" json:"description"`
	Capacity      int            `db:"capacity" json:"capacity"`
	MinGPA        *float64       `db:"min_gpa" json:"min_gpa,omitempty"`
	Requirements  types.JSONText `db:"requirements" json:"requirements,omitempty"`
	Active        bool           `db:"active" json:"active"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// RequirementSet decodes the stored subject requirements.
func (c *Course) RequirementSet() (eligibility.RequirementSet, error) {
	return decodeRequirements(c.Requirements)
}

// CourseDetail enriches Course with institution info for display.
type CourseDetail struct {
	Course
	InstitutionName string `db:"institution_name" json:"institution_name"`
}

// CourseOffer annotates a course with the requesting student's standing.
type CourseOffer struct {
	CourseDetail
	Eligibility      eligibility.Result `json:"eligibility"`
	ApplicationsUsed int                `json:"applications_used"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	InstitutionID string
	Active        *bool
	Search        string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

func decodeRequirements(raw types.JSONText) (eligibility.RequirementSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var reqs eligibility.RequirementSet
	if err := json.Unmarshal(raw, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}
