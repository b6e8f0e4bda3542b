package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
)

// Job is a company posting gated by the same requirement schema as courses.
type Job struct {
	ID           string         `db:"id" json:"id"`
	CompanyID    string         `db:"company_id" json:"company_id"`
	Title        string         `db:"title" json:"title"`
	Description  string         `db:"description" json:"description"`
	Location     string         `db:"location" json:"location"`
	MinGPA       *float64       `db:"min_gpa" json:"min_gpa,omitempty"`
	Requirements types.JSONText `db:"requirements" json:"requirements,omitempty"`
	Active       bool           `db:"active" json:"active"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// RequirementSet decodes the stored subject requirements.
func (j *Job) RequirementSet() (eligibility.RequirementSet, error) {
	return decodeRequirements(j.Requirements)
}

// JobDetail enriches Job with company info for display.
type JobDetail struct {
	Job
	CompanyName string `db:"company_name" json:"company_name"`
}

// JobMatch annotates a job with the requesting student's eligibility.
type JobMatch struct {
	JobDetail
	Eligibility eligibility.Result `json:"eligibility"`
}

// JobFilter provides filters for listing jobs.
type JobFilter struct {
	CompanyID string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
