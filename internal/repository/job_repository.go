package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
)

// JobRepository handles persistence of job postings.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository constructs the repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// List returns job postings filtered by the provided criteria.
func (r *JobRepository) List(ctx context.Context, filter models.JobFilter) ([]models.JobDetail, int, error) {
	base := `FROM jobs j
LEFT JOIN companies co ON co.id = j.company_id`
	var conditions []string
	var args []interface{}

	if filter.CompanyID != "" {
		conditions = append(conditions, fmt.Sprintf("j.company_id = $%d", len(args)+1))
		args = append(args, filter.CompanyID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("j.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(j.title ILIKE $%d OR co.name ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
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

	query := fmt.Sprintf(`SELECT j.id, j.company_id, j.title, j.description, j.location, j.min_gpa,
        j.requirements, j.active, j.created_at, j.updated_at, co.name AS company_name
        %s ORDER BY j.created_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var jobs []models.JobDetail
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	return jobs, total, nil
}

// FindByID returns a job by its ID.
func (r *JobRepository) FindByID(ctx context.Context, id string) (*models.Job, error) {
	const query = `SELECT id, company_id, title, description, location, min_gpa, requirements, active, created_at, updated_at
        FROM jobs WHERE id = $1`
	var job models.Job
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// Create persists a new job posting.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	const query = `INSERT INTO jobs (id, company_id, title, description, location, min_gpa, requirements, active, created_at, updated_at)
        VALUES (:id, :company_id, :title, :description, :location, :min_gpa, :requirements, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Update replaces the editable fields of a job posting.
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now().UTC()
	const query = `UPDATE jobs SET title = :title, description = :description, location = :location,
        min_gpa = :min_gpa, requirements = :requirements, active = :active, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}
