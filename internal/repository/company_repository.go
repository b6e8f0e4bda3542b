package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
)

// CompanyRepository handles persistence of companies.
type CompanyRepository struct {
	db *sqlx.DB
}

// NewCompanyRepository constructs the repository.
func NewCompanyRepository(db *sqlx.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

const companyColumns = `id, user_id, name, description, location, website, created_at, updated_at`

// FindByID returns a company by ID.
func (r *CompanyRepository) FindByID(ctx context.Context, id string) (*models.Company, error) {
	query := fmt.Sprintf(`SELECT %s FROM companies WHERE id = $1`, companyColumns)
	var company models.Company
	if err := r.db.GetContext(ctx, &company, query, id); err != nil {
		return nil, err
	}
	return &company, nil
}

// FindByUserID returns the company owned by a user account.
func (r *CompanyRepository) FindByUserID(ctx context.Context, userID string) (*models.Company, error) {
	query := fmt.Sprintf(`SELECT %s FROM companies WHERE user_id = $1`, companyColumns)
	var company models.Company
	if err := r.db.GetContext(ctx, &company, query, userID); err != nil {
		return nil, err
	}
	return &company, nil
}

// Create persists a new company.
func (r *CompanyRepository) Create(ctx context.Context, company *models.Company) error {
	if company.ID == "" {
		company.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if company.CreatedAt.IsZero() {
		company.CreatedAt = now
	}
	company.UpdatedAt = now
	const query = `INSERT INTO companies (id, user_id, name, description, location, website, created_at, updated_at)
        VALUES (:id, :user_id, :name, :description, :location, :website, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, company); err != nil {
		return fmt.Errorf("create company: %w", err)
	}
	return nil
}
