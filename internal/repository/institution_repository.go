package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
)

// InstitutionRepository handles persistence of institutions.
type InstitutionRepository struct {
	db *sqlx.DB
}

// NewInstitutionRepository constructs the repository.
func NewInstitutionRepository(db *sqlx.DB) *InstitutionRepository {
	return &InstitutionRepository{db: db}
}

const institutionColumns = `id, user_id, name, description, location, website, created_at, updated_at`

// FindByID returns an institution by ID.
func (r *InstitutionRepository) FindByID(ctx context.Context, id string) (*models.Institution, error) {
	query := fmt.Sprintf(`SELECT %s FROM institutions WHERE id = $1`, institutionColumns)
	var inst models.Institution
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		return nil, err
	}
	return &inst, nil
}

// FindByUserID returns the institution owned by a user account.
func (r *InstitutionRepository) FindByUserID(ctx context.Context, userID string) (*models.Institution, error) {
	query := fmt.Sprintf(`SELECT %s FROM institutions WHERE user_id = $1`, institutionColumns)
	var inst models.Institution
	if err := r.db.GetContext(ctx, &inst, query, userID); err != nil {
		return nil, err
	}
	return &inst, nil
}

// List returns all institutions ordered by name.
func (r *InstitutionRepository) List(ctx context.Context) ([]models.Institution, error) {
	query := fmt.Sprintf(`SELECT %s FROM institutions ORDER BY name ASC`, institutionColumns)
	var institutions []models.Institution
	if err := r.db.SelectContext(ctx, &institutions, query); err != nil {
		return nil, fmt.Errorf("list institutions: %w", err)
	}
	return institutions, nil
}

// Create persists a new institution.
func (r *InstitutionRepository) Create(ctx context.Context, inst *models.Institution) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	const query = `INSERT INTO institutions (id, user_id, name, description, location, website, created_at, updated_at)
        VALUES (:id, :user_id, :name, :description, :location, :website, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("create institution: %w", err)
	}
	return nil
}
