package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/database"
)

// Company is the tenant record. Provisioning lives elsewhere; the workflow
// core only reads the base currency.
type Company struct {
	ID       string
	Name     string
	Country  string
	Currency string
}

// CompanyRepository provides read access to company records.
type CompanyRepository struct {
	db *database.DB
}

// NewCompanyRepository creates a new CompanyRepository.
func NewCompanyRepository(db *database.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// GetByID retrieves a company.
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*Company, error) {
	query := `SELECT id, name, country, currency FROM companies WHERE id = $1`

	c := &Company{}
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Country, &c.Currency)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("company", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get company")
	}
	return c, nil
}
