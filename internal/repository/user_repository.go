package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/expenza/be-expenses/internal/apperrors"
	"github.com/expenza/be-expenses/internal/database"
)

// UserRepository provides the identity lookups the workflow core needs.
// User management itself lives in a separate service; this is read-only.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves a user with their manager relation fields.
func (r *UserRepository) GetByID(ctx context.Context, id, companyID string) (*User, error) {
	query := `
		SELECT id, company_id, name, email, role, manager_id, is_manager_approver
		FROM users
		WHERE id = $1 AND company_id = $2
	`

	u := &User{}
	err := r.db.QueryRow(ctx, query, id, companyID).Scan(
		&u.ID, &u.CompanyID, &u.Name, &u.Email, &u.Role, &u.ManagerID, &u.IsManagerApprover,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("user", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get user")
	}
	return u, nil
}

// GetNames resolves user ids to display names in one round trip. Missing ids
// are simply absent from the result.
func (r *UserRepository) GetNames(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, name FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to resolve user names")
	}
	defer rows.Close()

	names := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan user name")
		}
		names[id] = name
	}
	return names, nil
}
