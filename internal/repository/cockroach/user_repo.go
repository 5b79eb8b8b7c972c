package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultlink-backend/internal/domain"
)

// UserRepository handles user data operations
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT id, email, display_name, role, credits, cost_per_minute,
		       availability, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.Role,
		&user.Credits,
		&user.CostPerMinute,
		&user.Availability,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// AddCredits atomically adds to a user's credit balance and returns the new balance
func (r *UserRepository) AddCredits(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	query := `
		UPDATE users
		SET credits = credits + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credits
	`

	var balance float64
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}

	return balance, nil
}

// GetCredits retrieves a user's credit balance
func (r *UserRepository) GetCredits(ctx context.Context, userID uuid.UUID) (float64, error) {
	query := `SELECT credits FROM users WHERE id = $1`

	var balance float64
	err := r.pool.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get credits: %w", err)
	}

	return balance, nil
}

// UpdateAvailability sets a consultant's availability state
func (r *UserRepository) UpdateAvailability(ctx context.Context, userID uuid.UUID, availability string) error {
	query := `
		UPDATE users
		SET availability = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID, availability)
	if err != nil {
		return fmt.Errorf("failed to update availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListAvailableConsultants retrieves consultants currently accepting sessions
func (r *UserRepository) ListAvailableConsultants(ctx context.Context, limit, offset int) ([]*domain.User, error) {
	query := `
		SELECT id, email, display_name, role, credits, cost_per_minute,
		       availability, created_at, updated_at
		FROM users
		WHERE role = $1 AND availability = $2
		ORDER BY display_name ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, domain.RoleConsultant, domain.AvailabilityOnline, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list consultants: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user := &domain.User{}
		err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.DisplayName,
			&user.Role,
			&user.Credits,
			&user.CostPerMinute,
			&user.Availability,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, nil
}
