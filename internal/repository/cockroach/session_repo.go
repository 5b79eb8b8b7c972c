package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"consultlink-backend/internal/domain"
)

// ErrNotFound is returned when no row matches the lookup
var ErrNotFound = errors.New("not found")

// ErrStaleStatus is returned when a compare-and-set transition matched no row,
// meaning the session moved to a different status concurrently
var ErrStaleStatus = errors.New("session status changed concurrently")

// SessionRepository handles session data operations
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a new pending session
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (
			id, client_id, consultant_id, status, cost_per_minute,
			topic, description, requested_minutes, scheduled_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.ClientID,
		session.ConsultantID,
		session.Status,
		session.CostPerMinute,
		session.Topic,
		session.Description,
		session.RequestedMinutes,
		session.ScheduledAt,
		session.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, client_id, consultant_id, status, cost_per_minute,
		       topic, description, requested_minutes, scheduled_at,
		       actual_start, actual_end, total_cost, is_paid, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`

	session := &domain.Session{}
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID,
		&session.ClientID,
		&session.ConsultantID,
		&session.Status,
		&session.CostPerMinute,
		&session.Topic,
		&session.Description,
		&session.RequestedMinutes,
		&session.ScheduledAt,
		&session.ActualStart,
		&session.ActualEnd,
		&session.TotalCost,
		&session.IsPaid,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// UpdateStatus performs a compare-and-set status transition
func (r *SessionRepository) UpdateStatus(ctx context.Context, sessionID uuid.UUID, fromStatus, toStatus string) error {
	query := `
		UPDATE sessions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, sessionID, fromStatus, toStatus)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}

	return nil
}

// StartVideo transitions an accepted session to active and stamps the billing
// start. Calling it again while the session is already active is a no-op so
// the operation stays idempotent across client retries.
func (r *SessionRepository) StartVideo(ctx context.Context, sessionID uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE sessions
		SET status = $3,
		    actual_start = COALESCE(actual_start, $2),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $3)
	`

	tag, err := r.pool.Exec(ctx, query, sessionID, startedAt,
		domain.SessionStatusActive, domain.SessionStatusAccepted)
	if err != nil {
		return fmt.Errorf("failed to start video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}

	return nil
}

// CompleteWithSettlement finalizes an active session and settles credits in a
// single transaction: the session is marked completed with its billing fields,
// the client is debited and the consultant credited by the computed cost.
// Returns the completed session row.
func (r *SessionRepository) CompleteWithSettlement(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, totalCost float64) (*domain.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE sessions
		SET status = $4,
		    actual_end = $2,
		    total_cost = $3,
		    is_paid = true,
		    updated_at = NOW()
		WHERE id = $1 AND status = $5
		RETURNING id, client_id, consultant_id, status, cost_per_minute,
		          topic, description, requested_minutes, scheduled_at,
		          actual_start, actual_end, total_cost, is_paid, created_at, updated_at
	`

	session := &domain.Session{}
	err = tx.QueryRow(ctx, query, sessionID, endedAt, totalCost,
		domain.SessionStatusCompleted, domain.SessionStatusActive).Scan(
		&session.ID,
		&session.ClientID,
		&session.ConsultantID,
		&session.Status,
		&session.CostPerMinute,
		&session.Topic,
		&session.Description,
		&session.RequestedMinutes,
		&session.ScheduledAt,
		&session.ActualStart,
		&session.ActualEnd,
		&session.TotalCost,
		&session.IsPaid,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleStatus
		}
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}

	if totalCost > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET credits = credits - $2, updated_at = NOW()
			WHERE id = $1
		`, session.ClientID, totalCost)
		if err != nil {
			return nil, fmt.Errorf("failed to debit client: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE users
			SET credits = credits + $2, updated_at = NOW()
			WHERE id = $1
		`, session.ConsultantID, totalCost)
		if err != nil {
			return nil, fmt.Errorf("failed to credit consultant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	return session, nil
}

// ListByUser retrieves sessions in which the user is either party,
// newest first, optionally filtered by status
func (r *SessionRepository) ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*domain.Session, error) {
	query := `
		SELECT id, client_id, consultant_id, status, cost_per_minute,
		       topic, description, requested_minutes, scheduled_at,
		       actual_start, actual_end, total_cost, is_paid, created_at, updated_at
		FROM sessions
		WHERE (client_id = $1 OR consultant_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, userID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session := &domain.Session{}
		err := rows.Scan(
			&session.ID,
			&session.ClientID,
			&session.ConsultantID,
			&session.Status,
			&session.CostPerMinute,
			&session.Topic,
			&session.Description,
			&session.RequestedMinutes,
			&session.ScheduledAt,
			&session.ActualStart,
			&session.ActualEnd,
			&session.TotalCost,
			&session.IsPaid,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}
