package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultlink-backend/internal/repository/cockroach"
	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
)

// CreditRepository defines the balance operations the service needs
type CreditRepository interface {
	AddCredits(ctx context.Context, userID uuid.UUID, amount float64) (float64, error)
	GetCredits(ctx context.Context, userID uuid.UUID) (float64, error)
}

// Service handles credit balance business logic. Mid-session top-ups go
// through here too; the client-side budget extension is driven off the
// returned balance.
type Service struct {
	creditRepo CreditRepository
}

// NewService creates a new wallet service
func NewService(creditRepo CreditRepository) *Service {
	return &Service{creditRepo: creditRepo}
}

// TopUp adds credits to a user's balance and returns the new balance
func (s *Service) TopUp(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, apperrors.ValidationError("top-up amount must be positive")
	}

	balance, err := s.creditRepo.AddCredits(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return 0, apperrors.UserNotFoundError()
		}
		return 0, apperrors.DatabaseError(err)
	}

	logger.Info("Credits added",
		zap.String("user_id", userID.String()),
		zap.Float64("amount", amount),
		zap.Float64("balance", balance))

	return balance, nil
}

// Balance retrieves a user's current credit balance
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	balance, err := s.creditRepo.GetCredits(ctx, userID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return 0, apperrors.UserNotFoundError()
		}
		return 0, apperrors.DatabaseError(err)
	}
	return balance, nil
}
