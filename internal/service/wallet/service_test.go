package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"consultlink-backend/internal/repository/cockroach"
	apperrors "consultlink-backend/pkg/errors"
)

// MockCreditRepository is a mock implementation of CreditRepository
type MockCreditRepository struct {
	mock.Mock
}

func (m *MockCreditRepository) AddCredits(ctx context.Context, userID uuid.UUID, amount float64) (float64, error) {
	args := m.Called(ctx, userID, amount)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockCreditRepository) GetCredits(ctx context.Context, userID uuid.UUID) (float64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(float64), args.Error(1)
}

// TestTopUp tests adding credits
func TestTopUp(t *testing.T) {
	repo := new(MockCreditRepository)
	service := NewService(repo)

	userID := uuid.New()
	repo.On("AddCredits", mock.Anything, userID, 20.0).Return(35.5, nil)

	balance, err := service.TopUp(context.Background(), userID, 20.0)

	assert.NoError(t, err)
	assert.Equal(t, 35.5, balance)
	repo.AssertExpectations(t)
}

// TestTopUp_NonPositiveAmount tests amount validation
func TestTopUp_NonPositiveAmount(t *testing.T) {
	repo := new(MockCreditRepository)
	service := NewService(repo)

	for _, amount := range []float64{0, -5} {
		_, err := service.TopUp(context.Background(), uuid.New(), amount)
		assert.Error(t, err)
	}
	repo.AssertNotCalled(t, "AddCredits")
}

// TestTopUp_UnknownUser tests top-up against a missing user
func TestTopUp_UnknownUser(t *testing.T) {
	repo := new(MockCreditRepository)
	service := NewService(repo)

	userID := uuid.New()
	repo.On("AddCredits", mock.Anything, userID, 10.0).Return(0.0, cockroach.ErrNotFound)

	_, err := service.TopUp(context.Background(), userID, 10.0)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUserNotFound, apperrors.GetAppError(err).Code)
}

// TestBalance tests reading the balance
func TestBalance(t *testing.T) {
	repo := new(MockCreditRepository)
	service := NewService(repo)

	userID := uuid.New()
	repo.On("GetCredits", mock.Anything, userID).Return(12.25, nil)

	balance, err := service.Balance(context.Background(), userID)

	assert.NoError(t, err)
	assert.Equal(t, 12.25, balance)
}
