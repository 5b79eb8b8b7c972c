package user

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/repository/cockroach"
	"consultlink-backend/pkg/constants"
	apperrors "consultlink-backend/pkg/errors"
)

// Service handles user profile and directory business logic
type Service struct {
	userRepo *cockroach.UserRepository
}

// NewService creates a new user service
func NewService(userRepo *cockroach.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
	}
}

// GetProfile retrieves a user profile by ID
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return user, nil
}

// ListAvailableConsultants returns consultants currently marked online.
func (s *Service) ListAvailableConsultants(ctx context.Context, limit, offset int) ([]*domain.User, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	consultants, err := s.userRepo.ListAvailableConsultants(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return consultants, nil
}
