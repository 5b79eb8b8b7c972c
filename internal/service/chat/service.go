package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/constants"
	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
)

// MessageRepository defines the transcript persistence operations the service needs
type MessageRepository interface {
	Save(ctx context.Context, message *domain.ChatMessage) error
	GetHistory(ctx context.Context, sessionID uuid.UUID, from, to time.Time, limit int) ([]*domain.ChatMessage, error)
	GetRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.ChatMessage, error)
}

// Service handles session transcript business logic. The relay hands every
// chat frame here so the transcript survives the channel.
type Service struct {
	messageRepo MessageRepository
	metrics     *metrics.Metrics
}

// NewService creates a new chat service
func NewService(messageRepo MessageRepository, m *metrics.Metrics) *Service {
	return &Service{
		messageRepo: messageRepo,
		metrics:     m,
	}
}

// SaveMessage persists a chat message into the session transcript
func (s *Service) SaveMessage(ctx context.Context, sessionID, senderID uuid.UUID, content string) (*domain.ChatMessage, error) {
	if content == "" {
		return nil, apperrors.ValidationError("message content cannot be empty")
	}
	if len(content) > constants.MaxMessageLength {
		return nil, apperrors.ValidationError("message content too long")
	}

	message := &domain.ChatMessage{
		SessionID: sessionID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
	}

	if err := s.messageRepo.Save(ctx, message); err != nil {
		logger.Error("Failed to persist chat message",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return nil, apperrors.DatabaseError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordChatMessage()
	}

	return message, nil
}

// GetHistory retrieves the transcript for a session in send order. The time
// range bounds which month partitions are scanned; it defaults to the
// session's lifetime as seen by the caller.
func (s *Service) GetHistory(ctx context.Context, sessionID uuid.UUID, from, to time.Time, limit int) ([]*domain.ChatMessage, error) {
	if limit == 0 {
		limit = constants.DefaultHistoryLimit
	}
	if limit > constants.MaxHistoryLimit {
		limit = constants.MaxHistoryLimit
	}
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() || from.After(to) {
		return s.recent(ctx, sessionID, limit)
	}

	messages, err := s.messageRepo.GetHistory(ctx, sessionID, from, to, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return messages, nil
}

func (s *Service) recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	messages, err := s.messageRepo.GetRecent(ctx, sessionID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return messages, nil
}
