package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/constants"
)

// MockMessageRepository is a mock implementation of MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(ctx context.Context, message *domain.ChatMessage) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) GetHistory(ctx context.Context, sessionID uuid.UUID, from, to time.Time, limit int) ([]*domain.ChatMessage, error) {
	args := m.Called(ctx, sessionID, from, to, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatMessage), args.Error(1)
}

func (m *MockMessageRepository) GetRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatMessage), args.Error(1)
}

// TestSaveMessage tests persisting a chat message
func TestSaveMessage(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewService(repo, nil)

	sessionID := uuid.New()
	senderID := uuid.New()

	repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.ChatMessage")).Return(nil)

	message, err := service.SaveMessage(context.Background(), sessionID, senderID, "hello")

	assert.NoError(t, err)
	assert.Equal(t, sessionID, message.SessionID)
	assert.Equal(t, senderID, message.SenderID)
	assert.Equal(t, "hello", message.Content)
	repo.AssertExpectations(t)
}

// TestSaveMessage_Empty tests that empty messages are rejected
func TestSaveMessage_Empty(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewService(repo, nil)

	_, err := service.SaveMessage(context.Background(), uuid.New(), uuid.New(), "")

	assert.Error(t, err)
	repo.AssertNotCalled(t, "Save")
}

// TestSaveMessage_TooLong tests the length cap
func TestSaveMessage_TooLong(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewService(repo, nil)

	content := strings.Repeat("x", constants.MaxMessageLength+1)
	_, err := service.SaveMessage(context.Background(), uuid.New(), uuid.New(), content)

	assert.Error(t, err)
	repo.AssertNotCalled(t, "Save")
}

// TestGetHistory tests range-bounded transcript retrieval
func TestGetHistory(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewService(repo, nil)

	sessionID := uuid.New()
	from := time.Now().Add(-time.Hour)
	to := time.Now()
	messages := []*domain.ChatMessage{
		{SessionID: sessionID, Content: "first"},
		{SessionID: sessionID, Content: "second"},
	}

	repo.On("GetHistory", mock.Anything, sessionID, from, to, constants.DefaultHistoryLimit).Return(messages, nil)

	result, err := service.GetHistory(context.Background(), sessionID, from, to, 0)

	assert.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, "first", result[0].Content)
	repo.AssertExpectations(t)
}

// TestGetHistory_LimitClamped tests that oversized limits are capped
func TestGetHistory_LimitClamped(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewService(repo, nil)

	sessionID := uuid.New()
	from := time.Now().Add(-time.Hour)
	to := time.Now()

	repo.On("GetHistory", mock.Anything, sessionID, from, to, constants.MaxHistoryLimit).Return([]*domain.ChatMessage{}, nil)

	_, err := service.GetHistory(context.Background(), sessionID, from, to, constants.MaxHistoryLimit+100)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

// TestGetHistory_NoRange tests falling back to the current partition
func TestGetHistory_NoRange(t *testing.T) {
	repo := new(MockMessageRepository)
	service := NewService(repo, nil)

	sessionID := uuid.New()
	repo.On("GetRecent", mock.Anything, sessionID, 50).Return([]*domain.ChatMessage{}, nil)

	result, err := service.GetHistory(context.Background(), sessionID, time.Time{}, time.Time{}, 50)

	assert.NoError(t, err)
	assert.Empty(t, result)
	repo.AssertExpectations(t)
}
