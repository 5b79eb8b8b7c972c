package push

import (
	"context"
	"fmt"

	"consultlink-backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// SessionNotificationData contains data for session-related notifications
type SessionNotificationData struct {
	SessionID     uuid.UUID `json:"session_id"`
	ClientID      uuid.UUID `json:"client_id"`
	ClientName    string    `json:"client_name"`
	CostPerMinute float64   `json:"cost_per_minute"`
	Timestamp     int64     `json:"timestamp"`
}

// Token represents a push notification token for a user
type Token struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Delete(ctx context.Context, userID uuid.UUID, tokenValue string) error
	MarkInactive(ctx context.Context, tokenValue string) error
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	token.Active = true
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes a push notification token
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, tokenValue string) error {
	return s.repo.Delete(ctx, userID, tokenValue)
}

// SendSessionRequestNotification notifies a consultant of a new session request
func (s *Service) SendSessionRequestNotification(ctx context.Context, data *SessionNotificationData, consultantID uuid.UUID) error {
	notification := &Notification{
		Title:    "New Session Request",
		Body:     fmt.Sprintf("%s is requesting a consultation", data.ClientName),
		Priority: "high",
		Sound:    "default",
		Category: "SESSION_REQUEST",
		Data: map[string]string{
			"type":        "session_request",
			"session_id":  data.SessionID.String(),
			"client_id":   data.ClientID.String(),
			"client_name": data.ClientName,
			"timestamp":   fmt.Sprintf("%d", data.Timestamp),
		},
	}

	return s.sendToUsers(ctx, notification, []uuid.UUID{consultantID}, "session_request",
		zap.String("session_id", data.SessionID.String()))
}

// SendSessionAcceptedNotification notifies the client their request was accepted
func (s *Service) SendSessionAcceptedNotification(ctx context.Context, sessionID uuid.UUID, consultantName string, clientID uuid.UUID) error {
	notification := &Notification{
		Title:    "Session Accepted",
		Body:     fmt.Sprintf("%s accepted your session request", consultantName),
		Priority: "high",
		Sound:    "default",
		Category: "SESSION_ACCEPTED",
		Data: map[string]string{
			"type":       "session_accepted",
			"session_id": sessionID.String(),
		},
	}

	return s.sendToUsers(ctx, notification, []uuid.UUID{clientID}, "session_accepted",
		zap.String("session_id", sessionID.String()))
}

// SendSessionRejectedNotification notifies the client their request was declined
func (s *Service) SendSessionRejectedNotification(ctx context.Context, sessionID uuid.UUID, consultantName string, clientID uuid.UUID) error {
	notification := &Notification{
		Title:    "Session Declined",
		Body:     fmt.Sprintf("%s is unavailable right now", consultantName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":       "session_rejected",
			"session_id": sessionID.String(),
		},
	}

	return s.sendToUsers(ctx, notification, []uuid.UUID{clientID}, "session_rejected",
		zap.String("session_id", sessionID.String()))
}

// SendSessionEndedNotification notifies both parties of the billing outcome
func (s *Service) SendSessionEndedNotification(ctx context.Context, sessionID uuid.UUID, durationSeconds int64, totalCost float64, participantIDs []uuid.UUID) error {
	notification := &Notification{
		Title:    "Session Ended",
		Body:     fmt.Sprintf("Duration: %s. Total: $%.2f", formatDuration(durationSeconds), totalCost),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":       "session_ended",
			"session_id": sessionID.String(),
			"duration":   fmt.Sprintf("%d", durationSeconds),
			"total_cost": fmt.Sprintf("%.2f", totalCost),
		},
	}

	return s.sendToUsers(ctx, notification, participantIDs, "session_ended",
		zap.String("session_id", sessionID.String()))
}

// sendToUsers collects active tokens for the given users and dispatches the notification
func (s *Service) sendToUsers(ctx context.Context, notification *Notification, userIDs []uuid.UUID, notifType string, fields ...zap.Field) error {
	var allTokens []string
	for _, userID := range userIDs {
		tokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}

		for _, token := range tokens {
			if token.Active {
				allTokens = append(allTokens, token.Token)
			}
		}
	}

	if len(allTokens) == 0 {
		logger.Debug("No active push tokens for recipients",
			zap.String("notification_type", notifType),
			zap.Int("recipient_count", len(userIDs)))
		return nil
	}

	result, err := s.provider.Send(ctx, notification, allTokens)
	if err != nil {
		logger.Error("Failed to send push notification",
			append(fields,
				zap.String("notification_type", notifType),
				zap.Int("token_count", len(allTokens)),
				zap.Error(err))...)
		return fmt.Errorf("failed to send %s notification: %w", notifType, err)
	}

	logger.Info("Push notification sent",
		append(fields,
			zap.String("notification_type", notifType),
			zap.Int("success_count", result.SuccessCount),
			zap.Int("failure_count", result.FailureCount),
			zap.Int("invalid_tokens", len(result.InvalidTokens)))...)

	if len(result.InvalidTokens) > 0 {
		s.handleInvalidTokens(ctx, result.InvalidTokens)
	}

	return nil
}

// handleInvalidTokens marks invalid tokens as inactive
func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, tokenStr := range invalidTokens {
		if err := s.repo.MarkInactive(ctx, tokenStr); err != nil {
			logger.Warn("Failed to mark push token as inactive",
				zap.Error(err))
		}
	}
}

// formatDuration formats duration in seconds to human-readable format
func formatDuration(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// MockProvider is a mock implementation for development/testing
type MockProvider struct {
	NotificationsSent int
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{
		SuccessCount: len(tokens),
	}, nil
}
