package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"consultlink-backend/pkg/push"
)

// PushTokenRepository stores push notification tokens in Redis.
// Tokens live in a hash per user keyed by token value, plus a reverse
// index so invalid tokens reported by FCM can be resolved to their owner.
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new PushTokenRepository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(userID uuid.UUID) string {
	return fmt.Sprintf("push_tokens:%s", userID)
}

func reverseKey(tokenValue string) string {
	return fmt.Sprintf("push_token_owner:%s", tokenValue)
}

// Store saves or refreshes a token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, tokenKey(token.UserID), token.Token, data)
	pipe.Set(ctx, reverseKey(token.Token), token.UserID.String(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store push token: %w", err)
	}

	return nil
}

// GetByUserID retrieves all tokens for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	entries, err := r.client.HGetAll(ctx, tokenKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(entries))
	for _, raw := range entries {
		token := &push.Token{}
		if err := json.Unmarshal([]byte(raw), token); err != nil {
			continue // skip corrupt entries
		}
		tokens = append(tokens, token)
	}

	return tokens, nil
}

// Delete removes a token
func (r *PushTokenRepository) Delete(ctx context.Context, userID uuid.UUID, tokenValue string) error {
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, tokenKey(userID), tokenValue)
	pipe.Del(ctx, reverseKey(tokenValue))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete push token: %w", err)
	}

	return nil
}

// MarkInactive flags a token so it is no longer used for sends
func (r *PushTokenRepository) MarkInactive(ctx context.Context, tokenValue string) error {
	ownerStr, err := r.client.Get(ctx, reverseKey(tokenValue)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve token owner: %w", err)
	}

	userID, err := uuid.Parse(ownerStr)
	if err != nil {
		return fmt.Errorf("corrupt token owner entry: %w", err)
	}

	raw, err := r.client.HGet(ctx, tokenKey(userID), tokenValue).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get push token: %w", err)
	}

	token := &push.Token{}
	if err := json.Unmarshal([]byte(raw), token); err != nil {
		return fmt.Errorf("corrupt push token entry: %w", err)
	}

	token.Active = false
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := r.client.HSet(ctx, tokenKey(userID), tokenValue, data).Err(); err != nil {
		return fmt.Errorf("failed to mark token inactive: %w", err)
	}

	return nil
}
