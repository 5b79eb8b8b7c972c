package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"consultlink-backend/internal/domain"
)

// MessageRepository handles session transcript storage in Cassandra.
// Transcripts are partitioned by (session_id, month bucket) so a single
// long-lived session never grows an unbounded partition.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a transcript entry
func (r *MessageRepository) Save(ctx context.Context, message *domain.ChatMessage) error {
	if message.Bucket == "" {
		message.Bucket = domain.MonthBucket(message.CreatedAt)
	}
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO messages_by_session (
			session_id, bucket, message_id, sender_id, content, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.SessionID,
		message.Bucket,
		message.MessageID,
		message.SenderID,
		message.Content,
		message.CreatedAt,
	).WithContext(ctx).Exec()

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// GetBySessionBucket retrieves transcript entries for one partition in send
// order, with cursor-based pagination
func (r *MessageRepository) GetBySessionBucket(
	ctx context.Context,
	sessionID uuid.UUID,
	bucket string,
	limit int,
	pageState []byte,
) ([]*domain.ChatMessage, []byte, error) {
	query := `
		SELECT session_id, bucket, message_id, sender_id, content, created_at
		FROM messages_by_session
		WHERE session_id = ? AND bucket = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	iter := r.session.Query(query, sessionID, bucket, limit).
		WithContext(ctx).
		PageState(pageState).
		Iter()

	var messages []*domain.ChatMessage
	for {
		message := &domain.ChatMessage{}
		if !iter.Scan(
			&message.SessionID,
			&message.Bucket,
			&message.MessageID,
			&message.SenderID,
			&message.Content,
			&message.CreatedAt,
		) {
			break
		}
		messages = append(messages, message)
	}

	nextPageState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nextPageState, nil
}

// GetHistory retrieves the transcript across a time range in send order,
// walking month buckets oldest first
func (r *MessageRepository) GetHistory(ctx context.Context, sessionID uuid.UUID, from, to time.Time, limit int) ([]*domain.ChatMessage, error) {
	var allMessages []*domain.ChatMessage

	for _, bucket := range BucketsForRange(from, to) {
		messages, _, err := r.GetBySessionBucket(ctx, sessionID, bucket, limit-len(allMessages), nil)
		if err != nil {
			return nil, err
		}
		allMessages = append(allMessages, messages...)

		if len(allMessages) >= limit {
			break
		}
	}

	if len(allMessages) > limit {
		allMessages = allMessages[:limit]
	}

	return allMessages, nil
}

// GetRecent gets transcript entries from the current month bucket
func (r *MessageRepository) GetRecent(ctx context.Context, sessionID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	messages, _, err := r.GetBySessionBucket(ctx, sessionID, domain.MonthBucket(time.Now()), limit, nil)
	return messages, err
}

// Delete removes a transcript entry
func (r *MessageRepository) Delete(ctx context.Context, sessionID uuid.UUID, bucket string, messageID uuid.UUID) error {
	query := `DELETE FROM messages_by_session WHERE session_id = ? AND bucket = ? AND message_id = ?`

	err := r.session.Query(query, sessionID, bucket, messageID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	return nil
}

// BucketsForRange generates the month bucket list covering a time range
func BucketsForRange(startTime, endTime time.Time) []string {
	var buckets []string

	current := time.Date(startTime.Year(), startTime.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(endTime.Year(), endTime.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !current.After(end) {
		buckets = append(buckets, domain.MonthBucket(current))
		current = current.AddDate(0, 1, 0)
	}

	return buckets
}
