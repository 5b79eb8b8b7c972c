package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses. Transitions are enforced by the session service:
// pending -> accepted|rejected|cancelled, accepted -> active|cancelled,
// active -> completed. completed/rejected/cancelled are terminal.
const (
	SessionStatusPending   = "pending"
	SessionStatusAccepted  = "accepted"
	SessionStatusRejected  = "rejected"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// Session represents a consultation session entity
// Maps to CockroachDB sessions table. Parties are referenced by ID only.
type Session struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	ClientID         uuid.UUID  `json:"client_id" db:"client_id"`
	ConsultantID     uuid.UUID  `json:"consultant_id" db:"consultant_id"`
	Status           string     `json:"status" db:"status"`
	CostPerMinute    float64    `json:"cost_per_minute" db:"cost_per_minute"` // rate snapshot at creation
	Topic            string     `json:"topic" db:"topic"`
	Description      *string    `json:"description,omitempty" db:"description"`
	RequestedMinutes int        `json:"requested_minutes" db:"requested_minutes"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	ActualStart      *time.Time `json:"actual_start,omitempty" db:"actual_start"`
	ActualEnd        *time.Time `json:"actual_end,omitempty" db:"actual_end"`
	TotalCost        float64    `json:"total_cost" db:"total_cost"`
	IsPaid           bool       `json:"is_paid" db:"is_paid"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the session can no longer change status
func (s *Session) IsTerminal() bool {
	switch s.Status {
	case SessionStatusCompleted, SessionStatusRejected, SessionStatusCancelled:
		return true
	}
	return false
}

// BilledDuration returns the elapsed active time, zero if video never started
func (s *Session) BilledDuration() time.Duration {
	if s.ActualStart == nil || s.ActualEnd == nil {
		return 0
	}
	d := s.ActualEnd.Sub(*s.ActualStart)
	if d < 0 {
		return 0
	}
	return d
}

// SessionCreate represents data needed to request a new session
type SessionCreate struct {
	ConsultantID     uuid.UUID  `json:"consultant_id" binding:"required"`
	Topic            string     `json:"topic" binding:"required"`
	Description      *string    `json:"description,omitempty"`
	RequestedMinutes int        `json:"requested_minutes" binding:"omitempty,min=1,max=480"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
}

// SessionResponse is the session representation returned to clients
type SessionResponse struct {
	ID               uuid.UUID  `json:"id"`
	ClientID         uuid.UUID  `json:"client_id"`
	ConsultantID     uuid.UUID  `json:"consultant_id"`
	Status           string     `json:"status"`
	CostPerMinute    float64    `json:"cost_per_minute"`
	Topic            string     `json:"topic"`
	Description      *string    `json:"description,omitempty"`
	RequestedMinutes int        `json:"requested_minutes"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	ActualStart      *time.Time `json:"actual_start,omitempty"`
	ActualEnd        *time.Time `json:"actual_end,omitempty"`
	DurationSeconds  int64      `json:"duration_seconds"`
	TotalCost        float64    `json:"total_cost"`
	IsPaid           bool       `json:"is_paid"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ToResponse converts Session to SessionResponse
func (s *Session) ToResponse() *SessionResponse {
	return &SessionResponse{
		ID:               s.ID,
		ClientID:         s.ClientID,
		ConsultantID:     s.ConsultantID,
		Status:           s.Status,
		CostPerMinute:    s.CostPerMinute,
		Topic:            s.Topic,
		Description:      s.Description,
		RequestedMinutes: s.RequestedMinutes,
		ScheduledAt:      s.ScheduledAt,
		ActualStart:      s.ActualStart,
		ActualEnd:        s.ActualEnd,
		DurationSeconds:  int64(s.BilledDuration().Seconds()),
		TotalCost:        s.TotalCost,
		IsPaid:           s.IsPaid,
		CreatedAt:        s.CreatedAt,
	}
}

// SessionStatusUpdate represents a status transition request
type SessionStatusUpdate struct {
	Status string `json:"status" binding:"required,oneof=accepted rejected cancelled"`
}
