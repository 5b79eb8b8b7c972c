package domain

import (
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleClient     = "client"
	RoleConsultant = "consultant"
)

// Consultant availability states
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
	AvailabilityBusy    = "busy"
)

// User represents a marketplace user entity
// Maps to CockroachDB users table
type User struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Email         string    `json:"email" db:"email"`
	DisplayName   string    `json:"display_name" db:"display_name"`
	Role          string    `json:"role" db:"role"` // client, consultant
	Credits       float64   `json:"credits" db:"credits"`
	CostPerMinute float64   `json:"cost_per_minute" db:"cost_per_minute"` // consultants only
	Availability  string    `json:"availability" db:"availability"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// IsConsultant reports whether the user offers consultations
func (u *User) IsConsultant() bool {
	return u.Role == RoleConsultant
}

// UserResponse is the safe user representation returned to clients
type UserResponse struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	Role          string    `json:"role"`
	Credits       float64   `json:"credits"`
	CostPerMinute float64   `json:"cost_per_minute,omitempty"`
	Availability  string    `json:"availability"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToResponse converts User to UserResponse
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          u.Role,
		Credits:       u.Credits,
		CostPerMinute: u.CostPerMinute,
		Availability:  u.Availability,
		CreatedAt:     u.CreatedAt,
	}
}

// TopUpRequest represents a credit purchase
type TopUpRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}
