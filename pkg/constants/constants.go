// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Billing constants
const (
	// BillingTickInterval is the resolution of the in-call billing clock
	BillingTickInterval = 1 * time.Second

	// LowBalanceThreshold is the remaining-call-time threshold below which the
	// client is warned (a UI signal, never a state transition)
	LowBalanceThreshold = 60 * time.Second

	// DisconnectGracePeriod is how long a dropped signaling channel is tolerated
	// before the controller treats the session as abandoned
	DisconnectGracePeriod = 30 * time.Second
)

// Relay constants
const (
	// DefaultMaxRelayConnections caps concurrent relay WebSocket connections
	DefaultMaxRelayConnections = 1000

	// MaxFrameBytes bounds a single inbound signaling frame
	MaxFrameBytes = 64 * 1024

	// RoomTeardownDelay lets a session-ended announcement drain before the
	// room's connections are closed
	RoomTeardownDelay = 250 * time.Millisecond
)

// Session request defaults
const (
	// DefaultRequestedMinutes is the advisory duration when the client does not pick one
	DefaultRequestedMinutes = 15

	// MaxTopicLength bounds the session topic field
	MaxTopicLength = 200

	// MaxDescriptionLength bounds the session description field
	MaxDescriptionLength = 2000
)

// Chat constants
const (
	// MaxMessageLength is the maximum allowed chat message length
	MaxMessageLength = 10000

	// DefaultHistoryLimit is the default number of transcript messages returned
	DefaultHistoryLimit = 200

	// MaxHistoryLimit caps a single transcript read
	MaxHistoryLimit = 500
)

// Presence constants
const (
	// PresenceTTL is how long a presence key lives without a refresh
	PresenceTTL = 5 * time.Minute
)

// Pagination constants
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Database connection constants
const (
	MaxConnLifetime   = 1 * time.Hour
	MaxConnIdleTime   = 30 * time.Minute
	HealthCheckPeriod = 1 * time.Minute
)
