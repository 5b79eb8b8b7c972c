package domain

import (
	"time"

	"github.com/google/uuid"
)

// Signaling frame types carried over the relay
const (
	FrameTypeOffer        = "offer"
	FrameTypeAnswer       = "answer"
	FrameTypeICECandidate = "ice-candidate"
	FrameTypeChat         = "chat"
	FrameTypeSystem       = "system"
	FrameTypeEndSession   = "end-session"
	FrameTypeSessionEnded = "session-ended"
	FrameTypeUserJoined   = "user-joined"
	FrameTypeUserLeft     = "user-left"
)

// Frame is the flat wire schema for every message on a session channel.
// Only Type is always present; the other fields depend on the frame type.
// The relay inspects Type for dispatch and forwards everything else
// verbatim.
type Frame struct {
	Type      string              `json:"type"`
	UserID    uuid.UUID           `json:"userId,omitzero"`
	Text      string              `json:"text,omitempty"`
	Timestamp int64               `json:"timestamp,omitempty"` // milliseconds since epoch
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`

	// Billing outcome, carried only on session-ended frames
	DurationSeconds int64   `json:"durationSeconds,omitempty"`
	TotalCost       float64 `json:"totalCost,omitempty"`
}

// SessionDescription is an SDP offer or answer
type SessionDescription struct {
	Type string `json:"type"` // offer, answer
	SDP  string `json:"sdp"`
}

// ICECandidate is one transport candidate in RTCIceCandidateInit shape
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ChatMessage represents a persisted transcript entry
// Maps to Cassandra messages_by_session table
type ChatMessage struct {
	SessionID uuid.UUID `json:"session_id"`
	Bucket    string    `json:"bucket"` // YYYY-MM partition component
	MessageID uuid.UUID `json:"id"`     // TIMEUUID, provides ordering
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MonthBucket returns the partition bucket for a point in time
func MonthBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}
