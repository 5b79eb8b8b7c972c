package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultlink-backend/internal/domain"
)

func newTestHub() *RelayHub {
	return NewRelayHub(nil, nil, nil, nil, nil, 10)
}

func newTestClient(hub *RelayHub, sessionID, userID uuid.UUID) *RelayClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &RelayClient{
		hub:       hub,
		send:      make(chan []byte, 16),
		userID:    userID,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// receiveFrame reads one frame off a client's send queue
func receiveFrame(t *testing.T, client *RelayClient) *domain.Frame {
	t.Helper()
	select {
	case data, ok := <-client.send:
		require.True(t, ok, "send channel closed")
		frame := &domain.Frame{}
		require.NoError(t, json.Unmarshal(data, frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// expectNoFrame asserts nothing is queued for a client
func expectNoFrame(t *testing.T, client *RelayClient) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestRelay_JoinAnnouncement tests that joining broadcasts user-joined to peers
func TestRelay_JoinAnnouncement(t *testing.T) {
	hub := newTestHub()
	sessionID := uuid.New()

	alice := newTestClient(hub, sessionID, uuid.New())
	bob := newTestClient(hub, sessionID, uuid.New())

	hub.register <- alice
	hub.register <- bob

	// Alice sees Bob join; her own join had no audience yet
	frame := receiveFrame(t, alice)
	assert.Equal(t, domain.FrameTypeUserJoined, frame.Type)
	assert.Equal(t, bob.userID, frame.UserID)

	// Bob must not receive his own join announcement
	expectNoFrame(t, bob)
}

// TestRelay_NoSenderEcho tests that a frame is never echoed to its sender
func TestRelay_NoSenderEcho(t *testing.T) {
	hub := newTestHub()
	sessionID := uuid.New()

	alice := newTestClient(hub, sessionID, uuid.New())
	bob := newTestClient(hub, sessionID, uuid.New())

	hub.register <- alice
	hub.register <- bob
	receiveFrame(t, alice) // drain bob's join

	err := hub.handleRelayFrame(context.Background(), alice, &domain.Frame{
		Type:   domain.FrameTypeOffer,
		UserID: alice.userID,
		SDP:    &domain.SessionDescription{Type: "offer", SDP: "v=0..."},
	})
	require.NoError(t, err)

	frame := receiveFrame(t, bob)
	assert.Equal(t, domain.FrameTypeOffer, frame.Type)
	assert.Equal(t, alice.userID, frame.UserID)
	require.NotNil(t, frame.SDP)
	assert.Equal(t, "v=0...", frame.SDP.SDP, "sdp must be forwarded verbatim")

	expectNoFrame(t, alice)
}

// TestRelay_RejoinEvictsStaleConnection tests that the same user joining
// again replaces the previous connection
func TestRelay_RejoinEvictsStaleConnection(t *testing.T) {
	hub := newTestHub()
	sessionID := uuid.New()
	userID := uuid.New()

	stale := newTestClient(hub, sessionID, userID)
	hub.register <- stale

	fresh := newTestClient(hub, sessionID, userID)
	hub.register <- fresh

	// The stale connection's queue is closed on eviction
	assertClosed := func() bool {
		for {
			select {
			case _, ok := <-stale.send:
				if !ok {
					return true
				}
			case <-time.After(time.Second):
				return false
			}
		}
	}
	assert.True(t, assertClosed(), "stale connection should be evicted")

	hub.mu.RLock()
	current := hub.rooms[sessionID][userID]
	hub.mu.RUnlock()
	assert.Same(t, fresh, current)
}

// TestRelay_EvictedDisconnectDoesNotRemoveSuccessor tests that the evicted
// connection's teardown leaves the replacement in the room
func TestRelay_EvictedDisconnectDoesNotRemoveSuccessor(t *testing.T) {
	hub := newTestHub()
	sessionID := uuid.New()
	userID := uuid.New()

	stale := newTestClient(hub, sessionID, userID)
	hub.register <- stale
	fresh := newTestClient(hub, sessionID, userID)
	hub.register <- fresh

	// The evicted connection's read loop eventually unregisters
	hub.unregister <- stale

	// Synchronize on the hub loop having processed the unregister
	latecomer := newTestClient(hub, uuid.New(), uuid.New())
	hub.register <- latecomer

	hub.mu.RLock()
	current := hub.rooms[sessionID][userID]
	hub.mu.RUnlock()
	assert.Same(t, fresh, current, "successor must survive the evicted connection's teardown")
}

// TestRelay_LeaveAnnouncement tests that disconnecting broadcasts user-left
func TestRelay_LeaveAnnouncement(t *testing.T) {
	hub := newTestHub()
	sessionID := uuid.New()

	alice := newTestClient(hub, sessionID, uuid.New())
	bob := newTestClient(hub, sessionID, uuid.New())

	hub.register <- alice
	hub.register <- bob
	receiveFrame(t, alice) // drain bob's join

	hub.unregister <- bob

	frame := receiveFrame(t, alice)
	assert.Equal(t, domain.FrameTypeUserLeft, frame.Type)
	assert.Equal(t, bob.userID, frame.UserID)
}

// TestRelay_SessionIsolation tests that frames never cross sessions
func TestRelay_SessionIsolation(t *testing.T) {
	hub := newTestHub()

	alice := newTestClient(hub, uuid.New(), uuid.New())
	mallory := newTestClient(hub, uuid.New(), uuid.New())

	hub.register <- alice
	hub.register <- mallory

	err := hub.handleRelayFrame(context.Background(), alice, &domain.Frame{
		Type:   domain.FrameTypeOffer,
		UserID: alice.userID,
	})
	require.NoError(t, err)

	expectNoFrame(t, mallory)
}

// TestRelay_ToAllDelivery tests that relay-originated frames reach the sender too
func TestRelay_ToAllDelivery(t *testing.T) {
	hub := newTestHub()
	sessionID := uuid.New()

	alice := newTestClient(hub, sessionID, uuid.New())
	bob := newTestClient(hub, sessionID, uuid.New())

	hub.register <- alice
	hub.register <- bob
	receiveFrame(t, alice) // drain bob's join

	data, _ := json.Marshal(&domain.Frame{
		Type:   domain.FrameTypeSessionEnded,
		UserID: alice.userID,
	})
	hub.broadcast <- &relayEnvelope{
		sessionID: sessionID,
		senderID:  alice.userID,
		data:      data,
		toAll:     true,
	}

	assert.Equal(t, domain.FrameTypeSessionEnded, receiveFrame(t, alice).Type)
	assert.Equal(t, domain.FrameTypeSessionEnded, receiveFrame(t, bob).Type)
}

// TestRelay_HandlerTable tests which frame types the relay accepts
func TestRelay_HandlerTable(t *testing.T) {
	hub := newTestHub()

	for _, frameType := range []string{
		domain.FrameTypeOffer,
		domain.FrameTypeAnswer,
		domain.FrameTypeICECandidate,
		domain.FrameTypeChat,
		domain.FrameTypeEndSession,
	} {
		assert.Contains(t, hub.handlers, frameType)
	}

	// Relay-originated types must not be accepted from clients
	assert.NotContains(t, hub.handlers, domain.FrameTypeSessionEnded)
	assert.NotContains(t, hub.handlers, domain.FrameTypeUserJoined)
	assert.NotContains(t, hub.handlers, domain.FrameTypeUserLeft)
}

// TestRelay_FlatWireShape tests that frames serialize to the flat schema
// clients speak: top-level type/userId/text/timestamp keys, no envelope
func TestRelay_FlatWireShape(t *testing.T) {
	hub := newTestHub()
	sessionID := uuid.New()

	alice := newTestClient(hub, sessionID, uuid.New())
	bob := newTestClient(hub, sessionID, uuid.New())
	hub.register <- alice
	hub.register <- bob
	receiveFrame(t, alice) // drain bob's join

	err := hub.handleRelayFrame(context.Background(), alice, &domain.Frame{
		Type:      domain.FrameTypeChat,
		UserID:    alice.userID,
		Text:      "hello",
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	data, ok := <-bob.send
	require.True(t, ok)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "chat", wire["type"])
	assert.Equal(t, alice.userID.String(), wire["userId"])
	assert.Equal(t, "hello", wire["text"])
	assert.Contains(t, wire, "timestamp")
	assert.NotContains(t, wire, "payload")
}

func TestFrameTypeOf(t *testing.T) {
	assert.Equal(t, "offer", frameTypeOf([]byte(`{"type":"offer"}`)))
	assert.Equal(t, "unknown", frameTypeOf([]byte(`not json`)))
	assert.Equal(t, "unknown", frameTypeOf([]byte(`{}`)))
}
