package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/service/chat"
	"consultlink-backend/internal/service/session"
	"consultlink-backend/pkg/constants"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
)

// PresenceTracker marks users online and offline while they hold a channel
type PresenceTracker interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
}

// frameHandler processes one inbound frame type
type frameHandler func(ctx context.Context, client *RelayClient, frame *domain.Frame) error

// RelayHub manages per-session signaling channels. Each session owns a room
// of at most two participants; frames are forwarded verbatim to the other
// party and mirrored through Redis so rooms split across relay nodes still
// see each other.
type RelayHub struct {
	// Rooms keyed by session, participants keyed by user so a rejoin
	// evicts the previous connection
	rooms map[uuid.UUID]map[uuid.UUID]*RelayClient

	subscriptionCancels map[uuid.UUID]context.CancelFunc

	redisClient *redis.Client
	sessionSvc  *session.Service
	chatSvc     *chat.Service
	presence    PresenceTracker
	metrics     *metrics.Metrics

	// Frames originating on this node carry its ID so the Redis mirror
	// is not re-delivered locally
	nodeID uuid.UUID

	// Inbound dispatch by frame type
	handlers map[string]frameHandler

	mu sync.RWMutex

	register   chan *RelayClient
	unregister chan *RelayClient
	broadcast  chan *relayEnvelope

	maxConnections int
	semaphore      chan struct{}
}

// RelayClient represents one participant's WebSocket connection
type RelayClient struct {
	hub       *RelayHub
	conn      *websocket.Conn
	send      chan []byte
	userID    uuid.UUID
	sessionID uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc
}

// relayEnvelope is a frame queued for room delivery
type relayEnvelope struct {
	sessionID uuid.UUID
	senderID  uuid.UUID
	data      []byte
	// toAll delivers to every participant including the sender,
	// used for relay-originated frames like session-ended
	toAll bool
	// fromMirror marks frames arriving via Redis; they are not
	// published again
	fromMirror bool
}

// mirrorFrame is the wire format on the Redis channel
type mirrorFrame struct {
	NodeID    uuid.UUID       `json:"node_id"`
	SenderID  uuid.UUID       `json:"sender_id"`
	ToAll     bool            `json:"to_all"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for allowed := range GetAllowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// NewRelayHub creates a new relay hub
func NewRelayHub(redisClient *redis.Client, sessionSvc *session.Service, chatSvc *chat.Service, presence PresenceTracker, m *metrics.Metrics, maxConnections int) *RelayHub {
	if maxConnections <= 0 {
		maxConnections = constants.DefaultMaxRelayConnections
	}

	hub := &RelayHub{
		rooms:               make(map[uuid.UUID]map[uuid.UUID]*RelayClient),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		redisClient:         redisClient,
		sessionSvc:          sessionSvc,
		chatSvc:             chatSvc,
		presence:            presence,
		metrics:             m,
		nodeID:              uuid.New(),
		register:            make(chan *RelayClient),
		unregister:          make(chan *RelayClient),
		broadcast:           make(chan *relayEnvelope, 256),
		maxConnections:      maxConnections,
		semaphore:           make(chan struct{}, maxConnections),
	}

	hub.handlers = map[string]frameHandler{
		domain.FrameTypeOffer:        hub.handleRelayFrame,
		domain.FrameTypeAnswer:       hub.handleRelayFrame,
		domain.FrameTypeICECandidate: hub.handleRelayFrame,
		domain.FrameTypeChat:         hub.handleChatFrame,
		domain.FrameTypeEndSession:   hub.handleEndSessionFrame,
	}

	go hub.run()

	return hub
}

// run handles hub operations
func (h *RelayHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			room := h.rooms[client.sessionID]
			if room == nil {
				room = make(map[uuid.UUID]*RelayClient)
				h.rooms[client.sessionID] = room

				if h.redisClient != nil {
					ctx, cancel := context.WithCancel(context.Background())
					h.subscriptionCancels[client.sessionID] = cancel
					go h.subscribeToSession(ctx, client.sessionID)
				}
			}

			// A rejoin from the same user evicts the stale connection
			if previous, ok := room[client.userID]; ok {
				close(previous.send)
				previous.cancel()
				logger.Info("Evicted stale relay connection",
					zap.String("session_id", client.sessionID.String()),
					zap.String("user_id", client.userID.String()))
			}
			room[client.userID] = client
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.RelayConnectionOpened()
			}
			if h.presence != nil {
				if err := h.presence.SetUserOnline(client.ctx, client.userID); err != nil {
					logger.Warn("Failed to mark user online", zap.Error(err))
				}
			}

			h.queueSystemFrame(client.sessionID, client.userID, domain.FrameTypeUserJoined)

		case client := <-h.unregister:
			h.mu.Lock()
			evicted := false
			if room, ok := h.rooms[client.sessionID]; ok {
				// Only remove the client if it still owns its slot;
				// an evicted connection must not tear down its successor
				if current, exists := room[client.userID]; exists && current == client {
					delete(room, client.userID)
					close(client.send)
					client.cancel()

					if len(room) == 0 {
						if cancel, ok := h.subscriptionCancels[client.sessionID]; ok {
							cancel()
							delete(h.subscriptionCancels, client.sessionID)
						}
						delete(h.rooms, client.sessionID)
					}
				} else {
					evicted = true
				}
			}
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.RelayConnectionClosed()
			}
			if !evicted {
				if h.presence != nil {
					if err := h.presence.SetUserOffline(context.Background(), client.userID); err != nil {
						logger.Warn("Failed to mark user offline", zap.Error(err))
					}
				}
				h.queueSystemFrame(client.sessionID, client.userID, domain.FrameTypeUserLeft)
			}

		case envelope := <-h.broadcast:
			h.deliver(envelope)

			if !envelope.fromMirror {
				h.publishToMirror(envelope)
			}
		}
	}
}

// deliver fans an envelope out to the room, skipping the sender unless the
// frame is addressed to all
func (h *RelayHub) deliver(envelope *relayEnvelope) {
	// Full lock: a participant with a saturated send buffer is dropped
	// from the room right here
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[envelope.sessionID]
	if !ok {
		return
	}

	for userID, client := range room {
		if !envelope.toAll && userID == envelope.senderID {
			continue
		}
		select {
		case client.send <- envelope.data:
			if h.metrics != nil {
				h.metrics.RecordRelayFrame(frameTypeOf(envelope.data), "out")
			}
		default:
			close(client.send)
			client.cancel()
			delete(room, userID)
		}
	}
}

// publishToMirror mirrors a locally originated envelope to Redis for
// participants connected to other relay nodes
func (h *RelayHub) publishToMirror(envelope *relayEnvelope) {
	if h.redisClient == nil {
		return
	}

	payload, err := json.Marshal(&mirrorFrame{
		NodeID:    h.nodeID,
		SenderID:  envelope.senderID,
		ToAll:     envelope.toAll,
		Data:      envelope.data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}

	if err := h.redisClient.Publish(context.Background(), sessionChannel(envelope.sessionID), payload).Err(); err != nil {
		logger.Warn("Failed to mirror frame to Redis",
			zap.String("session_id", envelope.sessionID.String()),
			zap.Error(err))
		if h.metrics != nil {
			h.metrics.RecordRelayError("mirror_publish")
		}
	}
}

// subscribeToSession consumes the session's Redis channel and re-delivers
// frames that originated on other nodes
func (h *RelayHub) subscribeToSession(ctx context.Context, sessionID uuid.UUID) {
	pubsub := h.redisClient.Subscribe(ctx, sessionChannel(sessionID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to session channel",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var mirror mirrorFrame
			if err := json.Unmarshal([]byte(msg.Payload), &mirror); err != nil {
				logger.Warn("Failed to unmarshal mirrored frame",
					zap.String("session_id", sessionID.String()),
					zap.Error(err))
				continue
			}
			if mirror.NodeID == h.nodeID {
				continue
			}

			h.broadcast <- &relayEnvelope{
				sessionID:  sessionID,
				senderID:   mirror.SenderID,
				data:       mirror.Data,
				toAll:      mirror.ToAll,
				fromMirror: true,
			}
		}
	}
}

// queueSystemFrame broadcasts a relay-originated presence frame to the room
func (h *RelayHub) queueSystemFrame(sessionID, userID uuid.UUID, frameType string) {
	data, err := json.Marshal(&domain.Frame{
		Type:      frameType,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	h.broadcast <- &relayEnvelope{
		sessionID: sessionID,
		senderID:  userID,
		data:      data,
	}
}

// ServeWS handles WebSocket requests for session channels
func (h *RelayHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
		defer func() {
			<-h.semaphore
		}()
	default:
		logger.Warn("Relay connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		if h.metrics != nil {
			h.metrics.RecordRelayRejected("capacity")
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	sessionIDStr := c.Param("session_id")
	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	// Only the session's two parties may join, and only once the
	// consultant has accepted
	isParty, sess, err := h.sessionSvc.IsParty(c.Request.Context(), userID, sessionID)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordRelayRejected("session_lookup")
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if !isParty {
		if h.metrics != nil {
			h.metrics.RecordRelayRejected("not_party")
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this session"})
		return
	}
	if sess.Status != domain.SessionStatusAccepted && sess.Status != domain.SessionStatusActive {
		if h.metrics != nil {
			h.metrics.RecordRelayRejected("wrong_status")
		}
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("session is %s", sess.Status)})
		return
	}

	conn, err := relayUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RelayClient{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		userID:    userID,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
	}

	h.register <- client

	go client.writePump()
	client.readPump()
}

// readPump reads frames from the WebSocket and dispatches them through the
// hub's handler table
func (c *RelayClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.MaxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("Relay connection closed",
					zap.String("session_id", c.sessionID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var frame domain.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Warn("Invalid frame from relay client",
				zap.String("session_id", c.sessionID.String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			if c.hub.metrics != nil {
				c.hub.metrics.RecordRelayError("bad_frame")
			}
			continue
		}

		// The relay stamps the sender; clients cannot spoof userId
		frame.UserID = c.userID
		if frame.Timestamp == 0 {
			frame.Timestamp = time.Now().UnixMilli()
		}

		handler, ok := c.hub.handlers[frame.Type]
		if !ok {
			logger.Warn("Unknown frame type",
				zap.String("session_id", c.sessionID.String()),
				zap.String("type", frame.Type))
			if c.hub.metrics != nil {
				c.hub.metrics.RecordRelayError("unknown_type")
			}
			continue
		}

		if c.hub.metrics != nil {
			c.hub.metrics.RecordRelayFrame(frame.Type, "in")
		}

		if err := handler(c.ctx, c, &frame); err != nil {
			logger.Warn("Frame handling failed",
				zap.String("session_id", c.sessionID.String()),
				zap.String("type", frame.Type),
				zap.Error(err))
		}
	}
}

// handleRelayFrame forwards a signaling frame to the other party verbatim
func (h *RelayHub) handleRelayFrame(ctx context.Context, client *RelayClient, frame *domain.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	h.broadcast <- &relayEnvelope{
		sessionID: client.sessionID,
		senderID:  client.userID,
		data:      data,
	}
	return nil
}

// handleChatFrame persists the message into the transcript, then forwards it
func (h *RelayHub) handleChatFrame(ctx context.Context, client *RelayClient, frame *domain.Frame) error {
	if frame.Text == "" {
		return fmt.Errorf("chat frame without text")
	}

	if h.chatSvc != nil {
		if _, err := h.chatSvc.SaveMessage(ctx, client.sessionID, client.userID, frame.Text); err != nil {
			// The live copy is still forwarded; the transcript entry is lost
			logger.Error("Failed to persist chat message",
				zap.String("session_id", client.sessionID.String()),
				zap.Error(err))
		}
	}

	return h.handleRelayFrame(ctx, client, frame)
}

// handleEndSessionFrame finalizes the session, announces session-ended to
// both parties and tears the room down
func (h *RelayHub) handleEndSessionFrame(ctx context.Context, client *RelayClient, frame *domain.Frame) error {
	completed, err := h.sessionSvc.Complete(ctx, client.userID, client.sessionID)
	if err != nil {
		// A concurrent end from the other party already finalized billing;
		// the room teardown below is all that is left to do
		logger.Warn("Session finalize on end-session failed",
			zap.String("session_id", client.sessionID.String()),
			zap.Error(err))
	}

	ended := &domain.Frame{
		Type:      domain.FrameTypeSessionEnded,
		UserID:    client.userID,
		Timestamp: time.Now().UnixMilli(),
	}
	if completed != nil {
		ended.DurationSeconds = int64(completed.BilledDuration().Seconds())
		ended.TotalCost = completed.TotalCost
	}

	data, err := json.Marshal(ended)
	if err != nil {
		return err
	}

	h.broadcast <- &relayEnvelope{
		sessionID: client.sessionID,
		senderID:  client.userID,
		data:      data,
		toAll:     true,
	}

	// Give the announcement a moment to drain, then close the room
	go func(sessionID uuid.UUID) {
		time.Sleep(constants.RoomTeardownDelay)
		h.closeRoom(sessionID)
	}(client.sessionID)

	return nil
}

// closeRoom disconnects every participant of a session
func (h *RelayHub) closeRoom(sessionID uuid.UUID) {
	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	clients := make([]*RelayClient, 0, len(room))
	for _, client := range room {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(constants.WebSocketWriteTimeout))
		client.conn.Close()
	}
}

// writePump writes frames to the WebSocket
func (c *RelayClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sessionChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// frameTypeOf peeks at the type field of an encoded frame for metrics
func frameTypeOf(data []byte) string {
	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &peek); err != nil || peek.Type == "" {
		return "unknown"
	}
	return peek.Type
}
