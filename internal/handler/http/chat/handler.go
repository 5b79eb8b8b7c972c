package chat

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"consultlink-backend/internal/service/chat"
	"consultlink-backend/internal/service/session"
	"consultlink-backend/pkg/response"
)

// Handler handles session transcript HTTP requests
type Handler struct {
	chatService    *chat.Service
	sessionService *session.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service, sessionService *session.Service) *Handler {
	return &Handler{
		chatService:    chatService,
		sessionService: sessionService,
	}
}

// GetHistoryQuery represents query parameters for the transcript
type GetHistoryQuery struct {
	From  string `form:"from"`
	To    string `form:"to"`
	Limit int    `form:"limit"`
}

// GetHistory retrieves the transcript for one of the caller's sessions
// GET /v1/sessions/:id/messages?from=RFC3339&to=RFC3339&limit=100
func (h *Handler) GetHistory(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	var query GetHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	from, to, err := parseRange(query.From, query.To)
	if err != nil {
		response.ValidationError(c, "Invalid time range")
		return
	}

	// Only the two parties may read the transcript. Get enforces that.
	sess, err := h.sessionService.Get(c.Request.Context(), userID, sessionID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	// Default the range to the session's lifetime so only the relevant
	// month partitions are scanned.
	if from.IsZero() && sess.ActualStart != nil {
		from = *sess.ActualStart
	}
	if to.IsZero() && sess.ActualEnd != nil {
		to = *sess.ActualEnd
	}

	messages, err := h.chatService.GetHistory(c.Request.Context(), sessionID, from, to, query.Limit)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return from, to, err
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}
