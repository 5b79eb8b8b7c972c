package session

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/service/session"
	"consultlink-backend/pkg/response"
)

// Handler handles session HTTP requests
type Handler struct {
	sessionService *session.Service
}

// NewHandler creates a new session handler
func NewHandler(sessionService *session.Service) *Handler {
	return &Handler{
		sessionService: sessionService,
	}
}

// Create requests a new session with a consultant
// POST /v1/sessions
func (h *Handler) Create(c *gin.Context) {
	var req domain.SessionCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	sess, err := h.sessionService.Create(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, sess.ToResponse())
}

// Get retrieves one of the caller's sessions
// GET /v1/sessions/:id
func (h *Handler) Get(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	sess, err := h.sessionService.Get(c.Request.Context(), userID, sessionID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sess.ToResponse())
}

// List retrieves the caller's sessions, optionally filtered by status
// GET /v1/sessions?status=&limit=&offset=
func (h *Handler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, err := h.sessionService.List(c.Request.Context(), userID, c.Query("status"), limit, offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	responses := make([]*domain.SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		responses = append(responses, sess.ToResponse())
	}

	response.Success(c, http.StatusOK, responses)
}

// UpdateStatus accepts, rejects or cancels a session request
// PATCH /v1/sessions/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req domain.SessionStatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	var (
		sess *domain.Session
		err  error
	)
	switch req.Status {
	case domain.SessionStatusAccepted:
		sess, err = h.sessionService.Accept(c.Request.Context(), userID, sessionID)
	case domain.SessionStatusRejected:
		sess, err = h.sessionService.Reject(c.Request.Context(), userID, sessionID)
	case domain.SessionStatusCancelled:
		sess, err = h.sessionService.Cancel(c.Request.Context(), userID, sessionID)
	}
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sess.ToResponse())
}

// StartVideo activates an accepted session and returns the duration budget
// POST /v1/sessions/:id/start-video
func (h *Handler) StartVideo(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	output, err := h.sessionService.StartVideo(c.Request.Context(), userID, sessionID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session":              output.Session.ToResponse(),
		"max_duration_seconds": output.MaxDurationSeconds,
	})
}

// Complete finalizes an active session and settles billing
// POST /v1/sessions/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	sess, err := h.sessionService.Complete(c.Request.Context(), userID, sessionID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, sess.ToResponse())
}

func sessionIDParam(c *gin.Context) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return uuid.Nil, false
	}
	return sessionID, true
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}
