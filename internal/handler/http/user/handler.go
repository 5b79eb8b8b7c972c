package user

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/service/user"
	"consultlink-backend/pkg/response"
)

// Handler handles user HTTP requests
type Handler struct {
	userService *user.Service
}

// NewHandler creates a new user handler
func NewHandler(userService *user.Service) *Handler {
	return &Handler{
		userService: userService,
	}
}

// GetMe returns the caller's own profile
// GET /v1/users/me
func (h *Handler) GetMe(c *gin.Context) {
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

	profile, err := h.userService.GetProfile(c.Request.Context(), userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, profile.ToResponse())
}

// ListConsultants returns consultants currently accepting sessions
// GET /v1/consultants?limit=&offset=
func (h *Handler) ListConsultants(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	consultants, err := h.userService.ListAvailableConsultants(c.Request.Context(), limit, offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	responses := make([]*domain.UserResponse, 0, len(consultants))
	for _, consultant := range consultants {
		responses = append(responses, consultant.ToResponse())
	}

	response.Success(c, http.StatusOK, responses)
}
