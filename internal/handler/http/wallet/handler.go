package wallet

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/service/wallet"
	"consultlink-backend/pkg/response"
)

// Handler handles credit wallet HTTP requests
type Handler struct {
	walletService *wallet.Service
}

// NewHandler creates a new wallet handler
func NewHandler(walletService *wallet.Service) *Handler {
	return &Handler{
		walletService: walletService,
	}
}

// TopUp adds funds to the caller's credit balance
// POST /v1/wallet/top-up
func (h *Handler) TopUp(c *gin.Context) {
	var req domain.TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	balance, err := h.walletService.TopUp(c.Request.Context(), userID, req.Amount)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"credits": balance,
	})
}

// Balance returns the caller's current credit balance
// GET /v1/wallet/balance
func (h *Handler) Balance(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	balance, err := h.walletService.Balance(c.Request.Context(), userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"credits": balance,
	})
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
