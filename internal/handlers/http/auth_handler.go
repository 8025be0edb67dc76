package http

import (
	"net/http"
	"strings"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/services"
	"meetroom/pkg/errors"
	"meetroom/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuthHandler exposes the caller's identity. Tokens come from the account
// service; with dev tokens enabled the daemon mints its own for local
// testing.
type AuthHandler struct {
	authService services.AuthService
	devTokens   bool
}

func NewAuthHandler(authService services.AuthService, devTokens bool) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		devTokens:   devTokens,
	}
}

func (h *AuthHandler) SetupRoutes(public, protected *gin.RouterGroup) {
	if h.devTokens {
		public.POST("/auth/token", h.IssueToken)
	}
	protected.GET("/auth/me", h.Me)
}

type IssueTokenRequest struct {
	UserID    string `json:"user_id" binding:"max=64"`
	Name      string `json:"name" binding:"required,max=80"`
	Email     string `json:"email" binding:"max=254"`
	AvatarURL string `json:"avatar_url" binding:"max=2048"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.UserID == "" {
		req.UserID = uuid.NewString()
	}

	if err := validation.ValidateParticipantID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateDisplayName(req.Name); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateOptionalEmail(req.Email); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	identity := domain.Identity{
		UserID:    domain.UserID(req.UserID),
		Name:      req.Name,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
	}
	token, err := h.authService.GenerateToken(identity)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id":      identity.UserID,
		"access_token": token,
	})
}

func (h *AuthHandler) Me(c *gin.Context) {
	identity, err := h.authService.Current(c.Request.Context())
	if err != nil {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    identity.UserID,
		"name":       identity.Name,
		"email":      identity.Email,
		"avatar_url": identity.AvatarURL,
	})
}
