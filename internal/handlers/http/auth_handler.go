package http

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/services"
	"gridsync/pkg/errors"
	"gridsync/pkg/validation"
)

const provisioningKeyHeader = "X-Provisioning-Key"

// AuthHandler mints gateway tokens. This service holds no user store:
// identity is established by the upstream application, which exchanges a
// shared provisioning key for short-lived tokens it hands to its clients.
// An empty provisioning key disables minting.
type AuthHandler struct {
	authService     services.AuthService
	provisioningKey []byte
	accessTokenTTL  time.Duration
}

func NewAuthHandler(authService services.AuthService, provisioningKey string, accessTokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService:     authService,
		provisioningKey: []byte(provisioningKey),
		accessTokenTTL:  accessTokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
		api.POST("/refresh", h.RefreshToken)
	}
}

type IssueTokenRequest struct {
	UserID   string `json:"user_id" binding:"required,max=100"`
	Username string `json:"username" binding:"max=50"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

// IssueToken exchanges the provisioning key for an access/refresh token
// pair bound to the given user id.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if !h.callerAuthorized(c) {
		c.Error(errors.NewUnauthorizedError("invalid provisioning key"))
		return
	}

	var req IssueTokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = req.UserID
	} else if err := validation.ValidateUsername(username); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	userID := domain.UserID(req.UserID)

	accessToken, err := h.authService.GenerateToken(userID, username)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	refreshToken, err := h.authService.GenerateRefreshToken(userID)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate refresh token"))
		return
	}

	c.JSON(200, gin.H{
		"user_id":       userID,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(h.accessTokenTTL / time.Second),
	})
}

// RefreshToken trades a valid refresh token for a new access token. No
// provisioning key needed; the refresh token is the credential.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		c.Error(errors.NewUnauthorizedError("invalid refresh token"))
		return
	}

	accessToken, err := h.authService.GenerateToken(claims.UserID, claims.Username)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(200, gin.H{
		"access_token": accessToken,
		"expires_in":   int(h.accessTokenTTL / time.Second),
	})
}

func (h *AuthHandler) callerAuthorized(c *gin.Context) bool {
	if len(h.provisioningKey) == 0 {
		return false
	}
	key := []byte(c.GetHeader(provisioningKeyHeader))
	return subtle.ConstantTimeCompare(key, h.provisioningKey) == 1
}
