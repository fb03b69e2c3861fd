package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gridsync/internal/core/domain"
	"gridsync/internal/core/ports"
	"gridsync/internal/core/services"
)

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		token := parts[1]
		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		// Store user info in context
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			token := parts[1]
			if claims, err := authService.ValidateToken(token); err == nil {
				c.Set("user_id", claims.UserID)
				c.Set("username", claims.Username)
			}
		}

		c.Next()
	}
}

// TenantRoleMiddleware checks the caller holds at least requiredRole in the
// tenant named by the :tenantId route param. Reads the repository directly
// rather than any connection cache: admin calls must see current state.
func TenantRoleMiddleware(repo ports.MembershipRepository, requiredRole domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDVal, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		userID, ok := userIDVal.(domain.UserID)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user context"})
			c.Abort()
			return
		}

		tenantID := domain.TenantID(c.Param("tenantId"))
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenantId required"})
			c.Abort()
			return
		}

		membership, err := repo.FindByUserAndTenant(c.Request.Context(), userID, tenantID)
		if err != nil {
			if errors.Is(err, domain.ErrMembershipNotFound) {
				c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check permissions"})
			}
			c.Abort()
			return
		}

		if !domain.HasSufficientRole(membership.Role, requiredRole) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}

		c.Set("tenant_id", tenantID)
		c.Set("caller_role", membership.Role)
		c.Next()
	}
}
