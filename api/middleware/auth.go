package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/debitum/internal/models"
)

// Context keys set by TokenAuth.
const (
	UserContextKey = "auth_user"
)

// TokenAuth validates opaque bearer tokens from the Authorization
// header and loads the owning user into the request context.
func TokenAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Authorization header format. Expected: 'Bearer {token}'"})
			c.Abort()
			return
		}
		token := parts[1]

		var apiToken models.APIToken
		if err := db.WithContext(c.Request.Context()).
			Where("token = ?", token).
			First(&apiToken).Error; err != nil {
			log.Warn().Msg("Invalid API token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		if apiToken.ExpiresAt != nil && apiToken.ExpiresAt.Before(time.Now()) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			c.Abort()
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).
			Where("id = ?", apiToken.UserID).
			First(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown user"})
			c.Abort()
			return
		}

		// Update last used in the background to keep the request fast.
		now := time.Now()
		go func(id uint) {
			if err := db.WithContext(context.Background()).
				Model(&models.APIToken{}).
				Where("id = ?", id).
				Update("last_used_at", now).Error; err != nil {
				log.Warn().Err(err).Msg("Failed to update token last used timestamp")
			}
		}(apiToken.ID)

		c.Set(UserContextKey, &user)
		c.Next()
	}
}

// RequireSyncUser bars admin sessions from the sync surface. Admin
// accounts manage wallets and users; they never own a device journal,
// so letting them sync would create events with no journal provenance.
func RequireSyncUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		if user.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin sessions cannot sync"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(UserContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
