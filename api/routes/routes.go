// Package routes wires the handlers into the router.
package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"example.com/debitum/api/handlers"
	"example.com/debitum/api/middleware"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Sync   *handlers.SyncHandler
	WS     *handlers.WSHandler
	Health *handlers.HealthHandler
}

// SetupRoutes registers all routes on the router.
func SetupRoutes(router *gin.Engine, db *gorm.DB, h Handlers) {
	router.GET("/health", h.Health.Live)
	router.GET("/ready", h.Health.Ready)

	// The whole sync surface is token-authenticated and closed to admin
	// sessions.
	sync := router.Group("/api/v1")
	sync.Use(middleware.TokenAuth(db), middleware.RequireSyncUser())
	{
		sync.GET("/sync/hash", h.Sync.Hash)
		sync.GET("/sync/events", h.Sync.Pull)
		sync.POST("/sync/events", h.Sync.Push)
		sync.GET("/sync/permissions", h.Sync.Permissions)
		sync.GET("/ws", h.WS.Subscribe)
	}
}
