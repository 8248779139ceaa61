package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"example.com/debitum/api/middleware"
	"example.com/debitum/internal/permission"
	"example.com/debitum/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement is the deployment proxy's job; tokens gate the
	// endpoint itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades connections and subscribes them to a wallet's
// realtime feed.
type WSHandler struct {
	hub  *realtime.Hub
	gate permission.Gate
}

// NewWSHandler creates the handler.
func NewWSHandler(hub *realtime.Hub, gate permission.Gate) *WSHandler {
	return &WSHandler{hub: hub, gate: gate}
}

// Subscribe handles GET /ws?wallet=. Only wallet members may
// subscribe; the admin bar is enforced by the route group.
func (h *WSHandler) Subscribe(c *gin.Context) {
	walletID, err := uuid.Parse(c.Query("wallet"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	user := middleware.CurrentUser(c)
	member, err := h.gate.IsMember(c.Request.Context(), walletID, user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": permission.ErrInsufficientPermission.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	h.hub.Subscribe(walletID, conn)
	log.Info().
		Str("walletID", walletID.String()).
		Str("userID", user.ID.String()).
		Msg("Websocket subscriber connected")
}
