// Package handlers implements the HTTP surface of the sync protocol.
package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/debitum/api/middleware"
	"example.com/debitum/internal/event"
	"example.com/debitum/internal/eventstore"
	"example.com/debitum/internal/permission"
)

const maxPullLimit = 500

// SyncHandler serves the sync protocol: digest, pull, push and the
// caller's permission read-set.
type SyncHandler struct {
	store        eventstore.Store
	gate         permission.Gate
	pullPageSize int
	pushBatchMax int
}

// NewSyncHandler creates the handler. pullPageSize is the page served
// when a pull names no limit.
func NewSyncHandler(store eventstore.Store, gate permission.Gate, pullPageSize, pushBatchMax int) *SyncHandler {
	if pullPageSize <= 0 {
		pullPageSize = 100
	}
	if pushBatchMax <= 0 {
		pushBatchMax = 500
	}
	return &SyncHandler{store: store, gate: gate, pullPageSize: pullPageSize, pushBatchMax: pushBatchMax}
}

// walletFromQuery resolves and authorizes the wallet query param.
// Every sync read requires wallet membership.
func (h *SyncHandler) walletFromQuery(c *gin.Context) (uuid.UUID, bool) {
	walletID, err := uuid.Parse(c.Query("wallet"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return uuid.Nil, false
	}
	user := middleware.CurrentUser(c)
	member, err := h.gate.IsMember(c.Request.Context(), walletID, user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return uuid.Nil, false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": permission.ErrInsufficientPermission.Error()})
		return uuid.Nil, false
	}
	return walletID, true
}

// Hash returns the wallet digest and its stable hash.
func (h *SyncHandler) Hash(c *gin.Context) {
	walletID, ok := h.walletFromQuery(c)
	if !ok {
		return
	}
	digest, err := h.store.Hash(c.Request.Context(), walletID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute wallet digest")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"digest": digest, "hash": digest.Hash()})
}

// Pull returns one ascending page of the wallet's log after the cursor.
func (h *SyncHandler) Pull(c *gin.Context) {
	walletID, ok := h.walletFromQuery(c)
	if !ok {
		return
	}
	after, err := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil || after < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after cursor"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.pullPageSize)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxPullLimit {
		limit = maxPullLimit
	}

	events, err := h.store.Pull(c.Request.Context(), walletID, after, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to pull events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

type pushRequest struct {
	Events []event.Event `json:"events" binding:"required"`
}

// Push ingests a batch of events into the wallet's log. Per-event
// authorization happens in the store; membership is not required here
// so the store can report unknown_wallet and permission rejections
// per event.
func (h *SyncHandler) Push(c *gin.Context) {
	walletID, err := uuid.Parse(c.Query("wallet"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Events) > h.pushBatchMax {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch too large"})
		return
	}

	user := middleware.CurrentUser(c)
	results, err := h.store.Push(c.Request.Context(), user.ID, walletID, req.Events)
	if err != nil {
		log.Error().Err(err).Msg("Failed to push events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Permissions returns the caller's allowed action set in the wallet,
// sorted for stable comparison on the client.
func (h *SyncHandler) Permissions(c *gin.Context) {
	walletID, err := uuid.Parse(c.Query("wallet"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	user := middleware.CurrentUser(c)
	set, err := h.gate.ActionsFor(c.Request.Context(), walletID, user.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve permissions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	actions := make([]string, 0, len(set))
	for a := range set {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}
