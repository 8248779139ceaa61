package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/debitum/api/middleware"
	"example.com/debitum/internal/event"
	"example.com/debitum/internal/eventstore"
	"example.com/debitum/internal/models"
	"example.com/debitum/internal/permission"
)

type handlerFixture struct {
	router   *gin.Engine
	store    *eventstore.MemoryStore
	gate     *permission.StaticGate
	walletID uuid.UUID
	user     *models.User
}

// newHandlerFixture wires the sync routes with an authenticated test
// user injected instead of the token middleware.
func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gate := permission.NewStaticGate()
	store := eventstore.NewMemoryStore(gate, nil)
	walletID := uuid.New()
	user := &models.User{ID: uuid.New(), Email: "user@example.com"}
	store.CreateWallet(walletID)
	gate.SetRole(walletID, user.ID, models.RoleOwner)

	f := &handlerFixture{store: store, gate: gate, walletID: walletID, user: user}

	h := NewSyncHandler(store, gate, 100, 100)
	router := gin.New()
	group := router.Group("/api/v1")
	group.Use(func(c *gin.Context) {
		c.Set(middleware.UserContextKey, f.user)
	}, middleware.RequireSyncUser())
	{
		group.GET("/sync/hash", h.Hash)
		group.GET("/sync/events", h.Pull)
		group.POST("/sync/events", h.Push)
		group.GET("/sync/permissions", h.Permissions)
	}
	f.router = router
	return f
}

func (f *handlerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func contactEvent(walletID uuid.UUID, name string) event.Event {
	payload, _ := json.Marshal(map[string]string{"name": name})
	return event.Event{
		ID:            event.NewID(),
		WalletID:      walletID.String(),
		AggregateType: event.AggregateContact,
		AggregateID:   uuid.New().String(),
		EventType:     event.TypeCreated,
		Payload:       payload,
		Version:       1,
	}
}

func TestPushAndPullRoundTrip(t *testing.T) {
	f := newHandlerFixture(t)

	push := f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/sync/events?wallet=%s", f.walletID),
		gin.H{"events": []event.Event{contactEvent(f.walletID, "Alice")}})
	require.Equal(t, http.StatusOK, push.Code)

	var pushResp struct {
		Results []eventstore.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(push.Body.Bytes(), &pushResp))
	require.Len(t, pushResp.Results, 1)
	assert.Equal(t, eventstore.StatusAccepted, pushResp.Results[0].Status)

	pull := f.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/sync/events?wallet=%s&after=0&limit=10", f.walletID), nil)
	require.Equal(t, http.StatusOK, pull.Code)

	var pullResp struct {
		Events []event.Event `json:"events"`
		Count  int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(pull.Body.Bytes(), &pullResp))
	require.Equal(t, 1, pullResp.Count)
	assert.Equal(t, int64(1), pullResp.Events[0].Sequence)
}

func TestHashEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.do(t, http.MethodPost,
		fmt.Sprintf("/api/v1/sync/events?wallet=%s", f.walletID),
		gin.H{"events": []event.Event{contactEvent(f.walletID, "Alice")}})

	w := f.do(t, http.MethodGet, "/api/v1/sync/hash?wallet="+f.walletID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Digest eventstore.Digest `json:"digest"`
		Hash   string            `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Digest.EventCount)
	assert.Equal(t, resp.Digest.Hash(), resp.Hash)
}

func TestReadsRequireMembership(t *testing.T) {
	f := newHandlerFixture(t)
	otherWallet := uuid.New()

	w := f.do(t, http.MethodGet, "/api/v1/sync/hash?wallet="+otherWallet.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/sync/events?wallet="+otherWallet.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminSessionsAreBarred(t *testing.T) {
	f := newHandlerFixture(t)
	f.user.IsAdmin = true

	w := f.do(t, http.MethodGet, "/api/v1/sync/hash?wallet="+f.walletID.String(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPushRejectsOversizedBatch(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewSyncHandler(f.store, f.gate, 100, 2)
	router := gin.New()
	router.POST("/sync/events", func(c *gin.Context) {
		c.Set(middleware.UserContextKey, f.user)
		h.Push(c)
	})

	events := []event.Event{
		contactEvent(f.walletID, "A"),
		contactEvent(f.walletID, "B"),
		contactEvent(f.walletID, "C"),
	}
	body, _ := json.Marshal(gin.H{"events": events})
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/sync/events?wallet=%s", f.walletID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPermissionsEndpointSorted(t *testing.T) {
	f := newHandlerFixture(t)

	member := &models.User{ID: uuid.New(), Email: "member@example.com"}
	f.gate.SetRole(f.walletID, member.ID, models.RoleMember)
	f.gate.AddGroup(f.walletID, member.ID, "transaction:read", "contact:read")
	f.user = member

	w := f.do(t, http.MethodGet, "/api/v1/sync/permissions?wallet="+f.walletID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Actions []string `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"contact:read", "transaction:read"}, resp.Actions)
}

func TestInvalidWalletID(t *testing.T) {
	f := newHandlerFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/sync/hash?wallet=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/sync/events?wallet=nope", gin.H{"events": []event.Event{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
