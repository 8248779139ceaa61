package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/debitum/internal/event"
	"example.com/debitum/internal/eventstore"
	"example.com/debitum/internal/permission"
)

// ServerAPI is the sync surface the engine talks to. The HTTP client
// implements it against a remote server; StoreAPI implements it against
// an in-process store for tests and embedded deployments.
type ServerAPI interface {
	Hash(ctx context.Context, walletID uuid.UUID) (eventstore.Digest, error)
	Push(ctx context.Context, walletID uuid.UUID, events []event.Event) ([]eventstore.Result, error)
	Pull(ctx context.Context, walletID uuid.UUID, afterSequence int64, limit int) ([]event.Event, error)
	// Actions returns the caller's allowed action set in the wallet,
	// sorted. The engine compares successive results to detect grants
	// being widened or revoked.
	Actions(ctx context.Context, walletID uuid.UUID) ([]string, error)
}

// HTTPClient talks to a remote sync server with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client for baseURL (no trailing slash needed).
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type hashResponse struct {
	Digest eventstore.Digest `json:"digest"`
	Hash   string            `json:"hash"`
}

type pushRequest struct {
	Events []event.Event `json:"events"`
}

type pushResponse struct {
	Results []eventstore.Result `json:"results"`
}

type pullResponse struct {
	Events []event.Event `json:"events"`
	Count  int           `json:"count"`
}

type actionsResponse struct {
	Actions []string `json:"actions"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request to %s failed", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("server returned %d for %s: %s", resp.StatusCode, path, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "failed to decode response body")
		}
	}
	return nil
}

// Hash fetches the wallet digest.
func (c *HTTPClient) Hash(ctx context.Context, walletID uuid.UUID) (eventstore.Digest, error) {
	var resp hashResponse
	q := url.Values{"wallet": {walletID.String()}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/hash", q, nil, &resp); err != nil {
		return eventstore.Digest{}, err
	}
	return resp.Digest, nil
}

// Push submits a batch of local events.
func (c *HTTPClient) Push(ctx context.Context, walletID uuid.UUID, events []event.Event) ([]eventstore.Result, error) {
	var resp pushResponse
	q := url.Values{"wallet": {walletID.String()}}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync/events", q, pushRequest{Events: events}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Pull fetches one page of server-ordered events.
func (c *HTTPClient) Pull(ctx context.Context, walletID uuid.UUID, afterSequence int64, limit int) ([]event.Event, error) {
	var resp pullResponse
	q := url.Values{
		"wallet": {walletID.String()},
		"after":  {strconv.FormatInt(afterSequence, 10)},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/events", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Actions fetches the caller's allowed actions in the wallet.
func (c *HTTPClient) Actions(ctx context.Context, walletID uuid.UUID) ([]string, error) {
	var resp actionsResponse
	q := url.Values{"wallet": {walletID.String()}}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/permissions", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// StoreAPI adapts an in-process event store to the ServerAPI surface,
// acting as one fixed user.
type StoreAPI struct {
	store  eventstore.Store
	gate   permission.Gate
	userID uuid.UUID
}

// NewStoreAPI creates an adapter acting as userID.
func NewStoreAPI(store eventstore.Store, gate permission.Gate, userID uuid.UUID) *StoreAPI {
	return &StoreAPI{store: store, gate: gate, userID: userID}
}

// Hash proxies to the store.
func (a *StoreAPI) Hash(ctx context.Context, walletID uuid.UUID) (eventstore.Digest, error) {
	return a.store.Hash(ctx, walletID)
}

// Push proxies to the store as the configured user.
func (a *StoreAPI) Push(ctx context.Context, walletID uuid.UUID, events []event.Event) ([]eventstore.Result, error) {
	return a.store.Push(ctx, a.userID, walletID, events)
}

// Pull proxies to the store.
func (a *StoreAPI) Pull(ctx context.Context, walletID uuid.UUID, afterSequence int64, limit int) ([]event.Event, error) {
	return a.store.Pull(ctx, walletID, afterSequence, limit)
}

// Actions resolves the user's action set through the gate.
func (a *StoreAPI) Actions(ctx context.Context, walletID uuid.UUID) ([]string, error) {
	set, err := a.gate.ActionsFor(ctx, walletID, a.userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for action := range set {
		out = append(out, action)
	}
	sort.Strings(out)
	return out, nil
}
