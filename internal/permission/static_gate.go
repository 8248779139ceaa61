package permission

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StaticGate is an in-memory Gate for tests and embedded use. Roles and
// group grants are set up directly on the gate.
type StaticGate struct {
	mu      sync.RWMutex
	roles   map[uuid.UUID]map[uuid.UUID]string      // wallet -> user -> role
	groups  map[uuid.UUID]map[uuid.UUID][]uuid.UUID // wallet -> user -> group ids
	actions map[uuid.UUID][]string                  // group -> actions
}

// NewStaticGate creates an empty gate; every user is denied until granted.
func NewStaticGate() *StaticGate {
	return &StaticGate{
		roles:   make(map[uuid.UUID]map[uuid.UUID]string),
		groups:  make(map[uuid.UUID]map[uuid.UUID][]uuid.UUID),
		actions: make(map[uuid.UUID][]string),
	}
}

// SetRole records the user's role in a wallet.
func (g *StaticGate) SetRole(walletID, userID uuid.UUID, role string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.roles[walletID] == nil {
		g.roles[walletID] = make(map[uuid.UUID]string)
	}
	g.roles[walletID][userID] = role
}

// AddGroup places the user into a group granting the given actions.
func (g *StaticGate) AddGroup(walletID, userID uuid.UUID, actions ...string) uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	groupID := uuid.New()
	if g.groups[walletID] == nil {
		g.groups[walletID] = make(map[uuid.UUID][]uuid.UUID)
	}
	g.groups[walletID][userID] = append(g.groups[walletID][userID], groupID)
	g.actions[groupID] = actions
	return groupID
}

// IsMember reports whether the user has any role in the wallet.
func (g *StaticGate) IsMember(_ context.Context, walletID, userID uuid.UUID) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roles[walletID][userID] != "", nil
}

// ResolveUserGroups returns the user's group ids in the wallet.
func (g *StaticGate) ResolveUserGroups(_ context.Context, walletID, userID uuid.UUID) ([]uuid.UUID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]uuid.UUID(nil), g.groups[walletID][userID]...), nil
}

// ActionsFor returns the user's allowed action set in the wallet.
func (g *StaticGate) ActionsFor(_ context.Context, walletID, userID uuid.UUID) (map[string]bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	role := g.roles[walletID][userID]
	if role == "owner" || role == "admin" {
		return fullSet(), nil
	}
	actions := make(map[string]bool)
	if role == "" {
		return actions, nil
	}
	for _, groupID := range g.groups[walletID][userID] {
		for _, a := range g.actions[groupID] {
			actions[a] = true
		}
	}
	return actions, nil
}

// Authorize allows or denies one action in the wallet.
func (g *StaticGate) Authorize(ctx context.Context, walletID, userID uuid.UUID, action string) error {
	actions, err := g.ActionsFor(ctx, walletID, userID)
	if err != nil {
		return err
	}
	if !actions[action] {
		return ErrInsufficientPermission
	}
	return nil
}
