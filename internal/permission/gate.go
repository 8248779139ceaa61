// Package permission resolves a user's allowed actions inside a wallet.
// Owner and admin roles carry the full action set; members get the
// union of the actions granted by their groups. A member with no
// groups and no elevated role is denied everything, including read.
package permission

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrInsufficientPermission is returned by Authorize with the wire code
// clients match on when deciding to drop denied local events.
var ErrInsufficientPermission = errors.New("DEBITUM_INSUFFICIENT_WALLET_PERMISSION")

// FullActionSet is what owner/admin roles resolve to.
var FullActionSet = []string{
	"contact:create", "contact:read", "contact:update", "contact:delete",
	"transaction:create", "transaction:read", "transaction:update", "transaction:delete",
	"wallet:read", "wallet:update",
}

// Gate answers permission questions for a wallet.
type Gate interface {
	// ResolveUserGroups returns the ids of the user's groups in the wallet.
	ResolveUserGroups(ctx context.Context, walletID, userID uuid.UUID) ([]uuid.UUID, error)

	// ActionsFor returns the user's allowed action set in the wallet.
	ActionsFor(ctx context.Context, walletID, userID uuid.UUID) (map[string]bool, error)

	// Authorize returns nil when the user may perform action in the
	// wallet, ErrInsufficientPermission otherwise.
	Authorize(ctx context.Context, walletID, userID uuid.UUID, action string) error

	// IsMember reports whether the user belongs to the wallet at all.
	IsMember(ctx context.Context, walletID, userID uuid.UUID) (bool, error)
}

func fullSet() map[string]bool {
	m := make(map[string]bool, len(FullActionSet))
	for _, a := range FullActionSet {
		m[a] = true
	}
	return m
}
