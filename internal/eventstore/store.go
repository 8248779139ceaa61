// Package eventstore holds the canonical wallet event log. The server
// store is the single source of truth: it gates, validates, orders and
// persists pushed events, and serves ordered pages for pull-based
// reconciliation.
package eventstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"example.com/debitum/internal/event"
)

// Per-event push outcomes.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Rejection reasons.
const (
	ReasonValidationFailed = "validation_failed"
	ReasonPermissionDenied = "DEBITUM_INSUFFICIENT_WALLET_PERMISSION"
	ReasonUnknownWallet    = "unknown_wallet"
)

// Result is the per-event outcome of a push. A rejected event never
// affects the other events in the same batch.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Digest summarizes a wallet's log as (max sequence, event count). Two
// stores that have merged the identical event set produce equal digests.
type Digest struct {
	MaxSequence int64 `json:"sequence"`
	EventCount  int64 `json:"count"`
}

// Hash returns a stable hex digest of the summary, cheap to compare.
func (d Digest) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", d.MaxSequence, d.EventCount)))
	return hex.EncodeToString(sum[:])
}

// Store is the server-side event log.
type Store interface {
	// Push ingests a batch. Events are processed independently; the
	// returned slice has one Result per input event, in input order.
	Push(ctx context.Context, userID, walletID uuid.UUID, events []event.Event) ([]Result, error)

	// Pull returns events with sequence > afterSequence, ascending,
	// at most limit.
	Pull(ctx context.Context, walletID uuid.UUID, afterSequence int64, limit int) ([]event.Event, error)

	// Hash returns the wallet's digest.
	Hash(ctx context.Context, walletID uuid.UUID) (Digest, error)
}

// Notifier observes accepted events after they are durably committed.
// Implementations must not block: delivery is best-effort and
// correctness never depends on it.
type Notifier interface {
	EventAccepted(walletID uuid.UUID, ev *event.Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(walletID uuid.UUID, ev *event.Event)

// EventAccepted calls f.
func (f NotifierFunc) EventAccepted(walletID uuid.UUID, ev *event.Event) { f(walletID, ev) }
