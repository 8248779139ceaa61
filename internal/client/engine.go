package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/debitum/internal/event"
	"example.com/debitum/internal/eventstore"
	"example.com/debitum/internal/projection"
)

// Sync outcome statuses.
const (
	SyncCompleted = "completed"
	SyncSkipped   = "skipped"
	SyncFailed    = "failed"
)

// SyncStats describes what one completed sync did.
type SyncStats struct {
	Pushed     int  `json:"pushed"`
	Accepted   int  `json:"accepted"`
	Rejected   int  `json:"rejected"`
	Pulled     int  `json:"pulled"`
	FullResync bool `json:"full_resync"`
	NoOp       bool `json:"no_op"`
}

// Outcome is the result of a sync attempt. Exactly one of Stats (on
// completed) and Err (on failed) is meaningful; Reason explains a skip.
type Outcome struct {
	Status string    `json:"status"`
	Stats  SyncStats `json:"stats"`
	Reason string    `json:"reason,omitempty"`
	Err    error     `json:"-"`
}

const defaultPageSize = 100

// Engine reconciles the local journal with the server store for one
// wallet. Writes land in the journal immediately and are visible in the
// local projection before any network traffic; syncs push the unsynced
// tail, pull the server's ordered log from the local cursor, and
// rebuild the projection from the merged journal.
type Engine struct {
	api      ServerAPI
	journal  Journal
	walletID uuid.UUID
	backoff  *Backoff
	pageSize int

	// running enforces single-flight: a sync attempted while another is
	// in progress is skipped, never queued.
	running sync.Mutex

	mu          sync.Mutex
	state       *projection.State
	lastDigest  *eventstore.Digest
	lastActions []string
}

// NewEngine creates a sync engine for walletID.
func NewEngine(api ServerAPI, journal Journal, walletID uuid.UUID) *Engine {
	return &Engine{
		api:      api,
		journal:  journal,
		walletID: walletID,
		backoff:  NewBackoff(nil),
		pageSize: defaultPageSize,
		state:    projection.NewState(),
	}
}

// SetPageSize overrides the pull page size.
func (e *Engine) SetPageSize(n int) {
	if n > 0 {
		e.pageSize = n
	}
}

// Backoff exposes the failure backoff, mainly for schedulers that want
// to report the remaining wait.
func (e *Engine) Backoff() *Backoff { return e.backoff }

// Record appends a locally produced event and folds it into the local
// projection immediately. The event syncs on the next push.
func (e *Engine) Record(ctx context.Context, ev *event.Event) error {
	ev.WalletID = e.walletID.String()
	if ev.ID == "" {
		ev.ID = event.NewID()
	}
	if err := ev.Validate(); err != nil {
		return errors.Wrap(err, "invalid event")
	}
	if err := e.journal.Append(ctx, ev); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Apply(ev)
}

// State returns the current local projection. The returned state is
// replaced wholesale on rebuilds, never mutated concurrently.
func (e *Engine) State() *projection.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ManualSync runs one sync attempt. It never blocks behind another
// sync: if one is already running, or the failure backoff window is
// still open, the attempt is reported as skipped.
func (e *Engine) ManualSync(ctx context.Context) Outcome {
	if !e.running.TryLock() {
		return Outcome{Status: SyncSkipped, Reason: "sync already in progress"}
	}
	defer e.running.Unlock()

	if !e.backoff.CanAttempt() {
		return Outcome{Status: SyncSkipped, Reason: "backing off after failures"}
	}

	stats, err := e.sync(ctx)
	if err != nil {
		delay := e.backoff.OnFailure()
		log.Warn().Err(err).
			Str("walletID", e.walletID.String()).
			Dur("retryIn", delay).
			Msg("Sync failed")
		return Outcome{Status: SyncFailed, Err: err}
	}
	e.backoff.Reset()
	return Outcome{Status: SyncCompleted, Stats: stats}
}

func (e *Engine) sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	resync, err := e.checkPermissions(ctx)
	if err != nil {
		return stats, err
	}
	if resync {
		log.Info().Str("walletID", e.walletID.String()).Msg("Permission set changed, forcing full resync")
		if err := e.journal.Clear(ctx); err != nil {
			return stats, err
		}
		e.mu.Lock()
		e.lastDigest = nil
		e.mu.Unlock()
		stats.FullResync = true
	}

	unsynced, err := e.journal.UnsyncedEvents(ctx)
	if err != nil {
		return stats, err
	}

	// Nothing local to push and the server log unchanged since the last
	// sync: the digest comparison makes this a single cheap request.
	if len(unsynced) == 0 {
		digest, err := e.api.Hash(ctx, e.walletID)
		if err != nil {
			return stats, err
		}
		e.mu.Lock()
		unchanged := e.lastDigest != nil && *e.lastDigest == digest
		e.mu.Unlock()
		if unchanged {
			stats.NoOp = true
			return stats, nil
		}
	}

	if len(unsynced) > 0 {
		pushStats, err := e.push(ctx, unsynced)
		if err != nil {
			return stats, err
		}
		stats.Pushed = pushStats.Pushed
		stats.Accepted = pushStats.Accepted
		stats.Rejected = pushStats.Rejected
	}

	pulled, err := e.pull(ctx)
	if err != nil {
		return stats, err
	}
	stats.Pulled = pulled

	if err := e.rebuild(ctx); err != nil {
		return stats, err
	}

	digest, err := e.api.Hash(ctx, e.walletID)
	if err != nil {
		return stats, err
	}
	e.mu.Lock()
	e.lastDigest = &digest
	e.mu.Unlock()

	log.Info().
		Str("walletID", e.walletID.String()).
		Int("pushed", stats.Pushed).
		Int("pulled", stats.Pulled).
		Bool("fullResync", stats.FullResync).
		Msg("Sync completed")
	return stats, nil
}

// checkPermissions fetches the caller's action set and reports whether
// it differs from the last observed one. A changed set means the events
// this device may read have changed, so the local log can no longer be
// trusted to be a prefix of what the server would serve now.
func (e *Engine) checkPermissions(ctx context.Context) (bool, error) {
	actions, err := e.api.Actions(ctx, e.walletID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := e.lastActions != nil && !equalStrings(e.lastActions, actions)
	e.lastActions = actions
	return changed, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// push submits the unsynced tail. Accepted events are marked synced one
// by one, so a failure mid-batch never re-creates work the server has
// already taken. Rejected events are removed: a permission or
// validation rejection is permanent and retrying would fail forever.
func (e *Engine) push(ctx context.Context, unsynced []event.Event) (SyncStats, error) {
	stats := SyncStats{Pushed: len(unsynced)}
	results, err := e.api.Push(ctx, e.walletID, unsynced)
	if err != nil {
		// Network failure: the journal keeps its unsynced tail untouched
		// and the next sync retries the same batch.
		return stats, errors.Wrap(err, "push failed")
	}

	var rejected []string
	for _, res := range results {
		switch res.Status {
		case eventstore.StatusAccepted:
			stats.Accepted++
			if err := e.journal.MarkSynced(ctx, res.ID, 0); err != nil {
				return stats, err
			}
		case eventstore.StatusRejected:
			stats.Rejected++
			rejected = append(rejected, res.ID)
			log.Warn().
				Str("eventID", res.ID).
				Str("reason", res.Reason).
				Msg("Server rejected event, dropping from journal")
		}
	}
	if len(rejected) > 0 {
		if err := e.journal.Remove(ctx, rejected); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// pull pages through the server log from the local cursor until a
// short page signals the end. Every page is merged before the next is
// requested, so an interrupted pull leaves the cursor advanced past
// everything already merged.
func (e *Engine) pull(ctx context.Context) (int, error) {
	cursor, err := e.journal.MaxSequence(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for {
		page, err := e.api.Pull(ctx, e.walletID, cursor, e.pageSize)
		if err != nil {
			return total, errors.Wrap(err, "pull failed")
		}
		for i := range page {
			if err := e.journal.Merge(ctx, &page[i]); err != nil {
				return total, err
			}
			cursor = page[i].Sequence
		}
		total += len(page)
		if len(page) < e.pageSize {
			return total, nil
		}
	}
}

// rebuild folds the full journal into a fresh projection and swaps it
// in. Replaying from scratch keeps the local view a pure function of
// the journal regardless of merge order.
func (e *Engine) rebuild(ctx context.Context) error {
	events, err := e.journal.AllEvents(ctx)
	if err != nil {
		return err
	}
	projection.SortForReplay(events)
	state, err := projection.Fold(events)
	if err != nil {
		return errors.Wrap(err, "failed to rebuild local projection")
	}
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	return nil
}
