package eventstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/debitum/internal/event"
	"example.com/debitum/internal/models"
	"example.com/debitum/internal/permission"
	"example.com/debitum/internal/projection"
)

// GormStore implements Store on top of the events table. Sequence
// assignment is serialized per wallet by locking the wallet row for the
// duration of each event's transaction, so concurrent pushes never
// receive the same sequence and never observe a gap.
type GormStore struct {
	db        *gorm.DB
	gate      permission.Gate
	projector *projection.Projector
	notifier  Notifier
}

// NewGormStore creates a store. notifier may be nil.
func NewGormStore(db *gorm.DB, gate permission.Gate, projector *projection.Projector, notifier Notifier) *GormStore {
	return &GormStore{db: db, gate: gate, projector: projector, notifier: notifier}
}

// Push ingests a batch of events. Each event is handled in its own
// transaction: permission check, payload validation, idempotency check,
// then sequence assignment and persistence atomically together with the
// incremental projection update. A rejected event does not block the
// rest of the batch.
func (s *GormStore) Push(ctx context.Context, userID, walletID uuid.UUID, events []event.Event) ([]Result, error) {
	results := make([]Result, 0, len(events))
	var accepted []*event.Event

	for i := range events {
		ev := &events[i]
		ev.WalletID = walletID.String()

		if err := s.gate.Authorize(ctx, walletID, userID, ev.Action()); err != nil {
			if errors.Is(err, permission.ErrInsufficientPermission) {
				results = append(results, Result{ID: ev.ID, Status: StatusRejected, Reason: ReasonPermissionDenied})
				continue
			}
			return nil, err
		}

		if err := ev.Validate(); err != nil {
			log.Warn().Err(err).Str("eventID", ev.ID).Msg("Event validation failed")
			results = append(results, Result{ID: ev.ID, Status: StatusRejected, Reason: ReasonValidationFailed})
			continue
		}

		res, fresh, err := s.ingest(ctx, userID, walletID, ev)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		if fresh {
			accepted = append(accepted, ev)
		}
	}

	if s.notifier != nil {
		for _, ev := range accepted {
			s.notifier.EventAccepted(walletID, ev)
		}
	}
	return results, nil
}

// ingest persists one validated event. fresh is false when the event
// was already in the log (idempotent retry).
func (s *GormStore) ingest(ctx context.Context, userID, walletID uuid.UUID, ev *event.Event) (Result, bool, error) {
	eventID, err := uuid.Parse(ev.ID)
	if err != nil {
		return Result{ID: ev.ID, Status: StatusRejected, Reason: ReasonValidationFailed}, false, nil
	}
	aggregateID, err := uuid.Parse(ev.AggregateID)
	if err != nil {
		return Result{ID: ev.ID, Status: StatusRejected, Reason: ReasonValidationFailed}, false, nil
	}

	fresh := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet models.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&wallet, "id = ?", walletID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errWalletNotFound
			}
			return errors.Wrap(err, "failed to lock wallet")
		}

		// Same submitted id already accepted: safe-retry no-op.
		var count int64
		if err := tx.Model(&models.Event{}).
			Where("wallet_id = ? AND event_id = ?", walletID, eventID).
			Count(&count).Error; err != nil {
			return errors.Wrap(err, "failed to check event existence")
		}
		if count > 0 {
			return nil
		}

		wallet.LastSequence++
		ev.Sequence = wallet.LastSequence
		if err := tx.Model(&models.Wallet{}).
			Where("id = ?", walletID).
			Update("last_sequence", wallet.LastSequence).Error; err != nil {
			return errors.Wrap(err, "failed to advance wallet sequence")
		}

		row := models.Event{
			EventID:       eventID,
			WalletID:      walletID,
			UserID:        userID,
			AggregateType: ev.AggregateType,
			AggregateID:   aggregateID,
			EventType:     ev.EventType,
			Payload:       ev.Payload,
			Version:       ev.Version,
			Sequence:      ev.Sequence,
			CreatedAt:     ev.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "failed to persist event")
		}

		if err := s.projector.Apply(tx, ev); err != nil {
			return errors.Wrap(err, "failed to project event")
		}

		fresh = true
		log.Info().
			Str("eventID", ev.ID).
			Str("aggregate", ev.AggregateType+"/"+ev.AggregateID).
			Str("eventType", ev.EventType).
			Int64("sequence", ev.Sequence).
			Msg("Event accepted")
		return nil
	})
	if err != nil {
		if errors.Is(err, errWalletNotFound) {
			return Result{ID: ev.ID, Status: StatusRejected, Reason: ReasonUnknownWallet}, false, nil
		}
		return Result{}, false, err
	}
	return Result{ID: ev.ID, Status: StatusAccepted}, fresh, nil
}

var errWalletNotFound = errors.New("wallet not found")

// Pull returns up to limit events with sequence > afterSequence in
// ascending sequence order.
func (s *GormStore) Pull(ctx context.Context, walletID uuid.UUID, afterSequence int64, limit int) ([]event.Event, error) {
	var rows []models.Event
	err := s.db.WithContext(ctx).
		Where("wallet_id = ? AND sequence > ?", walletID, afterSequence).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to pull events")
	}
	out := make([]event.Event, len(rows))
	for i, r := range rows {
		out[i] = event.Event{
			ID:            r.EventID.String(),
			WalletID:      r.WalletID.String(),
			AggregateType: r.AggregateType,
			AggregateID:   r.AggregateID.String(),
			EventType:     r.EventType,
			Payload:       r.Payload,
			CreatedAt:     r.CreatedAt,
			Version:       r.Version,
			Sequence:      r.Sequence,
		}
	}
	return out, nil
}

// Hash summarizes the wallet's log for the cheap no-op sync path.
func (s *GormStore) Hash(ctx context.Context, walletID uuid.UUID) (Digest, error) {
	type summary struct {
		MaxSequence int64
		EventCount  int64
	}
	var sum summary
	err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Select("COALESCE(MAX(sequence), 0) AS max_sequence, COUNT(*) AS event_count").
		Where("wallet_id = ?", walletID).
		Scan(&sum).Error
	if err != nil {
		return Digest{}, errors.Wrap(err, "failed to compute wallet digest")
	}
	return Digest{MaxSequence: sum.MaxSequence, EventCount: sum.EventCount}, nil
}
