package projection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/debitum/internal/event"
	"example.com/debitum/internal/models"
)

// Projector maintains the projection tables incrementally. Apply runs
// inside the same transaction that persists the event, so a reader
// never observes an event without its projection effect.
type Projector struct{}

// NewProjector creates a projector.
func NewProjector() *Projector {
	return &Projector{}
}

// Apply folds one accepted event into the projection tables using tx.
// Semantics mirror State.Apply: partial updates, absorbing tombstones,
// cascade delete from contact to its transactions, balance recompute.
func (p *Projector) Apply(tx *gorm.DB, ev *event.Event) error {
	switch ev.AggregateType {
	case event.AggregateContact:
		return p.applyContact(tx, ev)
	case event.AggregateTransaction:
		return p.applyTransaction(tx, ev)
	default:
		return nil
	}
}

func (p *Projector) applyContact(tx *gorm.DB, ev *event.Event) error {
	decoded, err := event.DecodePayload(ev.AggregateType, ev.EventType, ev.Payload)
	if err != nil {
		return err
	}
	aggregateID, err := uuid.Parse(ev.AggregateID)
	if err != nil {
		return errors.Wrap(err, "invalid aggregate id")
	}
	walletID, err := uuid.Parse(ev.WalletID)
	if err != nil {
		return errors.Wrap(err, "invalid wallet id")
	}

	var row models.ContactProjection
	found := true
	if err := tx.Where("id = ? AND wallet_id = ?", aggregateID, walletID).First(&row).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "failed to load contact projection")
		}
		found = false
	}
	if found && row.IsDeleted {
		return nil
	}

	switch ev.EventType {
	case event.TypeCreated:
		if found {
			return nil
		}
		pl := decoded.(*event.ContactPayload)
		row = models.ContactProjection{
			ID:           aggregateID,
			WalletID:     walletID,
			Username:     pl.Username,
			Phone:        pl.Phone,
			Email:        pl.Email,
			Notes:        pl.Notes,
			LastSequence: ev.Sequence,
			CreatedAt:    ev.CreatedAt,
			UpdatedAt:    ev.CreatedAt,
		}
		if pl.Name != nil {
			row.Name = *pl.Name
		}
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "failed to create contact projection")
		}
	case event.TypeUpdated:
		if !found {
			return nil
		}
		pl := decoded.(*event.ContactPayload)
		if pl.Name != nil {
			row.Name = *pl.Name
		}
		if pl.Username != nil {
			row.Username = pl.Username
		}
		if pl.Phone != nil {
			row.Phone = pl.Phone
		}
		if pl.Email != nil {
			row.Email = pl.Email
		}
		if pl.Notes != nil {
			row.Notes = pl.Notes
		}
		row.LastSequence = ev.Sequence
		row.UpdatedAt = ev.CreatedAt
		if err := tx.Save(&row).Error; err != nil {
			return errors.Wrap(err, "failed to update contact projection")
		}
	case event.TypeDeleted:
		if !found {
			return nil
		}
		if err := tx.Model(&models.ContactProjection{}).
			Where("id = ? AND wallet_id = ?", aggregateID, walletID).
			Updates(map[string]interface{}{
				"is_deleted":    true,
				"balance":       0,
				"last_sequence": ev.Sequence,
				"updated_at":    ev.CreatedAt,
			}).Error; err != nil {
			return errors.Wrap(err, "failed to tombstone contact projection")
		}
		res := tx.Model(&models.TransactionProjection{}).
			Where("contact_id = ? AND wallet_id = ? AND is_deleted = ?", aggregateID, walletID, false).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"updated_at": ev.CreatedAt,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to tombstone contact transactions")
		}
		if res.RowsAffected > 0 {
			log.Info().
				Str("contactID", ev.AggregateID).
				Int64("transactions", res.RowsAffected).
				Msg("Tombstoned transactions of deleted contact")
		}
		return nil
	}
	return p.rebalance(tx, walletID, aggregateID)
}

func (p *Projector) applyTransaction(tx *gorm.DB, ev *event.Event) error {
	decoded, err := event.DecodePayload(ev.AggregateType, ev.EventType, ev.Payload)
	if err != nil {
		return err
	}
	aggregateID, err := uuid.Parse(ev.AggregateID)
	if err != nil {
		return errors.Wrap(err, "invalid aggregate id")
	}
	walletID, err := uuid.Parse(ev.WalletID)
	if err != nil {
		return errors.Wrap(err, "invalid wallet id")
	}

	var row models.TransactionProjection
	found := true
	if err := tx.Where("id = ? AND wallet_id = ?", aggregateID, walletID).First(&row).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "failed to load transaction projection")
		}
		found = false
	}
	if found && row.IsDeleted {
		return nil
	}

	var contactID uuid.UUID
	switch ev.EventType {
	case event.TypeCreated:
		if found {
			return nil
		}
		pl := decoded.(*event.TransactionPayload)
		row = models.TransactionProjection{
			ID:           aggregateID,
			WalletID:     walletID,
			Currency:     "IQD",
			Description:  pl.Description,
			LastSequence: ev.Sequence,
			CreatedAt:    ev.CreatedAt,
			UpdatedAt:    ev.CreatedAt,
		}
		if pl.ContactID != nil {
			cid, err := uuid.Parse(*pl.ContactID)
			if err != nil {
				return errors.Wrap(err, "invalid contact id in payload")
			}
			row.ContactID = cid
		}
		if pl.Direction != nil {
			row.Direction = *pl.Direction
		}
		if pl.Amount != nil {
			row.Amount = *pl.Amount
		}
		if pl.Currency != nil {
			row.Currency = *pl.Currency
		}
		if pl.Date != nil {
			if d, err := time.Parse("2006-01-02", *pl.Date); err == nil {
				row.Date = &d
			}
		}
		if pl.DueDate != nil {
			if d, err := time.Parse("2006-01-02", *pl.DueDate); err == nil {
				row.DueDate = &d
			}
		}
		var contact models.ContactProjection
		if err := tx.Where("id = ? AND wallet_id = ?", row.ContactID, walletID).First(&contact).Error; err == nil {
			if contact.IsDeleted {
				row.IsDeleted = true
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "failed to check contact for transaction")
		}
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "failed to create transaction projection")
		}
		contactID = row.ContactID
	case event.TypeUpdated:
		if !found {
			return nil
		}
		pl := decoded.(*event.TransactionPayload)
		previous := row.ContactID
		if pl.ContactID != nil {
			cid, err := uuid.Parse(*pl.ContactID)
			if err != nil {
				return errors.Wrap(err, "invalid contact id in payload")
			}
			row.ContactID = cid
		}
		if pl.Direction != nil {
			row.Direction = *pl.Direction
		}
		if pl.Amount != nil {
			row.Amount = *pl.Amount
		}
		if pl.Currency != nil {
			row.Currency = *pl.Currency
		}
		if pl.Description != nil {
			row.Description = pl.Description
		}
		if pl.Date != nil {
			if d, err := time.Parse("2006-01-02", *pl.Date); err == nil {
				row.Date = &d
			}
		}
		if pl.DueDate != nil {
			if d, err := time.Parse("2006-01-02", *pl.DueDate); err == nil {
				row.DueDate = &d
			}
		}
		row.LastSequence = ev.Sequence
		row.UpdatedAt = ev.CreatedAt
		if err := tx.Save(&row).Error; err != nil {
			return errors.Wrap(err, "failed to update transaction projection")
		}
		contactID = row.ContactID
		// A move between contacts changes both balances.
		if previous != uuid.Nil && previous != row.ContactID {
			if err := p.rebalance(tx, walletID, previous); err != nil {
				return err
			}
		}
	case event.TypeDeleted:
		if !found {
			return nil
		}
		if err := tx.Model(&models.TransactionProjection{}).
			Where("id = ? AND wallet_id = ?", aggregateID, walletID).
			Updates(map[string]interface{}{
				"is_deleted":    true,
				"last_sequence": ev.Sequence,
				"updated_at":    ev.CreatedAt,
			}).Error; err != nil {
			return errors.Wrap(err, "failed to tombstone transaction projection")
		}
		contactID = row.ContactID
	}
	if contactID != uuid.Nil {
		return p.rebalance(tx, walletID, contactID)
	}
	return nil
}

// rebalance recomputes one contact's balance from its live transactions.
func (p *Projector) rebalance(tx *gorm.DB, walletID, contactID uuid.UUID) error {
	var balance int64
	err := tx.Model(&models.TransactionProjection{}).
		Select("COALESCE(SUM(CASE WHEN direction = 'lent' THEN amount ELSE -amount END), 0)").
		Where("contact_id = ? AND wallet_id = ? AND is_deleted = ?", contactID, walletID, false).
		Scan(&balance).Error
	if err != nil {
		return errors.Wrap(err, "failed to compute contact balance")
	}
	err = tx.Model(&models.ContactProjection{}).
		Where("id = ? AND wallet_id = ? AND is_deleted = ?", contactID, walletID, false).
		Update("balance", balance).Error
	if err != nil {
		return errors.Wrap(err, "failed to store contact balance")
	}
	return nil
}

// RebuildWallet replays the wallet's full event log through the pure
// fold and replaces the projection rows with the result. Projections
// are derived caches, so the correct recovery from any inconsistency is
// a full replay, never a partial patch.
func (p *Projector) RebuildWallet(ctx context.Context, db *gorm.DB, walletID uuid.UUID) error {
	var rows []models.Event
	if err := db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return errors.Wrap(err, "failed to load wallet events")
	}

	events := make([]event.Event, len(rows))
	for i, r := range rows {
		events[i] = event.Event{
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

	state, err := Fold(events)
	if err != nil {
		return errors.Wrap(err, "failed to fold wallet events")
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("wallet_id = ?", walletID).Delete(&models.TransactionProjection{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear transaction projections")
		}
		if err := tx.Where("wallet_id = ?", walletID).Delete(&models.ContactProjection{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear contact projections")
		}
		for _, c := range state.Contacts {
			id, err := uuid.Parse(c.ID)
			if err != nil {
				return errors.Wrap(err, "invalid contact id in fold state")
			}
			row := models.ContactProjection{
				ID:        id,
				WalletID:  walletID,
				Name:      c.Name,
				Username:  c.Username,
				Phone:     c.Phone,
				Email:     c.Email,
				Notes:     c.Notes,
				Balance:   c.Balance,
				IsDeleted: c.Deleted,
				CreatedAt: c.CreatedAt,
				UpdatedAt: c.UpdatedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return errors.Wrap(err, "failed to write contact projection")
			}
		}
		for _, t := range state.Transactions {
			id, err := uuid.Parse(t.ID)
			if err != nil {
				return errors.Wrap(err, "invalid transaction id in fold state")
			}
			cid, err := uuid.Parse(t.ContactID)
			if err != nil {
				return errors.Wrap(err, "invalid contact id in fold state")
			}
			row := models.TransactionProjection{
				ID:          id,
				WalletID:    walletID,
				ContactID:   cid,
				Direction:   t.Direction,
				Amount:      t.Amount,
				Currency:    t.Currency,
				Description: t.Description,
				IsDeleted:   t.Deleted,
				CreatedAt:   t.CreatedAt,
				UpdatedAt:   t.UpdatedAt,
			}
			if t.Date != nil {
				if d, err := time.Parse("2006-01-02", *t.Date); err == nil {
					row.Date = &d
				}
			}
			if t.DueDate != nil {
				if d, err := time.Parse("2006-01-02", *t.DueDate); err == nil {
					row.DueDate = &d
				}
			}
			if err := tx.Create(&row).Error; err != nil {
				return errors.Wrap(err, "failed to write transaction projection")
			}
		}
		log.Info().
			Str("walletID", walletID.String()).
			Int("contacts", len(state.Contacts)).
			Int("transactions", len(state.Transactions)).
			Msg("Projections rebuilt")
		return nil
	})
}
