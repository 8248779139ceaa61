package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/debitum/internal/models"
	"example.com/debitum/internal/projection"
	"example.com/debitum/internal/search"
)

// NewConsistencyJob builds a job that verifies, per wallet, that the
// projection tables have absorbed the full event log, and rebuilds the
// wallet's projections when they have not. Projections are derived
// caches: a rebuild from the log is always safe.
func NewConsistencyJob(db *gorm.DB, projector *projection.Projector, interval time.Duration) Job {
	return Job{
		Name:     "projection-consistency",
		Interval: interval,
		Run: func(ctx context.Context) error {
			var wallets []models.Wallet
			if err := db.WithContext(ctx).Find(&wallets).Error; err != nil {
				return errors.Wrap(err, "failed to list wallets")
			}
			for _, w := range wallets {
				stale, err := projectionsStale(ctx, db, w)
				if err != nil {
					return err
				}
				if !stale {
					continue
				}
				log.Warn().Str("walletID", w.ID.String()).Msg("Projection lag detected, rebuilding")
				if err := projector.RebuildWallet(ctx, db, w.ID); err != nil {
					return errors.Wrapf(err, "failed to rebuild wallet %s", w.ID)
				}
			}
			return nil
		},
	}
}

// projectionsStale compares the highest sequence the projections have
// absorbed with the highest projectable sequence in the log. Wallet and
// user aggregate events never project, so they are excluded.
func projectionsStale(ctx context.Context, db *gorm.DB, w models.Wallet) (bool, error) {
	var logMax int64
	err := db.WithContext(ctx).
		Model(&models.Event{}).
		Select("COALESCE(MAX(sequence), 0)").
		Where("wallet_id = ? AND aggregate_type IN ?", w.ID, []string{"contact", "transaction"}).
		Scan(&logMax).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to read log high-water mark")
	}
	if logMax == 0 {
		return false, nil
	}

	var contactMax, txnMax int64
	err = db.WithContext(ctx).
		Model(&models.ContactProjection{}).
		Select("COALESCE(MAX(last_sequence), 0)").
		Where("wallet_id = ?", w.ID).
		Scan(&contactMax).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to read contact projection mark")
	}
	err = db.WithContext(ctx).
		Model(&models.TransactionProjection{}).
		Select("COALESCE(MAX(last_sequence), 0)").
		Where("wallet_id = ?", w.ID).
		Scan(&txnMax).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to read transaction projection mark")
	}

	applied := contactMax
	if txnMax > applied {
		applied = txnMax
	}
	return applied < logMax, nil
}

// NewIndexJob builds a job that pushes contact projections touched
// since the previous run into Elasticsearch.
func NewIndexJob(db *gorm.DB, es *search.ElasticClient, interval time.Duration) Job {
	var mu sync.Mutex
	lastRun := time.Time{}

	return Job{
		Name:     "contact-indexing",
		Interval: interval,
		Run: func(ctx context.Context) error {
			mu.Lock()
			since := lastRun
			runStart := time.Now().UTC()
			mu.Unlock()

			var contacts []models.ContactProjection
			if err := db.WithContext(ctx).
				Where("updated_at > ?", since).
				Find(&contacts).Error; err != nil {
				return errors.Wrap(err, "failed to load changed contacts")
			}
			for i := range contacts {
				if err := es.IndexContact(ctx, &contacts[i]); err != nil {
					return err
				}
			}
			if len(contacts) > 0 {
				log.Info().Int("contacts", len(contacts)).Msg("Indexed changed contacts")
			}

			mu.Lock()
			lastRun = runStart
			mu.Unlock()
			return nil
		},
	}
}
