package client

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"example.com/debitum/internal/event"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal (
	id             TEXT PRIMARY KEY,
	wallet_id      TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        BLOB,
	created_at     TEXT NOT NULL,
	version        INTEGER NOT NULL,
	sequence       INTEGER NOT NULL DEFAULT 0,
	synced         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_journal_synced ON journal(synced);
CREATE INDEX IF NOT EXISTS idx_journal_sequence ON journal(sequence);
`

// SQLiteJournal is the durable on-device Journal.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLiteJournal opens (and migrates) a journal at path. Use
// ":memory:" for an ephemeral journal.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal database")
	}
	// modernc sqlite serializes at the driver level; a single conn avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate journal schema")
	}
	return &SQLiteJournal{db: db}, nil
}

// Close releases the underlying database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Append records a local event.
func (j *SQLiteJournal) Append(ctx context.Context, ev *event.Event) error {
	if ev.ID == "" {
		ev.ID = event.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Version == 0 {
		latest, err := j.LatestVersion(ctx, ev.AggregateType, ev.AggregateID)
		if err != nil {
			return err
		}
		ev.Version = latest + 1
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal (id, wallet_id, aggregate_type, aggregate_id, event_type, payload, created_at, version, sequence, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.WalletID, ev.AggregateType, ev.AggregateID, ev.EventType,
		[]byte(ev.Payload), ev.CreatedAt.Format(time.RFC3339Nano), ev.Version)
	return errors.Wrap(err, "failed to append event")
}

// Merge records a server event, updating sequence and synced in place
// when the id is already present.
func (j *SQLiteJournal) Merge(ctx context.Context, ev *event.Event) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal (id, wallet_id, aggregate_type, aggregate_id, event_type, payload, created_at, version, sequence, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET sequence = excluded.sequence, synced = 1`,
		ev.ID, ev.WalletID, ev.AggregateType, ev.AggregateID, ev.EventType,
		[]byte(ev.Payload), ev.CreatedAt.Format(time.RFC3339Nano), ev.Version, ev.Sequence)
	return errors.Wrap(err, "failed to merge event")
}

// LatestVersion returns the aggregate's highest recorded version.
func (j *SQLiteJournal) LatestVersion(ctx context.Context, aggregateType, aggregateID string) (int, error) {
	var latest sql.NullInt64
	err := j.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM journal WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggregateType, aggregateID).Scan(&latest)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read aggregate version")
	}
	return int(latest.Int64), nil
}

// UnsyncedEvents returns local events pending push, in append order.
func (j *SQLiteJournal) UnsyncedEvents(ctx context.Context) ([]event.Event, error) {
	return j.query(ctx, `SELECT id, wallet_id, aggregate_type, aggregate_id, event_type, payload, created_at, version, sequence, synced
		FROM journal WHERE synced = 0 ORDER BY rowid ASC`)
}

// MarkSynced flags one event as accepted.
func (j *SQLiteJournal) MarkSynced(ctx context.Context, id string, sequence int64) error {
	_, err := j.db.ExecContext(ctx, `UPDATE journal SET synced = 1, sequence = ? WHERE id = ?`, sequence, id)
	return errors.Wrap(err, "failed to mark event synced")
}

// Remove drops entries by id.
func (j *SQLiteJournal) Remove(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := j.db.ExecContext(ctx, `DELETE FROM journal WHERE id = ?`, id); err != nil {
			return errors.Wrap(err, "failed to remove event")
		}
	}
	return nil
}

// AllEvents returns every journal entry in append order. Versions are
// per aggregate, so only rowid reflects the journal's append order.
func (j *SQLiteJournal) AllEvents(ctx context.Context) ([]event.Event, error) {
	return j.query(ctx, `SELECT id, wallet_id, aggregate_type, aggregate_id, event_type, payload, created_at, version, sequence, synced
		FROM journal ORDER BY rowid ASC`)
}

// MaxSequence returns the pull cursor.
func (j *SQLiteJournal) MaxSequence(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := j.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM journal`).Scan(&max)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read pull cursor")
	}
	return max.Int64, nil
}

// Clear drops every entry.
func (j *SQLiteJournal) Clear(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM journal`)
	return errors.Wrap(err, "failed to clear journal")
}

func (j *SQLiteJournal) query(ctx context.Context, q string, args ...interface{}) ([]event.Event, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query journal")
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var payload []byte
		var createdAt string
		var synced int
		if err := rows.Scan(&ev.ID, &ev.WalletID, &ev.AggregateType, &ev.AggregateID,
			&ev.EventType, &payload, &createdAt, &ev.Version, &ev.Sequence, &synced); err != nil {
			return nil, errors.Wrap(err, "failed to scan journal row")
		}
		ev.Payload = payload
		ev.Synced = synced == 1
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to parse event timestamp")
		}
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate journal rows")
}
