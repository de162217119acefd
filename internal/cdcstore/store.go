// Package cdcstore is the persistent idempotency set the CDC loop and
// backfill engine share: which source ids have already been dispatched,
// the per-mode last-processed watermark, and the error/permanent-failure
// side tables that back the loop's retry bookkeeping.
package cdcstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is backed by a single SQLite file with a single-connection-per-
// process discipline: the CDC loop is the only writer, so no connection
// pooling is needed.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite file at path, applies the schema,
// and returns a ready Store. Safe to call against an existing database;
// every statement in schema is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cdcstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cdcstore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Contains reports whether sourceID has already been marked processed.
func (s *Store) Contains(ctx context.Context, sourceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed_ids WHERE source_id = ?`, sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("cdcstore: contains %s: %w", sourceID, err)
	}
	return n > 0, nil
}

// ProcessedIDsSince returns every source id marked processed whose
// fragment_time is at or after since, for callers that need to exclude
// already-dispatched ids from a candidate query against a different
// database than this store's.
func (s *Store) ProcessedIDsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id FROM processed_ids WHERE fragment_time >= ?`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("cdcstore: processed ids since %s: %w", since, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("cdcstore: scan processed id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Mark records sourceID as dispatched. Idempotent: a second call with the
// same id is a no-op.
func (s *Store) Mark(ctx context.Context, sourceID, dispatchToken string, fragmentTime time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_ids (source_id, dispatch_time, outbound_receipt_token, fragment_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_id) DO NOTHING
	`, sourceID, nowUTC(), dispatchToken, fragmentTime.UTC())
	if err != nil {
		return fmt.Errorf("cdcstore: mark %s: %w", sourceID, err)
	}
	return nil
}

// Prune deletes processed-id rows whose underlying fragment is older
// than before. The core never depends on this for correctness — only an
// external retention job should call it.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_ids WHERE fragment_time < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("cdcstore: prune: %w", err)
	}
	return res.RowsAffected()
}

// ModeStatus is the per-mode CDC watermark row.
type ModeStatus struct {
	ModeKey                string
	LastProcessedTimestamp time.Time
	TotalProcessed         int64
	Enabled                bool
}

// GetModeStatus fetches the status row for modeKey, creating a zero-value
// enabled row on first use (a mode with no prior watermark starts from
// the zero time, meaning "process everything the hot-path window covers").
func (s *Store) GetModeStatus(ctx context.Context, modeKey string) (ModeStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mode_key, last_processed_timestamp, total_processed, enabled_flag
		FROM cdc_mode_status WHERE mode_key = ?
	`, modeKey)

	var st ModeStatus
	var ts sql.NullTime
	err := row.Scan(&st.ModeKey, &ts, &st.TotalProcessed, &st.Enabled)
	if err == sql.ErrNoRows {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cdc_mode_status (mode_key, last_processed_timestamp, total_processed, enabled_flag)
			VALUES (?, NULL, 0, 1)
		`, modeKey)
		if err != nil {
			return ModeStatus{}, fmt.Errorf("cdcstore: init mode status %s: %w", modeKey, err)
		}
		return ModeStatus{ModeKey: modeKey, Enabled: true}, nil
	}
	if err != nil {
		return ModeStatus{}, fmt.Errorf("cdcstore: get mode status %s: %w", modeKey, err)
	}
	if ts.Valid {
		st.LastProcessedTimestamp = ts.Time
	}
	return st, nil
}

// AdvanceModeStatus updates the watermark and increments the processed
// counter by delta. The CDC loop and the backfill engine do not call it,
// so nothing in the pipeline moves the watermark.
func (s *Store) AdvanceModeStatus(ctx context.Context, modeKey string, newTimestamp time.Time, delta int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cdc_mode_status
		SET last_processed_timestamp = ?, total_processed = total_processed + ?
		WHERE mode_key = ?
	`, newTimestamp.UTC(), delta, modeKey)
	if err != nil {
		return fmt.Errorf("cdcstore: advance mode status %s: %w", modeKey, err)
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
