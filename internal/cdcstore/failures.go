package cdcstore

import (
	"context"
	"fmt"
)

// ErrorEntry is one append-only error_log row.
type ErrorEntry struct {
	SourceID   string
	Message    string
	Kind       string
	RetryCount int
}

// LogError appends an error-log row. Never returns an error that should
// abort the caller's loop iteration — logging a failure is itself
// best-effort and never gates control flow.
func (s *Store) LogError(ctx context.Context, e ErrorEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_log (source_id, message, kind, retry_count)
		VALUES (?, ?, ?, ?)
	`, e.SourceID, e.Message, e.Kind, e.RetryCount)
	if err != nil {
		return fmt.Errorf("cdcstore: log error for %s: %w", e.SourceID, err)
	}
	return nil
}

// RecordSendFailure increments sourceID's consecutive send-failure count
// and reports whether it has now reached maxFailures, at which point the
// caller should move the id to permanent failure and stop re-scanning it.
func (s *Store) RecordSendFailure(ctx context.Context, sourceID, lastError string, maxFailures int) (permanentlyFailed bool, err error) {
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO permanent_failures (source_id, cycle_count, last_error)
		VALUES (?, 1, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			cycle_count = cycle_count + 1,
			last_error = excluded.last_error
	`, sourceID, lastError)
	if err != nil {
		return false, fmt.Errorf("cdcstore: record send failure for %s: %w", sourceID, err)
	}

	var count int
	err = s.db.QueryRowContext(ctx, `SELECT cycle_count FROM permanent_failures WHERE source_id = ?`, sourceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("cdcstore: read send failure count for %s: %w", sourceID, err)
	}
	return count >= maxFailures, nil
}

// IsPermanentlyFailed reports whether sourceID has already crossed the
// permanent-failure threshold and should be skipped by the hot-path
// collector entirely.
func (s *Store) IsPermanentlyFailed(ctx context.Context, sourceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM permanent_failures WHERE source_id = ?`, sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("cdcstore: check permanent failure for %s: %w", sourceID, err)
	}
	return n > 0, nil
}

// ClearSendFailures removes sourceID's failure tracking row, called after
// a successful dispatch so a transient run of failures doesn't carry over
// once the id finally sends.
func (s *Store) ClearSendFailures(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM permanent_failures WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("cdcstore: clear send failures for %s: %w", sourceID, err)
	}
	return nil
}
