// Package errlog is the append-only error-log writer used across the CDC
// pipeline. It is a thin, domain-named wrapper over cdcstore's error_log
// table so that callers in internal/dispatch, internal/cdcloop,
// internal/backfill and internal/ingest depend on a narrow interface and a typed Kind vocabulary rather than the whole
// cdcstore.Store surface.
package errlog

import (
	"context"

	"github.com/scalytics/cdcbridge/internal/cdcstore"
)

// Kind enumerates the error kinds the core distinguishes.
type Kind string

const (
	KindDispatchSendFailed Kind = "DISPATCH_SEND_FAILED" // formerly SQS_SEND_FAILED; renamed for the Kafka transport
	KindAssemblyRejected   Kind = "ASSEMBLY_REJECTED"
	KindResultParseError   Kind = "RESULT_PARSE_ERROR"
	KindPersistenceError   Kind = "PERSISTENCE_ERROR"
	KindConfigApplyError   Kind = "CONFIG_APPLY_ERROR"
)

// Entry is one error-log row.
type Entry struct {
	SourceID   string
	Message    string
	Kind       Kind
	RetryCount int
}

// Writer appends error-log rows. Implemented by *cdcstore.Store.
type Writer interface {
	LogError(ctx context.Context, e cdcstore.ErrorEntry) error
}

// Log wraps a Writer with the errlog.Kind vocabulary.
type Log struct {
	w Writer
}

// New wraps store (typically a *cdcstore.Store) as a Log.
func New(store Writer) *Log {
	return &Log{w: store}
}

// Append records one error-log entry. Logging failures are themselves
// best-effort: the caller's control flow never depends on this returning
// nil — these kinds are never treated as fatal.
func (l *Log) Append(ctx context.Context, e Entry) error {
	return l.w.LogError(ctx, cdcstore.ErrorEntry{
		SourceID:   e.SourceID,
		Message:    e.Message,
		Kind:       string(e.Kind),
		RetryCount: e.RetryCount,
	})
}
