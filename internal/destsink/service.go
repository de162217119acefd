// Package destsink owns every destination table written by the inbound
// ingestor, the alert evaluator, and the recommendation engine: it is
// the one sqlite-backed repository shared across those three
// components.
package destsink

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Sink is the shared repository handle.
type Sink struct {
	db *sql.DB
}

// Open creates/reuses a sqlite file at path and applies the schema.
func Open(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("destsink: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("destsink: apply schema: %w", err)
	}
	return &Sink{db: db}, nil
}

// Close releases the database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Sink) DB() *sql.DB {
	return s.db
}
