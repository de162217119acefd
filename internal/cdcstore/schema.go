package cdcstore

// schema is applied in full on every open; every statement is
// idempotent (CREATE ... IF NOT EXISTS) so re-running it against an
// existing database is always safe.
const schema = `
CREATE TABLE IF NOT EXISTS processed_ids (
	source_id TEXT PRIMARY KEY,
	dispatch_time DATETIME NOT NULL,
	outbound_receipt_token TEXT NOT NULL,
	fragment_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_processed_ids_dispatch_time ON processed_ids(dispatch_time);

CREATE TABLE IF NOT EXISTS cdc_mode_status (
	mode_key TEXT PRIMARY KEY,
	last_processed_timestamp DATETIME,
	total_processed INTEGER NOT NULL DEFAULT 0,
	enabled_flag BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS error_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id TEXT,
	message TEXT NOT NULL,
	kind TEXT NOT NULL,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	retry_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_error_log_kind ON error_log(kind);

CREATE TABLE IF NOT EXISTS permanent_failures (
	source_id TEXT PRIMARY KEY,
	first_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	cycle_count INTEGER NOT NULL DEFAULT 1,
	last_error TEXT
);
`
