package destsink

// schema covers every table destsink owns: the three result-ingestion
// destinations, alert configuration/history, and recommendations plus
// evaluation history. One file, one embedded schema string, applied
// with CREATE TABLE IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS dicta_call_summary (
	source_id TEXT PRIMARY KEY,
	summary TEXT,
	sentiment INTEGER NOT NULL,
	classification_primary TEXT NOT NULL,
	classifications TEXT,
	confidence REAL,
	processing_time INTEGER,
	model_version TEXT,
	products TEXT,
	action_items TEXT,
	unresolved_issues TEXT,
	customer_satisfaction INTEGER NOT NULL DEFAULT 3,
	churn_score INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_summary (
	destination_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	summary TEXT,
	sentiment INTEGER NOT NULL,
	classification_primary TEXT NOT NULL,
	confidence REAL,
	customer_satisfaction INTEGER NOT NULL DEFAULT 3,
	churn_score INTEGER NOT NULL DEFAULT 0,
	account_key TEXT,
	subscriber_key TEXT,
	conversation_time DATETIME,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (destination_type, source_id)
);

CREATE TABLE IF NOT EXISTS conversation_category (
	destination_type TEXT NOT NULL,
	source_id TEXT NOT NULL,
	category_label TEXT NOT NULL,
	PRIMARY KEY (destination_type, source_id, category_label)
);

CREATE TABLE IF NOT EXISTS alert_configs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	metric_source TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	operator TEXT NOT NULL,
	threshold REAL NOT NULL,
	window_hours INTEGER NOT NULL,
	product_filter TEXT,
	sentiment_filter TEXT,
	severity TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS alert_history (
	id TEXT PRIMARY KEY,
	config_id TEXT NOT NULL,
	triggered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	metric_value REAL NOT NULL,
	threshold REAL NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	affected_count INTEGER NOT NULL DEFAULT 0,
	affected_subscribers_blob TEXT,
	acknowledged_by TEXT,
	acknowledged_at DATETIME,
	resolved_by TEXT,
	resolved_at DATETIME,
	resolve_notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_alert_history_config_status ON alert_history(config_id, status);

CREATE TABLE IF NOT EXISTS recommendations (
	id TEXT PRIMARY KEY,
	rec_type TEXT NOT NULL,
	rec_details_json TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	approver TEXT,
	approved_at DATETIME,
	notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_recommendations_status ON recommendations(status);

CREATE TABLE IF NOT EXISTS classification_feedback (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	predicted_category TEXT NOT NULL,
	actual_category TEXT NOT NULL,
	is_correct BOOLEAN NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_classification_feedback_created ON classification_feedback(created_at);

CREATE TABLE IF NOT EXISTS evaluation_history (
	id TEXT PRIMARY KEY,
	eval_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	churned_count INTEGER NOT NULL,
	with_score_count INTEGER NOT NULL,
	recall_rate REAL NOT NULL,
	coverage_rate REAL NOT NULL,
	avg_churn_score REAL NOT NULL,
	recommendations_generated INTEGER NOT NULL,
	notes_json TEXT
);
`
