// Package config provides configuration types and loading for cdcbridge.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration struct.
// Top-level groups: Source, Queue, Destination, ObjectStore, Notify,
// Alerts, Loop, Logging.
type Config struct {
	Source      SourceConfig      `json:"source"`
	Queue       QueueConfig       `json:"queue"`
	Destination DestinationConfig `json:"destination"`
	ObjectStore ObjectStoreConfig `json:"objectStore"`
	Notify      NotifyConfig      `json:"notify"`
	Alerts      AlertsConfig      `json:"alerts"`
	Loop        LoopConfig        `json:"loop"`
	Logging     LoggingConfig     `json:"logging"`
}

// SourceConfig configures the relational source database connection.
// Driver names the registered database/sql driver to open; it defaults
// to "sqlite" (modernc.org/sqlite, already vendored for the local
// destination store) so the CLI has something runnable out of the box.
// A production deployment against the original Oracle source registers
// a real driver (e.g. godror) via blank import and sets
// CDCBRIDGE_SOURCE_DB_DRIVER accordingly; DSN, when set, is passed to
// sql.Open verbatim and Host/Port/ServiceName/User/Password are ignored.
type SourceConfig struct {
	Driver      string `envconfig:"SOURCE_DB_DRIVER" default:"sqlite"`
	DSN         string `envconfig:"SOURCE_DB_DSN"`
	Host        string `envconfig:"SOURCE_DB_HOST"`
	Port        int    `envconfig:"SOURCE_DB_PORT" default:"1521"`
	ServiceName string `envconfig:"SOURCE_DB_SERVICE"`
	User        string `envconfig:"SOURCE_DB_USER"`
	Password    string `envconfig:"SOURCE_DB_PASSWORD"`
}

// DataSourceName returns DSN verbatim when set, else "file:" + Host when
// Host is set (Host used as a sqlite file path), else
// "file:./cdcbridge-source.db". Port and ServiceName are not used.
func (s SourceConfig) DataSourceName() string {
	if s.DSN != "" {
		return s.DSN
	}
	if s.Host != "" {
		return "file:" + s.Host
	}
	return "file:./cdcbridge-source.db"
}

// QueueConfig configures the outbound/inbound message queues.
type QueueConfig struct {
	Brokers       string `envconfig:"QUEUE_BROKERS" default:"localhost:9092"`
	OutboundTopic string `envconfig:"QUEUE_OUTBOUND_TOPIC" default:"conversation-assembly"`
	InboundTopic  string `envconfig:"QUEUE_INBOUND_TOPIC" default:"ml-results"`
	ConsumerGroup string `envconfig:"QUEUE_CONSUMER_GROUP" default:"cdcbridge-ingest"`
}

// DestinationConfig configures the local persistence: the processed-ID/
// mode-status store and the destination summary/category tables live in
// two separate sqlite files so the CDC loop's write pattern never
// contends with the ingestor/alerts/recommend writers' pattern.
type DestinationConfig struct {
	StoreDBPath string `envconfig:"STORE_DB_PATH" default:"./cdcbridge-store.db"`
	DBPath      string `envconfig:"DEST_DB_PATH" default:"./cdcbridge.db"`
}

// ObjectStoreConfig configures the approval-channel's config-artifact store.
type ObjectStoreConfig struct {
	BaseDir string `envconfig:"OBJECT_STORE_DIR" default:"./configs"`
}

// NotifyConfig configures the remote-config reload notification channel.
type NotifyConfig struct {
	Topic       string `envconfig:"NOTIFY_TOPIC" default:"config-reload"`
	SlackWebURL string `envconfig:"SLACK_WEBHOOK_URL"`
}

// AlertsConfig configures the alert evaluator's optional Slack notifier.
// SlackBotToken empty disables notification entirely; alert evaluation
// itself never depends on Slack being configured.
type AlertsConfig struct {
	SlackBotToken string        `envconfig:"ALERTS_SLACK_BOT_TOKEN"`
	SlackAPIBase  string        `envconfig:"ALERTS_SLACK_API_BASE" default:"https://slack.com/api"`
	SlackChannel  string        `envconfig:"ALERTS_SLACK_CHANNEL"`
	EvalInterval  time.Duration `envconfig:"ALERTS_EVAL_INTERVAL" default:"5m"`
}

// LoopConfig configures the CDC loop driver's timing and limits. The
// backfill engine does not read it.
type LoopConfig struct {
	NormalPollInterval time.Duration `envconfig:"NORMAL_POLL_INTERVAL" default:"30s"`
	StatsEveryNCycles  int           `envconfig:"STATS_EVERY_N_CYCLES" default:"10"`
	BatchCap           int           `envconfig:"BATCH_CAP" default:"200"`
	HistoricalEnabled  bool          `envconfig:"HISTORICAL_ENABLED" default:"false"`
	HistoricalBatchCap int           `envconfig:"HISTORICAL_BATCH_CAP" default:"500"`
	MaxSendFailures    int           `envconfig:"MAX_SEND_FAILURES" default:"20"`
	ConnRetryWait      time.Duration `envconfig:"CONN_RETRY_WAIT" default:"30s"`
}

// LoggingConfig configures log level/output.
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	Dir   string `envconfig:"LOG_DIR" default:"./logs"`
}

// Load reads configuration from the process environment, applying a .env
// file first (without overriding already-set variables), then binding
// through envconfig with the "CDCBRIDGE" prefix.
func Load() (*Config, error) {
	LoadEnvFileCandidates()

	var cfg Config
	if err := envconfig.Process("CDCBRIDGE", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
