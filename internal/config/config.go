// Package config loads and validates clockpipe's JSON configuration file:
// source/sink connection parameters, the table selection list, and the
// tuning knobs consulted by the schema reconciler, bulk-copy driver, and
// steady-state engine.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// SourceKind discriminates which source adapter a pipe run wires up.
type SourceKind string

const (
	SourcePostgres SourceKind = "postgres"
	SourceMongoDB  SourceKind = "mongodb"
)

// PostgresSource holds connection parameters for a PostgreSQL source.
type PostgresSource struct {
	DSN string `json:"dsn"`
}

// MongoSource holds connection parameters for a MongoDB source.
type MongoSource struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

// ClickHouseSink holds connection parameters for the ClickHouse destination.
type ClickHouseSink struct {
	Addr     string `json:"addr"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// TableSelection names one source table/collection to replicate and how to
// treat it during bulk copy and rendering.
type TableSelection struct {
	Schema      string          `json:"schema,omitempty"` // empty for Mongo
	Name        string          `json:"name"`
	DestTable   string          `json:"dest_table"`
	SkipCopy    bool            `json:"skip_copy,omitempty"`
	MaskColumns map[string]bool `json:"mask_columns,omitempty"`
}

// Config is the top-level configuration for a clockpipe run, loaded from a
// single JSON file.
type Config struct {
	SourceType SourceKind `json:"source_type"`
	TargetType string     `json:"target_type"`

	Postgres PostgresSource `json:"postgres"`
	Mongo    MongoSource    `json:"mongodb"`
	Sink     ClickHouseSink `json:"clickhouse"`

	Tables []TableSelection `json:"tables"`

	PeekChangesLimit              int    `json:"peek_changes_limit"`
	SleepMillisWhenPeekFailed     int    `json:"sleep_millis_when_peek_failed"`
	SleepMillisWhenPeekIsEmpty    int    `json:"sleep_millis_when_peek_is_empty"`
	SleepMillisWhenWriteFailed    int    `json:"sleep_millis_when_write_failed"`
	SleepMillisAfterSyncIteration int    `json:"sleep_millis_after_sync_iteration"`
	SleepMillisAfterSyncWrite     int    `json:"sleep_millis_after_sync_write"`
	PublicationName               string `json:"publication_name"`
	ReplicationSlotName           string `json:"replication_slot_name"`
	CopyBatchSize                 int    `json:"copy_batch_size"`
	CopyWorkers                   int    `json:"copy_workers"`
	ResumeTokenPath               string `json:"resume_token_path"`
	PeekTimeoutMillis             int64  `json:"peek_timeout_millis"`
	IndexGranularity              int    `json:"index_granularity"`
	MinAgeToForceMergeSeconds     int    `json:"min_age_to_force_merge_seconds"`
	StoragePolicy                 string `json:"storage_policy,omitempty"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	APIPort   int    `json:"api_port"`
	TUI       bool   `json:"tui"`
}

// Load reads and parses the JSON config file at path, then applies defaults
// and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in every tuning knob and ambient-stack field left
// unset in the JSON file, per the documented defaults.
func (c *Config) applyDefaults() {
	if c.TargetType == "" {
		c.TargetType = "clickhouse"
	}
	if c.PeekChangesLimit == 0 {
		c.PeekChangesLimit = 65536
	}
	if c.SleepMillisWhenPeekFailed == 0 {
		c.SleepMillisWhenPeekFailed = 5000
	}
	if c.SleepMillisWhenPeekIsEmpty == 0 {
		c.SleepMillisWhenPeekIsEmpty = 5000
	}
	if c.SleepMillisWhenWriteFailed == 0 {
		c.SleepMillisWhenWriteFailed = 5000
	}
	if c.SleepMillisAfterSyncIteration == 0 {
		c.SleepMillisAfterSyncIteration = 100
	}
	if c.SleepMillisAfterSyncWrite == 0 {
		c.SleepMillisAfterSyncWrite = 100
	}
	if c.PublicationName == "" {
		c.PublicationName = "clockpipe_publication"
	}
	if c.ReplicationSlotName == "" {
		c.ReplicationSlotName = "clockpipe_replication_slot"
	}
	if c.IndexGranularity == 0 {
		c.IndexGranularity = 8192
	}
	if c.MinAgeToForceMergeSeconds == 0 {
		c.MinAgeToForceMergeSeconds = 60
	}
	if c.CopyBatchSize == 0 {
		c.CopyBatchSize = 10000
	}
	if c.CopyWorkers == 0 {
		c.CopyWorkers = 4
	}
	if c.PeekTimeoutMillis == 0 {
		c.PeekTimeoutMillis = 5000
	}
	if c.ResumeTokenPath == "" {
		c.ResumeTokenPath = "clockpipe_resume_token.json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}

	for i := range c.Tables {
		if c.Tables[i].DestTable == "" {
			c.Tables[i].DestTable = c.Tables[i].Name
		}
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	var errs []error

	switch c.SourceType {
	case SourcePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required when source_type is postgres"))
		}
	case SourceMongoDB:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongodb.uri is required when source_type is mongodb"))
		}
		if c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongodb.database is required when source_type is mongodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("source_type must be %q or %q, got %q", SourcePostgres, SourceMongoDB, c.SourceType))
	}

	if c.TargetType != "clickhouse" {
		errs = append(errs, fmt.Errorf("target_type must be \"clickhouse\", got %q", c.TargetType))
	}
	if c.Sink.Addr == "" {
		errs = append(errs, errors.New("clickhouse.addr is required"))
	}
	if c.Sink.Database == "" {
		errs = append(errs, errors.New("clickhouse.database is required"))
	}
	if len(c.Tables) == 0 {
		errs = append(errs, errors.New("at least one table selection is required"))
	}
	for _, t := range c.Tables {
		if t.Name == "" {
			errs = append(errs, errors.New("table selection name is required"))
		}
		if c.SourceType == SourcePostgres && t.Schema == "" {
			errs = append(errs, fmt.Errorf("table selection %q requires schema when source_type is postgres", t.Name))
		}
	}

	return errors.Join(errs...)
}
