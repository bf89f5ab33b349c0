// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package config

import "time"

// Mode is the fixed role of a running syncd process for its lifetime.
type Mode string

const (
	ModeMaster  Mode = "master"
	ModeReplica Mode = "replica"
)

// Config is the root configuration for the sync daemon, loaded via koanf
// from struct defaults, an optional YAML file, and environment variables
// (highest precedence).
type Config struct {
	Mode         Mode     `koanf:"mode" validate:"required,oneof=master replica"`
	ShipID       string   `koanf:"ship_id"`
	ContentTypes []string `koanf:"content_types"`

	Bus     BusConfig     `koanf:"bus"`
	Sync    SyncConfig    `koanf:"sync"`
	Media   MediaConfig   `koanf:"media"`
	Store   StoreConfig   `koanf:"store"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// BusConfig configures the NATS JetStream connection shared by the
// producer and consumer.
type BusConfig struct {
	URL                 string        `koanf:"url"`
	EmbeddedServer      bool          `koanf:"embedded_server"`
	StoreDir            string        `koanf:"store_dir"`
	MasterTopic         string        `koanf:"master_topic"`
	ShipTopic           string        `koanf:"ship_topic"`
	StreamRetentionDays int           `koanf:"stream_retention_days"`
	MaxReconnects       int           `koanf:"max_reconnects"`
	ReconnectWait       time.Duration `koanf:"reconnect_wait"`
	ConnectTimeout      time.Duration `koanf:"connect_timeout"`
	AckWait             time.Duration `koanf:"ack_wait"`
	MaxDeliver          int           `koanf:"max_deliver"`
	MaxAckPending        int          `koanf:"max_ack_pending"`
	// Circuit breaker thresholds for publish attempts.
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerInterval    time.Duration `koanf:"breaker_interval"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// SyncConfig tunes the replication engine's scheduling, batching, retry,
// and conflict-handling behavior.
type SyncConfig struct {
	HeartbeatInterval   time.Duration `koanf:"heartbeat_interval"`
	AutoPushInterval    time.Duration `koanf:"auto_push_interval"`
	PushDebounce        time.Duration `koanf:"push_debounce"`
	JanitorInterval     time.Duration `koanf:"janitor_interval"`
	BatchSize           int           `koanf:"batch_size"`
	MaxRetries          int           `koanf:"max_retries"`
	DedupRetention      time.Duration `koanf:"dedup_retention"`
	QueueRetention      time.Duration `koanf:"queue_retention"`
	OnlineThreshold     time.Duration `koanf:"online_threshold"`
	ConnectivityProbe   time.Duration `koanf:"connectivity_probe"`
	ReconnectStabilize  time.Duration `koanf:"reconnect_stabilize"`
	ConflictStrategy    string        `koanf:"conflict_strategy" validate:"oneof=manual merge lastWriterWins"`
	ConflictWalkMaxDepth int          `koanf:"conflict_walk_max_depth"`
}

// MediaConfig configures the two S3-compatible object store clients used
// to mirror uploaded media between master and replica.
type MediaConfig struct {
	UploadPathPrefix string            `koanf:"upload_path_prefix"`
	MaxFilesPerSync  int               `koanf:"max_files_per_sync"`
	RateLimitPerSec  float64           `koanf:"rate_limit_per_sec"`
	Master           ObjectStoreConfig `koanf:"master"`
	Local            ObjectStoreConfig `koanf:"local"`
}

// ObjectStoreConfig holds connection details for one S3-compatible endpoint.
//
// BaseURL and HealthURL are deliberately distinct: BaseURL is the public
// media URL prefix embedded in CMS content payloads (matched and rewritten
// by internal/media's structural walk), while HealthURL is the endpoint
// liveness.New probes to decide peer/connectivity health. An operator who
// changes one must not be assumed to have changed the other.
type ObjectStoreConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
	BaseURL   string `koanf:"base_url"`
	HealthURL string `koanf:"health_url"`
}

// StoreConfig points at the on-disk stores: the relational sync-metadata
// store (sqlite), the reference CMS adapter's own sqlite store, and the
// dedup ledger (badger).
type StoreConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
	CMSPath    string `koanf:"cms_path"`
	BadgerDir  string `koanf:"badger_dir"`
}

// ServerConfig configures the management HTTP surface.
type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimitReqs  int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins    []string      `koanf:"cors_origins"`
}

// LoggingConfig configures the zerolog-based logging package.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
