// Cartographus Sync - offline-capable CMS replication engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus-sync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cartographus-sync/config.yaml",
	"/etc/cartographus-sync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the
// config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env
// vars.
func defaultConfig() *Config {
	return &Config{
		Mode:         ModeReplica,
		ShipID:       "",
		ContentTypes: []string{},
		Bus: BusConfig{
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      false,
			StoreDir:            "/data/nats/jetstream",
			MasterTopic:         "master-updates",
			ShipTopic:           "ship-updates",
			StreamRetentionDays: 7,
			MaxReconnects:       10,
			ReconnectWait:       2 * time.Second,
			ConnectTimeout:      10 * time.Second,
			AckWait:             30 * time.Second,
			MaxDeliver:          5,
			MaxAckPending:       256,
			BreakerMaxRequests:  1,
			BreakerInterval:     60 * time.Second,
			BreakerTimeout:      30 * time.Second,
		},
		Sync: SyncConfig{
			HeartbeatInterval:    60 * time.Second,
			AutoPushInterval:     30 * time.Second,
			PushDebounce:         time.Second,
			JanitorInterval:      5 * time.Minute,
			BatchSize:            50,
			MaxRetries:           5,
			DedupRetention:       7 * 24 * time.Hour,
			QueueRetention:       7 * 24 * time.Hour,
			OnlineThreshold:      2 * time.Minute,
			ConnectivityProbe:    30 * time.Second,
			ReconnectStabilize:   3 * time.Second,
			ConflictStrategy:     "manual",
			ConflictWalkMaxDepth: 20,
		},
		Media: MediaConfig{
			UploadPathPrefix: "/uploads",
			MaxFilesPerSync:  20,
			RateLimitPerSec:  10,
			Master:           ObjectStoreConfig{Bucket: "cms-media"},
			Local:            ObjectStoreConfig{Bucket: "cms-media"},
		},
		Store: StoreConfig{
			SQLitePath: "/data/sync.db",
			CMSPath:    "/data/cms.db",
			BadgerDir:  "/data/dedup",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8870,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if it exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > File > Defaults. Struct tags under koanf: drive
// unmarshaling; struct tags under validate: drive post-load validation.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct-tag constraints plus the cross-field invariants
// koanf's tags cannot express: a ship ID is required in replica mode, and
// master mode never needs one. It also rejects an empty ContentTypes list.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	if cfg.Mode == ModeReplica && cfg.ShipID == "" {
		return fmt.Errorf("ship_id is required when mode=replica")
	}
	if len(cfg.ContentTypes) == 0 {
		return fmt.Errorf("content_types must list at least one synced content type")
	}
	return nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or an empty string if none
// is found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when they arrive via environment variables.
var sliceConfigPaths = []string{
	"content_types",
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Necessary because env vars arrive as strings, but
// the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config
// paths.
//
// Examples:
//   - SYNC_MODE -> mode
//   - SHIP_ID -> ship_id
//   - BUS_URL -> bus.url
//   - MEDIA_MASTER_ENDPOINT -> media.master.endpoint
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"sync_mode":     "mode",
		"ship_id":       "ship_id",
		"content_types": "content_types",

		"bus_url":                    "bus.url",
		"bus_embedded_server":        "bus.embedded_server",
		"bus_store_dir":              "bus.store_dir",
		"bus_master_topic":           "bus.master_topic",
		"bus_ship_topic":             "bus.ship_topic",
		"bus_stream_retention_days":  "bus.stream_retention_days",
		"bus_max_reconnects":         "bus.max_reconnects",
		"bus_reconnect_wait":         "bus.reconnect_wait",
		"bus_connect_timeout":        "bus.connect_timeout",
		"bus_ack_wait":               "bus.ack_wait",
		"bus_max_deliver":            "bus.max_deliver",
		"bus_max_ack_pending":        "bus.max_ack_pending",
		"bus_breaker_max_requests":   "bus.breaker_max_requests",
		"bus_breaker_interval":       "bus.breaker_interval",
		"bus_breaker_timeout":        "bus.breaker_timeout",

		"sync_heartbeat_interval":     "sync.heartbeat_interval",
		"sync_auto_push_interval":     "sync.auto_push_interval",
		"sync_push_debounce":          "sync.push_debounce",
		"sync_janitor_interval":       "sync.janitor_interval",
		"sync_batch_size":             "sync.batch_size",
		"sync_max_retries":            "sync.max_retries",
		"sync_dedup_retention":        "sync.dedup_retention",
		"sync_queue_retention":        "sync.queue_retention",
		"sync_online_threshold":       "sync.online_threshold",
		"sync_connectivity_probe":     "sync.connectivity_probe",
		"sync_reconnect_stabilize":    "sync.reconnect_stabilize",
		"sync_conflict_strategy":      "sync.conflict_strategy",
		"sync_conflict_walk_max_depth": "sync.conflict_walk_max_depth",

		"media_upload_path_prefix":  "media.upload_path_prefix",
		"media_max_files_per_sync":  "media.max_files_per_sync",
		"media_rate_limit_per_sec":  "media.rate_limit_per_sec",
		"media_master_endpoint":     "media.master.endpoint",
		"media_master_access_key":   "media.master.access_key",
		"media_master_secret_key":   "media.master.secret_key",
		"media_master_bucket":       "media.master.bucket",
		"media_master_use_ssl":      "media.master.use_ssl",
		"media_master_base_url":     "media.master.base_url",
		"media_master_health_url":   "media.master.health_url",
		"media_local_endpoint":      "media.local.endpoint",
		"media_local_access_key":    "media.local.access_key",
		"media_local_secret_key":    "media.local.secret_key",
		"media_local_bucket":        "media.local.bucket",
		"media_local_use_ssl":       "media.local.use_ssl",
		"media_local_base_url":      "media.local.base_url",
		"media_local_health_url":    "media.local.health_url",

		"store_sqlite_path": "store.sqlite_path",
		"store_cms_path":    "store.cms_path",
		"store_badger_dir":  "store.badger_dir",

		"http_host":             "server.host",
		"http_port":             "server.port",
		"http_read_timeout":     "server.read_timeout",
		"http_write_timeout":    "server.write_timeout",
		"http_shutdown_timeout": "server.shutdown_timeout",
		"rate_limit_requests":   "server.rate_limit_reqs",
		"rate_limit_window":     "server.rate_limit_window",
		"cors_origins":          "server.cors_origins",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// GetKoanfInstance returns a new koanf instance for advanced usage, such as
// tests that need to load configuration from a fixture file directly.
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}
