package config

import (
	"time"
)

// StructuredConfig is the top-level configuration container for the sync
// engine. It aggregates all sub-configurations and is populated by merging
// values from environment variables on top of built-in defaults.
//
// Struct tags:
//   - envPrefix: prefix applied to all nested env tag lookups (caarlos0/env).
//   - env: direct environment variable name for scalar fields.
type StructuredConfig struct {
	// Adapter holds network settings for the outbound server transport.
	Adapter Adapter `envPrefix:"ADAPTER_"`

	// Storage holds the durable local store settings.
	Storage Storage `envPrefix:"STORAGE_"`

	// Sync holds protocol tuning knobs shared by all collections.
	Sync Sync `envPrefix:"SYNC_"`

	// Workers holds background worker cadence settings.
	Workers Workers `envPrefix:"WORKERS_"`

	// Device identifies this installation towards the server.
	Device Device `envPrefix:"DEVICE_"`
}

// Adapter holds configuration for the HTTP server adapter.
type Adapter struct {
	// BaseURL is the server's base resource URL (e.g. "https://api.example.com").
	// Env: SYNCENGINE_ADAPTER_BASE_URL
	BaseURL string `env:"BASE_URL"`

	// RequestTimeout bounds every outbound sync request.
	// Env: SYNCENGINE_ADAPTER_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
}

// Storage groups durable local store settings.
type Storage struct {
	DB DB `envPrefix:"DB_"`
}

// DB contains the local SQLite connection settings.
type DB struct {
	// DSN is the SQLite file path (":memory:" is accepted for tests only).
	// Env: SYNCENGINE_STORAGE_DB_DSN
	DSN string `env:"DSN"`
}

// Sync holds protocol tuning shared across collections.
type Sync struct {
	// BatchSize bounds how many queued operations one drain request window
	// processes and how large a pull merge batch may grow.
	// Env: SYNCENGINE_SYNC_BATCH_SIZE
	BatchSize int `env:"BATCH_SIZE"`

	// MaxRetries is the default retry budget for a queued operation before
	// it is abandoned.
	// Env: SYNCENGINE_SYNC_MAX_RETRIES
	MaxRetries int `env:"MAX_RETRIES"`
}

// Workers contains background worker cadence settings.
type Workers struct {
	// SyncInterval is the fallback cadence for collections without their own
	// SyncInterval in CollectionConfig.
	// Env: SYNCENGINE_WORKERS_SYNC_INTERVAL
	SyncInterval time.Duration `env:"SYNC_INTERVAL"`

	// RetentionInterval is how often the retention sweep runs.
	// Env: SYNCENGINE_WORKERS_RETENTION_INTERVAL
	RetentionInterval time.Duration `env:"RETENTION_INTERVAL"`

	// ReconnectDebounce collapses flapping connectivity transitions into at
	// most one sync trigger per window.
	// Env: SYNCENGINE_WORKERS_RECONNECT_DEBOUNCE
	ReconnectDebounce time.Duration `env:"RECONNECT_DEBOUNCE"`
}

// Device identifies the installation for idempotency and audit headers.
type Device struct {
	// ID is the stable device identifier sent as X-Device-ID.
	// Env: SYNCENGINE_DEVICE_ID
	ID string `env:"ID"`

	// UserID tags queued operations with the acting user, when known.
	// Env: SYNCENGINE_DEVICE_USER_ID
	UserID string `env:"USER_ID"`
}

// defaults returns the built-in base layer every other source is merged over.
func defaults() *StructuredConfig {
	return &StructuredConfig{
		Adapter: Adapter{
			RequestTimeout: 15 * time.Second,
		},
		Sync: Sync{
			BatchSize:  25,
			MaxRetries: 5,
		},
		Workers: Workers{
			SyncInterval:      5 * time.Minute,
			RetentionInterval: time.Hour,
			ReconnectDebounce: 3 * time.Second,
		},
	}
}
