package config

import (
	"fmt"
	"strings"
)

// EngineConfig is the validated configuration view handed to the engine
// wiring. It is assembled from environment variables layered over built-in
// defaults.
type EngineConfig struct {
	// Adapter contains outbound transport settings.
	Adapter Adapter
	// Storage contains durable local store settings.
	Storage Storage
	// Sync contains protocol tuning knobs.
	Sync Sync
	// Workers contains background worker cadence settings.
	Workers Workers
	// Device identifies this installation.
	Device Device
}

// GetEngineConfig builds and validates the engine configuration.
//
// Environment values win over defaults; the merged result is validated before
// use so wiring fails fast on an unusable setup.
func GetEngineConfig() (*EngineConfig, error) {
	cfg, err := newConfigBuilder().
		withEnv().
		withDefaults().
		build()
	if err != nil {
		return nil, fmt.Errorf("error get structured config: %w", err)
	}

	engineCfg := &EngineConfig{
		Adapter: cfg.Adapter,
		Storage: cfg.Storage,
		Sync:    cfg.Sync,
		Workers: cfg.Workers,
		Device:  cfg.Device,
	}

	return engineCfg, engineCfg.validate()
}

func (cfg *EngineConfig) validate() error {
	if cfg.Storage.DB.DSN == "" || strings.Contains(cfg.Storage.DB.DSN, "memory") {
		return ErrInvalidStorageConfigs
	}

	if cfg.Adapter.BaseURL == "" || cfg.Adapter.RequestTimeout <= 0 {
		return ErrInvalidAdapterConfigs
	}

	if cfg.Sync.BatchSize <= 0 || cfg.Sync.MaxRetries < 0 {
		return ErrInvalidSyncConfigs
	}

	if cfg.Workers.SyncInterval <= 0 || cfg.Workers.RetentionInterval <= 0 {
		return ErrInvalidWorkerConfigs
	}

	if cfg.Device.ID == "" {
		return ErrInvalidDeviceConfigs
	}

	return nil
}
