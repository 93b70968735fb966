package models

import "time"

// ConflictStrategy names one of the closed set of reconciliation policies a
// collection can be configured with.
type ConflictStrategy string

const (
	StrategyClientWins ConflictStrategy = "client-wins"
	StrategyServerWins ConflictStrategy = "server-wins"
	StrategyNewestWins ConflictStrategy = "newest-wins"
	StrategyMerge      ConflictStrategy = "merge"
	StrategyManual     ConflictStrategy = "manual"
)

// MergeFunc combines a local and a server payload into the resolved payload.
// It is only consulted under StrategyMerge.
type MergeFunc func(local, server Payload) Payload

// CollectionConfig is the static per-collection sync policy supplied by the
// caller at startup. Exactly one config applies per collection; unconfigured
// collections fall back to DefaultCollectionConfig.
type CollectionConfig struct {
	Collection string
	Strategy   ConflictStrategy
	// Merge overrides the default shallow merge under StrategyMerge.
	Merge MergeFunc
	// SyncInterval is how often the background worker syncs this collection.
	SyncInterval time.Duration
	// MaxOfflineRetention bounds how long clean local data and parked
	// conflicts are kept before the retention sweep reclaims them.
	MaxOfflineRetention time.Duration
	// CriticalFields lists payload fields whose server value must never be
	// silently overwritten by an automatic resolution.
	CriticalFields []string
}

// DefaultCollectionConfig returns the policy applied to collections the
// caller did not configure: server wins, five-minute sync cadence, thirty-day
// retention.
func DefaultCollectionConfig(collection string) CollectionConfig {
	return CollectionConfig{
		Collection:          collection,
		Strategy:            StrategyServerWins,
		SyncInterval:        5 * time.Minute,
		MaxOfflineRetention: 30 * 24 * time.Hour,
	}
}
