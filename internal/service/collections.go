package service

import (
	"sort"
	"sync"

	"github.com/fieldpad/syncengine/models"
)

// Registry holds the static per-collection sync policies supplied
// at startup and hands out the server-wins default for collections the
// caller never configured. Collections become known either through explicit
// configuration or on first use.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]models.CollectionConfig
}

func NewRegistry(configs []models.CollectionConfig) *Registry {
	r := &Registry{
		configs: make(map[string]models.CollectionConfig, len(configs)),
	}
	for _, cfg := range configs {
		if cfg.Collection == "" {
			continue
		}
		r.configs[cfg.Collection] = withConfigDefaults(cfg)
	}
	return r
}

// Get returns the policy for a collection, registering the default policy on
// first sight so the sync pass covers every collection the engine touched.
func (r *Registry) Get(collection string) models.CollectionConfig {
	r.mu.RLock()
	cfg, ok := r.configs[collection]
	r.mu.RUnlock()
	if ok {
		return cfg
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok = r.configs[collection]; ok {
		return cfg
	}

	cfg = models.DefaultCollectionConfig(collection)
	r.configs[collection] = cfg
	return cfg
}

// Names returns all known collections in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func withConfigDefaults(cfg models.CollectionConfig) models.CollectionConfig {
	def := models.DefaultCollectionConfig(cfg.Collection)
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.MaxOfflineRetention <= 0 {
		cfg.MaxOfflineRetention = def.MaxOfflineRetention
	}
	return cfg
}
