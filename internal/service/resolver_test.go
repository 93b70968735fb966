package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldpad/syncengine/internal/events"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/models"
)

func newResolverHarness(t *testing.T) (*Resolver, *memStore, *events.Bus) {
	t.Helper()
	log := logger.Nop()
	mem := newMemStore()
	bus := events.NewBus(log)
	return NewResolver(memConflicts{mem}, bus, log), mem, bus
}

func resolverSides(local, server models.Payload, localAt, serverAt time.Time) (LocalVersion, models.ServerRecord) {
	return LocalVersion{Payload: local, Version: 3, UpdatedAt: localAt},
		models.ServerRecord{ID: "rec-1", Payload: server, Version: 7, UpdatedAt: serverAt}
}

func TestResolver_ClientWins(t *testing.T) {
	r, _, _ := newResolverHarness(t)
	now := time.Now().UTC()
	local, server := resolverSides(models.Payload{"v": "local"}, models.Payload{"v": "server"}, now, now)

	res, err := r.Resolve(context.Background(), models.CollectionConfig{Collection: "c", Strategy: models.StrategyClientWins}, "rec-1", local, server)
	require.NoError(t, err)

	assert.Equal(t, WinnerLocal, res.Winner)
	assert.Equal(t, "local", res.Payload["v"])
	assert.False(t, res.Deferred)
}

func TestResolver_ServerWins(t *testing.T) {
	r, _, _ := newResolverHarness(t)
	now := time.Now().UTC()
	local, server := resolverSides(models.Payload{"v": "local"}, models.Payload{"v": "server"}, now, now)

	res, err := r.Resolve(context.Background(), models.CollectionConfig{Collection: "c", Strategy: models.StrategyServerWins}, "rec-1", local, server)
	require.NoError(t, err)

	assert.Equal(t, WinnerServer, res.Winner)
	assert.Equal(t, "server", res.Payload["v"])
}

func TestResolver_UnknownStrategyFallsBackToServerWins(t *testing.T) {
	r, _, _ := newResolverHarness(t)
	now := time.Now().UTC()
	local, server := resolverSides(models.Payload{"v": "local"}, models.Payload{"v": "server"}, now, now)

	res, err := r.Resolve(context.Background(), models.CollectionConfig{Collection: "c"}, "rec-1", local, server)
	require.NoError(t, err)

	assert.Equal(t, WinnerServer, res.Winner)
}

func TestResolver_NewestWins(t *testing.T) {
	r, _, _ := newResolverHarness(t)
	base := time.Now().UTC()

	tests := []struct {
		name     string
		localAt  time.Time
		serverAt time.Time
		want     string
	}{
		{name: "local newer", localAt: base.Add(time.Minute), serverAt: base, want: "local"},
		{name: "server newer", localAt: base, serverAt: base.Add(time.Minute), want: "server"},
		{name: "exact tie goes to server", localAt: base, serverAt: base, want: "server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, server := resolverSides(models.Payload{"v": "local"}, models.Payload{"v": "server"}, tt.localAt, tt.serverAt)

			res, err := r.Resolve(context.Background(), models.CollectionConfig{Collection: "c", Strategy: models.StrategyNewestWins}, "rec-1", local, server)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Payload["v"])
		})
	}
}

func TestResolver_DefaultShallowMerge(t *testing.T) {
	r, _, _ := newResolverHarness(t)
	now := time.Now().UTC()
	local, server := resolverSides(
		models.Payload{"shared": "local", "onlyLocal": "keep"},
		models.Payload{"shared": "server", "onlyServer": "also keep"},
		now, now,
	)

	res, err := r.Resolve(context.Background(), models.CollectionConfig{Collection: "c", Strategy: models.StrategyMerge}, "rec-1", local, server)
	require.NoError(t, err)

	assert.Equal(t, WinnerMerged, res.Winner)
	assert.Equal(t, "server", res.Payload["shared"], "server precedence on key collision")
	assert.Equal(t, "keep", res.Payload["onlyLocal"])
	assert.Equal(t, "also keep", res.Payload["onlyServer"])
}

// Custom merge rules override timestamps entirely: a progress counter keeps
// the maximum of both sides no matter which one is newer.
func TestResolver_CustomMergeFunction(t *testing.T) {
	r, _, _ := newResolverHarness(t)
	maxProgress := func(local, server models.Payload) models.Payload {
		out := server.Clone()
		lp, _ := local["progress"].(int)
		sp, _ := server["progress"].(int)
		if lp > sp {
			out["progress"] = lp
		}
		return out
	}
	cfg := models.CollectionConfig{Collection: "training_progress", Strategy: models.StrategyMerge, Merge: maxProgress}

	t.Run("server ahead", func(t *testing.T) {
		now := time.Now().UTC()
		local, server := resolverSides(models.Payload{"progress": 40}, models.Payload{"progress": 70}, now, now.Add(time.Minute))

		res, err := r.Resolve(context.Background(), cfg, "rec-1", local, server)
		require.NoError(t, err)
		assert.Equal(t, 70, res.Payload["progress"])
	})

	t.Run("local ahead despite older timestamp", func(t *testing.T) {
		now := time.Now().UTC()
		local, server := resolverSides(models.Payload{"progress": 80}, models.Payload{"progress": 50}, now, now.Add(time.Minute))

		res, err := r.Resolve(context.Background(), cfg, "rec-1", local, server)
		require.NoError(t, err)
		assert.Equal(t, 80, res.Payload["progress"])
	})
}

func TestResolver_CriticalFieldsKeepServerValue(t *testing.T) {
	r, _, _ := newResolverHarness(t)
	now := time.Now().UTC()
	local, server := resolverSides(
		models.Payload{"status": "approved", "note": "mine"},
		models.Payload{"status": "rejected", "note": "theirs"},
		now.Add(time.Minute), now,
	)
	cfg := models.CollectionConfig{
		Collection:     "approvals",
		Strategy:       models.StrategyClientWins,
		CriticalFields: []string{"status"},
	}

	res, err := r.Resolve(context.Background(), cfg, "rec-1", local, server)
	require.NoError(t, err)

	assert.Equal(t, "rejected", res.Payload["status"], "critical field follows the server even when the client wins")
	assert.Equal(t, "mine", res.Payload["note"])
}

func TestResolver_AutomaticResolutionLeavesAuditEntry(t *testing.T) {
	r, mem, bus := newResolverHarness(t)
	now := time.Now().UTC()
	local, server := resolverSides(models.Payload{"v": "local"}, models.Payload{"v": "server"}, now, now)
	log := watchEvents(bus, events.ConflictResolved)

	res, err := r.Resolve(context.Background(), models.CollectionConfig{Collection: "c", Strategy: models.StrategyServerWins}, "rec-1", local, server)
	require.NoError(t, err)

	saved, err := mem.GetConflict(context.Background(), res.Conflict.ID)
	require.NoError(t, err)
	assert.True(t, saved.Resolved)
	assert.Equal(t, models.StrategyServerWins, saved.Strategy)
	assert.Equal(t, "server", saved.Resolution["v"])
	assert.NotNil(t, saved.ResolvedAt)
	assert.Equal(t, []string{events.ConflictResolved}, log.seen())
}

func TestResolver_ManualDefersAndEmitsConflictDetected(t *testing.T) {
	r, mem, bus := newResolverHarness(t)
	now := time.Now().UTC()
	local, server := resolverSides(models.Payload{"v": "local"}, models.Payload{"v": "server"}, now, now)
	log := watchEvents(bus, events.ConflictDetected, events.ConflictResolved)

	res, err := r.Resolve(context.Background(), models.CollectionConfig{Collection: "c", Strategy: models.StrategyManual}, "rec-1", local, server)
	require.NoError(t, err)

	assert.True(t, res.Deferred)
	assert.Nil(t, res.Payload)
	assert.Equal(t, []string{events.ConflictDetected}, log.seen())

	open, err := mem.ListUnresolved(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "local", open[0].LocalPayload["v"])
	assert.Equal(t, "server", open[0].ServerPayload["v"])
	assert.Equal(t, int64(7), open[0].ServerVersion)
}
