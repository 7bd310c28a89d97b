package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/domains/market/model"
	"bookresale-backend/internal/domains/market/repository"
)

// LookupCache fronts the research backend with the append-only
// snapshot store. Within the max-age window a key is fetched at most
// once; concurrent writers at the window edge at worst append two rows
// and readers pick the newest.
type LookupCache struct {
	store repository.SnapshotStore
}

func NewLookupCache(store repository.SnapshotStore) *LookupCache {
	return &LookupCache{store: store}
}

// GetOrFetch returns the newest snapshot under maxAge, calling fetch
// only on a miss. cached reports which path produced the result. An
// empty fetch result (no offers) is returned but not persisted, so the
// next request tries again.
func (c *LookupCache) GetOrFetch(ctx context.Context, key string, maxAge time.Duration, fetch func(ctx context.Context) (*model.Snapshot, error)) (*model.Snapshot, bool, error) {
	if key != "" {
		snap, err := c.store.Latest(ctx, key, maxAge)
		if err != nil {
			// A broken cache read degrades to a fetch, it does not
			// fail the lookup.
			log.Warn().Err(err).Str("key", key).Msg("market cache read failed")
		} else if snap != nil {
			log.Info().Str("key", key).Time("snapshot_at", snap.CreatedAt).Msg("market cache hit")
			return snap, true, nil
		}
	}

	snap, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	if snap == nil || len(snap.Offers) == 0 {
		return snap, false, nil
	}

	snap.Key = key
	if key != "" {
		if err := c.store.Append(ctx, snap); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to persist market snapshot")
		}
	}
	return snap, false, nil
}
