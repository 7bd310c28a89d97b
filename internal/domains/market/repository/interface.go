package repository

import (
	"context"
	"time"

	"bookresale-backend/internal/domains/market/model"
)

// SnapshotStore persists market snapshots append-only.
type SnapshotStore interface {
	// Latest returns the newest snapshot for key younger than maxAge,
	// or nil when none qualifies.
	Latest(ctx context.Context, key string, maxAge time.Duration) (*model.Snapshot, error)

	// Append writes a new snapshot row. Existing rows are never
	// touched, which keeps concurrent writers safe without locking.
	Append(ctx context.Context, snap *model.Snapshot) error
}
