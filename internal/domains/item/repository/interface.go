package repository

import (
	"context"
	"time"

	"bookresale-backend/internal/domains/item/model"
)

// RepositoryInterface - data access for item records. Status writes go
// through AcquireStage and ApplyStatus only.
type RepositoryInterface interface {
	Create(ctx context.Context, item *model.Item) error
	GetByID(ctx context.Context, ownerID, itemID string) (*model.Item, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Item, int, error)
	Delete(ctx context.Context, ownerID, itemID string) error

	// AcquireStage is the idempotency gate: one conditional UPDATE
	// that moves the item to inflight only when its current status is
	// in allowedFrom. Exactly one of two racing callers wins.
	AcquireStage(ctx context.Context, ownerID, itemID string, inflight model.Status, allowedFrom []model.Status) (bool, error)

	// ApplyStatus validates requested against the transition rules and
	// writes the resulting status plus patch fields, compare-and-set
	// on the status read at the start. Returns the status actually
	// written (which differs from requested on no-op coercions).
	ApplyStatus(ctx context.Context, ownerID, itemID string, requested model.Status, patch *model.Patch) (model.Status, error)

	// StuckInFlight lists items sitting in one of the given statuses
	// for longer than olderThan, for the reconciliation sweep.
	StuckInFlight(ctx context.Context, statuses []model.Status, olderThan time.Duration) ([]model.Item, error)
}
