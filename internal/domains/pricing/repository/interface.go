package repository

import (
	"context"

	"bookresale-backend/internal/domains/pricing/model"
)

// DecisionStore persists pricing decisions append-only.
type DecisionStore interface {
	Append(ctx context.Context, decision *model.Decision) error
	// ListByItem returns the item's pricing history, newest first.
	ListByItem(ctx context.Context, ownerID, itemID string) ([]*model.Decision, error)
}
