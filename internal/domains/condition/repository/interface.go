package repository

import (
	"context"

	"bookresale-backend/internal/domains/condition/model"
)

// AssessmentStore persists condition reports append-only.
type AssessmentStore interface {
	Append(ctx context.Context, assessment *model.Assessment) error
	// ListByItem returns the item's reports, newest first.
	ListByItem(ctx context.Context, ownerID, itemID string) ([]*model.Assessment, error)
}
