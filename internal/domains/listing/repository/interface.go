package repository

import (
	"context"

	"bookresale-backend/internal/domains/listing/model"
)

// ListingStore persists marketplace listing records.
type ListingStore interface {
	Create(ctx context.Context, listing *model.Listing) error
	// ActiveByItem returns the item's currently active listings.
	ActiveByItem(ctx context.Context, ownerID, itemID string) ([]*model.Listing, error)
	// FindActive returns the item's active listing on one platform, nil
	// when there is none.
	FindActive(ctx context.Context, ownerID, itemID, platform string) (*model.Listing, error)
	// Close finalizes a listing as sold or closed. Closing an already
	// finalized listing is a no-op.
	Close(ctx context.Context, id string, status model.ListingStatus) error
}
