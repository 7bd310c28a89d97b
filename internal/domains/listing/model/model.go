package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus tracks one marketplace listing's lifecycle.
type ListingStatus string

const (
	ListingActive ListingStatus = "active"
	ListingSold   ListingStatus = "sold"
	ListingClosed ListingStatus = "closed"
)

// Listing is one live (or finished) marketplace listing for an item. An
// item can hold at most one active listing per platform.
type Listing struct {
	ID         string          `json:"id" db:"id"`
	OwnerID    string          `json:"ownerId" db:"owner_id"`
	ItemID     string          `json:"itemId" db:"item_id"`
	Platform   string          `json:"platform" db:"platform"`
	ExternalID string          `json:"externalId" db:"external_id"`
	URL        string          `json:"url,omitempty" db:"url"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Currency   string          `json:"currency" db:"currency"`
	Status     ListingStatus   `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
	ClosedAt   *time.Time      `json:"closedAt,omitempty" db:"closed_at"`
}
