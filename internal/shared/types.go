package shared

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// Task types routed through the asynq bus. One per pipeline stage plus
// the maintenance sweeps.
const (
	TypeIngestItem      = "pipeline:ingest"
	TypeAssessCondition = "pipeline:assess_condition"
	TypeResearchPrice   = "pipeline:research_price"
	TypePriceItem       = "pipeline:price_item"
	TypeListItem        = "pipeline:list_item"
	TypeRecordSale      = "pipeline:record_sale"
	TypeDelistItem      = "pipeline:delist_item"
	TypeReconcileStuck  = "pipeline:reconcile_stuck"
)

// Queue names by priority. Ingestion and sales run hot, listing and
// delisting can wait.
const (
	QueueHigh    = "high"
	QueueDefault = "default"
	QueueLow     = "low"
)

// IngestionPayload triggers metadata identification for a freshly
// uploaded item. ImageRefs are object-store keys, immutable once the
// upload completes, so carrying them in the message is safe.
type IngestionPayload struct {
	OwnerID   string   `json:"ownerId"`
	ItemID    string   `json:"itemId"`
	ImageRefs []string `json:"imageRefs"`
}

func (p IngestionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.ItemID, validation.Required),
		validation.Field(&p.ImageRefs, validation.Required, validation.Length(1, 0)),
	)
}

// ConditionPayload triggers condition assessment after ingestion.
type ConditionPayload struct {
	OwnerID   string   `json:"ownerId"`
	ItemID    string   `json:"itemId"`
	ImageRefs []string `json:"imageRefs"`
}

func (p ConditionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.ItemID, validation.Required),
		validation.Field(&p.ImageRefs, validation.Required, validation.Length(1, 0)),
	)
}

// PriceResearchPayload triggers a market snapshot lookup. ISBN may be
// empty when identification found none; the searcher then falls back
// to title matching.
type PriceResearchPayload struct {
	OwnerID string `json:"ownerId"`
	ItemID  string `json:"itemId"`
	ISBN    string `json:"isbn"`
	Title   string `json:"title"`
}

func (p PriceResearchPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.ItemID, validation.Required),
		validation.Field(&p.Title, validation.Required.When(p.ISBN == "")),
	)
}

// PricingPayload triggers the pricing strategy stage. Identity only:
// the stage re-reads the record for everything mutable.
type PricingPayload struct {
	OwnerID string `json:"ownerId"`
	ItemID  string `json:"itemId"`
}

func (p PricingPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.ItemID, validation.Required),
	)
}

// ListingPayload triggers marketplace listing creation. An empty
// Platforms slice means every configured platform.
type ListingPayload struct {
	OwnerID   string   `json:"ownerId"`
	ItemID    string   `json:"itemId"`
	Platforms []string `json:"platforms,omitempty"`
}

func (p ListingPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.ItemID, validation.Required),
	)
}

// SalePayload records a marketplace sale notification.
type SalePayload struct {
	OwnerID   string          `json:"ownerId"`
	ItemID    string          `json:"itemId"`
	Platform  string          `json:"platform"`
	ListingID string          `json:"listingId"`
	SalePrice decimal.Decimal `json:"salePrice"`
	SoldAt    time.Time       `json:"soldAt"`
}

func (p SalePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.ItemID, validation.Required),
		validation.Field(&p.Platform, validation.Required),
	)
}

// Delist reasons. Only a user-requested delist moves the item status;
// a sale-triggered one just cleans up the other platforms.
const (
	DelistReasonSold = "sold_elsewhere"
	DelistReasonUser = "user_requested"
)

// DelistPayload closes the item's listings everywhere except the
// platform that reported the sale.
type DelistPayload struct {
	OwnerID        string `json:"ownerId"`
	ItemID         string `json:"itemId"`
	ExceptPlatform string `json:"exceptPlatform,omitempty"`
	Reason         string `json:"reason"`
}

func (p DelistPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OwnerID, validation.Required),
		validation.Field(&p.ItemID, validation.Required),
	)
}
