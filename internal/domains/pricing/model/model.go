package model

import (
	"time"

	"github.com/shopspring/decimal"

	itemModel "bookresale-backend/internal/domains/item/model"
	marketModel "bookresale-backend/internal/domains/market/model"
)

// Decision is one pricing run, persisted append-only in price_history.
// Repricing an item appends a new decision; the item record carries
// only the newest one as its Commercial summary.
type Decision struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	ItemID  string `json:"item_id"`

	RecommendedPrice decimal.Decimal     `json:"recommended_price"`
	FloorPrice       decimal.Decimal     `json:"floor_price"`
	Currency         string              `json:"currency"`
	Strategy         itemModel.Strategy  `json:"strategy"`
	Confidence       float64             `json:"confidence"`
	Reasoning        string              `json:"reasoning,omitempty"`

	// Market context the decision was made against.
	MarketKey    string                 `json:"market_key,omitempty"`
	OfferCount   int                    `json:"offer_count"`
	MarketRange  marketModel.PriceRange `json:"market_range"`
	MarketCached bool                   `json:"market_cached"`

	ConditionGrade itemModel.Grade `json:"condition_grade,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Commercial projects the decision down to the summary stored on the
// item record.
func (d *Decision) Commercial() *itemModel.Commercial {
	return &itemModel.Commercial{
		RecommendedPrice: d.RecommendedPrice,
		FloorPrice:       d.FloorPrice,
		Currency:         d.Currency,
		Strategy:         d.Strategy,
		Confidence:       d.Confidence,
		PricedAt:         d.CreatedAt,
	}
}
