package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	itemModel "bookresale-backend/internal/domains/item/model"
	marketModel "bookresale-backend/internal/domains/market/model"
	marketService "bookresale-backend/internal/domains/market/service"
	"bookresale-backend/internal/domains/pricing/model"
	"bookresale-backend/internal/domains/pricing/repository"
	"bookresale-backend/internal/extract"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/pkg/retry"
)

const strategistSystem = `You are a used-book pricing strategist. Given a book's metadata,
its graded condition and a snapshot of current market offers, decide a selling price.
Respond with a single JSON object:
{"recommended_price": 0.0, "floor_price": 0.0, "currency": "EUR",
 "strategy": "aggressive|balanced|patient|liquidation",
 "confidence": 0.0, "reasoning": "..."}
recommended_price is what the listing opens at; floor_price is the lowest acceptable
offer. Poor condition books price under the market average, fine copies above it.
With no market data, estimate conservatively from the book itself and say so in the
reasoning.`

// Service prices an item against the market snapshot and records every
// decision in the history store.
type Service struct {
	store     repository.DecisionStore
	research  *marketService.ResearchService
	completer llm.Completer
	extractor *extract.Extractor
	policy    retry.Policy
}

func NewService(store repository.DecisionStore, research *marketService.ResearchService, completer llm.Completer, policy retry.Policy) *Service {
	return &Service{
		store:     store,
		research:  research,
		completer: completer,
		extractor: extract.New(extract.Options{
			WrapperKeys: []string{"pricing", "price_decision", "decision", "data"},
			ShapeKeys:   []string{"recommended_price", "floor_price", "strategy"},
		}),
		policy: policy,
	}
}

type decisionWire struct {
	RecommendedPrice decimal.Decimal `json:"recommended_price"`
	FloorPrice       decimal.Decimal `json:"floor_price"`
	Currency         string          `json:"currency"`
	Strategy         string          `json:"strategy"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
}

// Price produces and persists a pricing decision for the item. The
// item must already carry metadata and a condition summary.
func (s *Service) Price(ctx context.Context, item *itemModel.Item) (*model.Decision, error) {
	if item.Metadata == nil {
		return nil, pipeline.Fatalf("PRICING_NO_METADATA", "item %s has no metadata to price against", item.ID)
	}
	if item.Condition == nil {
		return nil, pipeline.Fatalf("PRICING_NO_CONDITION", "item %s has no condition summary", item.ID)
	}

	query := marketModel.Query{
		ISBN:      item.Metadata.ISBN,
		Title:     item.Metadata.Title,
		Publisher: item.Metadata.Publisher,
		Year:      item.Metadata.PublicationYear,
	}
	if len(item.Metadata.Authors) > 0 {
		query.Author = item.Metadata.Authors[0]
	}

	snapshot, cached, err := s.research.Research(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("market lookup: %w", err)
	}

	raw, err := retry.DoValue(ctx, s.policy, "pricing strategy", func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, llm.Request{
			System: strategistSystem,
			Prompt: buildPricingPrompt(item, snapshot),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("pricing strategy: %w", err)
	}

	res := s.extractor.Extract(raw)
	if !res.Found {
		return nil, pipeline.Fatalf("PRICING_NO_DATA", "strategist returned no structured decision: %s", res.Excerpt)
	}

	var wire decisionWire
	if err := extract.Decode(res.Payload, &wire); err != nil {
		return nil, pipeline.Fatal("PRICING_BAD_PAYLOAD", err)
	}
	if !wire.RecommendedPrice.IsPositive() {
		return nil, pipeline.Fatalf("PRICING_BAD_PRICE", "recommended price %s is not positive", wire.RecommendedPrice)
	}

	decision := &model.Decision{
		OwnerID:          item.OwnerID,
		ItemID:           item.ID,
		RecommendedPrice: wire.RecommendedPrice.Round(2),
		FloorPrice:       normalizeFloor(wire.FloorPrice, wire.RecommendedPrice),
		Currency:         normalizeCurrency(wire.Currency),
		Strategy:         itemModel.ParseStrategy(wire.Strategy),
		Confidence:       wire.Confidence,
		Reasoning:        wire.Reasoning,
		MarketKey:        query.CacheKey(),
		OfferCount:       len(snapshot.Offers),
		MarketRange:      snapshot.PriceRange,
		MarketCached:     cached,
		ConditionGrade:   item.Condition.Grade,
	}
	if decision.Confidence == 0 {
		decision.Confidence = res.Confidence
	}

	if err := s.store.Append(ctx, decision); err != nil {
		return nil, fmt.Errorf("persist pricing decision: %w", err)
	}

	log.Info().
		Str("owner_id", item.OwnerID).
		Str("item_id", item.ID).
		Str("price", decision.RecommendedPrice.String()).
		Str("strategy", string(decision.Strategy)).
		Int("offers", decision.OfferCount).
		Bool("market_cached", cached).
		Msg("item priced")
	return decision, nil
}

// History returns the item's pricing decisions, newest first.
func (s *Service) History(ctx context.Context, ownerID, itemID string) ([]*model.Decision, error) {
	return s.store.ListByItem(ctx, ownerID, itemID)
}

// normalizeFloor keeps the floor under the recommended price; a missing
// or inverted floor defaults to 60% of it.
func normalizeFloor(floor, recommended decimal.Decimal) decimal.Decimal {
	if floor.IsPositive() && floor.LessThanOrEqual(recommended) {
		return floor.Round(2)
	}
	return recommended.Mul(decimal.NewFromFloat(0.6)).Round(2)
}

func normalizeCurrency(raw string) string {
	cur := strings.ToUpper(strings.TrimSpace(raw))
	if len(cur) != 3 {
		return "EUR"
	}
	return cur
}

func buildPricingPrompt(item *itemModel.Item, snapshot *marketModel.Snapshot) string {
	var sb strings.Builder
	sb.WriteString("Price this used book:\n")
	fmt.Fprintf(&sb, "Title: %s\n", item.Metadata.Title)
	if len(item.Metadata.Authors) > 0 {
		fmt.Fprintf(&sb, "Authors: %s\n", strings.Join(item.Metadata.Authors, ", "))
	}
	if item.Metadata.ISBN != "" {
		fmt.Fprintf(&sb, "ISBN: %s\n", item.Metadata.ISBN)
	}
	if item.Metadata.PublicationYear != 0 {
		fmt.Fprintf(&sb, "Published: %d\n", item.Metadata.PublicationYear)
	}

	fmt.Fprintf(&sb, "\nCondition: %s (score %.1f/10, confidence %.2f)\n",
		item.Condition.Grade, item.Condition.Score, item.Condition.Confidence)
	if len(item.Condition.Defects) > 0 {
		fmt.Fprintf(&sb, "Defects: %s\n", strings.Join(item.Condition.Defects, "; "))
	}

	if len(snapshot.Offers) == 0 {
		sb.WriteString("\nNo current market offers were found for this book.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "\nMarket offers (%d found, range %s-%s, avg %s):\n",
		len(snapshot.Offers),
		snapshot.PriceRange.Min.String(),
		snapshot.PriceRange.Max.String(),
		snapshot.PriceRange.Avg.String())
	for i, offer := range snapshot.Offers {
		if i >= 15 {
			break
		}
		fmt.Fprintf(&sb, "- %s on %s: %s (%s)\n", offer.Seller, offer.Platform, offer.Price.String(), offer.Condition)
	}
	return sb.String()
}
