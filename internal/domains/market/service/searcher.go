package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/domains/market/model"
	"bookresale-backend/internal/extract"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/pkg/retry"
)

// OfferSearcher is the research backend contract. Search must be free
// of side effects so it composes with the retry executor and the
// lookup cache.
type OfferSearcher interface {
	Search(ctx context.Context, q model.Query) (*model.Snapshot, error)
}

const searcherSystem = `You are a used-book market researcher. Given a book identification,
report current resale offers you are confident about. Respond with a single JSON object:
{"offers": [{"seller": "...", "price": 0.0, "condition": "...", "platform": "...", "url": "..."}],
 "price_range": {"min": 0.0, "max": 0.0, "avg": 0.0},
 "confidence": 0.0, "reasoning": "...", "sources": ["..."]}
Prices are in EUR. An empty offers array is a valid answer when nothing reliable is found.`

type groundedSearcher struct {
	completer llm.Completer
	extractor *extract.Extractor
	policy    retry.Policy
}

// NewGroundedSearcher builds the model-backed searcher.
func NewGroundedSearcher(completer llm.Completer, policy retry.Policy) OfferSearcher {
	return &groundedSearcher{
		completer: completer,
		extractor: extract.New(extract.Options{
			WrapperKeys: []string{"market_data", "research", "results", "data"},
			ShapeKeys:   []string{"offers", "price_range"},
		}),
		policy: policy,
	}
}

// snapshotWire mirrors the model's answer shape.
type snapshotWire struct {
	Offers     []model.Offer    `json:"offers"`
	PriceRange model.PriceRange `json:"price_range"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
	Sources    []string         `json:"sources"`
}

func (s *groundedSearcher) Search(ctx context.Context, q model.Query) (*model.Snapshot, error) {
	prompt := buildSearchPrompt(q)

	raw, err := retry.DoValue(ctx, s.policy, "offer search", func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, llm.Request{
			System: searcherSystem,
			Prompt: prompt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("offer search: %w", err)
	}

	res := s.extractor.Extract(raw)
	if !res.Found {
		// A negative research answer is a result, not an error.
		log.Info().Str("key", q.CacheKey()).Msg("research produced no structured offers")
		return &model.Snapshot{}, nil
	}

	var wire snapshotWire
	if err := extract.Decode(res.Payload, &wire); err != nil {
		return nil, fmt.Errorf("offer search payload: %w", err)
	}

	snap := &model.Snapshot{
		Offers:     wire.Offers,
		PriceRange: wire.PriceRange,
		Confidence: wire.Confidence,
		Reasoning:  wire.Reasoning,
		Sources:    wire.Sources,
	}
	if snap.Confidence == 0 {
		snap.Confidence = res.Confidence
	}
	if snap.PriceRange.Avg.IsZero() && len(snap.Offers) > 0 {
		snap.PriceRange = rangeFromOffers(snap.Offers)
	}
	return snap, nil
}

func buildSearchPrompt(q model.Query) string {
	var sb strings.Builder
	sb.WriteString("Find current resale offers for this book:\n")
	if q.ISBN != "" {
		fmt.Fprintf(&sb, "ISBN: %s\n", q.ISBN)
	}
	if q.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", q.Title)
	}
	if q.Author != "" {
		fmt.Fprintf(&sb, "Author: %s\n", q.Author)
	}
	if q.Publisher != "" {
		fmt.Fprintf(&sb, "Publisher: %s\n", q.Publisher)
	}
	if q.Year != 0 {
		fmt.Fprintf(&sb, "Year: %d\n", q.Year)
	}
	return sb.String()
}

func rangeFromOffers(offers []model.Offer) model.PriceRange {
	min, max := offers[0].Price, offers[0].Price
	sum := decimal.Zero
	for _, o := range offers {
		if o.Price.LessThan(min) {
			min = o.Price
		}
		if o.Price.GreaterThan(max) {
			max = o.Price
		}
		sum = sum.Add(o.Price)
	}
	return model.PriceRange{
		Min: min,
		Max: max,
		Avg: sum.Div(decimal.NewFromInt(int64(len(offers)))).Round(2),
	}
}
