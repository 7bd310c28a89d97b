package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Offer is one competitor listing found by the research backend.
type Offer struct {
	Seller    string          `json:"seller"`
	Price     decimal.Decimal `json:"price"`
	Condition string          `json:"condition"`
	Platform  string          `json:"platform"`
	URL       string          `json:"url"`
}

// PriceRange summarizes the offer spread.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
	Avg decimal.Decimal `json:"avg"`
}

// Snapshot is one market research result, persisted append-only.
// Staleness is resolved by readers picking the newest row under their
// age filter, never by updating a row in place.
type Snapshot struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Offers     []Offer    `json:"offers"`
	PriceRange PriceRange `json:"price_range"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Sources    []string   `json:"sources,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Query describes what to search the market for.
type Query struct {
	ISBN      string
	Title     string
	Author    string
	Publisher string
	Year      int
}

// CacheKey normalizes the query to the snapshot cache key: the
// identifier code when present, otherwise a collapsed title.
func (q Query) CacheKey() string {
	if isbn := normalizeISBN(q.ISBN); isbn != "" {
		return "isbn:" + isbn
	}
	title := strings.ToLower(strings.TrimSpace(q.Title))
	if title == "" {
		return ""
	}
	return "title:" + strings.Join(strings.Fields(title), "-")
}

func normalizeISBN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == 'x' || r == 'X' {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}
