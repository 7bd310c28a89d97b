package service

import (
	"context"
	"time"

	"bookresale-backend/internal/domains/market/model"
)

// ResearchService answers "what is this book worth right now" from the
// snapshot cache, falling back to the research backend.
type ResearchService struct {
	cache    *LookupCache
	searcher OfferSearcher
	maxAge   time.Duration
}

func NewResearchService(cache *LookupCache, searcher OfferSearcher, maxAge time.Duration) *ResearchService {
	return &ResearchService{cache: cache, searcher: searcher, maxAge: maxAge}
}

// Research returns the market snapshot for q. cached reports whether
// the snapshot came from the store.
func (s *ResearchService) Research(ctx context.Context, q model.Query) (*model.Snapshot, bool, error) {
	return s.cache.GetOrFetch(ctx, q.CacheKey(), s.maxAge, func(ctx context.Context) (*model.Snapshot, error) {
		return s.searcher.Search(ctx, q)
	})
}
