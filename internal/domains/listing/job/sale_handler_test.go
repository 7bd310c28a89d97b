package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itemModel "bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/domains/listing/model"
	"bookresale-backend/internal/domains/listing/platform"
	listingService "bookresale-backend/internal/domains/listing/service"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
	"bookresale-backend/pkg/retry"
)

// stageStore implements the orchestrator's repository slice with the
// same CAS semantics as the postgres row.
type stageStore struct {
	mu      sync.Mutex
	status  itemModel.Status
	patches []*itemModel.Patch
}

func (s *stageStore) AcquireStage(_ context.Context, _, _ string, inflight itemModel.Status, allowedFrom []itemModel.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range allowedFrom {
		if s.status == a {
			s.status = inflight
			return true, nil
		}
	}
	return false, nil
}

func (s *stageStore) ApplyStatus(_ context.Context, _, _ string, requested itemModel.Status, patch *itemModel.Patch) (itemModel.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := itemModel.Next(s.status, requested)
	if err != nil {
		return "", err
	}
	s.status = next
	s.patches = append(s.patches, patch)
	return next, nil
}

type capturePublisher struct {
	msgs []queue.Message
}

func (p *capturePublisher) Publish(_ context.Context, msg queue.Message) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

// saleListings is a minimal listing store: one flaky Close, the rest in
// memory.
type saleListings struct {
	listings  []*model.Listing
	closeErr  error
	findCalls int
}

func (s *saleListings) Create(_ context.Context, listing *model.Listing) error {
	s.listings = append(s.listings, listing)
	return nil
}

func (s *saleListings) ActiveByItem(_ context.Context, _, _ string) ([]*model.Listing, error) {
	var active []*model.Listing
	for _, l := range s.listings {
		if l.Status == model.ListingActive {
			active = append(active, l)
		}
	}
	return active, nil
}

func (s *saleListings) FindActive(_ context.Context, _, _, platformName string) (*model.Listing, error) {
	s.findCalls++
	for _, l := range s.listings {
		if l.Platform == platformName && l.Status == model.ListingActive {
			return l, nil
		}
	}
	return nil, nil
}

func (s *saleListings) Close(_ context.Context, id string, status model.ListingStatus) error {
	if s.closeErr != nil {
		err := s.closeErr
		s.closeErr = nil
		return err
	}
	for _, l := range s.listings {
		if l.ID == id && l.ClosedAt == nil {
			now := time.Now()
			l.Status = status
			l.ClosedAt = &now
		}
	}
	return nil
}

type idleClient struct{}

func (idleClient) CreateListing(_ context.Context, _ string, _ platform.CreateRequest) (*platform.CreateResult, error) {
	return nil, errors.New("unexpected listing create")
}

func (idleClient) DeleteListing(_ context.Context, _, _ string) error { return nil }

type idleCompleter struct{}

func (idleCompleter) Complete(_ context.Context, _ llm.Request) (string, error) {
	return "", errors.New("unexpected completion")
}

func saleTask(t *testing.T) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(shared.SalePayload{
		OwnerID:   "owner-1",
		ItemID:    "item-1",
		Platform:  "momox",
		ListingID: "ext-momox",
		SalePrice: decimal.NewFromFloat(19.9),
		SoldAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return asynq.NewTask(shared.TypeRecordSale, data)
}

func newSaleFixture(status itemModel.Status, listings *saleListings) (*SaleHandler, *stageStore, *capturePublisher) {
	store := &stageStore{status: status}
	pub := &capturePublisher{}
	svc := listingService.NewService(listings, idleClient{}, idleCompleter{}, fastPolicy(), []string{"momox", "ebay"})
	return NewSaleHandler(pipeline.NewOrchestrator(store, pub), svc), store, pub
}

func activeMomoxListing() *saleListings {
	return &saleListings{listings: []*model.Listing{{
		ID:         "lst-1",
		OwnerID:    "owner-1",
		ItemID:     "item-1",
		Platform:   "momox",
		ExternalID: "ext-momox",
		Status:     model.ListingActive,
	}}}
}

// A transient failure while recording the sale must leave the item
// retryable: the next delivery finishes the flip and still fans out
// the takedown.
func TestSaleTransientRecordFailureStaysRetryable(t *testing.T) {
	listings := activeMomoxListing()
	listings.closeErr = errors.New("timeout")
	h, store, pub := newSaleFixture(itemModel.StatusListed, listings)

	err := h.ProcessTask(context.Background(), saleTask(t))

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "a flaky store write must not dead-letter the sale")
	assert.Equal(t, itemModel.StatusListed, store.status, "the flip to sold waits for the record")
	assert.Empty(t, pub.msgs)

	err = h.ProcessTask(context.Background(), saleTask(t))

	require.NoError(t, err)
	assert.Equal(t, itemModel.StatusSold, store.status)
	assert.Equal(t, model.ListingSold, listings.listings[0].Status)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, shared.TypeDelistItem, pub.msgs[0].Type)
	assert.Equal(t, shared.QueueHigh, pub.msgs[0].Queue)
	payload := pub.msgs[0].Payload.(shared.DelistPayload)
	assert.Equal(t, "momox", payload.ExceptPlatform)
	assert.Equal(t, shared.DelistReasonSold, payload.Reason)
}

// A redelivery arriving after the item flipped to sold skips the work
// but still resends the takedown, so a lost fan-out cannot orphan the
// other platforms.
func TestSaleDuplicateAfterFlipResendsTakedown(t *testing.T) {
	listings := activeMomoxListing()
	h, store, pub := newSaleFixture(itemModel.StatusSold, listings)

	err := h.ProcessTask(context.Background(), saleTask(t))

	require.NoError(t, err, "a duplicate sale acknowledges")
	assert.Equal(t, itemModel.StatusSold, store.status)
	assert.Zero(t, listings.findCalls, "the gate keeps the duplicate out of the work")
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, shared.TypeDelistItem, pub.msgs[0].Type)
	payload := pub.msgs[0].Payload.(shared.DelistPayload)
	assert.Equal(t, "momox", payload.ExceptPlatform)
}

func TestSaleWaitsForListingStatus(t *testing.T) {
	h, store, pub := newSaleFixture(itemModel.StatusPriced, activeMomoxListing())

	err := h.ProcessTask(context.Background(), saleTask(t))

	require.NoError(t, err)
	assert.Equal(t, itemModel.StatusPriced, store.status, "a sale before listing completes must not flip the item")
	require.Len(t, pub.msgs, 1, "the takedown still goes out in case listings already exist")
	assert.Equal(t, shared.TypeDelistItem, pub.msgs[0].Type)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1.0}
}
