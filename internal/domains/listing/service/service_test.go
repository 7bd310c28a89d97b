package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itemModel "bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/domains/listing/model"
	"bookresale-backend/internal/domains/listing/platform"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/pkg/retry"
)

type memListings struct {
	rows      []*model.Listing
	createErr error
	nextID    int
}

func (m *memListings) Create(_ context.Context, l *model.Listing) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	l.ID = fmt.Sprintf("lst-%d", m.nextID)
	l.CreatedAt = time.Now()
	m.rows = append(m.rows, l)
	return nil
}

func (m *memListings) ActiveByItem(_ context.Context, ownerID, itemID string) ([]*model.Listing, error) {
	var out []*model.Listing
	for _, l := range m.rows {
		if l.OwnerID == ownerID && l.ItemID == itemID && l.Status == model.ListingActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memListings) FindActive(_ context.Context, ownerID, itemID, platformName string) (*model.Listing, error) {
	for _, l := range m.rows {
		if l.OwnerID == ownerID && l.ItemID == itemID && l.Platform == platformName && l.Status == model.ListingActive {
			return l, nil
		}
	}
	return nil, nil
}

func (m *memListings) Close(_ context.Context, id string, status model.ListingStatus) error {
	for _, l := range m.rows {
		if l.ID == id && l.Status == model.ListingActive {
			l.Status = status
			now := time.Now()
			l.ClosedAt = &now
		}
	}
	return nil
}

type fakePlatform struct {
	created   []string
	deleted   []string
	failOn    map[string]error
	deleteErr error
}

func (f *fakePlatform) CreateListing(_ context.Context, name string, req platform.CreateRequest) (*platform.CreateResult, error) {
	if err := f.failOn[name]; err != nil {
		return nil, err
	}
	f.created = append(f.created, name)
	return &platform.CreateResult{
		ExternalID: "ext-" + name,
		URL:        "https://" + name + ".example/l/ext-" + name,
	}, nil
}

func (f *fakePlatform) DeleteListing(_ context.Context, name, externalID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, name+"/"+externalID)
	return nil
}

type fixedCompleter struct {
	reply string
	err   error
}

func (f *fixedCompleter) Complete(_ context.Context, _ llm.Request) (string, error) {
	return f.reply, f.err
}

func quickPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1.0}
}

func listableItem() *itemModel.Item {
	return &itemModel.Item{
		OwnerID:   "owner-1",
		ID:        "item-1",
		Status:    itemModel.StatusPriced,
		ImageRefs: []string{"items/owner-1/item-1/0.jpg"},
		Metadata: &itemModel.Metadata{
			Title:   "Foucault's Pendulum",
			Authors: []string{"Umberto Eco"},
		},
		Condition: &itemModel.Condition{
			Grade:   itemModel.GradeVeryFine,
			Score:   8.5,
			Defects: []string{"faint spine crease"},
		},
		Commercial: &itemModel.Commercial{
			RecommendedPrice: decimal.RequireFromString("21.50"),
			FloorPrice:       decimal.RequireFromString("15.00"),
			Currency:         "EUR",
			Strategy:         itemModel.StrategyBalanced,
		},
	}
}

func goodCopy() *fixedCompleter {
	return &fixedCompleter{reply: `{"title": "Foucault's Pendulum - Umberto Eco (very fine)",
		"description": "A well kept first paperback printing with a faint spine crease. Pages are clean and the binding is tight."}`}
}

func TestListItemCreatesOnEveryPlatform(t *testing.T) {
	store := &memListings{}
	client := &fakePlatform{}
	s := NewService(store, client, goodCopy(), quickPolicy(), []string{"momox", "ebay"})

	created, err := s.ListItem(context.Background(), listableItem(), nil)

	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.ElementsMatch(t, []string{"momox", "ebay"}, client.created)
	assert.Equal(t, "ext-momox", created[0].ExternalID)
	assert.Equal(t, model.ListingActive, created[0].Status)
	assert.True(t, created[0].Price.Equal(decimal.RequireFromString("21.50")))
}

func TestListItemSkipsPlatformsAlreadyListed(t *testing.T) {
	store := &memListings{}
	client := &fakePlatform{}
	s := NewService(store, client, goodCopy(), quickPolicy(), []string{"momox", "ebay"})

	require.NoError(t, store.Create(context.Background(), &model.Listing{
		OwnerID: "owner-1", ItemID: "item-1", Platform: "momox",
		ExternalID: "ext-old", Status: model.ListingActive,
	}))

	created, err := s.ListItem(context.Background(), listableItem(), nil)

	require.NoError(t, err)
	require.Len(t, created, 1, "only the missing platform is filled in")
	assert.Equal(t, []string{"ebay"}, client.created)
}

func TestListItemPartialFailureReturnsError(t *testing.T) {
	store := &memListings{}
	client := &fakePlatform{failOn: map[string]error{"ebay": errors.New("marketplace 503")}}
	s := NewService(store, client, goodCopy(), quickPolicy(), []string{"momox", "ebay"})

	created, err := s.ListItem(context.Background(), listableItem(), nil)

	require.Error(t, err, "redelivery must retry the failed platform")
	require.Len(t, created, 1, "the successful platform keeps its listing")
	assert.Equal(t, []string{"momox"}, client.created)
}

func TestListItemCompensatesWhenRecordWriteFails(t *testing.T) {
	store := &memListings{createErr: errors.New("db down")}
	client := &fakePlatform{}
	s := NewService(store, client, goodCopy(), quickPolicy(), []string{"momox"})

	_, err := s.ListItem(context.Background(), listableItem(), nil)

	require.Error(t, err)
	assert.Equal(t, []string{"momox/ext-momox"}, client.deleted,
		"unrecordable marketplace listing is taken back down")
}

func TestListItemRequiresPipelineOutputs(t *testing.T) {
	s := NewService(&memListings{}, &fakePlatform{}, goodCopy(), quickPolicy(), []string{"momox"})

	bare := listableItem()
	bare.Commercial = nil
	_, err := s.ListItem(context.Background(), bare, nil)

	var fe *pipeline.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "LISTING_NOT_READY", fe.Kind)
}

func TestListItemWithoutPlatformsIsPermanent(t *testing.T) {
	s := NewService(&memListings{}, &fakePlatform{}, goodCopy(), quickPolicy(), nil)

	_, err := s.ListItem(context.Background(), listableItem(), nil)

	var fe *pipeline.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "LISTING_NO_PLATFORMS", fe.Kind)
}

func TestListItemFallsBackToTemplateCopy(t *testing.T) {
	store := &memListings{}
	client := &fakePlatform{}
	broken := &fixedCompleter{err: errors.New("model unavailable")}
	s := NewService(store, client, broken, quickPolicy(), []string{"momox"})

	created, err := s.ListItem(context.Background(), listableItem(), nil)

	require.NoError(t, err, "copywriting is best effort")
	require.Len(t, created, 1)
}

func TestRecordSaleClosesTheListing(t *testing.T) {
	store := &memListings{}
	s := NewService(store, &fakePlatform{}, goodCopy(), quickPolicy(), []string{"momox"})
	require.NoError(t, store.Create(context.Background(), &model.Listing{
		OwnerID: "owner-1", ItemID: "item-1", Platform: "momox",
		ExternalID: "ext-momox", Status: model.ListingActive,
	}))

	err := s.RecordSale(context.Background(), "owner-1", "item-1", "momox", "ext-momox")

	require.NoError(t, err)
	assert.Equal(t, model.ListingSold, store.rows[0].Status)
	assert.NotNil(t, store.rows[0].ClosedAt)
}

func TestRecordSaleWithoutActiveListingIsQuiet(t *testing.T) {
	s := NewService(&memListings{}, &fakePlatform{}, goodCopy(), quickPolicy(), []string{"momox"})

	err := s.RecordSale(context.Background(), "owner-1", "item-1", "momox", "ext-gone")

	require.NoError(t, err, "a duplicate or early sale report is not an error")
}

func TestDelistSkipsTheSellingPlatform(t *testing.T) {
	store := &memListings{}
	client := &fakePlatform{}
	s := NewService(store, client, goodCopy(), quickPolicy(), []string{"momox", "ebay", "booklooker"})
	for _, p := range []string{"momox", "ebay", "booklooker"} {
		require.NoError(t, store.Create(context.Background(), &model.Listing{
			OwnerID: "owner-1", ItemID: "item-1", Platform: p,
			ExternalID: "ext-" + p, Status: model.ListingActive,
		}))
	}

	closed, err := s.Delist(context.Background(), "owner-1", "item-1", "momox")

	require.NoError(t, err)
	assert.Equal(t, 2, closed)
	assert.ElementsMatch(t, []string{"ebay/ext-ebay", "booklooker/ext-booklooker"}, client.deleted)

	still, _ := store.FindActive(context.Background(), "owner-1", "item-1", "momox")
	assert.NotNil(t, still, "the selling platform's record is left for RecordSale")
}

func TestDelistTakedownFailureReportsError(t *testing.T) {
	store := &memListings{}
	client := &fakePlatform{deleteErr: errors.New("504 gateway timeout")}
	s := NewService(store, client, goodCopy(), quickPolicy(), []string{"momox"})
	require.NoError(t, store.Create(context.Background(), &model.Listing{
		OwnerID: "owner-1", ItemID: "item-1", Platform: "momox",
		ExternalID: "ext-momox", Status: model.ListingActive,
	}))

	closed, err := s.Delist(context.Background(), "owner-1", "item-1", "")

	require.Error(t, err)
	assert.Equal(t, 0, closed)

	still, _ := store.FindActive(context.Background(), "owner-1", "item-1", "momox")
	assert.NotNil(t, still, "a failed takedown keeps the record active for the retry")
}

func TestFallbackDescriptionMentionsDefects(t *testing.T) {
	desc := fallbackDescription(listableItem())

	assert.Contains(t, desc, "Foucault's Pendulum")
	assert.Contains(t, desc, "very fine")
	assert.Contains(t, desc, "faint spine crease")
}
