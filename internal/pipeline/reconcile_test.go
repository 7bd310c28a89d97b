package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/shared"
)

// sweepStore extends the orchestrator's memStore with the stuck query.
type sweepStore struct {
	memStore
	stuck    []model.Item
	stuckErr error
}

func (s *sweepStore) StuckInFlight(_ context.Context, _ []model.Status, _ time.Duration) ([]model.Item, error) {
	return s.stuck, s.stuckErr
}

func stuckItem(status model.Status) model.Item {
	return model.Item{
		OwnerID:   "owner-1",
		ID:        "item-1",
		Status:    status,
		ImageRefs: []string{"items/owner-1/item-1/0.jpg"},
	}
}

func TestSweepRepublishesLostTriggers(t *testing.T) {
	cases := []struct {
		status    model.Status
		wantType  string
		wantQueue string
	}{
		{model.StatusPendingAnalysis, shared.TypeIngestItem, shared.QueueHigh},
		{model.StatusIngested, shared.TypeAssessCondition, shared.QueueDefault},
		{model.StatusConditionAssessed, shared.TypePriceItem, shared.QueueDefault},
		{model.StatusPriced, shared.TypeListItem, shared.QueueLow},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			store := &sweepStore{
				memStore: memStore{status: tc.status},
				stuck:    []model.Item{stuckItem(tc.status)},
			}
			pub := &memPublisher{}
			r := NewReconciler(store, pub, time.Hour)

			require.NoError(t, r.ProcessTask(context.Background(), nil))

			assert.Empty(t, store.applies, "a lost trigger needs no status change")
			require.Len(t, pub.msgs, 1)
			assert.Equal(t, tc.wantType, pub.msgs[0].Type)
			assert.Equal(t, tc.wantQueue, pub.msgs[0].Queue)
		})
	}
}

func TestSweepResetsDeadInFlightStages(t *testing.T) {
	cases := []struct {
		status   model.Status
		reset    model.Status
		wantType string
	}{
		{model.StatusIngesting, model.StatusAnalysisFailed, shared.TypeIngestItem},
		{model.StatusProcessingCondition, model.StatusConditionFailed, shared.TypeAssessCondition},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			store := &sweepStore{
				memStore: memStore{status: tc.status},
				stuck:    []model.Item{stuckItem(tc.status)},
			}
			pub := &memPublisher{}
			r := NewReconciler(store, pub, time.Hour)

			require.NoError(t, r.ProcessTask(context.Background(), nil))

			require.Len(t, store.applies, 1, "a dead in-flight stage is moved to its failure status")
			assert.Equal(t, tc.reset, store.applies[0].requested)
			require.NotNil(t, store.applies[0].patch.LastErrorKind)
			assert.Equal(t, "STAGE_STUCK", *store.applies[0].patch.LastErrorKind)
			assert.Equal(t, tc.reset, store.status, "failure status reopens the stage gate")

			require.Len(t, pub.msgs, 1)
			assert.Equal(t, tc.wantType, pub.msgs[0].Type)
		})
	}
}

func TestSweepSkipsTriggerWhenResetFails(t *testing.T) {
	store := &sweepStore{
		memStore: memStore{status: model.StatusIngesting, applyErr: errors.New("db down")},
		stuck:    []model.Item{stuckItem(model.StatusIngesting)},
	}
	pub := &memPublisher{}
	r := NewReconciler(store, pub, time.Hour)

	require.NoError(t, r.ProcessTask(context.Background(), nil), "per-item failures wait for the next sweep")
	assert.Empty(t, pub.msgs, "no trigger without a successful reset")
}

func TestSweepQueryFailurePropagates(t *testing.T) {
	store := &sweepStore{stuckErr: errors.New("query timeout")}
	r := NewReconciler(store, &memPublisher{}, time.Hour)

	require.Error(t, r.ProcessTask(context.Background(), nil))
}

func TestSweepEmptyIsQuiet(t *testing.T) {
	store := &sweepStore{}
	pub := &memPublisher{}
	r := NewReconciler(store, pub, time.Hour)

	require.NoError(t, r.ProcessTask(context.Background(), nil))
	assert.Empty(t, pub.msgs)
}
