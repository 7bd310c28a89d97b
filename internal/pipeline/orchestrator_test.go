package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/shared"
)

type applyCall struct {
	requested model.Status
	patch     *model.Patch
}

// memStore implements Repository with the same CAS semantics as the
// postgres row: one mutex-guarded read-check-write per call.
type memStore struct {
	mu       sync.Mutex
	status   model.Status
	missing  bool
	applies  []applyCall
	applyErr error
}

func (s *memStore) AcquireStage(_ context.Context, _, _ string, inflight model.Status, allowedFrom []model.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missing {
		return false, model.ErrItemNotFound
	}
	for _, a := range allowedFrom {
		if s.status == a {
			s.status = inflight
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ApplyStatus(_ context.Context, _, _ string, requested model.Status, patch *model.Patch) (model.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return "", s.applyErr
	}
	next, err := model.Next(s.status, requested)
	if err != nil {
		return "", err
	}
	s.status = next
	s.applies = append(s.applies, applyCall{requested: requested, patch: patch})
	return next, nil
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *memPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func ingestGate() *Gate {
	return &Gate{
		InFlight: model.StatusIngesting,
		AllowedFrom: []model.Status{
			model.StatusPendingAnalysis, model.StatusFailed,
			model.StatusNeedsReview, model.StatusAnalysisFailed,
		},
	}
}

func testIdentity() Identity {
	return Identity{OwnerID: "owner-1", ItemID: "item-1"}
}

func TestRunHappyPath(t *testing.T) {
	store := &memStore{status: model.StatusPendingAnalysis}
	pub := &memPublisher{}
	o := NewOrchestrator(store, pub)

	workCalls := 0
	stage := Stage{
		Name:       "ingestion",
		Gate:       ingestGate(),
		FailStatus: model.StatusAnalysisFailed,
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			workCalls++
			return &Result{
				Status: model.StatusIngested,
				Patch:  &model.Patch{Metadata: &model.Metadata{Title: "Dune"}},
				Next: []queue.Message{
					{Type: shared.TypeAssessCondition, Payload: shared.ConditionPayload{OwnerID: "owner-1", ItemID: "item-1", ImageRefs: []string{"k"}}},
				},
			}, nil
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.NoError(t, err)
	assert.Equal(t, 1, workCalls)
	assert.Equal(t, model.StatusIngested, store.status)
	require.Len(t, store.applies, 1)
	assert.Equal(t, "Dune", store.applies[0].patch.Metadata.Title)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, shared.TypeAssessCondition, pub.msgs[0].Type)
}

func TestRunSkipsWhenGateAlreadyHandled(t *testing.T) {
	store := &memStore{status: model.StatusIngested}
	pub := &memPublisher{}
	o := NewOrchestrator(store, pub)

	stage := Stage{
		Name: "ingestion",
		Gate: ingestGate(),
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			t.Fatal("work must not run when the gate skips")
			return nil, nil
		},
		ReEmitOnSkip: func(id Identity) []queue.Message {
			return []queue.Message{{Type: shared.TypeAssessCondition, Payload: shared.ConditionPayload{OwnerID: id.OwnerID, ItemID: id.ItemID, ImageRefs: []string{"k"}}}}
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.NoError(t, err, "a skipped duplicate acknowledges")
	assert.Equal(t, model.StatusIngested, store.status)
	require.Len(t, pub.msgs, 1, "skip re-emits the downstream trigger")
}

// Two concurrent deliveries for the same item: exactly one acquires.
func TestRunDuplicateDeliverySingleWinner(t *testing.T) {
	store := &memStore{status: model.StatusPendingAnalysis}
	pub := &memPublisher{}
	o := NewOrchestrator(store, pub)

	var mu sync.Mutex
	workCalls := 0
	stage := Stage{
		Name:       "ingestion",
		Gate:       ingestGate(),
		FailStatus: model.StatusAnalysisFailed,
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			mu.Lock()
			workCalls++
			mu.Unlock()
			return &Result{Status: model.StatusIngested}, nil
		},
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = o.Run(context.Background(), stage, testIdentity())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, workCalls, "only the gate winner runs work")
	assert.Equal(t, model.StatusIngested, store.status)
}

func TestRunTransientErrorPropagatesForRedelivery(t *testing.T) {
	store := &memStore{status: model.StatusPendingAnalysis}
	o := NewOrchestrator(store, &memPublisher{})

	stage := Stage{
		Name:       "ingestion",
		Gate:       ingestGate(),
		FailStatus: model.StatusAnalysisFailed,
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			return nil, errors.New("429 rate limited")
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "transient errors must stay retryable")
	assert.Empty(t, store.applies, "no failure status written for transient errors")
}

func TestRunFatalErrorWritesDiagnosticsAndDeadLetters(t *testing.T) {
	store := &memStore{status: model.StatusPendingAnalysis}
	o := NewOrchestrator(store, &memPublisher{})

	stage := Stage{
		Name:       "ingestion",
		Gate:       ingestGate(),
		FailStatus: model.StatusAnalysisFailed,
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			return nil, Fatal("INGESTION_BAD_PAYLOAD", errors.New("unparseable identification payload"))
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, model.StatusAnalysisFailed, store.status)
	require.Len(t, store.applies, 1)
	require.NotNil(t, store.applies[0].patch.LastErrorKind)
	assert.Equal(t, "INGESTION_BAD_PAYLOAD", *store.applies[0].patch.LastErrorKind)
	assert.Equal(t, "unparseable identification payload", *store.applies[0].patch.LastErrorMessage)
}

func TestRunInvalidTransitionDeadLetters(t *testing.T) {
	store := &memStore{status: model.StatusPendingAnalysis}
	o := NewOrchestrator(store, &memPublisher{})

	stage := Stage{
		Name: "ingestion",
		Gate: ingestGate(),
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			// Illegal: ingesting -> sold.
			return &Result{Status: model.StatusSold}, nil
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRunStatusConflictIsRetryable(t *testing.T) {
	store := &memStore{status: model.StatusPendingAnalysis, applyErr: model.ErrStatusConflict}
	o := NewOrchestrator(store, &memPublisher{})

	stage := Stage{
		Name: "ingestion",
		Gate: ingestGate(),
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			return &Result{Status: model.StatusIngested}, nil
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.ErrorIs(t, err, model.ErrStatusConflict)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestRunMissingItemDropsMessage(t *testing.T) {
	store := &memStore{missing: true}
	o := NewOrchestrator(store, &memPublisher{})

	stage := Stage{
		Name: "ingestion",
		Gate: ingestGate(),
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			t.Fatal("work must not run for a missing item")
			return nil, nil
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRunUngatedStage(t *testing.T) {
	store := &memStore{status: model.StatusIngested}
	pub := &memPublisher{}
	o := NewOrchestrator(store, pub)

	stage := Stage{
		Name: "price_research",
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			return &Result{}, nil
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.NoError(t, err)
	assert.Empty(t, store.applies, "ungated stage with empty status writes nothing")
}

func TestRunPublishFailureDoesNotFailStage(t *testing.T) {
	store := &memStore{status: model.StatusPendingAnalysis}
	pub := &memPublisher{err: errors.New("redis down")}
	o := NewOrchestrator(store, pub)

	stage := Stage{
		Name: "ingestion",
		Gate: ingestGate(),
		Work: func(ctx context.Context, id Identity) (*Result, error) {
			return &Result{
				Status: model.StatusIngested,
				Next:   []queue.Message{{Type: shared.TypeAssessCondition}},
			}, nil
		},
	}

	err := o.Run(context.Background(), stage, testIdentity())

	require.NoError(t, err, "the sweep recovers lost triggers, publish failure only logs")
	assert.Equal(t, model.StatusIngested, store.status)
}

func TestDecodeTask(t *testing.T) {
	valid := asynq.NewTask(shared.TypeIngestItem, []byte(`{"ownerId":"o","itemId":"i","imageRefs":["a.jpg"]}`))
	var p shared.IngestionPayload
	require.NoError(t, DecodeTask(valid, &p))
	assert.Equal(t, "i", p.ItemID)

	garbage := asynq.NewTask(shared.TypeIngestItem, []byte(`not json`))
	err := DecodeTask(garbage, &shared.IngestionPayload{})
	require.ErrorIs(t, err, asynq.SkipRetry)

	missing := asynq.NewTask(shared.TypeIngestItem, []byte(`{"ownerId":"o"}`))
	err = DecodeTask(missing, &shared.IngestionPayload{})
	require.ErrorIs(t, err, asynq.SkipRetry)
}
