package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ingestionService "bookresale-backend/internal/domains/ingestion/service"
	itemModel "bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/infrastructure/llm"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
	"bookresale-backend/pkg/retry"
)

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

type memImages struct {
	objects map[string][]byte
}

func (m *memImages) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return key, nil
}

func (m *memImages) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return data, nil
}

func (m *memImages) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memImages) DeleteByPrefix(_ context.Context, _ string) error { return nil }

type cannedCompleter struct {
	reply string
	err   error
}

func (c *cannedCompleter) Complete(_ context.Context, _ llm.Request) (string, error) {
	return c.reply, c.err
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func ingestTask(t *testing.T) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(shared.IngestionPayload{
		OwnerID:   "owner-1",
		ItemID:    "item-1",
		ImageRefs: []string{"items/owner-1/item-1/0.png"},
	})
	require.NoError(t, err)
	return asynq.NewTask(shared.TypeIngestItem, data)
}

func newIngestFixture(t *testing.T, reply string) (*IngestHandler, *stageStore, *capturePublisher) {
	t.Helper()
	store := &stageStore{status: itemModel.StatusPendingAnalysis}
	pub := &capturePublisher{}
	images := &memImages{objects: map[string][]byte{"items/owner-1/item-1/0.png": tinyPNG(t)}}
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1.0}
	svc := ingestionService.NewService(&cannedCompleter{reply: reply}, images, policy, 1024)
	return NewIngestHandler(pipeline.NewOrchestrator(store, pub), svc), store, pub
}

func TestIngestHappyPathFansOut(t *testing.T) {
	h, store, pub := newIngestFixture(t, `{"title": "Dune", "authors": ["Frank Herbert"],
		"isbn_13": "9780441172719", "publication_year": 1965, "confidence": 0.9}`)

	err := h.ProcessTask(context.Background(), ingestTask(t))

	require.NoError(t, err)
	assert.Equal(t, itemModel.StatusIngested, store.status)
	require.Len(t, store.patches, 1)
	require.NotNil(t, store.patches[0].Metadata)
	assert.Equal(t, "Dune", store.patches[0].Metadata.Title)
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, shared.TypeAssessCondition, pub.msgs[0].Type)
	assert.Equal(t, shared.TypeResearchPrice, pub.msgs[1].Type)
}

// Photos the model cannot identify are a negative answer, not a
// processing error: the item parks in review for its owner instead of
// dead-lettering.
func TestIngestParksUnrecognizedPhotosForReview(t *testing.T) {
	h, store, pub := newIngestFixture(t, "I do not see a book in these photos, only a coffee mug.")

	err := h.ProcessTask(context.Background(), ingestTask(t))

	require.NoError(t, err, "an unrecognized book must not be treated as a stage failure")
	assert.Equal(t, itemModel.StatusNeedsReview, store.status)
	require.Len(t, store.patches, 1)
	require.NotNil(t, store.patches[0].LastErrorKind)
	assert.Equal(t, "INGESTION_NO_DATA", *store.patches[0].LastErrorKind)
	assert.Empty(t, pub.msgs, "nothing downstream runs until the review resolves")
}
