package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/domains/item/repository"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/infrastructure/storage"
	"bookresale-backend/internal/shared"
)

// Upload is one photo arriving with a create request.
type Upload struct {
	Data        []byte
	ContentType string
}

// Service owns the item lifecycle outside the pipeline stages: intake,
// reads, reprocessing, delisting and deletion. Status changes it makes
// go through the same repository rules the stages use.
type Service struct {
	repo      repository.RepositoryInterface
	images    storage.ImageStore
	publisher queue.Publisher
}

func NewService(repo repository.RepositoryInterface, images storage.ImageStore, publisher queue.Publisher) *Service {
	return &Service{repo: repo, images: images, publisher: publisher}
}

// CreateItem stores the photos, creates the record in pending_analysis
// and kicks off identification.
func (s *Service) CreateItem(ctx context.Context, ownerID string, uploads []Upload) (*model.Item, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("at least one photo is required")
	}

	itemID := uuid.New().String()
	refs := make([]string, 0, len(uploads))
	for i, upload := range uploads {
		key := fmt.Sprintf("items/%s/%s/%d%s", ownerID, itemID, i, extensionFor(upload.ContentType))
		if _, err := s.images.Upload(ctx, key, upload.Data, upload.ContentType); err != nil {
			// Roll back what already landed so a failed create leaves
			// no orphaned objects.
			s.cleanupPrefix(ctx, ownerID, itemID)
			return nil, fmt.Errorf("upload photo %d: %w", i, err)
		}
		refs = append(refs, key)
	}

	item := &model.Item{
		OwnerID:   ownerID,
		ID:        itemID,
		Status:    model.StatusPendingAnalysis,
		ImageRefs: refs,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		s.cleanupPrefix(ctx, ownerID, itemID)
		return nil, err
	}

	if err := s.publisher.Publish(ctx, ingestMessage(ownerID, itemID, refs)); err != nil {
		// The record exists; the sweep re-enqueues items stuck in
		// pending_analysis, so the intake still succeeds.
		log.Error().Err(err).Str("item_id", itemID).Msg("failed to enqueue ingestion")
	}

	log.Info().
		Str("owner_id", ownerID).
		Str("item_id", itemID).
		Int("photos", len(refs)).
		Msg("item created")
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, ownerID, itemID string) (*model.Item, error) {
	return s.repo.GetByID(ctx, ownerID, itemID)
}

func (s *Service) ListItems(ctx context.Context, ownerID string, limit, offset int) ([]model.Item, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// Reprocess re-runs identification on an item that failed or needs
// review. The stage gate rejects items in states that must not be
// re-ingested.
func (s *Service) Reprocess(ctx context.Context, ownerID, itemID string) error {
	item, err := s.repo.GetByID(ctx, ownerID, itemID)
	if err != nil {
		return err
	}

	switch item.Status {
	case model.StatusPendingAnalysis, model.StatusFailed, model.StatusNeedsReview, model.StatusAnalysisFailed:
	default:
		return fmt.Errorf("%w: cannot reprocess item in status %s", model.ErrInvalidTransition, item.Status)
	}

	return s.publisher.Publish(ctx, ingestMessage(ownerID, itemID, item.ImageRefs))
}

// Delist asks for a user-requested takedown of a listed item.
func (s *Service) Delist(ctx context.Context, ownerID, itemID string) error {
	item, err := s.repo.GetByID(ctx, ownerID, itemID)
	if err != nil {
		return err
	}
	if item.Status != model.StatusListed {
		return fmt.Errorf("%w: cannot delist item in status %s", model.ErrInvalidTransition, item.Status)
	}

	return s.publisher.Publish(ctx, queue.Message{
		Type:  shared.TypeDelistItem,
		Queue: shared.QueueHigh,
		Payload: shared.DelistPayload{
			OwnerID: ownerID,
			ItemID:  itemID,
			Reason:  shared.DelistReasonUser,
		},
	})
}

// DeleteItem removes the record and its photos. Listed items must be
// delisted first so no orphaned marketplace listing survives the row.
func (s *Service) DeleteItem(ctx context.Context, ownerID, itemID string) error {
	item, err := s.repo.GetByID(ctx, ownerID, itemID)
	if err != nil {
		return err
	}
	if item.Status == model.StatusListed {
		return fmt.Errorf("%w: delist the item before deleting it", model.ErrInvalidTransition)
	}

	if err := s.repo.Delete(ctx, ownerID, itemID); err != nil {
		return err
	}
	s.cleanupPrefix(ctx, ownerID, itemID)
	return nil
}

func (s *Service) cleanupPrefix(ctx context.Context, ownerID, itemID string) {
	prefix := fmt.Sprintf("items/%s/%s/", ownerID, itemID)
	if err := s.images.DeleteByPrefix(ctx, prefix); err != nil {
		log.Error().Err(err).Str("prefix", prefix).Msg("failed to delete item photos")
	}
}

func ingestMessage(ownerID, itemID string, refs []string) queue.Message {
	return queue.Message{
		Type:  shared.TypeIngestItem,
		Queue: shared.QueueHigh,
		Payload: shared.IngestionPayload{
			OwnerID:   ownerID,
			ItemID:    itemID,
			ImageRefs: refs,
		},
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
