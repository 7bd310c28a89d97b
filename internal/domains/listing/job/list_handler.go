package job

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	itemModel "bookresale-backend/internal/domains/item/model"
	itemRepository "bookresale-backend/internal/domains/item/repository"
	listingService "bookresale-backend/internal/domains/listing/service"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
)

// ListHandler publishes a priced item to the marketplaces.
type ListHandler struct {
	orchestrator *pipeline.Orchestrator
	service      *listingService.Service
	items        itemRepository.RepositoryInterface
}

func NewListHandler(orchestrator *pipeline.Orchestrator, service *listingService.Service, items itemRepository.RepositoryInterface) *ListHandler {
	return &ListHandler{orchestrator: orchestrator, service: service, items: items}
}

func (h *ListHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.ListingPayload
	if err := pipeline.DecodeTask(task, &payload); err != nil {
		log.Error().Err(err).Msg("invalid listing payload")
		return err
	}

	stage := pipeline.Stage{
		Name: "listing",
		// Like pricing, listing keeps its source status as the
		// in-flight marker; per-platform dedupe in the service makes
		// redelivery safe.
		Gate: &pipeline.Gate{
			InFlight:    itemModel.StatusPriced,
			AllowedFrom: []itemModel.Status{itemModel.StatusPriced},
		},
		FailStatus: itemModel.StatusFailed,
		Work: func(ctx context.Context, id pipeline.Identity) (*pipeline.Result, error) {
			item, err := h.items.GetByID(ctx, id.OwnerID, id.ItemID)
			if err != nil {
				return nil, err
			}

			created, err := h.service.ListItem(ctx, item, payload.Platforms)
			if err != nil {
				if len(created) > 0 {
					// Partially listed: keep the item on priced and
					// let redelivery fill the remaining platforms.
					log.Warn().Err(err).
						Str("item_id", id.ItemID).
						Int("created", len(created)).
						Msg("partial listing, will retry remaining platforms")
				}
				return nil, err
			}

			return &pipeline.Result{Status: itemModel.StatusListed}, nil
		},
	}

	return h.orchestrator.Run(ctx, stage, pipeline.Identity{
		OwnerID: payload.OwnerID,
		ItemID:  payload.ItemID,
	})
}
