package job

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	itemModel "bookresale-backend/internal/domains/item/model"
	itemRepository "bookresale-backend/internal/domains/item/repository"
	pricingService "bookresale-backend/internal/domains/pricing/service"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
)

// PriceHandler runs the pricing stage and hands the item to listing.
type PriceHandler struct {
	orchestrator *pipeline.Orchestrator
	service      *pricingService.Service
	items        itemRepository.RepositoryInterface
}

func NewPriceHandler(orchestrator *pipeline.Orchestrator, service *pricingService.Service, items itemRepository.RepositoryInterface) *PriceHandler {
	return &PriceHandler{orchestrator: orchestrator, service: service, items: items}
}

func (h *PriceHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.PricingPayload
	if err := pipeline.DecodeTask(task, &payload); err != nil {
		log.Error().Err(err).Msg("invalid pricing payload")
		return err
	}

	stage := pipeline.Stage{
		Name: "pricing",
		// Pricing has no dedicated in-flight status; the gate only
		// checks readiness, and the apply CAS resolves races.
		Gate: &pipeline.Gate{
			InFlight: itemModel.StatusConditionAssessed,
			AllowedFrom: []itemModel.Status{
				itemModel.StatusConditionAssessed,
				itemModel.StatusPricingFailed,
			},
		},
		FailStatus: itemModel.StatusPricingFailed,
		Work: func(ctx context.Context, id pipeline.Identity) (*pipeline.Result, error) {
			item, err := h.items.GetByID(ctx, id.OwnerID, id.ItemID)
			if err != nil {
				return nil, err
			}

			decision, err := h.service.Price(ctx, item)
			if err != nil {
				return nil, err
			}

			return &pipeline.Result{
				Status: itemModel.StatusPriced,
				Patch:  &itemModel.Patch{Commercial: decision.Commercial()},
				Next:   []queue.Message{listingMessage(id)},
			}, nil
		},
		ReEmitOnSkip: func(id pipeline.Identity) []queue.Message {
			return []queue.Message{listingMessage(id)}
		},
	}

	return h.orchestrator.Run(ctx, stage, pipeline.Identity{
		OwnerID: payload.OwnerID,
		ItemID:  payload.ItemID,
	})
}

func listingMessage(id pipeline.Identity) queue.Message {
	return queue.Message{
		Type:  shared.TypeListItem,
		Queue: shared.QueueLow,
		Payload: shared.ListingPayload{
			OwnerID: id.OwnerID,
			ItemID:  id.ItemID,
		},
	}
}
