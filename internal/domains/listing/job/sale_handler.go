package job

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	itemModel "bookresale-backend/internal/domains/item/model"
	listingService "bookresale-backend/internal/domains/listing/service"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
)

// SaleHandler finalizes a marketplace sale: the item goes to sold and
// the remaining platforms get a takedown message.
type SaleHandler struct {
	orchestrator *pipeline.Orchestrator
	service      *listingService.Service
}

func NewSaleHandler(orchestrator *pipeline.Orchestrator, service *listingService.Service) *SaleHandler {
	return &SaleHandler{orchestrator: orchestrator, service: service}
}

func (h *SaleHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.SalePayload
	if err := pipeline.DecodeTask(task, &payload); err != nil {
		log.Error().Err(err).Msg("invalid sale payload")
		return err
	}

	stage := pipeline.Stage{
		Name: "sale",
		// Sold is terminal, so the gate re-asserts listed as the
		// in-flight marker: the flip to sold happens only after the
		// sale record lands, and a transient failure leaves the item
		// listed for redelivery.
		Gate: &pipeline.Gate{
			InFlight:    itemModel.StatusListed,
			AllowedFrom: []itemModel.Status{itemModel.StatusListed},
		},
		Work: func(ctx context.Context, id pipeline.Identity) (*pipeline.Result, error) {
			if err := h.service.RecordSale(ctx, id.OwnerID, id.ItemID, payload.Platform, payload.ListingID); err != nil {
				return nil, err
			}

			log.Info().
				Str("owner_id", id.OwnerID).
				Str("item_id", id.ItemID).
				Str("platform", payload.Platform).
				Str("sale_price", payload.SalePrice.String()).
				Msg("sale recorded")

			return &pipeline.Result{
				Status: itemModel.StatusSold,
				Next:   []queue.Message{delistMessage(id, payload.Platform)},
			}, nil
		},
		ReEmitOnSkip: func(id pipeline.Identity) []queue.Message {
			// The item already flipped; resending the takedown keeps
			// the other platforms' close from being lost with the
			// winner's fan-out.
			return []queue.Message{delistMessage(id, payload.Platform)}
		},
	}

	return h.orchestrator.Run(ctx, stage, pipeline.Identity{
		OwnerID: payload.OwnerID,
		ItemID:  payload.ItemID,
	})
}

func delistMessage(id pipeline.Identity, soldOn string) queue.Message {
	return queue.Message{
		Type:  shared.TypeDelistItem,
		Queue: shared.QueueHigh,
		Payload: shared.DelistPayload{
			OwnerID:        id.OwnerID,
			ItemID:         id.ItemID,
			ExceptPlatform: soldOn,
			Reason:         shared.DelistReasonSold,
		},
	}
}
