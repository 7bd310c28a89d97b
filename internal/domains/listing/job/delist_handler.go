package job

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	itemModel "bookresale-backend/internal/domains/item/model"
	listingService "bookresale-backend/internal/domains/listing/service"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
)

// DelistHandler takes the item's listings down. Ungated: closing an
// already closed listing is a no-op, so duplicates are harmless.
type DelistHandler struct {
	orchestrator *pipeline.Orchestrator
	service      *listingService.Service
}

func NewDelistHandler(orchestrator *pipeline.Orchestrator, service *listingService.Service) *DelistHandler {
	return &DelistHandler{orchestrator: orchestrator, service: service}
}

func (h *DelistHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.DelistPayload
	if err := pipeline.DecodeTask(task, &payload); err != nil {
		log.Error().Err(err).Msg("invalid delist payload")
		return err
	}

	stage := pipeline.Stage{
		Name: "delist",
		Work: func(ctx context.Context, id pipeline.Identity) (*pipeline.Result, error) {
			closed, err := h.service.Delist(ctx, id.OwnerID, id.ItemID, payload.ExceptPlatform)
			if err != nil {
				return nil, err
			}

			log.Info().
				Str("owner_id", id.OwnerID).
				Str("item_id", id.ItemID).
				Str("reason", payload.Reason).
				Int("closed", closed).
				Msg("listings taken down")

			// A sale-triggered takedown leaves the item sold; only a
			// user-requested one moves it to delisted.
			if payload.Reason == shared.DelistReasonUser {
				return &pipeline.Result{Status: itemModel.StatusDelisted}, nil
			}
			return &pipeline.Result{}, nil
		},
	}

	return h.orchestrator.Run(ctx, stage, pipeline.Identity{
		OwnerID: payload.OwnerID,
		ItemID:  payload.ItemID,
	})
}
