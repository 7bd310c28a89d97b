package job

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	ingestionService "bookresale-backend/internal/domains/ingestion/service"
	itemModel "bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
)

// IngestHandler runs the identification stage: photos in, bibliographic
// metadata out, then fans out to condition assessment and market
// research.
type IngestHandler struct {
	orchestrator *pipeline.Orchestrator
	service      *ingestionService.Service
}

func NewIngestHandler(orchestrator *pipeline.Orchestrator, service *ingestionService.Service) *IngestHandler {
	return &IngestHandler{orchestrator: orchestrator, service: service}
}

func (h *IngestHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.IngestionPayload
	if err := pipeline.DecodeTask(task, &payload); err != nil {
		log.Error().Err(err).Msg("invalid ingestion payload")
		return err
	}

	stage := pipeline.Stage{
		Name: "ingestion",
		Gate: &pipeline.Gate{
			InFlight: itemModel.StatusIngesting,
			AllowedFrom: []itemModel.Status{
				itemModel.StatusPendingAnalysis,
				itemModel.StatusFailed,
				itemModel.StatusNeedsReview,
				itemModel.StatusAnalysisFailed,
			},
		},
		FailStatus: itemModel.StatusAnalysisFailed,
		Work: func(ctx context.Context, id pipeline.Identity) (*pipeline.Result, error) {
			ident, err := h.service.Identify(ctx, id.OwnerID, id.ItemID, payload.ImageRefs)
			if err != nil {
				return nil, err
			}
			if ident.Metadata == nil {
				// No book recognized is a negative answer, not a
				// processing error: park the item for a human look
				// instead of dead-lettering it.
				log.Warn().
					Str("owner_id", id.OwnerID).
					Str("item_id", id.ItemID).
					Int("images", len(payload.ImageRefs)).
					Msg("no book identified, routing to review")
				return &pipeline.Result{
					Status: itemModel.StatusNeedsReview,
					Patch:  itemModel.FailurePatch("INGESTION_NO_DATA", fmt.Sprintf("no book data identified from %d images", len(payload.ImageRefs))),
				}, nil
			}

			next := []queue.Message{conditionMessage(id, payload.ImageRefs)}
			if ident.Metadata.ISBN != "" || ident.Metadata.Title != "" {
				next = append(next, queue.Message{
					Type:  shared.TypeResearchPrice,
					Queue: shared.QueueLow,
					Payload: shared.PriceResearchPayload{
						OwnerID: id.OwnerID,
						ItemID:  id.ItemID,
						ISBN:    ident.Metadata.ISBN,
						Title:   ident.Metadata.Title,
					},
				})
			}

			return &pipeline.Result{
				Status: ingestionService.StatusFor(ident.Confidence),
				Patch:  &itemModel.Patch{Metadata: ident.Metadata},
				Next:   next,
			}, nil
		},
		ReEmitOnSkip: func(id pipeline.Identity) []queue.Message {
			// The duplicate carries the same refs the winner saw;
			// resending the condition trigger keeps the chain alive if
			// the winner's fan-out was lost.
			return []queue.Message{conditionMessage(id, payload.ImageRefs)}
		},
	}

	return h.orchestrator.Run(ctx, stage, pipeline.Identity{
		OwnerID: payload.OwnerID,
		ItemID:  payload.ItemID,
	})
}

func conditionMessage(id pipeline.Identity, imageRefs []string) queue.Message {
	return queue.Message{
		Type:  shared.TypeAssessCondition,
		Queue: shared.QueueDefault,
		Payload: shared.ConditionPayload{
			OwnerID:   id.OwnerID,
			ItemID:    id.ItemID,
			ImageRefs: imageRefs,
		},
	}
}
