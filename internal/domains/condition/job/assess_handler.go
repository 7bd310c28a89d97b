package job

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	conditionService "bookresale-backend/internal/domains/condition/service"
	itemModel "bookresale-backend/internal/domains/item/model"
	itemRepository "bookresale-backend/internal/domains/item/repository"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
)

// AssessHandler runs the condition grading stage and hands the item to
// pricing.
type AssessHandler struct {
	orchestrator *pipeline.Orchestrator
	service      *conditionService.Service
	items        itemRepository.RepositoryInterface
}

func NewAssessHandler(orchestrator *pipeline.Orchestrator, service *conditionService.Service, items itemRepository.RepositoryInterface) *AssessHandler {
	return &AssessHandler{orchestrator: orchestrator, service: service, items: items}
}

func (h *AssessHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.ConditionPayload
	if err := pipeline.DecodeTask(task, &payload); err != nil {
		log.Error().Err(err).Msg("invalid condition payload")
		return err
	}

	stage := pipeline.Stage{
		Name: "condition",
		Gate: &pipeline.Gate{
			InFlight: itemModel.StatusProcessingCondition,
			AllowedFrom: []itemModel.Status{
				itemModel.StatusIngested,
				itemModel.StatusConditionFailed,
				itemModel.StatusPricingFailed,
			},
		},
		FailStatus: itemModel.StatusConditionFailed,
		Work: func(ctx context.Context, id pipeline.Identity) (*pipeline.Result, error) {
			item, err := h.items.GetByID(ctx, id.OwnerID, id.ItemID)
			if err != nil {
				return nil, err
			}

			assessment, err := h.service.Assess(ctx, id.OwnerID, id.ItemID, payload.ImageRefs, item.Metadata)
			if err != nil {
				return nil, err
			}

			return &pipeline.Result{
				Status: itemModel.StatusConditionAssessed,
				Patch:  &itemModel.Patch{Condition: assessment.ItemCondition()},
				Next:   []queue.Message{pricingMessage(id)},
			}, nil
		},
		ReEmitOnSkip: func(id pipeline.Identity) []queue.Message {
			return []queue.Message{pricingMessage(id)}
		},
	}

	return h.orchestrator.Run(ctx, stage, pipeline.Identity{
		OwnerID: payload.OwnerID,
		ItemID:  payload.ItemID,
	})
}

func pricingMessage(id pipeline.Identity) queue.Message {
	return queue.Message{
		Type:  shared.TypePriceItem,
		Queue: shared.QueueDefault,
		Payload: shared.PricingPayload{
			OwnerID: id.OwnerID,
			ItemID:  id.ItemID,
		},
	}
}
