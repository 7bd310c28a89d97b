package job

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	marketModel "bookresale-backend/internal/domains/market/model"
	marketService "bookresale-backend/internal/domains/market/service"
	"bookresale-backend/internal/pipeline"
	"bookresale-backend/internal/shared"
)

// ResearchHandler warms the market snapshot cache for an identified
// book. The stage is ungated: the lookup cache is its idempotency, and
// it writes no status.
type ResearchHandler struct {
	orchestrator *pipeline.Orchestrator
	research     *marketService.ResearchService
}

func NewResearchHandler(orchestrator *pipeline.Orchestrator, research *marketService.ResearchService) *ResearchHandler {
	return &ResearchHandler{
		orchestrator: orchestrator,
		research:     research,
	}
}

func (h *ResearchHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload shared.PriceResearchPayload
	if err := pipeline.DecodeTask(task, &payload); err != nil {
		log.Error().Err(err).Msg("invalid price research payload")
		return err
	}

	stage := pipeline.Stage{
		Name: "price_research",
		Work: func(ctx context.Context, id pipeline.Identity) (*pipeline.Result, error) {
			snap, cached, err := h.research.Research(ctx, marketModel.Query{
				ISBN:  payload.ISBN,
				Title: payload.Title,
			})
			if err != nil {
				return nil, err
			}
			log.Info().
				Str("item_id", id.ItemID).
				Bool("cached", cached).
				Int("offers", len(snap.Offers)).
				Msg("market research completed")
			return &pipeline.Result{}, nil
		},
	}

	return h.orchestrator.Run(ctx, stage, pipeline.Identity{
		OwnerID: payload.OwnerID,
		ItemID:  payload.ItemID,
	})
}
