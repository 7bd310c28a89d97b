package pipeline

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/internal/shared"
)

// sweepStatuses are the states an item can get stuck in when a worker
// dies mid-stage or a fan-out message is lost.
var sweepStatuses = []model.Status{
	model.StatusPendingAnalysis,
	model.StatusIngesting,
	model.StatusIngested,
	model.StatusProcessingCondition,
	model.StatusConditionAssessed,
	model.StatusPriced,
}

// ReconcileRepository adds the sweep query to the orchestrator's
// repository slice.
type ReconcileRepository interface {
	Repository
	StuckInFlight(ctx context.Context, statuses []model.Status, olderThan time.Duration) ([]model.Item, error)
}

// Reconciler periodically re-opens items whose stage died without a
// trace and republishes the trigger that should have moved them.
type Reconciler struct {
	repo       ReconcileRepository
	publisher  queue.Publisher
	stuckAfter time.Duration
}

func NewReconciler(repo ReconcileRepository, publisher queue.Publisher, stuckAfter time.Duration) *Reconciler {
	return &Reconciler{repo: repo, publisher: publisher, stuckAfter: stuckAfter}
}

// ProcessTask runs one sweep. Per-item errors are logged and skipped;
// the next sweep tries again.
func (r *Reconciler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	stuck, err := r.repo.StuckInFlight(ctx, sweepStatuses, r.stuckAfter)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		log.Debug().Msg("sweep found nothing stuck")
		return nil
	}

	log.Info().Int("count", len(stuck)).Msg("sweep re-opening stuck items")
	for i := range stuck {
		r.reopen(ctx, &stuck[i])
	}
	return nil
}

func (r *Reconciler) reopen(ctx context.Context, item *model.Item) {
	logger := log.With().
		Str("owner_id", item.OwnerID).
		Str("item_id", item.ID).
		Str("status", string(item.Status)).
		Logger()

	// In-flight markers mean the worker died holding the gate; the item
	// first moves to the stage's failure status so the gate reopens.
	var reset model.Status
	switch item.Status {
	case model.StatusIngesting:
		reset = model.StatusAnalysisFailed
	case model.StatusProcessingCondition:
		reset = model.StatusConditionFailed
	}
	if reset != "" {
		if _, err := r.repo.ApplyStatus(ctx, item.OwnerID, item.ID, reset, model.FailurePatch("STAGE_STUCK", "stage exceeded the stuck threshold")); err != nil {
			logger.Error().Err(err).Msg("sweep failed to reset stuck item")
			return
		}
	}

	msg, ok := r.triggerFor(item)
	if !ok {
		logger.Warn().Msg("sweep has no trigger for this status")
		return
	}
	if err := r.publisher.Publish(ctx, msg); err != nil {
		logger.Error().Err(err).Str("type", msg.Type).Msg("sweep failed to republish trigger")
		return
	}
	logger.Info().Str("type", msg.Type).Msg("sweep republished stage trigger")
}

// triggerFor picks the message that resumes the item from where it sat.
func (r *Reconciler) triggerFor(item *model.Item) (queue.Message, bool) {
	switch item.Status {
	case model.StatusPendingAnalysis, model.StatusIngesting:
		return queue.Message{
			Type:  shared.TypeIngestItem,
			Queue: shared.QueueHigh,
			Payload: shared.IngestionPayload{
				OwnerID:   item.OwnerID,
				ItemID:    item.ID,
				ImageRefs: item.ImageRefs,
			},
		}, true
	case model.StatusIngested, model.StatusProcessingCondition:
		return queue.Message{
			Type:  shared.TypeAssessCondition,
			Queue: shared.QueueDefault,
			Payload: shared.ConditionPayload{
				OwnerID:   item.OwnerID,
				ItemID:    item.ID,
				ImageRefs: item.ImageRefs,
			},
		}, true
	case model.StatusConditionAssessed:
		return queue.Message{
			Type:  shared.TypePriceItem,
			Queue: shared.QueueDefault,
			Payload: shared.PricingPayload{
				OwnerID: item.OwnerID,
				ItemID:  item.ID,
			},
		}, true
	case model.StatusPriced:
		return queue.Message{
			Type:  shared.TypeListItem,
			Queue: shared.QueueLow,
			Payload: shared.ListingPayload{
				OwnerID: item.OwnerID,
				ItemID:  item.ID,
			},
		}, true
	}
	return queue.Message{}, false
}
