// Package pipeline drives one stage of the resale pipeline per inbound
// message: gate, work, status apply, fan-out. Stages never call each
// other; they compose only through the item record and the bus.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/domains/item/model"
	"bookresale-backend/internal/infrastructure/queue"
	"bookresale-backend/pkg/retry"
)

// Identity names the item a message is about.
type Identity struct {
	OwnerID string
	ItemID  string
}

// Result is what a stage work function produces on success. Status
// empty means the stage writes no transition (delist closing listings
// on an already-sold item, for example).
type Result struct {
	Status model.Status
	Patch  *model.Patch
	Next   []queue.Message
}

// Gate configures the idempotency gate for a stage. AllowedFrom is the
// complement of the stage's "already handled or not ready" set.
type Gate struct {
	InFlight    model.Status
	AllowedFrom []model.Status
}

// Stage describes one pipeline stage to the orchestrator.
type Stage struct {
	Name string
	// Gate nil means the stage runs ungated (price research, whose
	// idempotency is the lookup cache).
	Gate *Gate
	// FailStatus is written with diagnostics when work fails
	// permanently. Empty means failures only dead-letter.
	FailStatus model.Status
	Work       func(ctx context.Context, id Identity) (*Result, error)
	// ReEmitOnSkip republishes downstream triggers when the gate
	// reports the stage already handled, so a lost message further
	// down the chain is not silently swallowed.
	ReEmitOnSkip func(id Identity) []queue.Message
}

// Repository is the narrow slice of the item store the orchestrator
// needs.
type Repository interface {
	AcquireStage(ctx context.Context, ownerID, itemID string, inflight model.Status, allowedFrom []model.Status) (bool, error)
	ApplyStatus(ctx context.Context, ownerID, itemID string, requested model.Status, patch *model.Patch) (model.Status, error)
}

type Orchestrator struct {
	repo      Repository
	publisher queue.Publisher
}

func NewOrchestrator(repo Repository, publisher queue.Publisher) *Orchestrator {
	return &Orchestrator{repo: repo, publisher: publisher}
}

// Run executes one stage invocation. The return value speaks asynq:
// nil acknowledges, an error wrapping asynq.SkipRetry dead-letters,
// any other error lets the bus redeliver.
func (o *Orchestrator) Run(ctx context.Context, stage Stage, id Identity) error {
	logger := log.With().
		Str("stage", stage.Name).
		Str("owner_id", id.OwnerID).
		Str("item_id", id.ItemID).
		Logger()

	if stage.Gate != nil {
		acquired, err := o.repo.AcquireStage(ctx, id.OwnerID, id.ItemID, stage.Gate.InFlight, stage.Gate.AllowedFrom)
		if err != nil {
			if errors.Is(err, model.ErrItemNotFound) {
				logger.Error().Msg("message references missing item, dropping")
				return fmt.Errorf("item %s/%s not found: %w", id.OwnerID, id.ItemID, asynq.SkipRetry)
			}
			return fmt.Errorf("acquire %s gate: %w", stage.Name, err)
		}
		if !acquired {
			logger.Info().Msg("stage already handled, skipping")
			if stage.ReEmitOnSkip != nil {
				o.publishAll(ctx, logger, stage.ReEmitOnSkip(id))
			}
			return nil
		}
	}

	result, err := stage.Work(ctx, id)
	if err != nil {
		return o.fail(ctx, stage, id, logger, err)
	}
	if result == nil {
		return nil
	}

	if result.Status != "" {
		if _, err := o.repo.ApplyStatus(ctx, id.OwnerID, id.ItemID, result.Status, result.Patch); err != nil {
			switch {
			case errors.Is(err, model.ErrStatusConflict):
				// A concurrent writer moved the item; redeliver and
				// let the gate decide next time.
				return fmt.Errorf("%s apply: %w", stage.Name, err)
			case errors.Is(err, model.ErrInvalidTransition):
				logger.Error().Err(err).Str("requested", string(result.Status)).
					Msg("stage produced an illegal transition")
				return fmt.Errorf("%s apply: %v: %w", stage.Name, err, asynq.SkipRetry)
			case errors.Is(err, model.ErrItemNotFound):
				return fmt.Errorf("%s apply: %v: %w", stage.Name, err, asynq.SkipRetry)
			default:
				return fmt.Errorf("%s apply: %w", stage.Name, err)
			}
		}
		logger.Info().Str("status", string(result.Status)).Msg("stage completed")
	}

	o.publishAll(ctx, logger, result.Next)
	return nil
}

// fail classifies a work error. Transient failures propagate so the
// bus redelivers the whole stage; permanent ones are written onto the
// item first and then dead-lettered so the failure is visible in both
// the record and the archive.
func (o *Orchestrator) fail(ctx context.Context, stage Stage, id Identity, logger zerolog.Logger, err error) error {
	if retry.IsTransient(err) {
		logger.Warn().Err(err).Msg("transient stage failure, leaving to redelivery")
		return fmt.Errorf("%s: %w", stage.Name, err)
	}

	kind := errorKind(err)
	logger.Error().Err(err).Str("error_kind", kind).Msg("permanent stage failure")

	if stage.FailStatus != "" {
		if _, applyErr := o.repo.ApplyStatus(ctx, id.OwnerID, id.ItemID, stage.FailStatus, model.FailurePatch(kind, err.Error())); applyErr != nil {
			logger.Error().Err(applyErr).Msg("failed to record stage failure on item")
		}
	}
	return fmt.Errorf("%s failed permanently: %v: %w", stage.Name, err, asynq.SkipRetry)
}

func (o *Orchestrator) publishAll(ctx context.Context, logger zerolog.Logger, msgs []queue.Message) {
	for _, msg := range msgs {
		if err := o.publisher.Publish(ctx, msg); err != nil {
			// The sweep re-opens items whose downstream trigger was
			// lost, so a publish failure is logged, not fatal.
			logger.Error().Err(err).Str("type", msg.Type).Msg("failed to publish next stage message")
		}
	}
}

// FatalError carries a machine-readable kind into the item's
// diagnostic fields.
type FatalError struct {
	Kind string
	Err  error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal tags err as permanent with the given kind.
func Fatal(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Kind: kind, Err: err}
}

// Fatalf is Fatal over a formatted message.
func Fatalf(kind, format string, args ...any) error {
	return &FatalError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func errorKind(err error) string {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, retry.ErrExhausted) {
		return "RETRY_EXHAUSTED"
	}
	return "UNEXPECTED"
}

// Payload is implemented by every stage payload.
type Payload interface {
	Validate() error
}

// DecodeTask unmarshals and validates a task payload. Both failure
// modes are malformed input: permanent, acknowledged via SkipRetry.
func DecodeTask(t *asynq.Task, dest Payload) error {
	if err := json.Unmarshal(t.Payload(), dest); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if err := dest.Validate(); err != nil {
		return fmt.Errorf("invalid %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}
