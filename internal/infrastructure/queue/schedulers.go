package queue

import (
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/shared"
)

type Scheduler struct {
	scheduler     *asynq.Scheduler
	sweepSchedule string
}

func NewScheduler(redisAddress, sweepSchedule string) *Scheduler {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddress},
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
		},
	)

	return &Scheduler{
		scheduler:     scheduler,
		sweepSchedule: sweepSchedule,
	}
}

// RegisterMaintenanceJobs wires the recurring jobs.
func (s *Scheduler) RegisterMaintenanceJobs() error {
	return s.registerReconcileStuckJob()
}

// ================================================
// JOB 1: Reconcile Stuck Items
// ================================================
// Items whose worker died mid-stage, or whose fan-out message was
// lost, sit in an intermediate status forever. The sweep re-opens them
// and republishes the trigger that should have moved them.
func (s *Scheduler) registerReconcileStuckJob() error {
	task := asynq.NewTask(shared.TypeReconcileStuck, nil)

	_, err := s.scheduler.Register(
		s.sweepSchedule,
		task,
		asynq.Queue(shared.QueueLow),
		asynq.MaxRetry(1),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to register reconcile sweep")
		return err
	}

	log.Info().Str("schedule", s.sweepSchedule).Msg("registered reconcile sweep")
	return nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Run()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
