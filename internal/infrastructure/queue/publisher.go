package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"bookresale-backend/internal/shared"
)

// Message is one outbound stage trigger. Payload is marshaled to JSON
// at publish time.
type Message struct {
	Type     string
	Payload  any
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Publisher pushes stage messages onto the bus. Constructed once per
// process and injected, never read from a global.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type asynqPublisher struct {
	client *asynq.Client
}

// NewPublisher - asynq-backed Publisher on the given redis address.
func NewPublisher(redisAddr string) (Publisher, func() error) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	return &asynqPublisher{client: client}, client.Close
}

func (p *asynqPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", msg.Type, err)
	}

	queue := msg.Queue
	if queue == "" {
		queue = shared.QueueDefault
	}
	maxRetry := msg.MaxRetry
	if maxRetry == 0 {
		maxRetry = 5
	}
	timeout := msg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	task := asynq.NewTask(msg.Type, payload)
	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.Type, err)
	}

	log.Debug().
		Str("type", msg.Type).
		Str("queue", info.Queue).
		Str("task_id", info.ID).
		Msg("message published")
	return nil
}
