package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Producer submits jobs to a Redis queue consumed by RedisConsumer.
type Producer struct {
	client *redis.Client
	keys   Keys
	logger *logging.Logger
}

// NewProducer creates a producer for queue.
func NewProducer(client *redis.Client, queue string, logger *logging.Logger) *Producer {
	if queue == "" {
		queue = DefaultQueueName
	}
	if logger == nil {
		logger = logging.NewLogger("queue")
	}
	return &Producer{client: client, keys: Keys{Queue: queue}, logger: logger}
}

// NewJobID returns a fresh job id.
func NewJobID() string {
	return uuid.New().String()
}

// Submit stores job and pushes its id. An empty job id is filled in.
func (p *Producer) Submit(ctx context.Context, job *worker.Job) (string, error) {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.keys.Data(), job.ID, data)
		pipe.LPush(ctx, p.keys.List(), job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	p.logger.Info(fmt.Sprintf("[Job %s] Enqueued", job.ID), "action", job.Action, "queue", p.keys.Queue)
	return job.ID, nil
}

// Run submits job and waits for its terminal event. onEvent, when set, sees
// every event for the job including the terminal one, which is also returned.
func (p *Producer) Run(ctx context.Context, job *worker.Job, onEvent func(EventMessage)) (*EventMessage, error) {
	if job.ID == "" {
		job.ID = NewJobID()
	}

	// Subscribe before submitting so no event is missed.
	sub := p.client.Subscribe(ctx, p.keys.Events())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.keys.Events(), err)
	}

	if _, err := p.Submit(ctx, job); err != nil {
		return nil, err
	}
	return follow(ctx, sub.Channel(), job.ID, onEvent)
}

func follow(ctx context.Context, ch <-chan *redis.Message, jobID string, onEvent func(EventMessage)) (*EventMessage, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case msg, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("event channel closed before job %s finished", jobID)
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil || ev.JobID != jobID {
				continue
			}
			if onEvent != nil {
				onEvent(*ev)
			}
			if ev.Terminal() {
				return ev, nil
			}
		}
	}
}

func decodeEvent(payload string) (*EventMessage, error) {
	var ev EventMessage
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &ev, nil
}
