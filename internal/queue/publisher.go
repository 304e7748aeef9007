package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/redis/go-redis/v9"
)

// Keys derives the Redis keys that belong to one queue.
type Keys struct {
	Queue string
}

func (k Keys) List() string       { return k.Queue }
func (k Keys) Data() string       { return k.Queue + ":data" }
func (k Keys) Processing() string { return k.Queue + ":processing" }
func (k Keys) Completed() string  { return k.Queue + ":completed" }
func (k Keys) Failed() string     { return k.Queue + ":failed" }
func (k Keys) Results() string    { return k.Queue + ":results" }
func (k Keys) Errors() string     { return k.Queue + ":errors" }
func (k Keys) Events() string     { return k.Queue + ":events" }

// EventMessage is what gets published on the events channel.
type EventMessage struct {
	worker.Event
	Timestamp string `json:"timestamp"`
}

// Publisher is a worker.Sender that publishes every event on the queue's
// events channel and keeps the status sets current.
type Publisher struct {
	client *redis.Client
	keys   Keys
	logger *logging.Logger
}

var _ worker.Sender = (*Publisher)(nil)

// NewPublisher creates a publisher for queue.
func NewPublisher(client *redis.Client, queue string, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewLogger("queue")
	}
	return &Publisher{client: client, keys: Keys{Queue: queue}, logger: logger}
}

// MarkProcessing records that jobID has been picked up.
func (p *Publisher) MarkProcessing(ctx context.Context, jobID string) error {
	return p.client.SAdd(ctx, p.keys.Processing(), jobID).Err()
}

func (p *Publisher) Send(ctx context.Context, e worker.Event) error {
	msg, err := json.Marshal(EventMessage{Event: e, Timestamp: time.Now().Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		switch e.Status {
		case worker.StatusResolve:
			data, err := json.Marshal(e.Data)
			if err != nil {
				return fmt.Errorf("failed to marshal result: %w", err)
			}
			pipe.SRem(ctx, p.keys.Processing(), e.JobID)
			pipe.SAdd(ctx, p.keys.Completed(), e.JobID)
			pipe.HSet(ctx, p.keys.Results(), e.JobID, data)
		case worker.StatusReject:
			pipe.SRem(ctx, p.keys.Processing(), e.JobID)
			pipe.SAdd(ctx, p.keys.Failed(), e.JobID)
			pipe.HSet(ctx, p.keys.Errors(), e.JobID, fmt.Sprint(e.Data))
		}
		pipe.Publish(ctx, p.keys.Events(), msg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event for job %s: %w", e.Status, e.JobID, err)
	}
	return nil
}

// Stats returns the queue's job counts.
func (p *Publisher) Stats(ctx context.Context) (map[string]int64, error) {
	var waiting, processing, completed, failed *redis.IntCmd
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, p.keys.List())
		processing = pipe.SCard(ctx, p.keys.Processing())
		completed = pipe.SCard(ctx, p.keys.Completed())
		failed = pipe.SCard(ctx, p.keys.Failed())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
