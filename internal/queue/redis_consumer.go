/**
 * Direct Redis Queue Consumer for OCR Worker
 *
 * Jobs are plain Redis LIST entries compatible with the producer:
 * - LPUSH <queue> <jobId>, document in HSET <queue>:data <jobId>
 * - status sets <queue>:processing / :completed / :failed
 * - every event published on <queue>:events
 *
 * Failed jobs are not re-queued. The engine runs one job at a time, so there
 * is a single fetch loop.
 */

package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is used when the config names no queue.
const DefaultQueueName = "ocr:jobs"

var errNoJobs = stderrors.New("no jobs available")

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL   string
	QueueName  string
	Dispatcher *worker.Dispatcher
	// Sinks receive every event in addition to the Redis publisher.
	Sinks        []worker.Sender
	PollInterval time.Duration
	Logger       *logging.Logger
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client     *redis.Client
	dispatcher *worker.Dispatcher
	publisher  *Publisher
	sender     worker.Sender
	keys       Keys
	poll       time.Duration
	logger     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("Dispatcher is required")
	}
	queueName := cfg.QueueName
	if queueName == "" {
		queueName = DefaultQueueName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("queue")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}

	client, err := Connect(context.Background(), cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}

	publisher := NewPublisher(client, queueName, logger)
	senders := worker.MultiSender{publisher}
	senders = append(senders, cfg.Sinks...)

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:     client,
		dispatcher: cfg.Dispatcher,
		publisher:  publisher,
		sender:     senders,
		keys:       Keys{Queue: queueName},
		poll:       poll,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Connect parses url and pings the server, retrying while it comes up.
func Connect(ctx context.Context, url string, logger *logging.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	err = retry.Do(
		func() error { return client.Ping(ctx).Err() },
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Redis not reachable, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "queue", c.keys.Queue)
	c.wg.Add(1)
	go c.loop()
	return nil
}

// Stop finishes the job in flight, then closes the connection.
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		if err := c.processNextJob(); err != nil {
			if stderrors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Error("Queue fetch failed", "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob fetches and dispatches the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	res, err := c.client.BRPop(c.ctx, c.poll, c.keys.List()).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(res) < 2 {
		return fmt.Errorf("invalid job result")
	}
	jobID := res[1]

	data, err := c.client.HGet(c.ctx, c.keys.Data(), jobID).Bytes()
	if err != nil {
		// The id is already off the list, so the job must still end.
		ctx := context.WithoutCancel(c.ctx)
		if serr := c.sender.Send(ctx, missingDocument(jobID, err)); serr != nil {
			c.logger.Warn("Failed to reject job", "job_id", jobID, "error", serr)
		}
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	if err := c.publisher.MarkProcessing(c.ctx, jobID); err != nil {
		c.logger.Warn("Failed to mark job processing", "job_id", jobID, "error", err)
	}

	// The job runs to completion even if Stop is called meanwhile.
	ctx := context.WithoutCancel(c.ctx)
	c.logger.Info(fmt.Sprintf("[Job %s] Dequeued", jobID), "bytes", len(data))
	c.dispatcher.DispatchRaw(ctx, data, c.sender)

	if err := c.client.HDel(ctx, c.keys.Data(), jobID).Err(); err != nil {
		c.logger.Warn("Failed to drop job document", "job_id", jobID, "error", err)
	}
	return nil
}

// missingDocument is the reject for a dequeued id whose document could not be read.
func missingDocument(jobID string, err error) worker.Event {
	reason := "job document not found"
	if !stderrors.Is(err, redis.Nil) {
		reason = fmt.Sprintf("failed to read job document: %v", err)
	}
	return worker.Event{
		JobID:  jobID,
		Status: worker.StatusReject,
		Data:   errors.Describe(errors.NewInvalidJobError(jobID, reason)),
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	return c.publisher.Stats(ctx)
}
