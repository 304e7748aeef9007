/**
 * Asynq Queue Transport for OCR Worker
 *
 * Alternate transport for deployments that already run asynq. Each job is one
 * task whose payload is the job document. Tasks are never retried: a rejected
 * job is final, matching the Redis LIST transport.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/worker"
	"github.com/hibiken/asynq"
)

// Task types, one per job action.
const (
	TaskRecognize = "ocr:recognize"
	TaskDetect    = "ocr:detect"
)

// TaskType maps an action to its task type.
func TaskType(action worker.Action) (string, error) {
	switch action {
	case worker.ActionRecognize:
		return TaskRecognize, nil
	case worker.ActionDetect:
		return TaskDetect, nil
	}
	return "", fmt.Errorf("unknown action: %s", action)
}

// NewTask wraps job in an asynq task. The job id doubles as the task id so a
// job is queued at most once.
func NewTask(job *worker.Job) (*asynq.Task, error) {
	typ, err := TaskType(job.Action)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = NewJobID()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return asynq.NewTask(typ, payload, asynq.MaxRetry(0), asynq.TaskID(job.ID)), nil
}

// AsynqConsumerConfig holds consumer configuration
type AsynqConsumerConfig struct {
	RedisURL   string
	QueueName  string
	Dispatcher *worker.Dispatcher
	// Sinks receive every event of every job.
	Sinks  []worker.Sender
	Logger *logging.Logger
}

// AsynqConsumer handles job consumption through asynq
type AsynqConsumer struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	dispatcher *worker.Dispatcher
	sinks      worker.MultiSender
	queue      string
	logger     *logging.Logger
}

// NewAsynqConsumer creates a new asynq consumer
func NewAsynqConsumer(cfg *AsynqConsumerConfig) (*AsynqConsumer, error) {
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

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// The engine is single-threaded; jobs are serialized anyway.
			Concurrency: 1,
			Queues: map[string]int{
				queueName: 10,
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
		},
	)

	c := &AsynqConsumer{
		server:     server,
		mux:        asynq.NewServeMux(),
		dispatcher: cfg.Dispatcher,
		sinks:      worker.MultiSender(cfg.Sinks),
		queue:      queueName,
		logger:     logger,
	}
	c.mux.HandleFunc(TaskRecognize, c.handleJob)
	c.mux.HandleFunc(TaskDetect, c.handleJob)
	return c, nil
}

// Start starts the queue consumer
func (c *AsynqConsumer) Start() error {
	c.logger.Info("Starting asynq queue consumer", "queue", c.queue)
	return c.server.Start(c.mux)
}

// Stop waits for the active task and shuts the server down.
func (c *AsynqConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer...")
	c.server.Shutdown()
	return nil
}

// Handler exposes the task handler, mostly for tests.
func (c *AsynqConsumer) Handler() asynq.Handler { return c.mux }

// handleJob dispatches one task and turns a rejection into a non-retryable
// task failure.
func (c *AsynqConsumer) handleJob(ctx context.Context, task *asynq.Task) error {
	var terminal terminalRecorder
	sender := worker.MultiSender{c.sinks, &terminal}
	c.dispatcher.DispatchRaw(ctx, task.Payload(), sender)

	e, ok := terminal.get()
	if !ok {
		return fmt.Errorf("job finished without a terminal event: %w", asynq.SkipRetry)
	}
	if e.Status == worker.StatusReject {
		return fmt.Errorf("%v: %w", e.Data, asynq.SkipRetry)
	}
	if w := task.ResultWriter(); w != nil {
		data, err := json.Marshal(e.Data)
		if err == nil {
			_, err = w.Write(data)
		}
		if err != nil {
			c.logger.Warn(fmt.Sprintf("[Job %s] Failed to write task result", e.JobID), "error", err)
		}
	}
	return nil
}

// terminalRecorder keeps the terminal event of one job.
type terminalRecorder struct {
	mu    sync.Mutex
	event *worker.Event
}

func (r *terminalRecorder) Send(ctx context.Context, e worker.Event) error {
	if !e.Terminal() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.event = &e
	return nil
}

func (r *terminalRecorder) get() (worker.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.event == nil {
		return worker.Event{}, false
	}
	return *r.event, true
}

// AsynqProducer enqueues jobs as asynq tasks.
type AsynqProducer struct {
	client *asynq.Client
	queue  string
	logger *logging.Logger
}

// NewAsynqProducer creates a producer for queue.
func NewAsynqProducer(redisURL, queue string, logger *logging.Logger) (*AsynqProducer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queue == "" {
		queue = DefaultQueueName
	}
	if logger == nil {
		logger = logging.NewLogger("queue")
	}
	return &AsynqProducer{client: asynq.NewClient(redisOpt), queue: queue, logger: logger}, nil
}

// Enqueue submits job and returns its id.
func (p *AsynqProducer) Enqueue(ctx context.Context, job *worker.Job) (string, error) {
	task, err := NewTask(job)
	if err != nil {
		return "", err
	}
	info, err := p.client.EnqueueContext(ctx, task, asynq.Queue(p.queue))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	p.logger.Info(fmt.Sprintf("[Job %s] Enqueued", job.ID), "task", info.Type, "queue", info.Queue)
	return job.ID, nil
}

// Close releases the client connection.
func (p *AsynqProducer) Close() error {
	return p.client.Close()
}
