/**
 * Job Dispatcher for OCR Worker
 *
 * Runs one job at a time through the pipeline:
 * 1. Ensure the engine session is ready (first job initializes it)
 * 2. Install the job's languages
 * 3. Resolve parameters
 * 4. Execute recognize or detect
 * 5. Resolve with the result, or reject with a reason
 *
 * Every dispatched job produces exactly one terminal event, including jobs
 * whose pipeline panics.
 */

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/engine"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/executor"
	"github.com/adverant/nexus/ocr-worker/internal/langdata"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/params"
)

// Config holds dispatcher configuration. CorePath and LangPath apply to jobs
// that do not name their own.
type Config struct {
	Session      *engine.Session
	Cache        *langdata.Cache
	Executor     *executor.Executor
	CorePath     string
	LangPath     string
	MaxImageSize int64
	Timeout      time.Duration
	Logger       *logging.Logger
}

// Dispatcher serializes jobs onto the shared engine.
type Dispatcher struct {
	session  *engine.Session
	cache    *langdata.Cache
	exec     *executor.Executor
	corePath string
	langPath string
	maxImage int64
	timeout  time.Duration
	logger   *logging.Logger

	mu sync.Mutex
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg *Config) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Session == nil {
		return nil, fmt.Errorf("engine session is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("language cache is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("worker")
	}
	return &Dispatcher{
		session:  cfg.Session,
		cache:    cfg.Cache,
		exec:     cfg.Executor,
		corePath: cfg.CorePath,
		langPath: cfg.LangPath,
		maxImage: cfg.MaxImageSize,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

// Dispatch runs job to completion and returns after its terminal event has
// been handed to sender. Concurrent calls queue behind each other.
func (d *Dispatcher) Dispatch(ctx context.Context, job *Job, sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reply := newReply(ctx, job, sender, d.logger)
	d.session.SetCurrent(reply)
	defer d.session.SetCurrent(nil)

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("Job panicked", "job_id", job.ID, "panic", p)
			reply.Reject(fmt.Sprint(p))
		}
		d.logger.Info(fmt.Sprintf("[Job %s] Finished in %v", job.ID, time.Since(start)), "action", job.Action)
	}()

	result, err := d.run(ctx, job, reply)
	if err != nil {
		d.logger.Warn("Job rejected", "job_id", job.ID, "action", job.Action, "error", err)
		reply.Reject(errors.Describe(err))
		return
	}
	reply.Resolve(result)
}

// DispatchRaw decodes a job document and dispatches it. A document that does
// not decode is rejected under whatever jobId it carries.
func (d *Dispatcher) DispatchRaw(ctx context.Context, data []byte, sender Sender) {
	job, err := DecodeJob(data)
	if err != nil {
		id, action := peekJob(data)
		d.logger.Error("Invalid job document", "job_id", id, "error", err)
		reply := newReply(ctx, &Job{ID: id, Action: action}, sender, d.logger)
		reply.Reject(errors.Describe(errors.NewInvalidJobError(id, err.Error())))
		return
	}
	d.Dispatch(ctx, job, sender)
}

func (d *Dispatcher) run(ctx context.Context, job *Job, reply *Reply) (interface{}, error) {
	switch job.Action {
	case ActionRecognize, ActionDetect:
	default:
		return nil, errors.NewUnknownActionError(job.ID, string(job.Action))
	}

	payload := &job.Payload
	if len(payload.Image) == 0 {
		return nil, errors.NewInvalidJobError(job.ID, "image is required")
	}
	if d.maxImage > 0 && int64(len(payload.Image)) > d.maxImage {
		return nil, errors.NewInvalidJobError(job.ID,
			fmt.Sprintf("image is %d bytes, limit is %d", len(payload.Image), d.maxImage))
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	result, err := d.pipeline(ctx, job, reply)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, errors.NewProcessingTimeoutError(job.ID, d.timeout, err)
	}
	return result, err
}

func (d *Dispatcher) pipeline(ctx context.Context, job *Job, reply *Reply) (interface{}, error) {
	payload := &job.Payload
	opts := payload.Options
	if opts.CorePath == "" {
		opts.CorePath = d.corePath
	}
	if opts.LangPath == "" {
		opts.LangPath = d.langPath
	}

	d.logger.Info(fmt.Sprintf("[Job %s] Step 1: Engine", job.ID), "core_path", opts.CorePath)
	if err := d.session.EnsureReady(ctx, opts.CorePath, reply); err != nil {
		return nil, err
	}

	langs := payload.Languages()
	d.logger.Info(fmt.Sprintf("[Job %s] Step 2: Languages", job.ID), "langs", langs.String())
	reply.Progress(StatusLoadingLanguage, 0)
	if err := d.cache.Load(ctx, d.session.Module(), langs, opts.Options); err != nil {
		return nil, err
	}
	reply.Progress(StatusLoadedLanguage, 1)

	req := &executor.Request{
		JobID:  job.ID,
		Langs:  langs.String(),
		Params: params.Resolve(payload.Params),
		Image:  payload.Image,
	}

	d.logger.Info(fmt.Sprintf("[Job %s] Step 3: %s", job.ID, job.Action), "image_bytes", len(req.Image))
	switch job.Action {
	case ActionDetect:
		return d.exec.Detect(ctx, req)
	default:
		return d.exec.Recognize(ctx, req, reply)
	}
}
