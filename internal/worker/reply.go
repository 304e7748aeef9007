package worker

import (
	"context"
	"sync"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// Reply is the per-job response channel. Exactly one of Resolve or Reject
// takes effect; anything sent after that is dropped.
type Reply struct {
	ctx    context.Context
	jobID  string
	action Action
	sender Sender
	logger *logging.Logger

	mu   sync.Mutex
	done bool
}

func newReply(ctx context.Context, job *Job, sender Sender, logger *logging.Logger) *Reply {
	return &Reply{
		ctx:    ctx,
		jobID:  job.ID,
		action: job.Action,
		sender: sender,
		logger: logger,
	}
}

// Progress reports an intermediate step. It satisfies engine.Reporter.
func (r *Reply) Progress(status string, progress float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		r.logger.Debug("Dropping progress after terminal event", "job_id", r.jobID, "status", status)
		return
	}
	r.send(StatusProgress, ProgressData{Status: status, Progress: progress})
}

// Resolve completes the job with data.
func (r *Reply) Resolve(data interface{}) {
	r.finish(StatusResolve, data)
}

// Reject fails the job with reason.
func (r *Reply) Reject(reason string) {
	r.finish(StatusReject, reason)
}

// Done reports whether a terminal event has been sent.
func (r *Reply) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Reply) finish(status Status, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		r.logger.Warn("Ignoring second terminal event", "job_id", r.jobID, "status", status)
		return
	}
	r.done = true
	r.send(status, data)
}

// send must be called with mu held.
func (r *Reply) send(status Status, data interface{}) {
	e := Event{JobID: r.jobID, Action: r.action, Status: status, Data: data}
	if err := r.sender.Send(r.ctx, e); err != nil {
		r.logger.Error("Failed to send event", "job_id", r.jobID, "status", status, "error", err)
	}
}
