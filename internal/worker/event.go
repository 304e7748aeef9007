package worker

import (
	"context"
	stderrors "errors"
)

// Status is the kind of an outbound event.
type Status string

const (
	StatusProgress Status = "progress"
	StatusResolve  Status = "resolve"
	StatusReject   Status = "reject"
)

// Progress statuses reported around language loading.
const (
	StatusLoadingLanguage = "loading language traineddata"
	StatusLoadedLanguage  = "loaded language traineddata"
)

// Event is one message back to the job's submitter.
type Event struct {
	JobID  string      `json:"jobId"`
	Action Action      `json:"action"`
	Status Status      `json:"status"`
	Data   interface{} `json:"data"`
}

// Terminal reports whether e ends its job.
func (e Event) Terminal() bool {
	return e.Status == StatusResolve || e.Status == StatusReject
}

// ProgressData is the data of a progress event.
type ProgressData struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// Sender delivers events to whoever submitted the job.
type Sender interface {
	Send(ctx context.Context, e Event) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, e Event) error

func (f SenderFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// MultiSender delivers every event to each sender and joins their errors.
type MultiSender []Sender

func (m MultiSender) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
