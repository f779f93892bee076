package async

import (
	"context"
	"errors"
	"time"
)

// Job is one stage run for one document.
type Job struct {
	Document    string
	Stage       string
	Model       string
	Params      map[string]string
	SubmittedAt time.Time
	TraceID     string
}

// Result is reported once per processed job.
type Result struct {
	Job     Job
	Err     error
	Elapsed time.Duration
	Worker  int
}

var ErrQueueClosed = errors.New("queue is shutting down")

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
