package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
)

// StageRunner is the part of the executor the queue drives.
type StageRunner interface {
	Run(ctx context.Context, stageID string, req pipeline.Request) (pipeline.Envelope, error)
}

// ProcessorQueue runs stage jobs on a fixed pool of workers. Each run still
// takes the per-document lock inside the executor.
type ProcessorQueue struct {
	runner   StageRunner
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	onResult func(Result)

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

var _ Queue = (*ProcessorQueue)(nil)

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithResultHandler is called from worker goroutines after every job.
func WithResultHandler(fn func(Result)) Option {
	return func(q *ProcessorQueue) { q.onResult = fn }
}

func NewProcessorQueue(runner StageRunner, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		runner:  runner,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("worker started", "worker_id", workerID)

				for job := range q.ch {
					q.process(workerID, job)
				}

				q.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) process(workerID int, job Job) {
	if job.TraceID == "" {
		job.TraceID = uuid.NewString()
	}
	ctx, cancel := common.WithTimeout(common.WithRequestID(context.Background(), job.TraceID), q.timeout)
	start := time.Now()
	_, err := q.runner.Run(ctx, job.Stage, pipeline.Request{Document: job.Document, Model: job.Model, Params: job.Params})
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		q.logger.Error("processing failed", "worker_id", workerID, "document", job.Document, "stage", job.Stage, "error", err)
	} else {
		q.logger.Info("processed document successfully", "worker_id", workerID, "document", job.Document, "stage", job.Stage, "elapsed_ms", elapsed.Milliseconds())
	}
	if q.onResult != nil {
		q.onResult(Result{Job: job, Err: err, Elapsed: elapsed, Worker: workerID})
	}
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "document", job.Document)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queued document for processing", "document", job.Document, "stage", job.Stage)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "document", job.Document)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
