package async

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// RunBatch runs one stage over many documents and returns the results
// ordered by document.
func RunBatch(ctx context.Context, runner StageRunner, stage string, docs []string, workers int, logger *slog.Logger) ([]Result, error) {
	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(docs))
	)
	q := NewProcessorQueue(runner, logger,
		WithWorkers(workers),
		WithQueueSize(len(docs)),
		WithResultHandler(func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}),
	)

	var enqueueErr error
	for _, d := range docs {
		if err := q.Enqueue(ctx, Job{Document: d, Stage: stage}); err != nil {
			enqueueErr = err
			break
		}
	}
	q.Shutdown(context.WithoutCancel(ctx))

	mu.Lock()
	defer mu.Unlock()
	sort.Slice(results, func(i, j int) bool { return results[i].Job.Document < results[j].Job.Document })
	return results, enqueueErr
}
