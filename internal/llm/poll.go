package llm

import (
	"context"
	"time"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the production SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PollPolicy bounds how long a run is waited on.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 45
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Poll sleeps then queries the run until it reaches a terminal status or the
// attempt budget is spent. It never resubmits. onStatus, if set, sees every
// observation.
//
// A completed run returns nil. failed, cancelled, expired and incomplete
// return a job failure carrying the provider's reason. Running out of
// attempts, or the context ending, returns a poll timeout.
func Poll(ctx context.Context, r StatusReader, h JobHandle, policy PollPolicy, onStatus func(attempt int, st RunState)) (RunState, error) {
	policy = policy.withDefaults()
	var last RunState
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := policy.Sleep(ctx, policy.Interval); err != nil {
			return last, common.PollTimeoutError(attempt-1, err)
		}
		st, err := r.RunStatus(ctx, h)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return last, common.PollTimeoutError(attempt, ctxErr)
			}
			return last, err
		}
		last = st
		if onStatus != nil {
			onStatus(attempt, st)
		}
		if !st.Status.IsTerminal() {
			continue
		}
		if st.Status.IsSuccess() {
			return st, nil
		}
		return st, common.JobFailureError(string(st.Status), st.FailureReason())
	}
	return last, common.PollTimeoutError(policy.MaxAttempts, nil)
}
