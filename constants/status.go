package constants

import "strings"

// RunStatus is the provider-reported state of a conversational run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// NormalizeRunStatus lowercases the provider status and folds the
// "running" spelling some providers use into in_progress.
func NormalizeRunStatus(s string) RunStatus {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "running":
		return RunInProgress
	case "canceled":
		return RunCancelled
	}
	return RunStatus(v)
}

// IsTerminal reports whether polling should stop at this status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete:
		return true
	}
	return false
}

// IsSuccess is true only for completed.
func (s RunStatus) IsSuccess() bool {
	return s == RunCompleted
}

// StageRunStatus is the canonical status for rows in stage_runs.
type StageRunStatus string

const (
	StageRunStarted   StageRunStatus = "STARTED"
	StageRunSucceeded StageRunStatus = "SUCCEEDED"
	StageRunFailed    StageRunStatus = "FAILED"
)
