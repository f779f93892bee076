package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-enricher/constants"
)

// StageRun is one recorded execution of a pipeline stage for a document.
type StageRun struct {
	ID           uuid.UUID                `json:"id"`
	Document     string                   `json:"document"`
	Stage        string                   `json:"stage"`
	Status       constants.StageRunStatus `json:"status"`
	Model        string                   `json:"model,omitempty"`
	ErrorKind    string                   `json:"error_kind,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   *time.Time               `json:"finished_at,omitempty"`
}

// Duration is zero while the run is still in progress.
func (r StageRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
