package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/llm"
)

// Timeline labels.
const (
	EventRunStart         = "run.start"
	EventLockAcquired     = "lock.acquired"
	EventPreconditionDone = "precondition.done"
	EventInstructionBuilt = "instruction.built"
	EventAgentCached      = "agent.cached"
	EventAgentCreated     = "agent.created"
	EventJobSubmit        = "job.submit"
	EventJobPollPrefix    = "job.poll."
	EventResultExtracted  = "result.extracted"
	EventArtifactSaved    = "artifact.saved"
	EventLogSaved         = "log.saved"
	EventRunFailed        = "run.failed"
)

// Event is one timeline entry.
type Event struct {
	TS    int64  `json:"ts"`
	Stage string `json:"stage"`
}

// Output is the produced artifact of a successful run.
type Output struct {
	Text       string         `json:"text,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
}

// Debug carries the provider trail and, on failure, the error descriptor.
type Debug struct {
	HTTPTrail []llm.Exchange `json:"httpTrail"`
	Error     string         `json:"error,omitempty"`
	ErrorKind common.Kind    `json:"errorKind,omitempty"`
	Key       string         `json:"key,omitempty"`
}

// Envelope is returned by every stage run, successful or not.
type Envelope struct {
	Document string  `json:"document,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Output   *Output `json:"output,omitempty"`
	Debug    Debug   `json:"debug"`
	Timeline []Event `json:"timeline"`
}

// ErrorEnvelope describes a failure that happened outside a stage run,
// such as a malformed request.
func ErrorEnvelope(err error) Envelope {
	env := Envelope{Debug: Debug{HTTPTrail: []llm.Exchange{}}, Timeline: []Event{}}
	env.setError(err)
	return env
}

func (e *Envelope) setError(err error) {
	e.Output = nil
	e.Debug.Error = err.Error()
	e.Debug.ErrorKind = common.KindOf(err)
	var ae *common.AppError
	if errors.As(err, &ae) {
		e.Debug.Key = ae.Key
	}
}

// timeline records labelled instants of a run.
type timeline struct {
	mu     sync.Mutex
	now    func() time.Time
	events []Event
}

func newTimeline(now func() time.Time) *timeline {
	return &timeline{now: now, events: []Event{}}
}

func (t *timeline) mark(label string) {
	t.mu.Lock()
	t.events = append(t.events, Event{TS: t.now().UnixMilli(), Stage: label})
	t.mu.Unlock()
}

func (t *timeline) snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event{}, t.events...)
}

// Labels returns the stage labels of the timeline in order.
func (e Envelope) Labels() []string {
	out := make([]string, len(e.Timeline))
	for i, ev := range e.Timeline {
		out[i] = ev.Stage
	}
	return out
}

// executionLog is the persisted record of one successful stage run.
type executionLog struct {
	Document  string         `json:"document"`
	Stage     string         `json:"stage"`
	Model     string         `json:"model,omitempty"`
	Timeline  []Event        `json:"timeline"`
	HTTPTrail []llm.Exchange `json:"httpTrail"`
}
