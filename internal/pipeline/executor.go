package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/extract"
	"github.com/joseph-ayodele/doc-enricher/internal/llm"
	"github.com/joseph-ayodele/doc-enricher/internal/templates"
)

// Locker grants the per-document advisory lock held for one stage run.
type Locker interface {
	TryLock(doc string) (func(), error)
}

// RunRecorder keeps a history of stage runs. Recording failures are logged
// and never fail the run.
type RunRecorder interface {
	Start(ctx context.Context, document, stage, model string) (uuid.UUID, error)
	FinishSuccess(ctx context.Context, id uuid.UUID) error
	FinishFailure(ctx context.Context, id uuid.UUID, kind, message string) error
}

// Request is one stage invocation.
type Request struct {
	Document string
	Model    string
	Params   map[string]string
}

// Executor runs any configured stage through precondition check,
// instruction build, job submit, result extract and persist.
type Executor struct {
	store     artifact.Store
	locker    Locker
	templates *templates.Registry
	client    llm.JobClient
	def       *Definition
	runs      RunRecorder
	logger    *slog.Logger
	now       func() time.Time
	poll      llm.PollPolicy
	model     string
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithPollPolicy sets the default policy for stages that do not declare one.
func WithPollPolicy(p llm.PollPolicy) Option {
	return func(e *Executor) { e.poll = p }
}

func WithRunRecorder(r RunRecorder) Option {
	return func(e *Executor) { e.runs = r }
}

func WithLocker(l Locker) Option {
	return func(e *Executor) { e.locker = l }
}

// WithModel sets the model used when a request does not name one.
func WithModel(model string) Option {
	return func(e *Executor) { e.model = model }
}

// NewExecutor wires an executor. If the store can lock documents it is
// used as the locker unless WithLocker overrides it.
func NewExecutor(store artifact.Store, reg *templates.Registry, client llm.JobClient, def *Definition, opts ...Option) *Executor {
	e := &Executor{
		store:     store,
		templates: reg,
		client:    client,
		def:       def,
		logger:    slog.Default(),
		now:       time.Now,
	}
	if l, ok := store.(Locker); ok {
		e.locker = l
	}
	if def == nil {
		e.def = DefaultDefinition()
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Definition returns the stages this executor can run.
func (e *Executor) Definition() *Definition { return e.def }

// CheckTemplates reports the first stage whose template is not registered.
// Daemons call it at startup so a missing template never reaches a request.
func (e *Executor) CheckTemplates() error {
	for _, s := range e.def.Stages() {
		if s.TemplateID == "" {
			continue
		}
		if _, err := e.templates.Get(s.TemplateID); err != nil {
			return err
		}
	}
	return nil
}

// runState is what flows between phases of one run.
type runState struct {
	stage    Stage
	doc      string
	model    string
	tl       *timeline
	inputs   map[artifact.Kind][]byte
	bindings map[string]string

	text       string
	result     map[string]any
	agentID    string
	agentFresh bool
}

// Run executes one stage for one document. The envelope is always
// populated; err is non-nil when the run failed.
func (e *Executor) Run(ctx context.Context, stageID string, req Request) (Envelope, error) {
	tl := newTimeline(e.now)
	trail := llm.NewTrail()
	ctx = llm.WithTrail(ctx, trail)
	tl.mark(EventRunStart)

	env := Envelope{Stage: stageID}
	fail := func(err error) (Envelope, error) {
		tl.mark(EventRunFailed)
		env.Timeline = tl.snapshot()
		env.Debug.HTTPTrail = trail.Entries()
		env.setError(err)
		return env, err
	}

	stage, err := e.def.Lookup(stageID)
	if err != nil {
		return fail(err)
	}
	env.Stage = stage.ID

	doc, err := artifact.SanitizeDocument(req.Document)
	if err != nil {
		return fail(err)
	}
	env.Document = doc
	ctx = common.WithRun(ctx, doc, stage.ID)

	if e.locker != nil {
		unlock, err := e.locker.TryLock(doc)
		if err != nil {
			return fail(err)
		}
		defer unlock()
	}
	tl.mark(EventLockAcquired)

	model := req.Model
	if model == "" {
		model = e.model
	}
	st := &runState{stage: stage, doc: doc, model: model, tl: tl}

	start := e.now()
	log := e.logger.With("document", doc, "stage", stage.ID, "req_id", common.RequestIDFromContext(ctx))
	log.Info("pipeline.stage.start", "job_kind", stage.JobKind, "model", model)
	runID := e.startRun(ctx, log, st)

	err = e.execute(ctx, st, req.Params)
	if err != nil {
		log.Error("pipeline.stage.failed", "error", err, "kind", common.KindOf(err), "elapsed_ms", e.now().Sub(start).Milliseconds())
		e.finishRun(ctx, log, runID, err)
		return fail(err)
	}

	env.Output = &Output{Text: st.text, Structured: st.result}
	env.Timeline = tl.snapshot()
	env.Debug.HTTPTrail = trail.Entries()
	log.Info("pipeline.stage.ok", "elapsed_ms", e.now().Sub(start).Milliseconds(), "exchanges", len(env.Debug.HTTPTrail))
	e.finishRun(ctx, log, runID, nil)
	return env, nil
}

func (e *Executor) execute(ctx context.Context, st *runState, params map[string]string) error {
	if err := e.checkPreconditions(ctx, st); err != nil {
		return err
	}
	st.tl.mark(EventPreconditionDone)

	st.bindings = e.bindings(st, params)
	var instruction string
	if st.stage.JobKind != JobFileUpload {
		var err error
		if instruction, err = e.templates.Resolve(st.stage.TemplateID, st.bindings); err != nil {
			return err
		}
	}
	st.tl.mark(EventInstructionBuilt)

	text, err := e.submit(ctx, st, instruction)
	if err != nil {
		return err
	}
	st.text = text

	if err := e.extractResult(st); err != nil {
		return err
	}
	st.tl.mark(EventResultExtracted)

	return e.persist(ctx, st)
}

// checkPreconditions loads required and optional inputs. Structured inputs
// must parse as JSON objects; text inputs must be non-empty.
func (e *Executor) checkPreconditions(ctx context.Context, st *runState) error {
	st.inputs = map[artifact.Kind][]byte{}
	for _, k := range st.stage.Requires {
		b, err := e.store.Get(ctx, st.doc, artifact.KeyOf(k))
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return common.MissingArtifactError(st.doc, string(k))
			}
			return err
		}
		if err := checkInput(k, b); err != nil {
			return common.MissingArtifactError(st.doc, string(k))
		}
		st.inputs[k] = b
	}
	for _, k := range st.stage.Optional {
		b, err := e.store.Get(ctx, st.doc, artifact.KeyOf(k))
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return err
		}
		if err := checkInput(k, b); err != nil {
			e.logger.Warn("pipeline.optional_input.ignored", "document", st.doc, "kind", k, "error", err)
			continue
		}
		st.inputs[k] = b
	}
	return nil
}

func checkInput(k artifact.Kind, b []byte) error {
	if isStructured(k) {
		_, err := decodeObject(b)
		return err
	}
	if strings.TrimSpace(string(b)) == "" {
		return fmt.Errorf("%s is empty", k)
	}
	return nil
}

func isStructured(k artifact.Kind) bool {
	return k == artifact.Metadata || k == artifact.SEOTerms
}

// bindings layers stage defaults, request params and artifact values, in
// increasing precedence.
func (e *Executor) bindings(st *runState, params map[string]string) map[string]string {
	b := map[string]string{}
	maps.Copy(b, st.stage.Defaults)
	maps.Copy(b, params)
	b["document"] = st.doc

	for _, k := range append(append([]artifact.Kind{}, st.stage.Requires...), st.stage.Optional...) {
		raw := st.inputs[k]
		switch k {
		case artifact.RawText:
			b["raw_text"] = string(raw)
		case artifact.ProviderFileRef:
			b["file_id"] = strings.TrimSpace(string(raw))
		case artifact.Metadata:
			b["metadata_json"] = string(raw)
		case artifact.SEOTerms:
			b["seo_terms_json"] = string(raw)
		}
	}
	return b
}

func (e *Executor) submit(ctx context.Context, st *runState, instruction string) (string, error) {
	switch st.stage.JobKind {
	case JobFileUpload:
		st.tl.mark(EventJobSubmit)
		id, err := e.client.UploadFile(ctx, st.doc+".txt", st.inputs[artifact.RawText])
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(map[string]string{"file_id": id})
		if err != nil {
			return "", err
		}
		return string(b), nil

	case JobSingleShot:
		st.tl.mark(EventJobSubmit)
		return e.client.CompleteOnce(ctx, instruction, llm.CompletionParams{Model: st.model})

	case JobConversational:
		if err := e.resolveAgent(ctx, st); err != nil {
			return "", err
		}
		var atts []llm.Attachment
		if id := st.bindings["file_id"]; id != "" {
			atts = append(atts, llm.Attachment{FileID: id})
		}
		st.tl.mark(EventJobSubmit)
		h, err := e.client.StartConversation(ctx, llm.ConversationRequest{
			AgentID:     st.agentID,
			Message:     instruction,
			Attachments: atts,
			Model:       st.model,
		})
		if err != nil {
			return "", err
		}
		policy := e.poll
		if st.stage.PollInterval > 0 {
			policy.Interval = st.stage.PollInterval
		}
		if st.stage.MaxAttempts > 0 {
			policy.MaxAttempts = st.stage.MaxAttempts
		}
		if _, err := llm.Poll(ctx, e.client, h, policy, func(_ int, rs llm.RunState) {
			st.tl.mark(EventJobPollPrefix + string(rs.Status))
		}); err != nil {
			return "", err
		}
		return e.client.ReadResult(ctx, h)
	}
	return "", common.NewAppError(common.KindConfig, fmt.Sprintf("stage %s has unknown job kind %q", st.stage.ID, st.stage.JobKind), nil)
}

// resolveAgent reuses the stored agent reference when the stage allows it,
// otherwise creates one. A new reference is only stored at persist time.
func (e *Executor) resolveAgent(ctx context.Context, st *runState) error {
	if st.stage.ReusesAgent {
		b, err := e.store.Get(ctx, st.doc, artifact.AgentRefKey(st.stage.ID))
		switch {
		case err == nil && strings.TrimSpace(string(b)) != "":
			st.agentID = strings.TrimSpace(string(b))
			st.tl.mark(EventAgentCached)
			return nil
		case err != nil && !errors.Is(err, common.ErrNotFound):
			return err
		}
	}
	def, err := e.templates.ResolveAgent(st.stage.TemplateID, st.bindings)
	if err != nil {
		return err
	}
	id, err := e.client.CreateAgent(ctx, llm.AgentSpec{
		Name:         def.Name,
		Model:        firstNonEmpty(def.Model, st.model),
		Instructions: def.Instructions,
		Tools:        def.Tools,
	})
	if err != nil {
		return err
	}
	st.agentID = id
	st.agentFresh = true
	st.tl.mark(EventAgentCreated)
	return nil
}

func (e *Executor) extractResult(st *runState) error {
	obj, method, err := extract.Object(st.text)
	if err != nil {
		return err
	}
	if err := extract.RequireKeys(obj, st.stage.RequiredKeys); err != nil {
		return err
	}
	if err := st.stage.Schema.Validate(obj); err != nil {
		return err
	}
	e.logger.Debug("pipeline.result.extracted", "document", st.doc, "stage", st.stage.ID, "method", method, "keys", len(obj))
	st.result = obj
	return nil
}

// persist is the only phase with side effects.
func (e *Executor) persist(ctx context.Context, st *runState) error {
	out := st.result
	if st.stage.Merge {
		prev, err := e.existingObject(ctx, st)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(prev)+len(st.result))
		maps.Copy(merged, prev)
		maps.Copy(merged, st.result)
		out = merged
	}

	var payload []byte
	if st.stage.Produces == artifact.ProviderFileRef {
		payload = []byte(fmt.Sprint(st.result["file_id"]))
		st.text = string(payload)
	} else {
		b, err := extract.Canonical(out)
		if err != nil {
			return common.PersistenceError("encode result", err)
		}
		payload = b
	}
	if err := e.store.Put(ctx, st.doc, artifact.KeyOf(st.stage.Produces), payload, st.stage.ID); err != nil {
		return err
	}
	st.result = out
	st.tl.mark(EventArtifactSaved)

	// The produced artifact is the commit point. The agent reference and the
	// execution log follow it and only warn on failure.
	log := e.logger.With("document", st.doc, "stage", st.stage.ID)
	if st.stage.ReusesAgent && st.agentFresh {
		if err := e.store.Put(ctx, st.doc, artifact.AgentRefKey(st.stage.ID), []byte(st.agentID), st.stage.ID); err != nil {
			log.Warn("pipeline.agent_ref.save_failed", "agent_id", st.agentID, "error", err)
		}
	}

	entry := executionLog{
		Document:  st.doc,
		Stage:     st.stage.ID,
		Model:     st.model,
		Timeline:  st.tl.snapshot(),
		HTTPTrail: llm.TrailFromContext(ctx).Entries(),
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		log.Warn("pipeline.execution_log.encode_failed", "error", err)
		return nil
	}
	if err := e.store.Put(ctx, st.doc, artifact.ExecutionLogKey(st.stage.ID), b, st.stage.ID); err != nil {
		log.Warn("pipeline.execution_log.save_failed", "error", err)
		return nil
	}
	st.tl.mark(EventLogSaved)
	return nil
}

func (e *Executor) existingObject(ctx context.Context, st *runState) (map[string]any, error) {
	if b, ok := st.inputs[st.stage.Produces]; ok {
		return decodeObject(b)
	}
	b, err := e.store.Get(ctx, st.doc, artifact.KeyOf(st.stage.Produces))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	obj, err := decodeObject(b)
	if err != nil {
		// A corrupt prior object is replaced rather than blocking the stage.
		e.logger.Warn("pipeline.merge.prior_unreadable", "document", st.doc, "kind", st.stage.Produces, "error", err)
		return map[string]any{}, nil
	}
	return obj, nil
}

func (e *Executor) startRun(ctx context.Context, log *slog.Logger, st *runState) uuid.UUID {
	if e.runs == nil {
		return uuid.Nil
	}
	id, err := e.runs.Start(ctx, st.doc, st.stage.ID, st.model)
	if err != nil {
		log.Warn("pipeline.run_history.start_failed", "error", err)
		return uuid.Nil
	}
	return id
}

func (e *Executor) finishRun(ctx context.Context, log *slog.Logger, id uuid.UUID, runErr error) {
	if e.runs == nil || id == uuid.Nil {
		return
	}
	// The run outcome is recorded even when the request context is done.
	ctx = context.WithoutCancel(ctx)
	var err error
	if runErr == nil {
		err = e.runs.FinishSuccess(ctx, id)
	} else {
		err = e.runs.FinishFailure(ctx, id, string(common.KindOf(runErr)), runErr.Error())
	}
	if err != nil {
		log.Warn("pipeline.run_history.finish_failed", "run_id", id, "error", err)
	}
}

func decodeObject(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return obj, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
