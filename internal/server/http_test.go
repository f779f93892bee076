package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/doc-enricher/constants"
	"github.com/joseph-ayodele/doc-enricher/internal/artifact"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/export"
	"github.com/joseph-ayodele/doc-enricher/internal/ingest"
	"github.com/joseph-ayodele/doc-enricher/internal/llm"
	"github.com/joseph-ayodele/doc-enricher/internal/pipeline"
	"github.com/joseph-ayodele/doc-enricher/internal/repository"
	"github.com/joseph-ayodele/doc-enricher/internal/templates"
)

type stubProvider struct {
	mu     sync.Mutex
	calls  int
	states []llm.RunState
	polls  int
	result string
}

func (p *stubProvider) hit() {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
}

func (p *stubProvider) CompleteOnce(context.Context, string, llm.CompletionParams) (string, error) {
	p.hit()
	return p.result, nil
}

func (p *stubProvider) CreateAgent(context.Context, llm.AgentSpec) (string, error) {
	p.hit()
	return "asst_seo", nil
}

func (p *stubProvider) StartConversation(_ context.Context, req llm.ConversationRequest) (llm.JobHandle, error) {
	p.hit()
	return llm.JobHandle{AgentID: req.AgentID, ThreadID: "thread_1", RunID: "run_1"}, nil
}

func (p *stubProvider) RunStatus(context.Context, llm.JobHandle) (llm.RunState, error) {
	p.hit()
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.states[min(p.polls, len(p.states)-1)]
	p.polls++
	return st, nil
}

func (p *stubProvider) ReadResult(context.Context, llm.JobHandle) (string, error) {
	p.hit()
	return p.result, nil
}

func (p *stubProvider) UploadFile(context.Context, string, []byte) (string, error) {
	p.hit()
	return "file_abc", nil
}

type harness struct {
	store    *artifact.FSStore
	provider *stubProvider
	runs     repository.StageRunRepository
	srv      *httptest.Server
}

func newHarness(t *testing.T, withRuns bool) *harness {
	t.Helper()
	log := common.DiscardLogger()
	store := artifact.NewMemStore(artifact.WithLogger(log))
	reg, err := templates.Default(templates.WithLogger(log))
	require.NoError(t, err)
	provider := &stubProvider{
		states: []llm.RunState{
			{Status: constants.NormalizeRunStatus("queued")},
			{Status: constants.NormalizeRunStatus("completed")},
		},
		result: "```json\n{\"kw\":[\"alarm\"],\"kw_lt\":[\"wireless alarm panel\"],\"terminos_semanticos\":[]}\n```",
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithPollPolicy(llm.PollPolicy{
			Interval:    time.Millisecond,
			MaxAttempts: 5,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		}),
	}
	h := &harness{store: store, provider: provider}
	if withRuns {
		db, err := repository.Open(context.Background(), repository.Config{Driver: "sqlite", DSN: ":memory:"}, log)
		require.NoError(t, err)
		t.Cleanup(db.Close)
		h.runs = repository.NewStageRunRepository(db, log)
		opts = append(opts, pipeline.WithRunRecorder(h.runs))
	}
	exec := pipeline.NewExecutor(store, reg, provider, nil, opts...)

	s := New(Deps{
		Runner:   exec,
		Store:    store,
		Ingestor: ingest.NewFSIngestor(store, 64, log),
		Runs:     h.runs,
		Exporter: export.NewService(store, log),
	}, Config{MaxRequestBytes: 512, MaxRawTextBytes: 128}, log)
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func decodeEnvelope(t *testing.T, b []byte) pipeline.Envelope {
	t.Helper()
	var env pipeline.Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	return env
}

func (h *harness) put(t *testing.T, doc string, kind artifact.Kind, data string) {
	t.Helper()
	require.NoError(t, h.store.Put(context.Background(), doc, artifact.KeyOf(kind), []byte(data), "test"))
}

func TestRunStageSucceeds(t *testing.T) {
	h := newHarness(t, true)
	h.put(t, "ACME-100", artifact.ProviderFileRef, "file_abc")

	resp, b := h.do(t, http.MethodPost, "/v1/stages/seo/run", `{"document_basename":"ACME-100","language":"Spanish","max_terms":10,"strict":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(b))
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	env := decodeEnvelope(t, b)
	assert.Equal(t, "ACME-100", env.Document)
	assert.Equal(t, "seo", env.Stage)
	require.NotNil(t, env.Output)
	assert.Equal(t, []any{"alarm"}, env.Output.Structured["kw"])
	assert.Contains(t, env.Labels(), "job.poll.completed")
	assert.Contains(t, env.Labels(), pipeline.EventArtifactSaved)

	resp, b = h.do(t, http.MethodGet, "/v1/documents/ACME-100/artifacts/seo_terms", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"kw":["alarm"],"kw_lt":["wireless alarm panel"],"terminos_semanticos":[]}`, string(b))

	resp, b = h.do(t, http.MethodGet, "/v1/documents/ACME-100/artifacts/execution_log:seo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), `"stage": "seo"`)

	resp, b = h.do(t, http.MethodGet, "/v1/documents/ACME-100/runs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs struct {
		Runs []struct {
			Stage  string `json:"stage"`
			Status string `json:"status"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(b, &runs))
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, "seo", runs.Runs[0].Stage)
	assert.Equal(t, string(constants.StageRunSucceeded), runs.Runs[0].Status)
}

func TestRunStageJobFailure(t *testing.T) {
	h := newHarness(t, false)
	h.put(t, "ACME-100", artifact.ProviderFileRef, "file_abc")
	h.provider.states = []llm.RunState{{Status: constants.NormalizeRunStatus("failed"), LastErrorMessage: "quota exceeded"}}

	resp, b := h.do(t, http.MethodPost, "/v1/stages/seo/run", `{"document_basename":"ACME-100"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	env := decodeEnvelope(t, b)
	assert.Nil(t, env.Output)
	assert.Equal(t, common.KindJobFailure, env.Debug.ErrorKind)
	assert.Contains(t, env.Debug.Error, "quota exceeded")
	assert.Equal(t, pipeline.EventRunFailed, env.Labels()[len(env.Timeline)-1])

	resp, _ = h.do(t, http.MethodGet, "/v1/documents/ACME-100/artifacts/seo_terms", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunStageMissingPrecondition(t *testing.T) {
	h := newHarness(t, false)

	resp, b := h.do(t, http.MethodPost, "/v1/stages/seo/run", `{"document_basename":"ACME-100"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope(t, b)
	assert.Equal(t, common.KindValidation, env.Debug.ErrorKind)
	assert.Equal(t, "provider_file_ref", env.Debug.Key)
	assert.NotNil(t, env.Debug.HTTPTrail)
	assert.Empty(t, env.Debug.HTTPTrail)
	assert.Zero(t, h.provider.calls)
}

func TestRunStageRejectsBadRequests(t *testing.T) {
	h := newHarness(t, false)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		key    string
	}{
		{"not json", "/v1/stages/seo/run", `document=ACME`, http.StatusBadRequest, ""},
		{"array body", "/v1/stages/seo/run", `[1,2]`, http.StatusBadRequest, ""},
		{"missing document", "/v1/stages/seo/run", `{"language":"English"}`, http.StatusBadRequest, "document_basename"},
		{"document not a string", "/v1/stages/seo/run", `{"document_basename":7}`, http.StatusBadRequest, "document_basename"},
		{"nested param", "/v1/stages/seo/run", `{"document_basename":"A","extra":{"x":1}}`, http.StatusBadRequest, "extra"},
		{"unknown stage", "/v1/stages/translate/run", `{"document_basename":"A"}`, http.StatusBadRequest, "stage"},
		{"malformed stage", "/v1/stages/seo%3Bdrop/run", `{"document_basename":"A"}`, http.StatusBadRequest, "stage"},
		{"too large", "/v1/stages/seo/run", `{"document_basename":"A","pad":"` + strings.Repeat("x", 600) + `"}`, http.StatusRequestEntityTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, b := h.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, resp.StatusCode, string(b))
			env := decodeEnvelope(t, b)
			assert.NotEmpty(t, env.Debug.Error)
			if tt.key != "" {
				assert.Equal(t, tt.key, env.Debug.Key)
			}
		})
	}
	assert.Zero(t, h.provider.calls)
}

func TestRunStageBusyDocument(t *testing.T) {
	h := newHarness(t, false)
	h.put(t, "ACME-100", artifact.ProviderFileRef, "file_abc")
	unlock, err := h.store.TryLock("ACME-100")
	require.NoError(t, err)
	defer unlock()

	resp, b := h.do(t, http.MethodPost, "/v1/stages/seo/run", `{"document_basename":"ACME-100"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, common.KindConflict, decodeEnvelope(t, b).Debug.ErrorKind)
	assert.Zero(t, h.provider.calls)
}

func TestRunStageParamsBecomeBindings(t *testing.T) {
	req, err := decodeRunRequest([]byte(`{"document_basename":"A","model":"gpt-4o","language":"German","limit":12,"draft":false,"skip":null}`), "seo")
	require.NoError(t, err)
	assert.Equal(t, "A", req.Document)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, map[string]string{"language": "German", "limit": "12", "draft": "false"}, req.Params)
}

func TestListStages(t *testing.T) {
	h := newHarness(t, false)
	resp, b := h.do(t, http.MethodGet, "/v1/stages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Stages []pipeline.StageInfo `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	var ids []string
	for _, s := range out.Stages {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"register", "metadata", "taxonomy", "narrative", "seo"}, ids)
}

func TestRawTextIngest(t *testing.T) {
	h := newHarness(t, false)

	resp, b := h.do(t, http.MethodPut, "/v1/documents/ACME-100/raw-text", "Wireless alarm panel, 868 MHz")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
	var res ingest.IngestionResult
	require.NoError(t, json.Unmarshal(b, &res))
	assert.Equal(t, "ACME-100", res.Document)

	resp, _ = h.do(t, http.MethodPut, "/v1/documents/ACME-100/raw-text", "Wireless alarm panel, 868 MHz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, b = h.do(t, http.MethodGet, "/v1/documents/ACME-100/artifacts/raw_text", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Wireless alarm panel, 868 MHz", string(b))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	resp, _ = h.do(t, http.MethodPut, "/v1/documents/ACME-100/raw-text", strings.Repeat("a", 200))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, "/v1/documents/ACME-100/raw-text", strings.Repeat("b", 100))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode, "ingestor limit applies below the body limit")

	resp, _ = h.do(t, http.MethodPut, "/v1/documents/EMPTY/raw-text", "   ")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterThenSEOOverHTTP(t *testing.T) {
	h := newHarness(t, false)
	resp, _ := h.do(t, http.MethodPut, "/v1/documents/ACME-100/raw-text", "Wireless alarm panel")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, b := h.do(t, http.MethodPost, "/v1/stages/register/run", `{"document_basename":"ACME-100"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(b))

	resp, b = h.do(t, http.MethodGet, "/v1/documents/ACME-100/artifacts/provider_file_ref", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "file_abc", string(b))

	resp, b = h.do(t, http.MethodPost, "/v1/stages/seo/run", `{"document_basename":"ACME-100"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(b))
}

func TestGetArtifactErrors(t *testing.T) {
	h := newHarness(t, false)

	resp, _ := h.do(t, http.MethodGet, "/v1/documents/ACME-100/artifacts/bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/v1/documents/ACME-100/artifacts/execution_log", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/v1/documents/ACME-100/artifacts/metadata", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunsDisabled(t *testing.T) {
	h := newHarness(t, false)
	resp, _ := h.do(t, http.MethodGet, "/v1/documents/ACME-100/runs", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	h = newHarness(t, true)
	resp, _ = h.do(t, http.MethodGet, "/v1/documents/ACME-100/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportWorkbook(t *testing.T) {
	h := newHarness(t, false)
	h.put(t, "ACME-100", artifact.Metadata, `{"product_name":"Alarm Panel"}`)

	resp, b := h.do(t, http.MethodGet, "/v1/export.xlsx?document=ACME-100", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(b), "PK"), "xlsx is a zip archive")
}

func TestHealthAndRequestID(t *testing.T) {
	h := newHarness(t, false)
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(headerRequestID, "req-42")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get(headerRequestID))

	s := New(Deps{Health: func(context.Context) error { return errors.New("db down") }}, Config{}, common.DiscardLogger())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}
