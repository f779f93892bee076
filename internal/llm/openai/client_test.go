package openai

import (
	"context"
	"encoding/json"
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
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/llm"
)

type fakeProvider struct {
	mu       sync.Mutex
	statuses []string
	polls    int
	bodies   map[string]map[string]any
	upload   struct {
		purpose, filename, contentType, content string
	}
}

func (f *fakeProvider) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		var m map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &m)
		f.mu.Lock()
		f.bodies[r.Method+" "+r.URL.Path] = m
		f.mu.Unlock()
	}
	mux.HandleFunc("POST /v1/assistants", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		record(r)
		_, _ = w.Write([]byte(`{"id":"asst_1"}`))
	})
	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{"id":"thread_1"}`))
	})
	mux.HandleFunc("POST /v1/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	})
	mux.HandleFunc("POST /v1/threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{"id":"run_1","status":"queued"}`))
	})
	mux.HandleFunc("GET /v1/threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		st := f.statuses[min(f.polls, len(f.statuses)-1)]
		f.polls++
		f.mu.Unlock()
		if st == "failed" {
			_, _ = w.Write([]byte(`{"id":"run_1","status":"failed","last_error":{"code":"rate_limited","message":"Too many requests"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"run_1","status":"` + st + `"}`))
	})
	mux.HandleFunc("GET /v1/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		_, _ = w.Write([]byte(`{"data":[
			{"role":"assistant","run_id":"run_0","content":[{"type":"text","text":{"value":"old"}}]},
			{"role":"assistant","run_id":"run_1","content":[{"type":"text","text":{"value":"` + "```json\\n{\\\"kw\\\":[\\\"alarm\\\"]}\\n```" + `"}}]},
			{"role":"user","content":[{"type":"text","text":{"value":"question"}}]}
		]}`))
	})
	mux.HandleFunc("POST /v1/files", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		f.upload.purpose = r.FormValue("purpose")
		file, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		b, _ := io.ReadAll(file)
		f.upload.filename = hdr.Filename
		f.upload.contentType = hdr.Header.Get("Content-Type")
		f.upload.content = string(b)
		_, _ = w.Write([]byte(`{"id":"file_123","object":"file"}`))
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"short_description\":\"x\"}"},"finish_reason":"stop"}]}`))
	})
	return mux
}

func newTestClient(t *testing.T, statuses ...string) (*Client, *fakeProvider) {
	t.Helper()
	f := &fakeProvider{statuses: statuses, bodies: map[string]map[string]any{}}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Timeout: 5 * time.Second}, common.DiscardLogger())
	require.NoError(t, err)
	return c, f
}

func TestConversationLifecycle(t *testing.T) {
	c, f := newTestClient(t, "queued", "in_progress", "completed")
	trail := llm.NewTrail()
	ctx := llm.WithTrail(context.Background(), trail)

	agentID, err := c.CreateAgent(ctx, llm.AgentSpec{Name: "seo", Instructions: "be brief", Tools: []string{"file_search"}})
	require.NoError(t, err)
	assert.Equal(t, "asst_1", agentID)
	assert.Equal(t, "gpt-4o-mini", f.bodies["POST /v1/assistants"]["model"])

	h, err := c.StartConversation(ctx, llm.ConversationRequest{
		AgentID:     agentID,
		Message:     "find keywords",
		Attachments: []llm.Attachment{{FileID: "file_123"}},
		Model:       "gpt-4.1",
	})
	require.NoError(t, err)
	assert.Equal(t, llm.JobHandle{AgentID: "asst_1", ThreadID: "thread_1", RunID: "run_1"}, h)

	msg := f.bodies["POST /v1/threads/thread_1/messages"]
	assert.Equal(t, "user", msg["role"])
	atts := msg["attachments"].([]any)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	assert.Equal(t, "file_123", att["file_id"])
	assert.Equal(t, []any{map[string]any{"type": "file_search"}}, att["tools"])
	assert.Equal(t, "gpt-4.1", f.bodies["POST /v1/threads/thread_1/runs"]["model"])

	st, err := llm.Poll(ctx, c, h, llm.PollPolicy{MaxAttempts: 5, Sleep: func(context.Context, time.Duration) error { return nil }}, nil)
	require.NoError(t, err)
	assert.Equal(t, constants.RunCompleted, st.Status)
	assert.Equal(t, 3, f.polls)

	text, err := c.ReadResult(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "```json\n{\"kw\":[\"alarm\"]}\n```", text)

	entries := trail.Entries()
	require.Len(t, entries, 8)
	assert.True(t, strings.HasSuffix(entries[0].Endpoint, "/v1/assistants"))
	assert.True(t, strings.HasSuffix(entries[len(entries)-1].Endpoint, "/v1/threads/thread_1/messages"))
	for _, e := range entries {
		assert.Equal(t, "[REDACTED]", e.Headers["Authorization"])
	}
}

func TestRunStatusFailureReason(t *testing.T) {
	c, _ := newTestClient(t, "failed")
	st, err := c.RunStatus(context.Background(), llm.JobHandle{ThreadID: "thread_1", RunID: "run_1"})
	require.NoError(t, err)
	assert.Equal(t, constants.RunFailed, st.Status)
	assert.Equal(t, "rate_limited: Too many requests", st.FailureReason())
}

func TestUploadFile(t *testing.T) {
	c, f := newTestClient(t, "completed")
	id, err := c.UploadFile(context.Background(), "ACME-100", []byte("Alarm panel, 12V, zone expander"))
	require.NoError(t, err)
	assert.Equal(t, "file_123", id)
	assert.Equal(t, "assistants", f.upload.purpose)
	assert.Equal(t, "ACME-100.txt", f.upload.filename)
	assert.True(t, strings.HasPrefix(f.upload.contentType, "text/plain"))
	assert.Equal(t, "Alarm panel, 12V, zone expander", f.upload.content)

	_, err = c.UploadFile(context.Background(), "empty.txt", nil)
	assert.True(t, common.IsKind(err, common.KindValidation))
}

func TestCompleteOnce(t *testing.T) {
	c, f := newTestClient(t, "completed")
	trail := llm.NewTrail()
	out, err := c.CompleteOnce(llm.WithTrail(context.Background(), trail), "describe", llm.CompletionParams{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, `{"short_description":"x"}`, out)
	assert.Equal(t, "gpt-4o", f.bodies["POST /v1/chat/completions"]["model"])
	require.Len(t, trail.Entries(), 1)
	assert.Equal(t, http.StatusOK, trail.Entries()[0].Status)
}

func TestCompleteOnceTemperature(t *testing.T) {
	c, f := newTestClient(t, "completed")
	c.cfg.Temperature = 0.5

	zero, warm := 0.0, 0.25
	assert.Equal(t, 0.5, c.temperature(llm.CompletionParams{}))
	assert.Equal(t, 0.0, c.temperature(llm.CompletionParams{Temperature: &zero}))
	assert.Equal(t, 0.25, c.temperature(llm.CompletionParams{Temperature: &warm}))

	_, err := c.CompleteOnce(context.Background(), "describe", llm.CompletionParams{Temperature: &warm})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, f.bodies["POST /v1/chat/completions"]["temperature"], 1e-9)

	_, err = c.CompleteOnce(context.Background(), "describe", llm.CompletionParams{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f.bodies["POST /v1/chat/completions"]["temperature"], 1e-9)
}

func TestUpstreamErrorsAreClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()
	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, common.DiscardLogger())
	require.NoError(t, err)

	_, err = c.CreateAgent(context.Background(), llm.AgentSpec{Name: "x"})
	assert.True(t, common.IsKind(err, common.KindUpstreamProtocol))

	_, err = c.CompleteOnce(context.Background(), "hi", llm.CompletionParams{})
	assert.True(t, common.IsKind(err, common.KindUpstreamProtocol))

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	c2, err := NewClient(Config{APIKey: "sk-test", BaseURL: deadURL, Timeout: time.Second}, common.DiscardLogger())
	require.NoError(t, err)

	_, err = c2.CreateAgent(context.Background(), llm.AgentSpec{Name: "x"})
	assert.True(t, common.IsKind(err, common.KindUpstreamTransport))
	_, err = c2.CompleteOnce(context.Background(), "hi", llm.CompletionParams{})
	assert.True(t, common.IsKind(err, common.KindUpstreamTransport))
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient(Config{}, nil)
	assert.True(t, common.IsKind(err, common.KindConfig))
}
