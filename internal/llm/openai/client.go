package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/joseph-ayodele/doc-enricher/constants"
	"github.com/joseph-ayodele/doc-enricher/internal/common"
	"github.com/joseph-ayodele/doc-enricher/internal/llm"
)

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
		"OpenAI-Beta":   "assistants=v2",
	}
}

func (c *Client) send(ctx context.Context, method, path string, body any, out any) error {
	raw, _, err := llm.Send(ctx, c.http, llm.Request{
		Method:  method,
		URL:     c.cfg.BaseURL + path,
		Body:    body,
		Headers: c.headers(),
	}, c.log)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return llm.DecodeJSON(raw, out)
}

type idResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func toolList(tools []string) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{"type": t})
	}
	return out
}

// CreateAgent creates an assistant and returns its id.
func (c *Client) CreateAgent(ctx context.Context, spec llm.AgentSpec) (string, error) {
	model := spec.Model
	if model == "" {
		model = c.cfg.Model
	}
	body := map[string]any{
		"model":        model,
		"name":         spec.Name,
		"instructions": spec.Instructions,
		"tools":        toolList(spec.Tools),
	}
	var out idResponse
	if err := c.send(ctx, http.MethodPost, "/assistants", body, &out); err != nil {
		c.log.Error("llm.assistant.create_failed", "name", spec.Name, "error", err)
		return "", err
	}
	if out.ID == "" {
		return "", common.UpstreamProtocolErrorf("assistant create returned no id")
	}
	c.log.Info("llm.assistant.created", "assistant_id", out.ID, "name", spec.Name, "model", model)
	return out.ID, nil
}

// StartConversation creates a thread, posts the message with its
// attachments, and starts a run on the given assistant.
func (c *Client) StartConversation(ctx context.Context, req llm.ConversationRequest) (llm.JobHandle, error) {
	h := llm.JobHandle{AgentID: req.AgentID}
	if req.AgentID == "" {
		return h, common.ValidationErrorf("assistant id is required")
	}

	var thread idResponse
	if err := c.send(ctx, http.MethodPost, "/threads", map[string]any{}, &thread); err != nil {
		return h, err
	}
	if thread.ID == "" {
		return h, common.UpstreamProtocolErrorf("thread create returned no id")
	}
	h.ThreadID = thread.ID

	msg := map[string]any{
		"role":    "user",
		"content": req.Message,
	}
	if len(req.Attachments) > 0 {
		atts := make([]map[string]any, 0, len(req.Attachments))
		for _, a := range req.Attachments {
			tools := a.Tools
			if len(tools) == 0 {
				tools = []string{"file_search"}
			}
			atts = append(atts, map[string]any{"file_id": a.FileID, "tools": toolList(tools)})
		}
		msg["attachments"] = atts
	}
	if err := c.send(ctx, http.MethodPost, "/threads/"+url.PathEscape(thread.ID)+"/messages", msg, nil); err != nil {
		return h, err
	}

	runBody := map[string]any{"assistant_id": req.AgentID}
	if req.Model != "" {
		runBody["model"] = req.Model
	}
	var run idResponse
	if err := c.send(ctx, http.MethodPost, "/threads/"+url.PathEscape(thread.ID)+"/runs", runBody, &run); err != nil {
		return h, err
	}
	if run.ID == "" {
		return h, common.UpstreamProtocolErrorf("run create returned no id")
	}
	h.RunID = run.ID
	c.log.Info("llm.run.started", "assistant_id", req.AgentID, "thread_id", h.ThreadID, "run_id", h.RunID, "status", run.Status)
	return h, nil
}

// RunStatus fetches the current state of a run.
func (c *Client) RunStatus(ctx context.Context, h llm.JobHandle) (llm.RunState, error) {
	var out struct {
		Status    string `json:"status"`
		LastError *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"last_error"`
	}
	path := "/threads/" + url.PathEscape(h.ThreadID) + "/runs/" + url.PathEscape(h.RunID)
	if err := c.send(ctx, http.MethodGet, path, nil, &out); err != nil {
		return llm.RunState{}, err
	}
	if out.Status == "" {
		return llm.RunState{}, common.UpstreamProtocolErrorf("run %s has no status", h.RunID)
	}
	st := llm.RunState{Status: constants.NormalizeRunStatus(out.Status)}
	if out.LastError != nil {
		st.LastErrorCode = out.LastError.Code
		st.LastErrorMessage = out.LastError.Message
	}
	return st, nil
}

// ReadResult returns the text of the newest assistant message produced by the run.
func (c *Client) ReadResult(ctx context.Context, h llm.JobHandle) (string, error) {
	var out struct {
		Data []struct {
			Role    string `json:"role"`
			RunID   string `json:"run_id"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	path := "/threads/" + url.PathEscape(h.ThreadID) + "/messages?order=desc&limit=20"
	if err := c.send(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	for _, m := range out.Data {
		if m.Role != "assistant" || (m.RunID != "" && m.RunID != h.RunID) {
			continue
		}
		var parts []string
		for _, p := range m.Content {
			if p.Type == "text" {
				parts = append(parts, p.Text.Value)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n"), nil
		}
	}
	return "", common.UpstreamProtocolErrorf("run %s produced no assistant text", h.RunID)
}

func (c *Client) temperature(params llm.CompletionParams) float64 {
	if params.Temperature != nil {
		return *params.Temperature
	}
	return float64(c.cfg.Temperature)
}

// CompleteOnce sends a single chat completion request.
func (c *Client) CompleteOnce(ctx context.Context, prompt string, params llm.CompletionParams) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	model := params.Model
	if model == "" {
		model = c.cfg.Model
	}
	opts := []llms.CallOption{llms.WithModel(model), llms.WithTemperature(c.temperature(params))}
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}

	// The chat library flattens transport errors into strings, so the
	// recorded exchange decides between transport and protocol failures.
	trail := llm.TrailFromContext(ctx)
	if trail == nil {
		trail = llm.NewTrail()
		ctx = llm.WithTrail(ctx, trail)
	}
	before := len(trail.Entries())

	c.log.Info("llm.complete.start", "req_id", rid, "model", model, "prompt_len", len(prompt))
	out, err := llms.GenerateFromSinglePrompt(ctx, c.chat, prompt, opts...)
	if err != nil {
		c.log.Error("llm.complete.failed", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", classify(err, trail.Entries()[before:])
	}
	if strings.TrimSpace(out) == "" {
		return "", common.UpstreamProtocolErrorf("completion returned empty content")
	}
	c.log.Info("llm.complete.ok", "req_id", rid, "bytes", len(out), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// classify maps a chat library error onto the taxonomy: if the provider
// answered, the reply was unacceptable; otherwise it was never reached.
func classify(err error, exchanges []llm.Exchange) error {
	if n := len(exchanges); n > 0 && exchanges[n-1].Status != 0 {
		return &common.AppError{Kind: common.KindUpstreamProtocol, Message: fmt.Sprintf("completion failed with status %d", exchanges[n-1].Status), Cause: err}
	}
	return common.UpstreamTransportError(err)
}
