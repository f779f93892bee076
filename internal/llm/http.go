package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

const maxErrorBody = 512

// Request describes one provider call. Body is JSON-encoded unless it is
// already a *bytes.Buffer (used for multipart uploads).
type Request struct {
	Method  string
	URL     string
	Body    any
	Headers map[string]string
}

// Send performs the request and returns the raw 2xx response body.
// Network failures become upstream transport errors and non-2xx replies
// become upstream protocol errors.
// It does not assume any provider. Callers decide the URL and headers.
func Send(ctx context.Context, client *http.Client, r Request, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	if r.Method == "" {
		r.Method = http.MethodPost
	}

	reqID := uuid.New().String()
	start := time.Now()

	var body io.Reader
	contentType := ""
	switch b := r.Body.(type) {
	case nil:
	case *bytes.Buffer:
		body = b
	default:
		bs, err := json.Marshal(b)
		if err != nil {
			logger.Error("llm.http.encode_error", "req_id", reqID, "error", err)
			return nil, 0, fmt.Errorf("encode json: %w", err)
		}
		body = bytes.NewReader(bs)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		logger.Error("llm.http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	// Default headers; allow caller overrides.
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	doc, stage := common.RunFromContext(ctx)
	logger.Info("llm.http.request",
		"req_id", reqID,
		"method", r.Method,
		"url", r.URL,
		"document", doc,
		"stage", stage,
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("llm.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, common.UpstreamTransportError(err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logger.Warn("llm.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("llm.http.read_error", "req_id", reqID, "error", err)
		return nil, resp.StatusCode, common.UpstreamTransportError(err)
	}

	logger.Info("llm.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		snippet := raw
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return raw, resp.StatusCode, common.UpstreamProtocolErrorf("%s %s: status %d: %s", r.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return raw, resp.StatusCode, nil
}

// SendJSON posts body as JSON to a full URL.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	return Send(ctx, client, Request{Method: http.MethodPost, URL: url, Body: body, Headers: headers}, logger)
}

// DecodeJSON unmarshals a provider reply, treating malformed bodies as
// protocol errors.
func DecodeJSON(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return common.UpstreamProtocolErrorf("decode provider response: %v", err)
	}
	return nil
}
