package llm

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Exchange is one recorded provider request.
type Exchange struct {
	Method    string            `json:"method"`
	Endpoint  string            `json:"endpoint"`
	Status    int               `json:"status"`
	LatencyMS int64             `json:"latency_ms"`
	Headers   map[string]string `json:"headers,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Trail collects the exchanges made during one stage run.
type Trail struct {
	mu      sync.Mutex
	entries []Exchange
}

func NewTrail() *Trail { return &Trail{} }

func (t *Trail) add(e Exchange) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.mu.Unlock()
}

// Entries returns a copy of the recorded exchanges, oldest first.
func (t *Trail) Entries() []Exchange {
	if t == nil {
		return []Exchange{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Exchange, len(t.entries))
	copy(out, t.entries)
	return out
}

type trailKey struct{}

// WithTrail makes requests sent with ctx record into t.
func WithTrail(ctx context.Context, t *Trail) context.Context {
	return context.WithValue(ctx, trailKey{}, t)
}

func TrailFromContext(ctx context.Context) *Trail {
	t, _ := ctx.Value(trailKey{}).(*Trail)
	return t
}

var redactedHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"api-key":             true,
	"openai-organization": true,
	"openai-project":      true,
}

// RedactHeaders flattens headers, masking credentials.
func RedactHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if redactedHeaders[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = strings.Join(h[k], ", ")
	}
	return out
}

// RecordingTransport appends every round trip to the Trail carried by the
// request context, if any.
type RecordingTransport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
	Now    func() time.Time
}

func (rt *RecordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	now := rt.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	resp, err := base.RoundTrip(req)

	trail := TrailFromContext(req.Context())
	if trail == nil {
		return resp, err
	}
	u := *req.URL
	u.RawQuery = ""
	ex := Exchange{
		Method:    req.Method,
		Endpoint:  u.String(),
		LatencyMS: now().Sub(start).Milliseconds(),
		Headers:   RedactHeaders(req.Header),
	}
	if err != nil {
		ex.Error = err.Error()
	} else {
		ex.Status = resp.StatusCode
	}
	trail.add(ex)
	if rt.Logger != nil {
		rt.Logger.Debug("llm.http.trail", "method", ex.Method, "endpoint", ex.Endpoint, "status", ex.Status, "latency_ms", ex.LatencyMS)
	}
	return resp, err
}

// NewRecordingClient returns an http.Client whose transport records trails.
func NewRecordingClient(timeout time.Duration, base http.RoundTripper, logger *slog.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &RecordingTransport{Base: base, Logger: logger},
	}
}
