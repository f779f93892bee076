package common

import (
	"context"
	"time"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyDocument  contextKey = "document"
	ContextKeyStage     contextKey = "stage"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithRun tags the context with the document and stage being processed.
func WithRun(ctx context.Context, document, stage string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyDocument, document)
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// RunFromContext returns the document and stage set by WithRun.
func RunFromContext(ctx context.Context) (document, stage string) {
	document, _ = ctx.Value(ContextKeyDocument).(string)
	stage, _ = ctx.Value(ContextKeyStage).(string)
	return document, stage
}

// WithTimeout creates a context with the specified timeout
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
