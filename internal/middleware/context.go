package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	subjectKey contextKey = "subject"
	traceIDKey contextKey = "trace_id"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores the trace id on ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace id stored on ctx, or "".
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithSubject stores the authenticated token subject on ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// GetSubject returns the authenticated token subject, or "" for anonymous requests.
func GetSubject(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}
