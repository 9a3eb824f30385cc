package domain

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// WithTraceID attaches a caller-supplied correlation id to ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceIDFrom returns the id attached to ctx, if any.
func TraceIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceKey{}).(string)
	return id, ok && id != ""
}

// EnsureTraceID returns ctx carrying a trace id, generating one when the
// caller did not supply it.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id, ok := TraceIDFrom(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithTraceID(ctx, id), id
}
