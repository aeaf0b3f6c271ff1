package tracing

import "context"

// HeartbeatFunc reports liveness of a long-running activity to the engine
// that dispatched it.
type HeartbeatFunc func(ctx context.Context, details ...interface{})

type heartbeatKey struct{}

// WithHeartbeat returns a context whose Heartbeat calls fn. Engine
// adapters install their liveness hook here before invoking an activity.
func WithHeartbeat(ctx context.Context, fn HeartbeatFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, heartbeatKey{}, fn)
}

// Heartbeat emits a liveness signal through the hook carried by ctx, if any
func Heartbeat(ctx context.Context, details ...interface{}) {
	if fn, ok := ctx.Value(heartbeatKey{}).(HeartbeatFunc); ok {
		fn(ctx, details...)
	}
}
