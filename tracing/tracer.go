// Package tracing records start, success and failure of every activity
// invocation as structured log entries and prometheus metrics.
package tracing

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

const namespace = "tenant_orchestrator"

// Metrics are the collectors the tracer updates
type Metrics struct {
	Activities *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Heartbeats *prometheus.CounterVec
}

// NewMetrics creates the activity collectors and registers them with reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_total",
			Help:      "Activity invocations by outcome.",
		}, []string{"activity", "tier", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_duration_seconds",
			Help:      "Wall-clock duration of activity invocations.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"activity", "tier"}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_heartbeats_total",
			Help:      "Heartbeats emitted by polling loops.",
		}, []string{"activity"}),
	}
	if reg != nil {
		reg.MustRegister(m.Activities, m.Duration, m.Heartbeats)
	}
	return m
}

// Invocation identifies one traced activity call
type Invocation struct {
	Activity string
	TenantID string
	Tier     models.TenantTier
	Fields   []zap.Field
}

// Tracer wraps activity invocations
type Tracer struct {
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewTracer creates a tracer. metrics may be nil.
func NewTracer(log *zap.Logger, metrics *Metrics) *Tracer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracer{log: log, metrics: metrics, now: time.Now}
}

// Trace runs fn between a start and a success/failure event. A failure is
// recorded and returned wrapped in models.ActivityError.
func (t *Tracer) Trace(ctx context.Context, inv Invocation, fn func(ctx context.Context) error) error {
	log := t.log.With(append([]zap.Field{
		zap.String("activity", inv.Activity),
		zap.String("tenant_id", inv.TenantID),
		zap.String("tier", inv.Tier.String()),
	}, inv.Fields...)...)

	start := t.now()
	log.Info("activity started")

	ctx = WithHeartbeat(ctx, t.heartbeat(ctx, inv.Activity, log))

	err := fn(ctx)
	elapsed := t.now().Sub(start)

	if t.metrics != nil {
		t.metrics.Duration.WithLabelValues(inv.Activity, inv.Tier.String()).Observe(elapsed.Seconds())
	}

	if err != nil {
		kind := models.ErrorKind(err)
		log.Error("activity failed",
			zap.Duration("elapsed", elapsed),
			zap.String("error_kind", kind),
			zap.Error(err),
		)
		t.count(inv, "failure")
		return &models.ActivityError{Activity: inv.Activity, TenantID: inv.TenantID, Err: err}
	}

	log.Info("activity succeeded", zap.Duration("elapsed", elapsed))
	t.count(inv, "success")
	return nil
}

func (t *Tracer) count(inv Invocation, outcome string) {
	if t.metrics != nil {
		t.metrics.Activities.WithLabelValues(inv.Activity, inv.Tier.String(), outcome).Inc()
	}
}

// heartbeat chains the tracer's bookkeeping in front of any hook the
// caller already installed.
func (t *Tracer) heartbeat(parent context.Context, activity string, log *zap.Logger) HeartbeatFunc {
	return func(ctx context.Context, details ...interface{}) {
		if t.metrics != nil {
			t.metrics.Heartbeats.WithLabelValues(activity).Inc()
		}
		log.Debug("heartbeat", zap.Any("details", details))
		Heartbeat(parent, details...)
	}
}
