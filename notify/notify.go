// Package notify publishes tenant lifecycle events to the shared
// application over NATS JetStream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Event types
const (
	EventTenantConfigured = "configured"
	EventTenantRemoved    = "removed"
)

// TenantEvent is the payload the shared application consumes
type TenantEvent struct {
	Type         string                 `json:"type"`
	TenantID     string                 `json:"tenantId"`
	TenantKey    string                 `json:"tenantKey"`
	Tier         string                 `json:"tier"`
	DeploymentID string                 `json:"deploymentId,omitempty"`
	ImageTag     string                 `json:"imageTag,omitempty"`
	Version      string                 `json:"version,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Publisher delivers tenant events
type Publisher interface {
	PublishTenantEvent(ctx context.Context, event TenantEvent) error
}

// Noop discards events. It is used when no NATS server is configured.
type Noop struct{}

func (Noop) PublishTenantEvent(ctx context.Context, event TenantEvent) error {
	return nil
}

// JetStreamAPI is the subset of jetstream.JetStream used by the publisher
type JetStreamAPI interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes events on {env}.tenants.{type}.{tenantKey}
type JetStreamPublisher struct {
	js          JetStreamAPI
	environment string
	log         *zap.Logger
}

func NewJetStreamPublisher(js JetStreamAPI, environment string, log *zap.Logger) *JetStreamPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &JetStreamPublisher{js: js, environment: environment, log: log}
}

// Subject returns the subject an event of eventType for tenantKey goes to.
// Pass ">" as tenantKey to get the stream's wildcard subject.
func (p *JetStreamPublisher) Subject(eventType, tenantKey string) string {
	return fmt.Sprintf("%s.tenants.%s.%s", p.environment, eventType, tenantKey)
}

func (p *JetStreamPublisher) PublishTenantEvent(ctx context.Context, event TenantEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	subject := p.Subject(event.Type, event.TenantKey)
	ack, err := p.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("publish tenant event to %s: %w", subject, err)
	}

	p.log.Info("tenant event published",
		zap.String("subject", subject),
		zap.String("tenant_id", event.TenantID),
		zap.String("stream", ack.Stream),
		zap.Uint64("sequence", ack.Sequence))
	return nil
}

// Connect dials NATS, ensures the tenant event stream exists and returns a
// publisher plus the connection for the caller to drain on shutdown.
func Connect(ctx context.Context, url, environment, stream string, log *zap.Logger) (*JetStreamPublisher, *nats.Conn, error) {
	if url == "" {
		return nil, nil, fmt.Errorf("nats connection string is empty")
	}
	if log == nil {
		log = zap.NewNop()
	}

	nc, err := nats.Connect(url,
		nats.Name("Tenant Orchestrator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.Timeout(15*time.Second),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	p := NewJetStreamPublisher(js, environment, log)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "Tenant lifecycle events for the shared application",
		Subjects: []string{
			fmt.Sprintf("%s.tenants.>", environment),
		},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("add stream: %w", err)
	}

	return p, nc, nil
}
