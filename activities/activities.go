// Package activities implements the tenant deployment activities a
// workflow engine invokes: deploy, roll back, remove and configure DNS.
// Activities hold no state between invocations; every collaborator is
// injected and safe for concurrent use.
package activities

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/compute"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/dns"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/notify"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/registry"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/tracing"
)

// Activity names as registered with the workflow engine
const (
	ActivityDeployApplication  = "DeployApplication"
	ActivityRollbackDeployment = "RollbackDeployment"
	ActivityRemoveDeployment   = "RemoveDeployment"
	ActivityConfigureDns       = "ConfigureDns"
)

// Deployment event types written to the history
const (
	EventStarted                  = "started"
	EventImageVerified            = "image_verified"
	EventTaskDefinitionRegistered = "task_definition_registered"
	EventServiceUpdated           = "service_updated"
	EventServiceStable            = "service_stable"
	EventTenantConfigured         = "tenant_configured"
	EventHealthCheckPassed        = "health_check_passed"
	EventHealthCheckSkipped       = "health_check_skipped"
	EventDeployed                 = "deployed"
	EventFailed                   = "failed"
	EventRolledBack               = "rolled_back"
	EventRemovalRequested         = "removal_requested"
	EventTenantConfigRemoved      = "tenant_config_removed"
)

// Environment variables every tenant container receives
const (
	EnvTenantID  = "TENANT_ID"
	EnvTenantKey = "TENANT_KEY"
)

// DefaultDNSTTL is the TTL of every record ConfigureDns writes
const DefaultDNSTTL int64 = 300

// Store persists deployment history and the shared tenant configuration
type Store interface {
	CreateDeployment(ctx context.Context, dep *models.Deployment) error
	UpdateDeployment(ctx context.Context, dep *models.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, id, status string) error
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	AddEvent(ctx context.Context, deploymentID, eventType, details string) error

	UpsertTenantConfig(ctx context.Context, cfg *models.TenantConfig) error
	GetTenantConfig(ctx context.Context, tenantID string) (*models.TenantConfig, error)
	DeleteTenantConfig(ctx context.Context, tenantID string) (bool, error)
}

// Stabilizer waits for a service rollout to settle
type Stabilizer interface {
	WaitForStable(ctx context.Context, cluster, service string) (*compute.Service, error)
}

// HealthChecker waits for a tenant application to answer its health endpoint
type HealthChecker interface {
	WaitHealthy(ctx context.Context, baseURL string) (int, error)
}

// Deps are the collaborators of the activities
type Deps struct {
	Compute    compute.Provider
	DNS        dns.Provider
	Store      Store
	Publisher  notify.Publisher  // nil disables tenant events
	Verifier   registry.Verifier // nil disables image verification
	Stabilizer Stabilizer
	Health     HealthChecker
	Tracer     *tracing.Tracer
	Log        *zap.Logger
}

// Options are the static settings of the activities
type Options struct {
	Deployment   config.DeploymentConfig
	VerifyImages bool
}

type Activities struct {
	compute    compute.Provider
	dns        dns.Provider
	store      Store
	publisher  notify.Publisher
	verifier   registry.Verifier
	stabilizer Stabilizer
	health     HealthChecker
	tracer     *tracing.Tracer
	log        *zap.Logger
	opts       Options

	strategies map[models.TenantTier]strategy
	newID      func() string
	now        func() time.Time
}

func New(deps Deps, opts Options) *Activities {
	a := &Activities{
		compute:    deps.Compute,
		dns:        deps.DNS,
		store:      deps.Store,
		publisher:  deps.Publisher,
		verifier:   deps.Verifier,
		stabilizer: deps.Stabilizer,
		health:     deps.Health,
		tracer:     deps.Tracer,
		log:        deps.Log,
		opts:       opts,
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if a.publisher == nil {
		a.publisher = notify.Noop{}
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.tracer == nil {
		a.tracer = tracing.NewTracer(a.log, nil)
	}
	if !opts.VerifyImages {
		a.verifier = nil
	}

	a.strategies = map[models.TenantTier]strategy{
		models.TierSilo:   a.deployDedicated,
		models.TierBridge: a.deployDedicated,
		models.TierPooled: a.deployPooled,
	}
	return a
}

// recordEvent appends a history event. History is bookkeeping around the
// mutation, so a failed write is logged and does not fail the activity.
func (a *Activities) recordEvent(ctx context.Context, deploymentID, eventType, details string) {
	if err := a.store.AddEvent(ctx, deploymentID, eventType, details); err != nil {
		a.log.Warn("failed to record deployment event",
			zap.String("deployment_id", deploymentID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (a *Activities) publish(ctx context.Context, event notify.TenantEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	return a.publisher.PublishTenantEvent(ctx, event)
}

func tracingInvocation(activity, tenantID string, t models.TenantTier, fields ...zap.Field) tracing.Invocation {
	return tracing.Invocation{
		Activity: activity,
		TenantID: tenantID,
		Tier:     t,
		Fields:   fields,
	}
}
