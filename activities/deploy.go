package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/compute"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/notify"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/registry"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/tier"
)

// ResourceTypeContainerService is the resource type of a tenant's dedicated service
const ResourceTypeContainerService = "ecs-service"

// deployment is the state one DeployApplication invocation threads
// through its tier strategy
type deployment struct {
	req    *models.DeployApplicationRequest
	policy tier.Policy
	record *models.Deployment
	log    *zap.Logger
}

// strategy performs the tier-specific part of a deployment and returns the
// resources it touched
type strategy func(ctx context.Context, d *deployment) ([]models.ResourceData, error)

// DeployApplication rolls the requested image and configuration out to a
// tenant. Every invocation generates a new deployment id and performs the
// full mutation sequence again.
func (a *Activities) DeployApplication(ctx context.Context, req models.DeployApplicationRequest) (*models.DeploymentResult, error) {
	var result *models.DeploymentResult

	err := a.tracer.Trace(ctx, tracingInvocation(ActivityDeployApplication, req.TenantID, req.Tier,
		zap.String("tenant_key", req.TenantKey),
		zap.String("image_tag", req.ImageTagOrDefault()),
	), func(ctx context.Context) error {
		if err := models.Validate(&req); err != nil {
			return err
		}

		res, err := a.deploy(ctx, &req)
		if err != nil {
			return models.NewServiceUnavailable("deployment failed", err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Activities) deploy(ctx context.Context, req *models.DeployApplicationRequest) (*models.DeploymentResult, error) {
	policy, err := tier.For(req.Tier)
	if err != nil {
		return nil, err
	}
	run, ok := a.strategies[req.Tier]
	if !ok {
		return nil, fmt.Errorf("no deployment strategy for tier %q", req.Tier)
	}

	record := &models.Deployment{
		ID:         a.newID(),
		TenantID:   req.TenantID,
		TenantKey:  req.TenantKey,
		Tier:       req.Tier,
		ImageTag:   req.ImageTagOrDefault(),
		Version:    versionOf(req),
		Status:     models.DeploymentPending,
		Type:       models.DeploymentTypeDeploy,
		DeployedAt: a.now(),
	}
	log := a.log.With(
		zap.String("deployment_id", record.ID),
		zap.String("tenant_id", req.TenantID),
		zap.String("tier", req.Tier.String()),
	)

	if err := a.store.CreateDeployment(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}
	a.recordEvent(ctx, record.ID, EventStarted, fmt.Sprintf("image tag %s", record.ImageTag))
	log.Info("deploying tenant application",
		zap.Bool("dedicated_resources", policy.DedicatedResources),
		zap.Int("scaling_min", policy.ScalingMin),
		zap.Int("scaling_max", policy.ScalingMax),
		zap.Bool("shared_database", policy.SharedDatabase),
	)

	d := &deployment{req: req, policy: policy, record: record, log: log}

	resources, err := run(ctx, d)
	if err != nil {
		a.markFailed(ctx, record, err)
		return nil, err
	}

	appPlaneURL := a.opts.Deployment.AppPlaneURL(req.Tier, req.TenantKey)
	if err := a.checkHealth(ctx, d, appPlaneURL); err != nil {
		a.markFailed(ctx, record, err)
		return nil, err
	}

	record.Status = models.DeploymentDeployed
	record.Message = "deployment completed"
	if err := a.store.UpdateDeployment(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record deployment result: %w", err)
	}
	a.recordEvent(ctx, record.ID, EventDeployed, "")
	log.Info("tenant application deployed", zap.Int("resources", len(resources)))

	if resources == nil {
		resources = []models.ResourceData{}
	}
	return &models.DeploymentResult{
		DeploymentID:      record.ID,
		Status:            models.StatusDeployed,
		AppPlaneURL:       appPlaneURL,
		AdminPortalURL:    a.opts.Deployment.AdminPortalURL(req.TenantKey),
		Resources:         resources,
		Version:           record.Version,
		HealthCheckPassed: true,
	}, nil
}

// deployDedicated rolls a new task definition revision out to the tenant's
// own service. Silo and bridge share this path; they differ in policy only.
func (a *Activities) deployDedicated(ctx context.Context, d *deployment) ([]models.ResourceData, error) {
	cluster, service := serviceNames(d.req)
	log := d.log.With(zap.String("cluster", cluster), zap.String("service", service))

	svc, err := a.compute.DescribeService(ctx, cluster, service)
	if err != nil {
		return nil, err
	}
	current, err := a.compute.DescribeTaskDefinition(ctx, svc.TaskDefinition)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	container := next.Container(a.opts.Deployment.ContainerName)
	if container == nil {
		return nil, &models.ResourceNotFoundError{Resource: "container", Name: a.opts.Deployment.ContainerName}
	}
	container.Image = models.WithImageTag(container.Image, d.record.ImageTag)

	if a.verifier != nil {
		if err := registry.Verify(ctx, a.verifier, container.Image); err != nil {
			return nil, err
		}
		a.recordEvent(ctx, d.record.ID, EventImageVerified, container.Image)
	}

	env, err := tenantEnvironment(d.req)
	if err != nil {
		return nil, err
	}
	for _, kv := range env {
		container.SetEnv(kv.Name, kv.Value)
	}

	registered, err := a.compute.RegisterTaskDefinition(ctx, next)
	if err != nil {
		return nil, err
	}
	log.Info("registered task definition",
		zap.String("task_definition", registered.ARN),
		zap.String("previous_task_definition", svc.TaskDefinition),
		zap.String("image", container.Image),
	)

	d.record.ClusterName = cluster
	d.record.ServiceName = service
	d.record.PreviousTaskDefinition = svc.TaskDefinition
	d.record.TaskDefinition = registered.ARN
	if err := a.store.UpdateDeployment(ctx, d.record); err != nil {
		return nil, fmt.Errorf("failed to record task definition: %w", err)
	}
	a.recordEvent(ctx, d.record.ID, EventTaskDefinitionRegistered, registered.ARN)

	if _, err := a.compute.UpdateService(ctx, cluster, service, registered.ARN, true); err != nil {
		return nil, err
	}
	a.recordEvent(ctx, d.record.ID, EventServiceUpdated, registered.ARN)

	stable, err := a.stabilizer.WaitForStable(ctx, cluster, service)
	if err != nil {
		return nil, err
	}
	a.recordEvent(ctx, d.record.ID, EventServiceStable, "")

	identifier := stable.ARN
	if identifier == "" {
		identifier = svc.ARN
	}
	if identifier == "" {
		identifier = cluster + "/" + service
	}

	metadata := d.policy.Metadata()
	metadata["clusterName"] = cluster
	metadata["serviceName"] = service
	metadata["taskDefinition"] = registered.ARN
	metadata["imageTag"] = d.record.ImageTag

	return []models.ResourceData{{
		Type:               ResourceTypeContainerService,
		ExternalIdentifier: identifier,
		Metadata:           metadata,
	}}, nil
}

// deployPooled records the tenant in the shared configuration store and
// notifies the shared application. No compute API is touched.
func (a *Activities) deployPooled(ctx context.Context, d *deployment) ([]models.ResourceData, error) {
	previous, err := a.store.GetTenantConfig(ctx, d.req.TenantID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to read tenant config: %w", err)
	}
	if previous != nil {
		snapshot, err := json.Marshal(previous)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot tenant config: %w", err)
		}
		s := string(snapshot)
		d.record.PreviousConfig = &s
	}
	// from here on a rollback restores the snapshot, or removes the
	// tenant when there was none
	d.record.ConfigApplied = true
	if err := a.store.UpdateDeployment(ctx, d.record); err != nil {
		return nil, fmt.Errorf("failed to record config snapshot: %w", err)
	}

	cfg := &models.TenantConfig{
		TenantID:  d.req.TenantID,
		TenantKey: d.req.TenantKey,
		ImageTag:  d.record.ImageTag,
		Version:   d.record.Version,
		Config:    d.req.Config,
		UpdatedAt: a.now(),
	}
	if cfg.Config == nil {
		cfg.Config = map[string]interface{}{}
	}
	if err := a.store.UpsertTenantConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to store tenant config: %w", err)
	}
	a.recordEvent(ctx, d.record.ID, EventTenantConfigured, "")

	if err := a.publish(ctx, notify.TenantEvent{
		Type:         notify.EventTenantConfigured,
		TenantID:     cfg.TenantID,
		TenantKey:    cfg.TenantKey,
		Tier:         d.req.Tier.String(),
		DeploymentID: d.record.ID,
		ImageTag:     cfg.ImageTag,
		Version:      cfg.Version,
		Config:       cfg.Config,
	}); err != nil {
		return nil, err
	}

	d.log.Info("tenant configured in shared application", zap.Bool("replaced_existing", previous != nil))
	return nil, nil
}

func (a *Activities) checkHealth(ctx context.Context, d *deployment, appPlaneURL string) error {
	if a.opts.Deployment.SkipHealthCheck {
		d.log.Info("health check skipped", zap.String("url", appPlaneURL))
		a.recordEvent(ctx, d.record.ID, EventHealthCheckSkipped, appPlaneURL)
		return nil
	}

	status, err := a.health.WaitHealthy(ctx, appPlaneURL)
	if err != nil {
		return err
	}
	d.log.Info("health check passed", zap.String("url", appPlaneURL), zap.Int("status", status))
	a.recordEvent(ctx, d.record.ID, EventHealthCheckPassed, fmt.Sprintf("%s answered %d", appPlaneURL, status))
	return nil
}

// markFailed records the failure in the history. The write outlives a
// cancelled invocation context.
func (a *Activities) markFailed(ctx context.Context, record *models.Deployment, cause error) {
	ctx = context.WithoutCancel(ctx)
	record.Status = models.DeploymentFailed
	record.Message = cause.Error()
	if err := a.store.UpdateDeployment(ctx, record); err != nil {
		a.log.Warn("failed to record deployment failure", zap.String("deployment_id", record.ID), zap.Error(err))
	}
	a.recordEvent(ctx, record.ID, EventFailed, models.ErrorKind(cause))
}

// serviceNames returns the tenant's cluster and service, falling back to
// the {tenantKey}-cluster and {tenantKey}-service naming convention
func serviceNames(req *models.DeployApplicationRequest) (cluster, service string) {
	cluster = req.InfrastructureOutputs[models.OutputClusterName]
	if cluster == "" {
		cluster = req.TenantKey + "-cluster"
	}
	service = req.InfrastructureOutputs[models.OutputServiceName]
	if service == "" {
		service = req.TenantKey + "-service"
	}
	return cluster, service
}

func versionOf(req *models.DeployApplicationRequest) string {
	if req.Version != "" {
		return req.Version
	}
	return req.ImageTagOrDefault()
}

// tenantEnvironment lists the variables injected into the tenant container:
// the tenant identity first, then every config key in sorted order
func tenantEnvironment(req *models.DeployApplicationRequest) ([]compute.KeyValue, error) {
	env := []compute.KeyValue{
		{Name: EnvTenantID, Value: req.TenantID},
		{Name: EnvTenantKey, Value: req.TenantKey},
	}

	keys := make([]string, 0, len(req.Config))
	for k := range req.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := stringify(req.Config[k])
		if err != nil {
			return nil, models.ValidationError{Field: "config." + k, Message: err.Error()}
		}
		env = append(env, compute.KeyValue{Name: k, Value: v})
	}
	return env, nil
}

// stringify renders a config value as an environment variable value.
// Strings pass through and everything else is JSON encoded.
func stringify(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case fmt.Stringer:
		return val.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot encode value: %w", err)
	}
	return string(b), nil
}
