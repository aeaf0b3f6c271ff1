package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/notify"
)

// RemoveDeployment tears down a tenant's application. Pooled tenants are
// removed from the shared configuration store. Dedicated services belong to
// the infrastructure teardown, so for silo and bridge only the intent is
// recorded and no compute API is called.
func (a *Activities) RemoveDeployment(ctx context.Context, req models.RemoveDeploymentRequest) error {
	return a.tracer.Trace(ctx, tracingInvocation(ActivityRemoveDeployment, req.TenantID, req.Tier,
		zap.String("tenant_key", req.TenantKey),
	), func(ctx context.Context) error {
		if err := models.Validate(&req); err != nil {
			return err
		}
		return models.NewServiceUnavailable("removal failed", a.remove(ctx, &req))
	})
}

func (a *Activities) remove(ctx context.Context, req *models.RemoveDeploymentRequest) error {
	record := &models.Deployment{
		ID:         a.newID(),
		TenantID:   req.TenantID,
		TenantKey:  req.TenantKey,
		Tier:       req.Tier,
		Status:     models.DeploymentRemoved,
		Type:       models.DeploymentTypeRemove,
		DeployedAt: a.now(),
	}
	log := a.log.With(
		zap.String("deployment_id", record.ID),
		zap.String("tenant_id", req.TenantID),
		zap.String("tier", req.Tier.String()),
	)

	if err := a.store.CreateDeployment(ctx, record); err != nil {
		return fmt.Errorf("failed to record removal: %w", err)
	}
	a.recordEvent(ctx, record.ID, EventRemovalRequested, "")

	if req.Tier.HasDedicatedCompute() {
		log.Info("dedicated service is removed with the tenant infrastructure",
			zap.String("cluster", req.TenantKey+"-cluster"),
			zap.String("service", req.TenantKey+"-service"),
		)
		return nil
	}

	existed, err := a.store.DeleteTenantConfig(ctx, req.TenantID)
	if err != nil {
		return fmt.Errorf("failed to remove tenant config: %w", err)
	}
	if existed {
		a.recordEvent(ctx, record.ID, EventTenantConfigRemoved, "")
	}
	log.Info("tenant removed from shared application", zap.Bool("config_existed", existed))

	return a.publish(ctx, notify.TenantEvent{
		Type:         notify.EventTenantRemoved,
		TenantID:     req.TenantID,
		TenantKey:    req.TenantKey,
		Tier:         req.Tier.String(),
		DeploymentID: record.ID,
	})
}
