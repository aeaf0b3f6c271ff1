package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/notify"
)

// RollbackDeployment restores the state that was active immediately before
// the given deployment. Rolling back twice is harmless: when the prior
// task definition is already active the service update is skipped and only
// stability is confirmed.
func (a *Activities) RollbackDeployment(ctx context.Context, req models.RollbackRequest) error {
	return a.tracer.Trace(ctx, tracingInvocation(ActivityRollbackDeployment, req.TenantID, "",
		zap.String("deployment_id", req.DeploymentID),
	), func(ctx context.Context) error {
		if err := models.Validate(&req); err != nil {
			return err
		}

		dep, err := a.store.GetDeployment(ctx, req.DeploymentID)
		if errors.Is(err, db.ErrNotFound) || (err == nil && dep.TenantID != req.TenantID) {
			return &models.ResourceNotFoundError{Resource: "deployment", Name: req.DeploymentID}
		}
		if err != nil {
			return fmt.Errorf("failed to load deployment: %w", err)
		}

		log := a.log.With(
			zap.String("deployment_id", dep.ID),
			zap.String("tenant_id", dep.TenantID),
			zap.String("tier", dep.Tier.String()),
		)

		if dep.Tier.HasDedicatedCompute() {
			err = a.rollbackService(ctx, dep, log)
		} else {
			err = a.rollbackConfig(ctx, dep, log)
		}
		if err != nil {
			return err
		}

		if err := a.store.UpdateDeploymentStatus(ctx, dep.ID, models.DeploymentRolledBack); err != nil {
			return fmt.Errorf("failed to record rollback: %w", err)
		}
		a.recordEvent(ctx, dep.ID, EventRolledBack, dep.PreviousTaskDefinition)
		log.Info("deployment rolled back")
		return nil
	})
}

func (a *Activities) rollbackService(ctx context.Context, dep *models.Deployment, log *zap.Logger) error {
	if dep.PreviousTaskDefinition == "" {
		// the deployment failed before it touched the service
		log.Info("deployment never updated the service, nothing to roll back")
		return nil
	}
	log = log.With(
		zap.String("cluster", dep.ClusterName),
		zap.String("service", dep.ServiceName),
		zap.String("task_definition", dep.PreviousTaskDefinition),
	)

	svc, err := a.compute.DescribeService(ctx, dep.ClusterName, dep.ServiceName)
	if err != nil {
		return err
	}

	if svc.TaskDefinition == dep.PreviousTaskDefinition {
		log.Info("previous task definition already active")
	} else {
		if _, err := a.compute.UpdateService(ctx, dep.ClusterName, dep.ServiceName, dep.PreviousTaskDefinition, true); err != nil {
			return err
		}
		log.Info("service re-pointed at previous task definition", zap.String("replaced", svc.TaskDefinition))
	}

	_, err = a.stabilizer.WaitForStable(ctx, dep.ClusterName, dep.ServiceName)
	return err
}

// rollbackConfig restores the tenant configuration snapshot taken before
// the deployment, or removes the tenant when it did not exist then
func (a *Activities) rollbackConfig(ctx context.Context, dep *models.Deployment, log *zap.Logger) error {
	if !dep.ConfigApplied {
		// the deployment failed before it touched the shared config
		log.Info("deployment never wrote tenant config, nothing to roll back")
		return nil
	}
	if dep.PreviousConfig == nil {
		if _, err := a.store.DeleteTenantConfig(ctx, dep.TenantID); err != nil {
			return fmt.Errorf("failed to remove tenant config: %w", err)
		}
		log.Info("tenant config removed, no earlier configuration existed")
		return a.publish(ctx, notify.TenantEvent{
			Type:         notify.EventTenantRemoved,
			TenantID:     dep.TenantID,
			TenantKey:    dep.TenantKey,
			Tier:         dep.Tier.String(),
			DeploymentID: dep.ID,
		})
	}

	var previous models.TenantConfig
	if err := json.Unmarshal([]byte(*dep.PreviousConfig), &previous); err != nil {
		return fmt.Errorf("failed to decode config snapshot: %w", err)
	}
	previous.UpdatedAt = a.now()
	if err := a.store.UpsertTenantConfig(ctx, &previous); err != nil {
		return fmt.Errorf("failed to restore tenant config: %w", err)
	}
	log.Info("tenant config restored", zap.String("image_tag", previous.ImageTag))

	return a.publish(ctx, notify.TenantEvent{
		Type:         notify.EventTenantConfigured,
		TenantID:     previous.TenantID,
		TenantKey:    previous.TenantKey,
		Tier:         dep.Tier.String(),
		DeploymentID: dep.ID,
		ImageTag:     previous.ImageTag,
		Version:      previous.Version,
		Config:       previous.Config,
	})
}
