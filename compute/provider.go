// Package compute is the adapter over the container-orchestration control
// plane: service and task-definition lifecycle.
package compute

import "context"

// RolloutCompleted is the rollout state of a finished deployment
const RolloutCompleted = "COMPLETED"

// Provider is the narrow control-plane contract the activities need.
// Implementations must be safe for concurrent use.
type Provider interface {
	// DescribeService returns *models.ResourceNotFoundError when the
	// cluster or service does not exist.
	DescribeService(ctx context.Context, cluster, service string) (*Service, error)
	DescribeTaskDefinition(ctx context.Context, id string) (*TaskDefinition, error)
	RegisterTaskDefinition(ctx context.Context, def *TaskDefinition) (*TaskDefinition, error)
	UpdateService(ctx context.Context, cluster, service, taskDefinition string, forceNewDeployment bool) (*Service, error)
}

// Service is the current state of a running container service
type Service struct {
	ARN            string
	Name           string
	Cluster        string
	Status         string
	TaskDefinition string
	DesiredCount   int32
	RunningCount   int32
	Deployments    []Deployment
}

// Deployment is one rollout of a service
type Deployment struct {
	ID             string
	Status         string
	TaskDefinition string
	RolloutState   string
}

// IsStable reports whether all desired tasks run and exactly one
// deployment exists whose rollout has completed.
func (s *Service) IsStable() bool {
	if s == nil || s.RunningCount != s.DesiredCount || len(s.Deployments) != 1 {
		return false
	}
	return s.Deployments[0].RolloutState == RolloutCompleted
}
