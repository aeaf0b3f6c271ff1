package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

// ECSAPI is the subset of the ECS client used by ECSProvider
type ECSAPI interface {
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	DescribeTaskDefinition(ctx context.Context, params *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

// ECSProvider implements Provider on Amazon ECS
type ECSProvider struct {
	client ECSAPI
}

// NewECSProvider creates a provider backed by an ECS client
func NewECSProvider(client ECSAPI) *ECSProvider {
	return &ECSProvider{client: client}
}

func (p *ECSProvider) DescribeService(ctx context.Context, cluster, service string) (*Service, error) {
	out, err := p.client.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{service},
	})
	if err != nil {
		var clusterNotFound *types.ClusterNotFoundException
		if errors.As(err, &clusterNotFound) {
			return nil, &models.ResourceNotFoundError{Resource: "cluster", Name: cluster}
		}
		return nil, fmt.Errorf("failed to describe service %s/%s: %w", cluster, service, err)
	}

	for _, svc := range out.Services {
		// ECS keeps deleted services around as INACTIVE for a while
		if aws.ToString(svc.Status) == "INACTIVE" {
			continue
		}
		return fromECSService(cluster, svc), nil
	}

	return nil, &models.ResourceNotFoundError{Resource: "service", Name: cluster + "/" + service}
}

func (p *ECSProvider) DescribeTaskDefinition(ctx context.Context, id string) (*TaskDefinition, error) {
	out, err := p.client.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe task definition %s: %w", id, err)
	}
	if out.TaskDefinition == nil {
		return nil, &models.ResourceNotFoundError{Resource: "task definition", Name: id}
	}
	return fromECSTaskDefinition(out.TaskDefinition), nil
}

func (p *ECSProvider) RegisterTaskDefinition(ctx context.Context, def *TaskDefinition) (*TaskDefinition, error) {
	in := &ecs.RegisterTaskDefinitionInput{
		Family:               aws.String(def.Family),
		ContainerDefinitions: toECSContainers(def),
	}
	if src := def.source; src != nil {
		in.TaskRoleArn = src.TaskRoleArn
		in.ExecutionRoleArn = src.ExecutionRoleArn
		in.NetworkMode = src.NetworkMode
		in.Volumes = src.Volumes
		in.PlacementConstraints = src.PlacementConstraints
		in.RequiresCompatibilities = src.RequiresCompatibilities
		in.Cpu = src.Cpu
		in.Memory = src.Memory
		in.PidMode = src.PidMode
		in.IpcMode = src.IpcMode
		in.ProxyConfiguration = src.ProxyConfiguration
		in.InferenceAccelerators = src.InferenceAccelerators
		in.EphemeralStorage = src.EphemeralStorage
		in.RuntimePlatform = src.RuntimePlatform
	}

	out, err := p.client.RegisterTaskDefinition(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to register task definition for family %s: %w", def.Family, err)
	}
	if out.TaskDefinition == nil {
		return nil, fmt.Errorf("register task definition for family %s returned no definition", def.Family)
	}
	return fromECSTaskDefinition(out.TaskDefinition), nil
}

func (p *ECSProvider) UpdateService(ctx context.Context, cluster, service, taskDefinition string, forceNewDeployment bool) (*Service, error) {
	out, err := p.client.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(cluster),
		Service:            aws.String(service),
		TaskDefinition:     aws.String(taskDefinition),
		ForceNewDeployment: forceNewDeployment,
	})
	if err != nil {
		var notFound *types.ServiceNotFoundException
		if errors.As(err, &notFound) {
			return nil, &models.ResourceNotFoundError{Resource: "service", Name: cluster + "/" + service}
		}
		return nil, fmt.Errorf("failed to update service %s/%s: %w", cluster, service, err)
	}
	if out.Service == nil {
		return nil, fmt.Errorf("update service %s/%s returned no service", cluster, service)
	}
	return fromECSService(cluster, *out.Service), nil
}

func fromECSService(cluster string, svc types.Service) *Service {
	s := &Service{
		ARN:            aws.ToString(svc.ServiceArn),
		Name:           aws.ToString(svc.ServiceName),
		Cluster:        cluster,
		Status:         aws.ToString(svc.Status),
		TaskDefinition: aws.ToString(svc.TaskDefinition),
		DesiredCount:   svc.DesiredCount,
		RunningCount:   svc.RunningCount,
	}
	for _, d := range svc.Deployments {
		s.Deployments = append(s.Deployments, Deployment{
			ID:             aws.ToString(d.Id),
			Status:         aws.ToString(d.Status),
			TaskDefinition: aws.ToString(d.TaskDefinition),
			RolloutState:   string(d.RolloutState),
		})
	}
	return s
}

func fromECSTaskDefinition(td *types.TaskDefinition) *TaskDefinition {
	def := &TaskDefinition{
		ARN:      aws.ToString(td.TaskDefinitionArn),
		Family:   aws.ToString(td.Family),
		Revision: td.Revision,
		source:   td,
	}
	for _, c := range td.ContainerDefinitions {
		cd := ContainerDefinition{
			Name:  aws.ToString(c.Name),
			Image: aws.ToString(c.Image),
		}
		for _, kv := range c.Environment {
			cd.Environment = append(cd.Environment, KeyValue{
				Name:  aws.ToString(kv.Name),
				Value: aws.ToString(kv.Value),
			})
		}
		def.Containers = append(def.Containers, cd)
	}
	return def
}

// toECSContainers overlays image and environment onto the source
// containers so every other container setting survives the new revision.
func toECSContainers(def *TaskDefinition) []types.ContainerDefinition {
	sourceByName := map[string]types.ContainerDefinition{}
	if def.source != nil {
		for _, c := range def.source.ContainerDefinitions {
			sourceByName[aws.ToString(c.Name)] = c
		}
	}

	containers := make([]types.ContainerDefinition, 0, len(def.Containers))
	for _, c := range def.Containers {
		ecsContainer, ok := sourceByName[c.Name]
		if !ok {
			ecsContainer = types.ContainerDefinition{Name: aws.String(c.Name)}
		}
		ecsContainer.Image = aws.String(c.Image)
		ecsContainer.Environment = nil
		for _, kv := range c.Environment {
			ecsContainer.Environment = append(ecsContainer.Environment, types.KeyValuePair{
				Name:  aws.String(kv.Name),
				Value: aws.String(kv.Value),
			})
		}
		containers = append(containers, ecsContainer)
	}
	return containers
}
