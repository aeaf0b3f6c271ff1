// Package awsclient builds the AWS SDK clients the orchestrator talks to.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/route53"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/config"
)

// Clients holds one client per AWS service in use
type Clients struct {
	ECS     *ecs.Client
	Route53 *route53.Client
	ECR     *ecr.Client
}

// Load resolves AWS configuration. Static credentials from cfg take
// precedence over the default chain (env, shared config, IMDS).
func Load(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return awsCfg, nil
}

// New creates the service clients from a resolved configuration
func New(awsCfg aws.Config) *Clients {
	return &Clients{
		ECS:     ecs.NewFromConfig(awsCfg),
		Route53: route53.NewFromConfig(awsCfg),
		ECR:     ecr.NewFromConfig(awsCfg),
	}
}
