package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

// ECRAPI is the subset of the ECR client used by ECRClient
type ECRAPI interface {
	DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
}

var ecrHost = regexp.MustCompile(`^(\d{12})\.dkr\.ecr\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// ECRClient checks images in Amazon ECR through the API instead of the
// registry protocol, so no docker credentials are needed
type ECRClient struct {
	client ECRAPI
}

func NewECRClient(client ECRAPI) *ECRClient {
	return &ECRClient{client: client}
}

func (c *ECRClient) TagExists(ctx context.Context, repository, tag string) (bool, error) {
	registryID, repoName := ParseECRRepository(repository)

	in := &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repoName),
		ImageIds:       []types.ImageIdentifier{{ImageTag: aws.String(tag)}},
	}
	if registryID != "" {
		in.RegistryId = aws.String(registryID)
	}

	out, err := c.client.DescribeImages(ctx, in)
	if err != nil {
		var imageNotFound *types.ImageNotFoundException
		var repoNotFound *types.RepositoryNotFoundException
		if errors.As(err, &imageNotFound) || errors.As(err, &repoNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe image %s:%s: %w", repoName, tag, err)
	}

	return len(out.ImageDetails) > 0, nil
}

// ParseECRRepository splits "<account>.dkr.ecr.<region>.amazonaws.com/<name>"
// into the registry id and repository name. A repository without an ECR
// host is returned unchanged with an empty registry id.
func ParseECRRepository(repository string) (registryID, name string) {
	host, rest, ok := strings.Cut(repository, "/")
	if !ok {
		return "", repository
	}
	m := ecrHost.FindStringSubmatch(host)
	if m == nil {
		return "", repository
	}
	return m[1], rest
}

// IsECRImage reports whether image lives in an ECR registry
func IsECRImage(image string) bool {
	id, _ := ParseECRRepository(image)
	return id != ""
}
