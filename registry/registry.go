package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

// Verifier reports whether an image tag has been pushed
type Verifier interface {
	TagExists(ctx context.Context, repository, tag string) (bool, error)
}

// Verify fails with a ResourceNotFoundError when image is not in its registry.
// An image without a tag is checked as "latest".
func Verify(ctx context.Context, v Verifier, image string) error {
	repository, tag := models.SplitImageRef(image)
	if tag == "" {
		tag = models.DefaultImageTag
	}

	exists, err := v.TagExists(ctx, repository, tag)
	if err != nil {
		return fmt.Errorf("failed to look up image %s:%s: %w", repository, tag, err)
	}
	if !exists {
		return &models.ResourceNotFoundError{Resource: "image", Name: repository + ":" + tag}
	}
	return nil
}

// Router sends ECR repositories to ECR and every other repository to
// Default. A nil ECR sends everything to Default.
type Router struct {
	ECR     Verifier
	Default Verifier
}

func (r *Router) TagExists(ctx context.Context, repository, tag string) (bool, error) {
	if r.ECR != nil && IsECRImage(repository) {
		return r.ECR.TagExists(ctx, repository, tag)
	}
	return r.Default.TagExists(ctx, repository, tag)
}

// Client talks to any OCI distribution registry
type Client struct {
	username string
	password string
}

func NewClient(username, password string) *Client {
	return &Client{
		username: username,
		password: password,
	}
}

func (c *Client) options(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx)}
	if c.username != "" && c.password != "" {
		opts = append(opts, remote.WithAuth(&authn.Basic{
			Username: c.username,
			Password: c.password,
		}))
	} else {
		// public repos or credentials from docker config
		opts = append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	}
	return opts
}

func (c *Client) TagExists(ctx context.Context, repository, tag string) (bool, error) {
	ref, err := name.ParseReference(fmt.Sprintf("%s:%s", repository, tag))
	if err != nil {
		return false, fmt.Errorf("invalid reference: %w", err)
	}

	_, err = remote.Head(ref, c.options(ctx)...)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// ListTags returns up to limit tags of repository in descending order,
// skipping digest-shaped tags. A limit of zero returns every tag.
func (c *Client) ListTags(ctx context.Context, repository string, limit int) ([]string, error) {
	repo, err := name.NewRepository(repository)
	if err != nil {
		return nil, fmt.Errorf("invalid repository: %w", err)
	}

	tags, err := remote.List(repo, c.options(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	var result []string
	for _, tag := range tags {
		if strings.HasPrefix(tag, "sha256") {
			continue
		}
		result = append(result, tag)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(result)))

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func isNotFound(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
		return true
	}
	return strings.Contains(err.Error(), "MANIFEST_UNKNOWN") || strings.Contains(err.Error(), "NAME_UNKNOWN")
}
