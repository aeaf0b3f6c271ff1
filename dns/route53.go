package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

// Route53API is the subset of the Route 53 client used by Route53Provider
type Route53API interface {
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// Route53Provider implements Provider on Amazon Route 53
type Route53Provider struct {
	client   Route53API
	maxZones int32
}

// NewRoute53Provider creates a provider backed by a Route 53 client
func NewRoute53Provider(client Route53API) *Route53Provider {
	return &Route53Provider{client: client, maxZones: 100}
}

func (p *Route53Provider) ListHostedZonesByName(ctx context.Context, domain string) ([]HostedZone, error) {
	out, err := p.client.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(domain),
		MaxItems: aws.Int32(p.maxZones),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list hosted zones for %s: %w", domain, err)
	}

	zones := make([]HostedZone, 0, len(out.HostedZones))
	for _, z := range out.HostedZones {
		zones = append(zones, HostedZone{
			ID:   strings.TrimPrefix(aws.ToString(z.Id), "/hostedzone/"),
			Name: aws.ToString(z.Name),
		})
	}
	return zones, nil
}

func (p *Route53Provider) ChangeResourceRecordSets(ctx context.Context, zoneID string, batch ChangeBatch) (string, error) {
	changes := make([]types.Change, 0, len(batch.Changes))
	for _, c := range batch.Changes {
		changes = append(changes, types.Change{
			Action: types.ChangeAction(c.Action),
			ResourceRecordSet: &types.ResourceRecordSet{
				Name: aws.String(c.Name),
				Type: types.RRType(c.Type),
				TTL:  aws.Int64(c.TTL),
				ResourceRecords: []types.ResourceRecord{
					{Value: aws.String(c.Value)},
				},
			},
		})
	}

	in := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch:  &types.ChangeBatch{Changes: changes},
	}
	if batch.Comment != "" {
		in.ChangeBatch.Comment = aws.String(batch.Comment)
	}

	out, err := p.client.ChangeResourceRecordSets(ctx, in)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchHostedZone" {
			return "", &models.ResourceNotFoundError{Resource: "hosted zone", Name: zoneID}
		}
		return "", fmt.Errorf("failed to change record sets in zone %s: %w", zoneID, err)
	}
	if out.ChangeInfo == nil {
		return "", nil
	}
	return aws.ToString(out.ChangeInfo.Id), nil
}
