package dns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

type fakeRoute53 struct {
	zones     []types.HostedZone
	listErr   error
	changeErr error
	listInput *route53.ListHostedZonesByNameInput
	changes   []*route53.ChangeResourceRecordSetsInput
}

func (f *fakeRoute53) ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error) {
	f.listInput = params
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &route53.ListHostedZonesByNameOutput{HostedZones: f.zones}, nil
}

func (f *fakeRoute53) ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	f.changes = append(f.changes, params)
	if f.changeErr != nil {
		return nil, f.changeErr
	}
	return &route53.ChangeResourceRecordSetsOutput{ChangeInfo: &types.ChangeInfo{Id: aws.String("/change/C1")}}, nil
}

func TestBaseDomain(t *testing.T) {
	tests := []struct {
		domain string
		base   string
	}{
		{"a.tenant.example.com", "example.com"},
		{"tenant.example.com", "example.com"},
		{"example.com", "example.com"},
		{"example.com.", "example.com"},
		{"localhost", "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.base, BaseDomain(tt.domain))
		})
	}
}

func TestMatchZone(t *testing.T) {
	zones := []HostedZone{
		{ID: "Z1", Name: "badexample.com."},
		{ID: "Z2", Name: "example.com."},
		{ID: "Z3", Name: "tenant.example.com."},
	}

	z, ok := MatchZone(zones, "example.com", "a.tenant.example.com")
	require.True(t, ok)
	assert.Equal(t, "Z2", z.ID)

	// without an exact base match the deepest parent zone wins
	z, ok = MatchZone(zones[2:], "example.com", "a.tenant.example.com")
	require.True(t, ok)
	assert.Equal(t, "Z3", z.ID)

	_, ok = MatchZone([]HostedZone{{ID: "Z1", Name: "badexample.com."}}, "example.com", "a.example.com")
	assert.False(t, ok)

	_, ok = MatchZone(nil, "example.com", "a.example.com")
	assert.False(t, ok)
}

func TestRoute53Provider_ListHostedZonesByName(t *testing.T) {
	client := &fakeRoute53{zones: []types.HostedZone{
		{Id: aws.String("/hostedzone/Z123"), Name: aws.String("example.com.")},
	}}

	zones, err := NewRoute53Provider(client).ListHostedZonesByName(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []HostedZone{{ID: "Z123", Name: "example.com."}}, zones)
	assert.Equal(t, "example.com", aws.ToString(client.listInput.DNSName))

	client.listErr = errors.New("access denied")
	_, err = NewRoute53Provider(client).ListHostedZonesByName(context.Background(), "example.com")
	assert.Error(t, err)
}

func TestRoute53Provider_ChangeResourceRecordSets(t *testing.T) {
	client := &fakeRoute53{}

	id, err := NewRoute53Provider(client).ChangeResourceRecordSets(context.Background(), "Z123", ChangeBatch{
		Comment: "tenant acme",
		Changes: []Change{{
			Action: ActionUpsert,
			Name:   "a.tenant.example.com",
			Type:   "CNAME",
			Value:  "lb.example.net",
			TTL:    300,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "/change/C1", id)

	require.Len(t, client.changes, 1)
	in := client.changes[0]
	assert.Equal(t, "Z123", aws.ToString(in.HostedZoneId))
	assert.Equal(t, "tenant acme", aws.ToString(in.ChangeBatch.Comment))
	require.Len(t, in.ChangeBatch.Changes, 1)
	change := in.ChangeBatch.Changes[0]
	assert.Equal(t, types.ChangeActionUpsert, change.Action)
	assert.Equal(t, types.RRTypeCname, change.ResourceRecordSet.Type)
	assert.Equal(t, int64(300), aws.ToInt64(change.ResourceRecordSet.TTL))
	assert.Equal(t, "lb.example.net", aws.ToString(change.ResourceRecordSet.ResourceRecords[0].Value))
}

func TestRoute53Provider_ChangeResourceRecordSetsMissingZone(t *testing.T) {
	client := &fakeRoute53{changeErr: &smithy.GenericAPIError{Code: "NoSuchHostedZone", Message: "zone deleted"}}

	_, err := NewRoute53Provider(client).ChangeResourceRecordSets(context.Background(), "Z404", ChangeBatch{
		Changes: []Change{{Action: ActionUpsert, Name: "a.example.com", Type: "CNAME", Value: "lb", TTL: 300}},
	})
	assert.Equal(t, models.KindResourceNotFound, models.ErrorKind(err))

	client.changeErr = &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"}
	_, err = NewRoute53Provider(client).ChangeResourceRecordSets(context.Background(), "Z1", ChangeBatch{})
	assert.Equal(t, models.KindInternal, models.ErrorKind(err))
}
