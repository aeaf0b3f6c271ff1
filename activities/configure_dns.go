package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/dns"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/tracing"
)

// ConfigureDns points every requested domain at the target endpoint. The
// hosted zone is located from the first domain. Records are upserted in
// input order and the first failure aborts the call, so the result either
// lists every domain or the call fails.
func (a *Activities) ConfigureDns(ctx context.Context, req models.DnsRequest) (*models.DnsResult, error) {
	var result *models.DnsResult

	err := a.tracer.Trace(ctx, tracingInvocation(ActivityConfigureDns, req.TenantID, "",
		zap.String("tenant_key", req.TenantKey),
		zap.Strings("domains", req.Domains),
	), func(ctx context.Context) error {
		if err := models.Validate(&req); err != nil {
			return err
		}

		res, err := a.configureDns(ctx, &req)
		if err != nil {
			return models.NewServiceUnavailable("dns configuration failed", err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Activities) configureDns(ctx context.Context, req *models.DnsRequest) (*models.DnsResult, error) {
	base := dns.BaseDomain(req.Domains[0])

	zones, err := a.dns.ListHostedZonesByName(ctx, base)
	if err != nil {
		return nil, err
	}
	zone, ok := dns.MatchZone(zones, base, req.Domains[0])
	if !ok {
		return nil, &models.ResourceNotFoundError{Resource: "hosted zone", Name: base}
	}

	recordType := req.RecordTypeOrDefault()
	ttl := DefaultDNSTTL
	log := a.log.With(
		zap.String("tenant_id", req.TenantID),
		zap.String("zone_id", zone.ID),
		zap.String("zone", zone.Name),
	)

	records := make([]models.DnsRecord, 0, len(req.Domains))
	for _, domain := range req.Domains {
		changeID, err := a.dns.ChangeResourceRecordSets(ctx, zone.ID, dns.ChangeBatch{
			Comment: fmt.Sprintf("tenant %s", req.TenantKey),
			Changes: []dns.Change{{
				Action: dns.ActionUpsert,
				Name:   domain,
				Type:   recordType,
				Value:  req.TargetEndpoint,
				TTL:    ttl,
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert %s record for %s: %w", recordType, domain, err)
		}
		tracing.Heartbeat(ctx, domain)
		log.Info("dns record upserted",
			zap.String("domain", domain),
			zap.String("record_type", recordType),
			zap.String("change_id", changeID),
		)

		records = append(records, models.DnsRecord{
			Domain:     domain,
			RecordType: recordType,
			Value:      req.TargetEndpoint,
			TTL:        ttl,
		})
	}

	return &models.DnsResult{Configured: true, Records: records}, nil
}
