// Package dns is the adapter over the DNS provider's hosted zones and
// record sets.
package dns

import (
	"context"
	"strings"
)

// Change actions
const (
	ActionUpsert = "UPSERT"
	ActionDelete = "DELETE"
)

// Provider is the DNS contract the activities need. Implementations must
// be safe for concurrent use.
type Provider interface {
	// ListHostedZonesByName lists zones starting at domain in the
	// provider's order; callers filter for the zone they need.
	ListHostedZonesByName(ctx context.Context, domain string) ([]HostedZone, error)
	ChangeResourceRecordSets(ctx context.Context, zoneID string, batch ChangeBatch) (string, error)
}

// HostedZone is a provider container of records for a registrable domain
type HostedZone struct {
	ID   string
	Name string
}

// Change is a single record change
type Change struct {
	Action string
	Name   string
	Type   string
	Value  string
	TTL    int64
}

// ChangeBatch is an atomic set of changes against one zone
type ChangeBatch struct {
	Comment string
	Changes []Change
}

// BaseDomain returns the registrable domain used for zone lookup: the last
// two labels when the domain has more than two, the domain otherwise.
func BaseDomain(domain string) string {
	labels := strings.Split(strings.TrimSuffix(domain, "."), ".")
	if len(labels) > 2 {
		return strings.Join(labels[len(labels)-2:], ".")
	}
	return strings.Join(labels, ".")
}

// MatchZone picks the zone named exactly baseDomain, or else the longest
// zone that is a parent of domain. It returns false when none matches.
func MatchZone(zones []HostedZone, baseDomain, domain string) (HostedZone, bool) {
	base := normalize(baseDomain)
	fqdn := normalize(domain)

	var (
		best  HostedZone
		found bool
	)
	for _, z := range zones {
		name := normalize(z.Name)
		if name == base {
			return z, true
		}
		if fqdn == name || strings.HasSuffix(fqdn, "."+name) {
			if !found || len(name) > len(normalize(best.Name)) {
				best, found = z, true
			}
		}
	}
	return best, found
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
