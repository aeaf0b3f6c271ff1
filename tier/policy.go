// Package tier maps a tenant tier to its deployment policy.
package tier

import (
	"fmt"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

// Policy describes how a tier is deployed. It only feeds logging and
// resource metadata; autoscaling is not written from it.
type Policy struct {
	Tier               models.TenantTier `json:"tier"`
	DedicatedResources bool              `json:"dedicatedResources"`
	ScalingMin         int               `json:"scalingMin"`
	ScalingMax         int               `json:"scalingMax"`
	SharedDatabase     bool              `json:"sharedDatabase"`
}

var policies = map[models.TenantTier]Policy{
	models.TierSilo: {
		Tier:               models.TierSilo,
		DedicatedResources: true,
		ScalingMin:         2,
		ScalingMax:         10,
	},
	models.TierPooled: {
		Tier:           models.TierPooled,
		SharedDatabase: true,
	},
	models.TierBridge: {
		Tier:               models.TierBridge,
		DedicatedResources: true,
		ScalingMin:         1,
		ScalingMax:         5,
		SharedDatabase:     true,
	},
}

// For returns the policy of t
func For(t models.TenantTier) (Policy, error) {
	p, ok := policies[t]
	if !ok {
		return Policy{}, fmt.Errorf("no deployment policy for tier %q", t)
	}
	return p, nil
}

// Metadata renders the policy as resource metadata
func (p Policy) Metadata() map[string]interface{} {
	md := map[string]interface{}{
		"tier":               p.Tier.String(),
		"dedicatedResources": p.DedicatedResources,
		"sharedDatabase":     p.SharedDatabase,
	}
	if p.DedicatedResources {
		md["scalingMin"] = p.ScalingMin
		md["scalingMax"] = p.ScalingMax
	}
	return md
}
