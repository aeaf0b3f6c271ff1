package models

import "fmt"

// TenantTier is the deployment isolation model of a tenant.
// A tier never changes during a deployment; moving a tenant to another
// tier is a new deployment.
type TenantTier string

const (
	TierSilo   TenantTier = "silo"
	TierPooled TenantTier = "pooled"
	TierBridge TenantTier = "bridge"
)

// IsValid checks if the tier is one of the supported tiers
func (t TenantTier) IsValid() bool {
	switch t {
	case TierSilo, TierPooled, TierBridge:
		return true
	default:
		return false
	}
}

// HasDedicatedCompute reports whether the tier runs its own container service
func (t TenantTier) HasDedicatedCompute() bool {
	return t == TierSilo || t == TierBridge
}

// String returns the string representation of TenantTier
func (t TenantTier) String() string {
	return string(t)
}

// ParseTier converts a string into a TenantTier
func ParseTier(s string) (TenantTier, error) {
	t := TenantTier(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unsupported tenant tier: %q (supported: %s, %s, %s)",
			s, TierSilo, TierPooled, TierBridge)
	}
	return t, nil
}
