package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/compute"
)

// DefaultStabilizationPolicy polls every 10s for at most 60 attempts
var DefaultStabilizationPolicy = Policy{
	Interval:    10 * time.Second,
	MaxAttempts: 60,
}

// ServiceDescriber reads the current state of a service
type ServiceDescriber interface {
	DescribeService(ctx context.Context, cluster, service string) (*compute.Service, error)
}

// Stabilizer waits for a service rollout to settle
type Stabilizer struct {
	describer ServiceDescriber
	policy    Policy
	log       *zap.Logger

	// Wait is replaced in tests to simulate the passage of time
	Wait WaitFunc
}

// NewStabilizer creates a stabilizer. A zero policy uses the defaults.
func NewStabilizer(describer ServiceDescriber, policy Policy, log *zap.Logger) *Stabilizer {
	if policy.MaxAttempts <= 0 {
		policy = DefaultStabilizationPolicy
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Stabilizer{
		describer: describer,
		policy:    policy,
		log:       log,
		Wait:      Sleep,
	}
}

// WaitForStable polls the service until it is stable. Read errors count as
// failed attempts. It returns *models.TimeoutError when the budget runs out.
func (s *Stabilizer) WaitForStable(ctx context.Context, cluster, service string) (*compute.Service, error) {
	var stable *compute.Service
	log := s.log.With(zap.String("cluster", cluster), zap.String("service", service))

	attempts, err := poll(ctx, fmt.Sprintf("stabilization of %s/%s", cluster, service), s.policy, s.Wait,
		func(ctx context.Context, attempt int) (bool, error) {
			svc, err := s.describer.DescribeService(ctx, cluster, service)
			if err != nil {
				log.Warn("service poll failed", zap.Int("attempt", attempt), zap.Error(err))
				return false, err
			}
			if !svc.IsStable() {
				log.Debug("service not stable yet",
					zap.Int("attempt", attempt),
					zap.Int32("running", svc.RunningCount),
					zap.Int32("desired", svc.DesiredCount),
					zap.Int("deployments", len(svc.Deployments)),
				)
				return false, nil
			}
			stable = svc
			return true, nil
		})
	if err != nil {
		return nil, err
	}

	log.Info("service stable", zap.Int("attempts", attempts))
	return stable, nil
}
