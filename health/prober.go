package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxDrain bounds how much of a response body is read to keep the
// connection reusable
const maxDrain = 64 << 10

// DefaultProbePolicy probes every 5s for at most 10 attempts
var DefaultProbePolicy = Policy{
	Interval:       5 * time.Second,
	MaxAttempts:    10,
	AttemptTimeout: 5 * time.Second,
}

// Prober polls a tenant application's health endpoint
type Prober struct {
	client *http.Client
	policy Policy
	log    *zap.Logger

	// Wait is replaced in tests to simulate the passage of time
	Wait WaitFunc
}

// NewProber creates a prober. A nil client uses http.DefaultClient and a
// zero policy uses the defaults.
func NewProber(client *http.Client, policy Policy, log *zap.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultProbePolicy
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{
		client: client,
		policy: policy,
		log:    log,
		Wait:   Sleep,
	}
}

// HealthURL is the health endpoint of an application base URL
func HealthURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/health"
}

// WaitHealthy probes GET {baseURL}/health until it answers with a status
// below 500. Network errors and 5xx answers are retried within the budget;
// exhausting it returns *models.TimeoutError.
func (p *Prober) WaitHealthy(ctx context.Context, baseURL string) (int, error) {
	url := HealthURL(baseURL)
	log := p.log.With(zap.String("url", url))

	var status int
	_, err := poll(ctx, "health check of "+url, p.policy, p.Wait,
		func(ctx context.Context, attempt int) (bool, error) {
			code, err := p.probe(ctx, url)
			if err != nil {
				log.Debug("health probe failed", zap.Int("attempt", attempt), zap.Error(err))
				return false, err
			}
			if code >= http.StatusInternalServerError {
				log.Debug("health probe unhealthy", zap.Int("attempt", attempt), zap.Int("status", code))
				return false, fmt.Errorf("health endpoint returned %d", code)
			}
			status = code
			return true, nil
		})
	if err != nil {
		return 0, err
	}
	return status, nil
}

func (p *Prober) probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		resp.Body.Close()
	}()
	return resp.StatusCode, nil
}
