package activities

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/compute"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/dns"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/health"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/notify"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/tracing"
)

const initialTaskDefinition = "arn:aws:ecs:eu-west-1:123456789012:task-definition/acme:7"

// fakeCompute is an in-memory control plane holding one service
type fakeCompute struct {
	mu sync.Mutex

	service     *compute.Service
	taskDefs    map[string]*compute.TaskDefinition
	missing     bool
	stuck       bool // rollouts never complete
	revision    int32
	updateForce []bool
	registerErr error

	describeCalls int
	mutations     []string
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		service: &compute.Service{
			ARN:            "arn:aws:ecs:eu-west-1:123456789012:service/acme-cluster/acme-service",
			Name:           "acme-service",
			Cluster:        "acme-cluster",
			Status:         "ACTIVE",
			TaskDefinition: initialTaskDefinition,
			DesiredCount:   2,
			RunningCount:   2,
			Deployments:    []compute.Deployment{{ID: "ecs-svc/1", RolloutState: compute.RolloutCompleted}},
		},
		taskDefs: map[string]*compute.TaskDefinition{
			initialTaskDefinition: {
				ARN:      initialTaskDefinition,
				Family:   "acme",
				Revision: 7,
				Containers: []compute.ContainerDefinition{{
					Name:        "app",
					Image:       "123456789012.dkr.ecr.eu-west-1.amazonaws.com/tenant-app:v1",
					Environment: []compute.KeyValue{{Name: "LOG_LEVEL", Value: "info"}},
				}},
			},
		},
		revision: 7,
	}
}

func (f *fakeCompute) DescribeService(ctx context.Context, cluster, service string) (*compute.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalls++
	if f.missing {
		return nil, &models.ResourceNotFoundError{Resource: "service", Name: cluster + "/" + service}
	}
	svc := *f.service
	svc.Deployments = append([]compute.Deployment(nil), f.service.Deployments...)
	return &svc, nil
}

func (f *fakeCompute) DescribeTaskDefinition(ctx context.Context, id string) (*compute.TaskDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	td, ok := f.taskDefs[id]
	if !ok {
		return nil, &models.ResourceNotFoundError{Resource: "task definition", Name: id}
	}
	return td, nil
}

func (f *fakeCompute) RegisterTaskDefinition(ctx context.Context, def *compute.TaskDefinition) (*compute.TaskDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	f.revision++
	registered := def.Clone()
	registered.Revision = f.revision
	registered.ARN = fmt.Sprintf("arn:aws:ecs:eu-west-1:123456789012:task-definition/%s:%d", def.Family, f.revision)
	f.taskDefs[registered.ARN] = registered
	f.mutations = append(f.mutations, "register")
	return registered, nil
}

func (f *fakeCompute) UpdateService(ctx context.Context, cluster, service, taskDefinition string, forceNewDeployment bool) (*compute.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, "update")
	f.updateForce = append(f.updateForce, forceNewDeployment)
	f.service.TaskDefinition = taskDefinition
	if f.stuck {
		f.service.RunningCount = 1
		f.service.Deployments = []compute.Deployment{
			{ID: "ecs-svc/2", RolloutState: "IN_PROGRESS", TaskDefinition: taskDefinition},
			{ID: "ecs-svc/1", RolloutState: compute.RolloutCompleted},
		}
	} else {
		f.service.Deployments = []compute.Deployment{{ID: "ecs-svc/2", RolloutState: compute.RolloutCompleted, TaskDefinition: taskDefinition}}
	}
	svc := *f.service
	return &svc, nil
}

func (f *fakeCompute) registeredDefinition() *compute.TaskDefinition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taskDefs[f.service.TaskDefinition]
}

// fakeDNS records every change batch
type fakeDNS struct {
	zones     []dns.HostedZone
	failOn    string
	listCalls int
	batches   []dns.ChangeBatch
	zoneIDs   []string
}

func (f *fakeDNS) ListHostedZonesByName(ctx context.Context, domain string) ([]dns.HostedZone, error) {
	f.listCalls++
	return f.zones, nil
}

func (f *fakeDNS) ChangeResourceRecordSets(ctx context.Context, zoneID string, batch dns.ChangeBatch) (string, error) {
	if f.failOn != "" && batch.Changes[0].Name == f.failOn {
		return "", fmt.Errorf("InvalidChangeBatch: %s", f.failOn)
	}
	f.zoneIDs = append(f.zoneIDs, zoneID)
	f.batches = append(f.batches, batch)
	return fmt.Sprintf("/change/C%d", len(f.batches)), nil
}

type fakePublisher struct {
	events []notify.TenantEvent
}

func (p *fakePublisher) PublishTenantEvent(ctx context.Context, event notify.TenantEvent) error {
	p.events = append(p.events, event)
	return nil
}

// fakeClock advances simulated time instead of sleeping
type fakeClock struct {
	waits   int
	elapsed time.Duration
}

func (c *fakeClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.waits++
	c.elapsed += d
	return nil
}

type harness struct {
	activities *Activities
	compute    *fakeCompute
	dns        *fakeDNS
	store      *db.Database
	publisher  *fakePublisher
	clock      *fakeClock
	probes     *int32
	logs       *observer.ObservedLogs
	metrics    *tracing.Metrics
}

type harnessOption func(*Options)

func skipHealthCheck(o *Options) { o.Deployment.SkipHealthCheck = true }

func setupHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var probes int32
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probes, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(app.Close)

	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)
	metrics := tracing.NewMetrics(prometheus.NewRegistry())

	h := &harness{
		compute:   newFakeCompute(),
		dns:       &fakeDNS{zones: []dns.HostedZone{{ID: "Z123", Name: "example.com."}}},
		store:     store,
		publisher: &fakePublisher{},
		clock:     &fakeClock{},
		probes:    &probes,
		logs:      logs,
		metrics:   metrics,
	}

	stabilizer := health.NewStabilizer(h.compute, health.DefaultStabilizationPolicy, log)
	stabilizer.Wait = h.clock.Wait
	prober := health.NewProber(app.Client(), health.DefaultProbePolicy, log)
	prober.Wait = h.clock.Wait

	options := Options{
		Deployment: config.DeploymentConfig{
			AppPlaneURLTemplates:       map[string]string{"silo": app.URL + "/{tenant}"},
			DefaultAppPlaneURLTemplate: app.URL + "/shared/{tenant}",
			AdminPortalURLTemplate:     "https://admin.example.com/tenants/{tenant}",
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	h.activities = New(Deps{
		Compute:    h.compute,
		DNS:        h.dns,
		Store:      store,
		Publisher:  h.publisher,
		Stabilizer: stabilizer,
		Health:     prober,
		Tracer:     tracing.NewTracer(log, metrics),
		Log:        log,
	}, options)
	return h
}

func siloRequest() models.DeployApplicationRequest {
	return models.DeployApplicationRequest{
		TenantID:  "tenant-1",
		TenantKey: "acme",
		Tier:      models.TierSilo,
		InfrastructureOutputs: map[string]string{
			models.OutputClusterName: "acme-cluster",
			models.OutputServiceName: "acme-service",
		},
		ImageTag: "v2",
		Version:  "2.0.0",
		Config:   map[string]interface{}{"theme": "dark", "seats": 25, "beta": true},
	}
}

func pooledRequest() models.DeployApplicationRequest {
	return models.DeployApplicationRequest{
		TenantID:  "tenant-2",
		TenantKey: "globex",
		Tier:      models.TierPooled,
		ImageTag:  "v1",
		Config:    map[string]interface{}{"theme": "light"},
	}
}
