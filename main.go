package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/activities"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/api"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/awsclient"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/compute"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/dns"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/health"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/logger"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/notify"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/registry"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/tracing"
)

func main() {
	configPath := flag.String("config", "/etc/tenant-orchestrator/config.yaml", "Path to configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration; until Init runs the logger writes JSON to stderr
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		logger.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()
	log := logger.L()

	// Initialize database
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close()
	logger.Infof("database initialized at %s", cfg.Database.Path)

	awsCfg, err := awsclient.Load(ctx, cfg.AWS)
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}
	clients := awsclient.New(awsCfg)

	registryClient := registry.NewClient(cfg.Registry.Username, cfg.Registry.Password)
	verifier := &registry.Router{Default: registryClient}
	if cfg.Registry.Type == "ecr" {
		verifier.ECR = registry.NewECRClient(clients.ECR)
	}

	var publisher notify.Publisher = notify.Noop{}
	if cfg.NATS.URL != "" {
		jsPublisher, nc, err := notify.Connect(ctx, cfg.NATS.URL, cfg.NATS.Environment, cfg.NATS.Stream, log)
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer nc.Drain()
		publisher = jsPublisher
	} else {
		logger.Warnf("nats.url not set, tenant events are disabled")
	}

	metrics := tracing.NewMetrics(prometheus.DefaultRegisterer)
	ecs := compute.NewECSProvider(clients.ECS)

	stabilizer := health.NewStabilizer(ecs, health.Policy{
		Interval:    cfg.Deployment.Stabilization.Interval,
		MaxAttempts: cfg.Deployment.Stabilization.MaxAttempts,
	}, log)
	prober := health.NewProber(nil, health.Policy{
		Interval:       cfg.Deployment.HealthCheck.Interval,
		MaxAttempts:    cfg.Deployment.HealthCheck.MaxAttempts,
		AttemptTimeout: cfg.Deployment.HealthCheck.Timeout,
	}, log)

	orchestrator := activities.New(activities.Deps{
		Compute:    ecs,
		DNS:        dns.NewRoute53Provider(clients.Route53),
		Store:      database,
		Publisher:  publisher,
		Verifier:   verifier,
		Stabilizer: stabilizer,
		Health:     prober,
		Tracer:     tracing.NewTracer(log, metrics),
		Log:        log,
	}, activities.Options{
		Deployment:   cfg.Deployment,
		VerifyImages: cfg.Registry.VerifyImages,
	})

	server := api.NewServer(cfg, orchestrator, database, registryClient, prometheus.DefaultGatherer, log)

	logger.Info("starting tenant orchestrator",
		zap.String("version", api.Version),
		zap.String("region", cfg.AWS.Region),
		zap.String("registry", cfg.Registry.Type),
		zap.Bool("verify_images", cfg.Registry.VerifyImages),
	)

	if err := server.Run(ctx); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
