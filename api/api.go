package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/config"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/db"
	"github.com/sorenmh/infrastructure-shared/tenant-orchestrator/models"
)

const Version = "1.0.0"

const shutdownTimeout = 15 * time.Second

// Orchestrator runs the tenant deployment activities
type Orchestrator interface {
	DeployApplication(ctx context.Context, req models.DeployApplicationRequest) (*models.DeploymentResult, error)
	RollbackDeployment(ctx context.Context, req models.RollbackRequest) error
	RemoveDeployment(ctx context.Context, req models.RemoveDeploymentRequest) error
	ConfigureDns(ctx context.Context, req models.DnsRequest) (*models.DnsResult, error)
}

// History reads the deployment records the activities write
type History interface {
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	GetDeployments(ctx context.Context, tenantID string, limit, offset int) ([]models.Deployment, int, error)
	GetCurrentDeployment(ctx context.Context, tenantID string) (*models.Deployment, error)
	GetEvents(ctx context.Context, deploymentID string) ([]models.DeploymentEvent, error)
	Ping() error
}

// TagLister lists the pushed tags of an image repository
type TagLister interface {
	ListTags(ctx context.Context, repository string, limit int) ([]string, error)
}

type Server struct {
	config       *config.Config
	orchestrator Orchestrator
	history      History
	tags         TagLister
	gatherer     prometheus.Gatherer
	log          *zap.Logger
	router       *gin.Engine
}

// NewServer builds the HTTP surface. gatherer may be nil when metrics are
// disabled.
func NewServer(cfg *config.Config, orchestrator Orchestrator, history History, tags TagLister, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		config:       cfg,
		orchestrator: orchestrator,
		history:      history,
		tags:         tags,
		gatherer:     gatherer,
		log:          log,
		router:       gin.New(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), s.requestLogger())

	// Health check (no auth)
	s.router.GET("/health", s.handleHealth)
	if s.config.Metrics.Enabled && s.gatherer != nil {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api/v1")
	api.Use(s.authMiddleware())
	{
		api.POST("/activities/deploy-application", s.handleDeployApplication)
		api.POST("/activities/rollback-deployment", s.handleRollbackDeployment)
		api.POST("/activities/remove-deployment", s.handleRemoveDeployment)
		api.POST("/activities/configure-dns", s.handleConfigureDns)

		api.GET("/tenants/:tenantId/deployments", s.handleGetDeployments)
		api.GET("/deployments/:deploymentId", s.handleGetDeployment)
		api.GET("/images/tags", s.handleListTags)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("remote_addr", c.ClientIP()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		if !s.config.ValidateAPIKey(parts[1]) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	dbOK := s.history.Ping() == nil

	status := "healthy"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, models.HealthResponse{
		Status:             status,
		Version:            Version,
		DatabaseAccessible: dbOK,
	})
}

func (s *Server) handleDeployApplication(c *gin.Context) {
	var req models.DeployApplicationRequest
	if !s.bind(c, &req) {
		return
	}

	result, err := s.orchestrator.DeployApplication(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRollbackDeployment(c *gin.Context) {
	var req models.RollbackRequest
	if !s.bind(c, &req) {
		return
	}

	if err := s.orchestrator.RollbackDeployment(c.Request.Context(), req); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenantId":     req.TenantID,
		"deploymentId": req.DeploymentID,
		"status":       models.DeploymentRolledBack,
	})
}

func (s *Server) handleRemoveDeployment(c *gin.Context) {
	var req models.RemoveDeploymentRequest
	if !s.bind(c, &req) {
		return
	}

	if err := s.orchestrator.RemoveDeployment(c.Request.Context(), req); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenantId": req.TenantID,
		"status":   models.DeploymentRemoved,
	})
}

func (s *Server) handleConfigureDns(c *gin.Context) {
	var req models.DnsRequest
	if !s.bind(c, &req) {
		return
	}

	result, err := s.orchestrator.ConfigureDns(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetDeployments(c *gin.Context) {
	tenantID := c.Param("tenantId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	deployments, total, err := s.history.GetDeployments(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to get deployments: %w", err))
		return
	}
	current, err := s.history.GetCurrentDeployment(c.Request.Context(), tenantID)
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to get current deployment: %w", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenantId":    tenantID,
		"current":     current,
		"deployments": deployments,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

func (s *Server) handleGetDeployment(c *gin.Context) {
	id := c.Param("deploymentId")

	dep, err := s.history.GetDeployment(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.writeError(c, &models.ResourceNotFoundError{Resource: "deployment", Name: id})
		return
	}
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to get deployment: %w", err))
		return
	}

	events, err := s.history.GetEvents(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, fmt.Errorf("failed to get deployment events: %w", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deployment": dep,
		"events":     events,
	})
}

func (s *Server) handleListTags(c *gin.Context) {
	repository := c.Query("repository")
	if repository == "" {
		s.writeError(c, models.ValidationError{Field: "repository", Message: "query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 {
		limit = 10
	}

	tags, err := s.tags.ListTags(c.Request.Context(), repository, limit)
	if err != nil {
		s.writeError(c, models.NewServiceUnavailable("failed to list image tags", err))
		return
	}
	if tags == nil {
		tags = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"repository": repository,
		"tags":       tags,
	})
}

func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Kind:    models.KindValidation,
			Details: err.Error(),
			Time:    time.Now(),
		})
		return false
	}
	return true
}

// writeError reports err with the status code of its kind
func (s *Server) writeError(c *gin.Context, err error) {
	kind := models.ErrorKind(err)
	code := StatusCode(kind)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.String("kind", kind), zap.Error(err))
	}

	c.JSON(code, models.ErrorResponse{
		Error: err.Error(),
		Kind:  kind,
		Time:  time.Now(),
	})
}

// StatusCode maps an error kind to an HTTP status
func StatusCode(kind string) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindResourceNotFound:
		return http.StatusNotFound
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	case models.KindServiceUnavailable, models.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
