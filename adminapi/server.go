// Package adminapi serves the operational HTTP surface of the mesh:
// status, per-service health, active alerts, sessions and instance
// registration.
package adminapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/acgov/go-mesh/discovery"
	"github.com/acgov/go-mesh/logger"
	"github.com/acgov/go-mesh/mesh"
	"github.com/acgov/go-mesh/middleware"
	"github.com/acgov/go-mesh/monitor"
	"github.com/acgov/go-mesh/session"
)

// Config holds the listen address and timeouts.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":7070"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// StatusFunc produces the aggregated system status payload.
type StatusFunc func(ctx context.Context) interface{}

// Deps are the mesh components the API reads from.
type Deps struct {
	Discovery *discovery.Discovery
	Monitor   *monitor.Monitor
	Sessions  *session.Manager
	Status    StatusFunc
}

// Server is the admin HTTP server. Construct with NewServer, then Start.
type Server struct {
	cfg  Config
	deps Deps
	log  *logger.CtxZapLogger

	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the router. The listener opens in Start.
func NewServer(cfg Config, deps Deps, log *logger.CtxZapLogger) *Server {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNopLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		middleware.TraceID(),
		middleware.Recovery(log),
		middleware.RequestLog(log, middleware.RequestLogConfig{SkipPaths: []string{"/healthz"}}),
	)

	s := &Server{cfg: cfg, deps: deps, log: log, engine: engine}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)

	group := s.engine.Group("/mesh")
	group.GET("/status", s.handleStatus)
	group.GET("/services", s.handleServices)
	group.GET("/services/:type", s.handleService)
	group.POST("/services/:type/instances", s.handleAddInstance)
	group.DELETE("/services/:type/instances/:id", s.handleRemoveInstance)
	group.GET("/alerts", s.handleAlerts)
	group.GET("/sessions/:id", s.handleSession)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start opens the listener and serves in the background.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api server failed", zap.Error(err))
		}
	}()

	s.log.Info("admin api listening", zap.String("addr", s.cfg.Addr))
	return nil
}

// Stop drains in-flight requests within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Status == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "status aggregation not configured"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Status(c.Request.Context()))
}

func (s *Server) handleServices(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Discovery.GetAllServicesStatus())
}

func (s *Server) handleService(c *gin.Context) {
	serviceType, ok := s.serviceType(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.deps.Discovery.GetServiceStatus(serviceType))
}

// addInstanceRequest is the POST body for instance registration.
type addInstanceRequest struct {
	InstanceID string            `json:"instance_id" binding:"required"`
	BaseURL    string            `json:"base_url" binding:"required"`
	Port       int               `json:"port" binding:"required"`
	HealthURL  string            `json:"health_url"`
	Weight     int               `json:"weight"`
	Priority   int               `json:"priority"`
	Metadata   map[string]string `json:"metadata"`
}

func (s *Server) handleAddInstance(c *gin.Context) {
	serviceType, ok := s.serviceType(c)
	if !ok {
		return
	}

	var req addInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	healthURL := req.HealthURL
	if healthURL == "" {
		healthURL = "/health"
	}
	inst := mesh.NewServiceInstance(serviceType, req.InstanceID, req.BaseURL, req.Port, healthURL)
	if req.Weight > 0 {
		inst.Weight = req.Weight
	}
	if req.Priority > 0 {
		inst.Priority = req.Priority
	}
	for k, v := range req.Metadata {
		inst.Metadata[k] = v
	}

	if err := s.deps.Discovery.AddServiceInstance(inst); err != nil {
		if errors.Is(err, mesh.ErrDuplicateInstance) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.log.InfoCtx(c.Request.Context(), "instance registered via admin api",
		zap.String("service", serviceType.String()),
		zap.String("instance", req.InstanceID))
	c.JSON(http.StatusCreated, inst.Snapshot())
}

func (s *Server) handleRemoveInstance(c *gin.Context) {
	serviceType, ok := s.serviceType(c)
	if !ok {
		return
	}
	instanceID := c.Param("id")

	if err := s.deps.Discovery.RemoveServiceInstance(serviceType, instanceID); err != nil {
		if errors.Is(err, mesh.ErrInstanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.log.InfoCtx(c.Request.Context(), "instance removed via admin api",
		zap.String("service", serviceType.String()),
		zap.String("instance", instanceID))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAlerts(c *gin.Context) {
	alerts := s.deps.Monitor.ActiveAlerts()
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleSession(c *gin.Context) {
	sess, err := s.deps.Sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, mesh.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) serviceType(c *gin.Context) (mesh.ServiceType, bool) {
	serviceType, err := mesh.ParseServiceType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return serviceType, true
}
