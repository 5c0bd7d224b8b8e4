// Package server builds the gin engine: shared middleware, health and
// metrics routes, and the authenticated /api/v1 group the features mount on.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/token-shop/internal/server/middleware"
)

// Config holds the HTTP settings.
type Config struct {
	Addr              string
	Production        bool
	JWTSecret         []byte
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server owns the gin engine and the http.Server around it.
type Server struct {
	engine  *gin.Engine
	http    *http.Server
	limiter *middleware.RateLimiter

	public  *gin.RouterGroup // /api/v1, no caller identity (webhooks)
	private *gin.RouterGroup // /api/v1, JWT + rate limit
}

// New builds the engine. gatherer serves /metrics; health runs on /healthz.
func New(cfg Config, gatherer prometheus.Gatherer, health HealthCheck) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(), middleware.RequestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if health != nil {
			if err := health(ctx); err != nil {
				log.WithError(err).Warn("health check failed")
				c.JSON(http.StatusServiceUnavailable, Envelope{Error: "unhealthy"})
				return
			}
		}
		OK(c, http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	api := engine.Group("/api/v1")

	s := &Server{
		engine:  engine,
		limiter: limiter,
		public:  api,
		private: api.Group("", middleware.Authenticate(cfg.JWTSecret), middleware.RateLimit(limiter)),
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
	return s
}

// Public is the /api/v1 group without authentication.
func (s *Server) Public() *gin.RouterGroup { return s.public }

// Private is the /api/v1 group behind JWT authentication and rate limiting.
func (s *Server) Private() *gin.RouterGroup { return s.private }

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	log.WithField("addr", s.http.Addr).Info("http: listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Close()
	return s.http.Shutdown(ctx)
}
