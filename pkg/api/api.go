package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/metrics"
	"github.com/telekom/kintone-mail-relay/pkg/ratelimit"
	"github.com/telekom/kintone-mail-relay/pkg/system"
	"github.com/telekom/kintone-mail-relay/pkg/version"
)

const shutdownTimeout = 15 * time.Second

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin         *gin.Engine
	config      config.Server
	log         *zap.SugaredLogger
	rateLimiter *ratelimit.ClientLimiter
}

func NewServer(log *zap.Logger, cfg config.Server, debug bool) (*Server, error) {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
	)
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid server.trustedProxies: %w", err)
	}

	s := &Server{
		gin:         engine,
		config:      cfg,
		log:         log.Sugar().Named("server"),
		rateLimiter: ratelimit.New(cfg.RateLimit),
	}

	engine.GET("/healthz", s.healthz)
	engine.GET("/version", s.version)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	return s, nil
}

// RateLimit returns the per-IP limiter middleware for webhook routes.
func (s *Server) RateLimit() gin.HandlerFunc {
	return s.rateLimiter.Middleware()
}

func (s *Server) RegisterAll(controllers []APIController) error {
	for _, c := range controllers {
		if err := c.Register(s.gin.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the gin engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is canceled, then drains in-flight webhooks for up to
// shutdownTimeout. TLS is used when both certificate and key are configured.
func (s *Server) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			s.log.Infow("Listening with TLS", "address", srv.Addr)
			err = srv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			s.log.Infow("Listening", "address", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infow("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// Close releases background resources. It is safe to call more than once.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetBuildInfo())
}
