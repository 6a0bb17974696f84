package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/krau/konacaption/config"
	"github.com/krau/konacaption/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const Version = "0.1.0"

type Server struct {
	cfg       *config.Config
	analyzer  *service.Analyzer
	manager   *service.Manager
	upload    *uploadValidator
	logger    *zap.Logger
	engine    *gin.Engine
	inner     *http.Server
	startedAt time.Time
}

func New(cfg *config.Config, analyzer *service.Analyzer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(getGinMode(cfg.Environment))

	s := &Server{
		cfg:       cfg,
		analyzer:  analyzer,
		manager:   analyzer.Manager(),
		upload:    newUploadValidator(cfg.MaxFileSize, cfg.AllowedTypes),
		logger:    logger.Named("server"),
		startedAt: time.Now(),
	}

	r := gin.New()
	// Keep every accepted upload in memory.
	r.MaxMultipartMemory = cfg.MaxFileSize + formOverhead
	r.Use(requestID())
	r.Use(accessLog(s.logger))
	r.Use(gin.CustomRecovery(s.recovered))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	if !cfg.Debug {
		r.Use(trustedHosts(cfg.TrustedHosts))
	}

	r.GET("/", s.RootHandler)
	r.GET("/health", s.HealthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/analyze", requireToken(cfg.Token), s.AnalyzeHandler)
	if cfg.Debug {
		r.GET("/debug/config", s.DebugConfigHandler)
	}

	s.engine = r
	s.inner = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks until the server stops. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("Listening", zap.String("address", s.inner.Addr))
	if err := s.inner.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	s.logger.Info("Stopping server")
	return s.inner.Shutdown(ctx)
}

func (s *Server) recovered(c *gin.Context, r any) {
	s.logger.Error("Panic while handling request", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
	abortWithError(c, http.StatusInternalServerError, codeInternal, "Internal server error", "")
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{headerProcessTime, headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func getGinMode(env string) string {
	switch env {
	case "dev":
		return gin.DebugMode
	case "test":
		return gin.TestMode
	default:
		return gin.ReleaseMode
	}
}
