package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/nanami/internal/conf"
	"github.com/lk2023060901/nanami/internal/pkg/database"
	apperrors "github.com/lk2023060901/nanami/internal/pkg/errors"
	"github.com/lk2023060901/nanami/internal/pkg/logger"
	"github.com/lk2023060901/nanami/internal/pkg/redis"
	"github.com/lk2023060901/nanami/internal/pkg/response"
	"github.com/lk2023060901/nanami/internal/s3/service"
	"github.com/lk2023060901/nanami/internal/server/middleware"
	"go.uber.org/zap"
)

// HealthPath is served outside the S3 namespace; "-" is not a valid bucket name
const HealthPath = "/-/healthz"

const healthTimeout = 2 * time.Second

type HTTPServer struct {
	server *http.Server
	logger *logger.Logger
}

// Dependencies are the collaborators of the HTTP server. DB and Redis are
// only used for health checks and rate limiting and may be nil.
type Dependencies struct {
	S3    *service.S3Service
	DB    *database.DB
	Redis *redis.Client
}

func NewHTTPServer(config *conf.Config, log *logger.Logger, deps Dependencies) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:         config.Server.Addr(),
			Handler:      NewRouter(config, log, deps),
			ReadTimeout:  config.Server.ReadTimeout,
			WriteTimeout: config.Server.WriteTimeout,
			IdleTimeout:  config.Server.IdleTimeout,
		},
		logger: log,
	}
}

// NewRouter builds the gin engine serving the S3 API
func NewRouter(config *conf.Config, log *logger.Logger, deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	// keys may contain encoded slashes
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.Use(logger.GinLogger(log, logger.MiddlewareOptions{SkipPaths: []string{HealthPath}}))
	router.Use(logger.GinRecovery(log, func(c *gin.Context) {
		response.ErrorWithCode(c, apperrors.ErrInternal, c.Request.URL.Path)
	}))

	if config.CORS.Enabled {
		corsConfig := cors.DefaultConfig()
		if len(config.CORS.AllowOrigins) == 0 || slices.Contains(config.CORS.AllowOrigins, "*") {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = config.CORS.AllowOrigins
		}
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodPost}
		corsConfig.AllowHeaders = []string{"*"}
		corsConfig.ExposeHeaders = []string{"ETag", "Content-Length", "Content-Range", "Accept-Ranges", logger.RequestIDHeader}
		router.Use(cors.New(corsConfig))
	}

	router.GET(HealthPath, health(deps))

	api := router.Group("/")
	if config.RateLimit.Enabled && deps.Redis != nil {
		api.Use(middleware.RateLimiter(deps.Redis, middleware.RateLimiterConfig{
			MaxRequests: config.RateLimit.MaxRequests,
			Window:      config.RateLimit.Window(),
			Strategy:    config.RateLimit.Strategy,
		}, log))
	}
	deps.S3.RegisterRoutes(api)

	return router
}

func health(deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		h := response.HealthStatus{Status: "ok", Database: "ok"}
		if deps.DB != nil {
			if err := deps.DB.HealthCheck(ctx); err != nil {
				status = http.StatusServiceUnavailable
				h.Status, h.Database = "degraded", err.Error()
			}
		}
		if deps.Redis != nil {
			h.Redis = "ok"
			if err := deps.Redis.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				h.Status, h.Redis = "degraded", err.Error()
			}
		}
		response.Health(c, status, h)
	}
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
