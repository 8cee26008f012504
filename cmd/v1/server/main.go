// Package main wires together the server shell: configuration, auth, the
// MediaRouter adapter, the broadcast bus, rate limiting, metrics and
// tracing, and the session Hub, then serves it over HTTP/WebSocket with a
// graceful drain-then-shutdown sequence.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimeshas/conclave-sub002/internal/v1/auth"
	"github.com/nimeshas/conclave-sub002/internal/v1/bus"
	"github.com/nimeshas/conclave-sub002/internal/v1/config"
	"github.com/nimeshas/conclave-sub002/internal/v1/health"
	"github.com/nimeshas/conclave-sub002/internal/v1/logging"
	"github.com/nimeshas/conclave-sub002/internal/v1/mediarouter"
	"github.com/nimeshas/conclave-sub002/internal/v1/middleware"
	"github.com/nimeshas/conclave-sub002/internal/v1/policy"
	"github.com/nimeshas/conclave-sub002/internal/v1/ratelimit"
	"github.com/nimeshas/conclave-sub002/internal/v1/session"
	"github.com/nimeshas/conclave-sub002/internal/v1/tracing"
	"github.com/nimeshas/conclave-sub002/internal/v1/types"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.OtlpEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, "conclave-sub002", cfg.OtlpEndpoint)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to init exporter", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	validator := newValidator(ctx, cfg)

	mr, err := mediarouter.New(cfg.MediaRouterAddr)
	if err != nil {
		logging.Fatal(ctx, "failed to dial media router", zap.Error(err), zap.String("addr", cfg.MediaRouterAddr))
	}
	defer mr.Close()

	var busService types.BusService
	var redisSvc *bus.Service
	if cfg.RedisEnabled {
		redisSvc, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err), zap.String("addr", cfg.RedisAddr))
		}
		busService = redisSvc
		defer redisSvc.Close()
	}

	policies := policy.NewTable()

	disconnectGrace := time.Duration(cfg.DisconnectGraceMs) * time.Millisecond
	roomEmptyTTL := time.Duration(cfg.RoomEmptyTTLSeconds) * time.Second
	hub := session.NewHub(validator, busService, mr, policies, disconnectGrace, roomEmptyTTL)

	var rateLimiter *ratelimit.RateLimiter
	if redisSvc != nil {
		rateLimiter, err = ratelimit.NewRateLimiter(cfg, redisSvc.Client())
	} else {
		rateLimiter, err = ratelimit.NewRateLimiter(cfg, nil)
	}
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}
	hub.SetRateLimiter(rateLimiter)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtlpEndpoint != "" {
		router.Use(otelgin.Middleware("conclave-sub002"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.Use(rateLimiter.GlobalMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(redisSvc)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	wsGroup := router.Group("/ws")
	wsGroup.Use(func(c *gin.Context) {
		if !rateLimiter.CheckWebSocket(c) {
			c.Abort()
			return
		}
		c.Next()
	})
	wsGroup.GET("/room/:roomId", hub.ServeWs)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutdown signal received, draining")

	// Drain: refuse new joins and tell existing members the process is
	// going away, then give in-flight connections a window to leave cleanly
	// before forcing the listener closed.
	hub.Drain()
	hub.BroadcastServerRestarting(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "forced shutdown", zap.Error(err))
	}
	logging.Info(ctx, "server exiting")
}

// newValidator picks the token validator per cfg: Auth0 JWKS in production,
// a fixed HMAC secret or the permissive mock in development.
func newValidator(ctx context.Context, cfg *config.Config) types.TokenValidator {
	if cfg.SkipAuth {
		slog.Warn("authentication disabled via SKIP_AUTH, do not use in production")
		return &auth.MockValidator{}
	}
	if cfg.Auth0Domain != "" && cfg.Auth0Audience != "" {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize auth0 validator", zap.Error(err))
		}
		return v
	}
	return auth.NewSymmetricValidator(cfg.JWTSecret)
}
