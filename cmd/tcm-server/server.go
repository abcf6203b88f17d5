package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/carebridge/tcm/internal/config"
	"github.com/carebridge/tcm/internal/domain/caretransition"
	"github.com/carebridge/tcm/internal/domain/registry"
	"github.com/carebridge/tcm/internal/platform/auth"
	"github.com/carebridge/tcm/internal/platform/cache"
	"github.com/carebridge/tcm/internal/platform/db"
	"github.com/carebridge/tcm/internal/platform/logging"
	"github.com/carebridge/tcm/internal/platform/middleware"
	"github.com/carebridge/tcm/internal/platform/openapi"
	"github.com/carebridge/tcm/internal/platform/telemetry"
)

const version = "0.1.0"

// serverDeps is everything newServer routes to. Nil telemetry skips the
// tracing and /metrics wiring.
type serverDeps struct {
	cfg       *config.Config
	logger    zerolog.Logger
	svc       *caretransition.Service
	dbPinger  db.Pinger
	dbStats   db.StatsFunc
	telemetry *telemetry.Provider
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, closer := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.IsDev(),
		File:        cfg.LogFile,
	}, os.Stdout)
	defer closer.Close()

	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: every request runs as admin")
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "tcm-server",
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    cfg.OTelServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelOTLPEndpoint,
		OTLPInsecure:   cfg.OTelOTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()
	recorder, err := telemetry.NewDomainRecorder(tp.MeterProvider)
	if err != nil {
		return err
	}

	svc := caretransition.NewService(caretransition.NewRepoPG(pool), logger)
	svc.SetRegistry(registry.NewReaderPG(pool))
	svc.SetRecorder(recorder)
	svc.SetWindows(caretransition.Windows{
		ContactDays:     cfg.ContactDays,
		FollowUpDays:    cfg.FollowUpDays,
		ReadmissionDays: cfg.ReadmissionDays,
	})

	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		svc.SetCache(cache.New(rdb, cfg.MetricsCacheTTL))
		logger.Info().Dur("ttl", cfg.MetricsCacheTTL).Msg("metrics cache enabled")
	}

	e, err := newServer(serverDeps{
		cfg:       cfg,
		logger:    logger,
		svc:       svc,
		dbPinger:  pool,
		dbStats:   db.PoolStatsFunc(pool),
		telemetry: tp,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(d serverDeps) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.Recovery(d.logger))
	e.Use(echomw.Secure())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: d.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	if d.telemetry != nil {
		e.Use(d.telemetry.TracingMiddleware())
		metricsMW, err := telemetry.MetricsMiddleware(d.telemetry.MeterProvider)
		if err != nil {
			return nil, err
		}
		e.Use(metricsMW)
		e.GET("/metrics", d.telemetry.PrometheusHandler())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if d.dbPinger != nil {
		e.GET("/health/db", db.HealthHandler(d.dbPinger, d.dbStats))
	}

	var authMW echo.MiddlewareFunc
	if d.cfg.ResolvedAuthMode() == "development" {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     d.cfg.AuthIssuer,
			Audience:   d.cfg.AuthAudience,
			JWKSURL:    d.cfg.AuthJWKSURL,
			SigningKey: []byte(d.cfg.AuthSigningKey),
		})
	}

	rateCfg := middleware.DefaultRateLimitConfig()
	if d.cfg.RateLimitRPS > 0 {
		rateCfg.RequestsPerSecond = d.cfg.RateLimitRPS
	}
	if d.cfg.RateLimitBurst > 0 {
		rateCfg.BurstSize = d.cfg.RateLimitBurst
	}

	api := e.Group("/api/v1",
		authMW,
		db.TenantMiddleware(d.cfg.DefaultTenant),
		middleware.RateLimit(rateCfg),
	)
	caretransition.NewHandler(d.svc).RegisterRoutes(api)

	openapi.NewGenerator(e, "/api/v1", "Transitional Care Management API", version).
		RegisterRoutes(e.Group(""))

	return e, nil
}
