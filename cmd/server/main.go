package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/otcheredev/dicomweb-server/internal/audit"
	"github.com/otcheredev/dicomweb-server/internal/cache"
	"github.com/otcheredev/dicomweb-server/internal/config"
	"github.com/otcheredev/dicomweb-server/internal/database"
	"github.com/otcheredev/dicomweb-server/internal/dicomweb"
	"github.com/otcheredev/dicomweb-server/internal/handlers"
	"github.com/otcheredev/dicomweb-server/internal/metrics"
	"github.com/otcheredev/dicomweb-server/internal/middleware"
	"github.com/otcheredev/dicomweb-server/internal/pipeline"
	"github.com/otcheredev/dicomweb-server/internal/storage"
	"github.com/otcheredev/dicomweb-server/internal/storage/memory"
	"github.com/otcheredev/dicomweb-server/pkg/logger"
)

// auditAdapter lets *audit.Trail satisfy dicomweb.AuditRecorder without
// internal/audit importing internal/dicomweb.
type auditAdapter struct {
	trail *audit.Trail
}

func (a *auditAdapter) Record(ctx context.Context, e dicomweb.AuditEvent) {
	err := a.trail.Record(ctx, audit.Entry{
		Action:       e.Action,
		ResourceUID:  e.ResourceUID,
		ClientKey:    e.ClientKey,
		Status:       e.Status,
		ErrorMessage: e.Error,
		Duration:     e.Duration.Milliseconds(),
	})
	if err != nil {
		log.Error().Err(err).Str("action", e.Action).Msg("failed to record audit entry")
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting DICOMweb server")

	registry := storage.NewRegistry()
	registry.Register("memory", memory.Factory)
	provider, err := registry.Get("memory")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct storage backend")
	}

	var cacheBackend cache.Cache
	if cfg.Cache.Enabled && cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Cache.RedisHost, cfg.Cache.RedisPort)
		cacheBackend, err = cache.NewRedisCache(addr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Redis cache initialized")
	} else {
		cacheBackend = cache.NewMemoryCache()
		log.Info().Msg("Memory cache initialized")
	}

	var responseCache dicomweb.ResponseCache
	if cfg.Cache.Enabled {
		responseCache = cache.NewResponseCache(cacheBackend, cfg.Cache.DefaultTTL, cfg.Cache.MaxEntries, cfg.Cache.MaxBytes)
	}

	var auditTrail *audit.Trail
	var auditDB *gorm.DB
	if cfg.Audit.Enabled {
		auditDB, err = database.Connect(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			LogLevel: cfg.Database.LogLevel,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to audit database")
		}
		auditTrail, err = audit.NewTrail(auditDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize audit trail")
		}
		log.Info().Msg("Audit trail enabled")
	}

	metricsReg := metrics.New(prometheus.DefaultRegisterer)

	dispatcher := dicomweb.NewDispatcher(
		dicomweb.Config{ServerName: cfg.Server.ServerName, PathPrefix: cfg.Server.PathPrefix},
		provider,
		responseCache,
		dicomweb.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			ExposedHeaders:   []string{"Content-Length", "Content-Type", "X-Total-Count"},
			AllowCredentials: false,
			MaxAge:           cfg.CORS.MaxAge,
		},
	)

	if auditTrail != nil {
		dispatcher.WithAudit(&auditAdapter{trail: auditTrail})
	}

	ingressPipeline := dicomweb.NewIngressPipeline(pipeline.Config{
		MaxPipelineDepth: cfg.Pipeline.MaxPipelineDepth,
		EnablePipelining: cfg.Pipeline.EnablePipelining,
		StrictOrdering:   cfg.Pipeline.StrictOrdering,
		FlushTimeout:     cfg.Pipeline.FlushTimeout,
	}, dispatcher)
	defer ingressPipeline.Stop()

	if cfg.Pipeline.EnablePipelining && cfg.Metrics.Enabled {
		stopSampling := make(chan struct{})
		defer close(stopSampling)
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					metricsReg.SamplePipeline(ingressPipeline.Snapshot())
				case <-stopSampling:
					return
				}
			}
		}()
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute)
	}

	healthHandler := handlers.NewHealthHandler(auditDB)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.ClientKey)
	r.Use(chimiddleware.Compress(5))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	dicomwebHandler := dicomweb.PipelineHandler(ingressPipeline)
	r.Handle(cfg.Server.PathPrefix+"/*", withMaxBody(cfg.Server.MaxRequestBodySize, withRateLimit(rateLimiter, dicomwebHandler)))
	r.Handle(cfg.Server.PathPrefix, withMaxBody(cfg.Server.MaxRequestBodySize, withRateLimit(rateLimiter, dicomwebHandler)))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	if auditDB != nil {
		if err := database.Close(auditDB); err != nil {
			log.Error().Err(err).Msg("Failed to close audit database")
		}
	}

	log.Info().Msg("Server stopped")
}

// withMaxBody enforces spec.md §7's max_request_body_size via
// http.MaxBytesReader; handleStore maps the resulting *http.MaxBytesError
// to a PayloadTooLarge failure.
func withMaxBody(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

func withRateLimit(rl *middleware.RateLimiter, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return rl.Middleware(next)
}
