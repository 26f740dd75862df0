// Command reconengine is the reconciliation engine's entry point: it
// wires config, logging, the coordination cache, the durable
// repository, the Kafka ingesters, the reconciliation engine, the
// audit pipeline, alerting, and the dashboard HTTP API together, then
// serves until an OS signal requests graceful shutdown. Adapted from
// the teacher's gateway entry point (services/gateway/main.go).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/reconlabs/txreconcile/internal/alerting"
	"github.com/reconlabs/txreconcile/internal/audit"
	"github.com/reconlabs/txreconcile/internal/cache"
	"github.com/reconlabs/txreconcile/internal/config"
	"github.com/reconlabs/txreconcile/internal/httpapi"
	"github.com/reconlabs/txreconcile/internal/ingest"
	"github.com/reconlabs/txreconcile/internal/logging"
	"github.com/reconlabs/txreconcile/internal/model"
	"github.com/reconlabs/txreconcile/internal/observability"
	"github.com/reconlabs/txreconcile/internal/reconcile"
	"github.com/reconlabs/txreconcile/internal/repository"
	"github.com/reconlabs/txreconcile/internal/stats"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("reconciliation engine starting")

	coordCache := buildCache(cfg, log)
	repo := buildRepository(cfg, log)

	metrics := observability.NewMetrics(log)

	var alerter reconcile.Alerter
	if cfg.PagerDutyRoutingKey != "" {
		pdCfg := alerting.DefaultConfig()
		pdCfg.RoutingKey = cfg.PagerDutyRoutingKey
		pdCfg.Enabled = true
		alerter = alerting.NewClient(pdCfg, log)
		log.Info().Msg("pagerduty alerting enabled")
	}

	var auditSink audit.Sink
	if cfg.ClickHouseDSN != "" {
		chSink, err := audit.NewClickHouseSink(cfg.ClickHouseDSN, log)
		if err != nil {
			log.Warn().Err(err).Msg("clickhouse sink init failed — falling back to log sink")
			auditSink = audit.NewLogSink(log)
		} else {
			auditSink = chSink
		}
	} else {
		auditSink = audit.NewLogSink(log)
	}
	auditPipeline := audit.NewPipeline(log, auditSink)
	auditPipeline.Start(context.Background())
	defer auditPipeline.Stop()

	engine := reconcile.NewEngine(coordCache, repo, auditPipeline, alerter, log, reconcile.EngineConfig{
		AmountTolerance: cfg.AmountTolerance,
		TimeTolerance:   time.Duration(cfg.TimeToleranceSecs) * time.Second,
		StageTTL:        cfg.StageTTL(),
		LockTTL:         cfg.LockTTL(),
		Workers:         8,
		RecentCap:       200,
	}).WithMetrics(metrics)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	engine.Start(runCtx, 8)
	defer engine.Stop()

	registry := ingest.NewRegistry(cfg.StageTTL(), log).WithMetrics(metrics)
	registry.Start(30 * time.Second)
	defer registry.Stop()

	sources := startIngesters(runCtx, cfg, engine, registry, log)
	log.Info().Int("sources", len(sources)).Msg("ingestion started")

	projector := stats.NewProjector(repo, coordCache, log)
	handlers := httpapi.NewHandlers(repo, projector, engine, log)

	ready := readinessFunc(func(ctx context.Context) error {
		_, err := coordCache.Info(ctx)
		return err
	})

	router := httpapi.NewRouter(handlers, ready, metrics, log, httpapi.RouterConfig{
		AllowedOrigins:  cfg.AllowedOrigins,
		APIKey:          cfg.APIKey,
		APIKeyHeader:    cfg.APIKeyHeader,
		RateLimitRPM:    cfg.RateLimitRPM,
		RateLimitOn:     cfg.RateLimitEnabled,
		RequestTimeout:  cfg.RequestTimeout(),
		MaxBodyBytes:    cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("dashboard api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("stopped gracefully")
	}
}

func buildCache(cfg *config.Config, log zerolog.Logger) cache.Cache {
	if cfg.RedisURL == "" {
		log.Info().Msg("no REDIS_URL configured; using in-memory coordination cache")
		return cache.NewFallback(nil, cfg.CacheTimeout(), log)
	}
	redisCache, err := cache.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — degrading to in-memory cache")
		return cache.NewFallback(nil, cfg.CacheTimeout(), log)
	}
	log.Info().Msg("redis coordination cache connected")
	return cache.NewFallback(redisCache, cfg.CacheTimeout(), log)
}

func buildRepository(cfg *config.Config, log zerolog.Logger) repository.Repository {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("no DATABASE_URL configured; using in-memory repository (not durable)")
		return repository.NewMemory()
	}
	pg, err := repository.NewPostgres(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres init failed")
	}
	log.Info().Msg("postgres repository connected")
	return pg
}

func startIngesters(ctx context.Context, cfg *config.Config, engine *reconcile.Engine, registry *ingest.Registry, log zerolog.Logger) []ingest.Source {
	var sources []ingest.Source
	if len(cfg.KafkaBrokers) == 0 {
		log.Warn().Msg("no KAFKA_BROKERS configured; no ingesters started")
		return sources
	}
	for _, name := range cfg.Sources {
		src := ingest.NewKafkaSource(name, cfg.KafkaBrokers, cfg.KafkaGroupID, log)
		submitter := observingSubmitter{engine: engine, registry: registry, source: name}
		ingester := ingest.NewIngester(src, submitter, cfg.HomeCurrency, log)
		sources = append(sources, src)
		go func(name string) {
			if err := ingester.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("source", name).Msg("ingester exited")
			}
		}(name)
		log.Info().Str("source", name).Msg("kafka ingester started")
	}
	return sources
}

// observingSubmitter records source liveness before handing a decoded
// view off to the engine.
type observingSubmitter struct {
	engine   *reconcile.Engine
	registry *ingest.Registry
	source   string
}

func (s observingSubmitter) Submit(ctx context.Context, view model.TransactionView) {
	s.registry.Observe(s.source)
	s.engine.Submit(ctx, view)
}

type readinessFunc func(ctx context.Context) error

func (f readinessFunc) Ready(ctx context.Context) error { return f(ctx) }
