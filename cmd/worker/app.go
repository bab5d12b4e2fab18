package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tryouthub/learning-pipeline/config"
	"github.com/tryouthub/learning-pipeline/internal/application/command"
	"github.com/tryouthub/learning-pipeline/internal/application/eventhandler"
	"github.com/tryouthub/learning-pipeline/internal/application/query"
	"github.com/tryouthub/learning-pipeline/internal/domain/eventlog"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/messaging/queue"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/persistence/memory"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/persistence/postgres"
	redisqueue "github.com/tryouthub/learning-pipeline/internal/infrastructure/persistence/redis"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/scheduler"
	"github.com/tryouthub/learning-pipeline/internal/infrastructure/scheduler/jobs"
	opshttp "github.com/tryouthub/learning-pipeline/internal/interface/http"
	"github.com/tryouthub/learning-pipeline/pkg/circuitbreaker"
	"github.com/tryouthub/learning-pipeline/pkg/logger"
	"github.com/tryouthub/learning-pipeline/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// datastore bundles the repositories of one backend.
type datastore struct {
	deps     eventhandler.Dependencies
	eventLog eventlog.Repository
	ping     func(ctx context.Context) error
	close    func()
}

// app is the wired pipeline shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *datastore
	registry *prometheus.Registry
	metrics  *messaging.Metrics
	bus      *messaging.EventBus
	auditLog *query.EventLogHandler
	feed     *query.GetRecommendationsHandler
}

// newLogger builds the process logger from config and installs it as the
// slog default.
func newLogger(cfg *config.Config) *slog.Logger {
	log := logger.New(logger.Options{
		Output:  os.Stderr,
		Level:   logger.ParseLevel(cfg.Observability.LogLevel),
		Format:  logger.Format(cfg.Observability.LogFormat),
		Service: cfg.App.Name,
		Version: cfg.App.Version,
	})
	slog.SetDefault(log)
	return log
}

// newApp opens the datastore and wires the bus with every enabled pipeline.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. DATASTORE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openDatastore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	store.deps.Location = cfg.App.Location
	store.deps.Logger = log

	// ─────────────────────────────────────────────────────────────────────────
	// 2. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := messaging.NewMetrics(registry)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. QUEUE + EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewEventBus(messaging.Config{
		Queue:          newQueue(cfg.Queue, log, metrics),
		Audit:          command.NewAuditLog(store.eventLog, log, command.WithBreaker(auditBreaker(log))),
		Logger:         log,
		Metrics:        metrics,
		HandlerTimeout: cfg.Observability.HandlerTimeout,
		AuditTimeout:   cfg.Observability.AuditTimeout,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SUBSCRIBERS
	// ─────────────────────────────────────────────────────────────────────────
	if err := eventhandler.Register(bus, store.deps, pipelinesFrom(cfg.Features)); err != nil {
		_ = bus.Close(ctx)
		store.close()
		return nil, fmt.Errorf("register pipelines: %w", err)
	}

	log.Info("pipeline wired",
		"queue_mode", bus.QueueMode(),
		"features", cfg.Features.Enabled(),
	)

	return &app{
		cfg:      cfg,
		logger:   log,
		store:    store,
		registry: registry,
		metrics:  metrics,
		bus:      bus,
		auditLog: query.NewEventLogHandler(store.eventLog, log),
		feed:     query.NewGetRecommendationsHandler(store.deps.Recommendations),
	}, nil
}

// newScheduler registers the periodic jobs.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(scheduler.Config{
		Logger:     a.logger,
		Location:   a.cfg.App.Location,
		JobTimeout: a.cfg.Scheduler.JobTimeout,
	})

	digest := jobs.NewAuditDigestJob(a.auditLog, a.metrics, jobs.AuditDigestConfig{
		Limit: a.cfg.Scheduler.AuditDigestLimit,
	}, a.logger)
	if err := s.Register(digest, a.cfg.Scheduler.AuditDigestSpec); err != nil {
		return nil, err
	}

	return s, nil
}

// newOpsServer serves metrics and health on addr.
func (a *app) newOpsServer(addr string) *opshttp.Server {
	health := opshttp.NewHealthChecker(a.cfg.App.Version, 2*time.Second)
	health.AddCheck("datastore", a.store.ping)
	health.AddCheck("queue", opshttp.QueueCheck(a.bus.QueueMode))

	cfg := opshttp.DefaultConfig()
	cfg.Addr = addr
	return opshttp.NewServer(cfg, a.registry, health, a.logger)
}

// Close drains the bus and releases the datastore.
func (a *app) Close(ctx context.Context) error {
	err := a.bus.Close(ctx)
	a.store.close()
	return err
}

// ─── Datastore ────────────────────────────────────────────────────────────────

func openDatastore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*datastore, error) {
	if cfg.URL == "" {
		log.Warn("DATABASE_URL is empty, using the in-memory datastore")
		return memoryDatastore(memory.NewStore()), nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.URL
	pgCfg.MaxConns = cfg.MaxConns
	pgCfg.MinConns = cfg.MinConns
	pgCfg.MaxConnLifetime = cfg.MaxConnLifetime
	pgCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	pgCfg.ConnectTimeout = cfg.ConnectTimeout

	var conn *postgres.Connection
	err := retry.DatabaseRetrier().Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			log.Warn("database connection attempt failed", logger.Err(err))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("database connection established")

	return &datastore{
		deps: eventhandler.Dependencies{
			Skills:          postgres.NewSkillRepository(conn),
			Performance:     postgres.NewPerformanceRepository(conn),
			Recommendations: postgres.NewRecommendationRepository(conn),
			History:         postgres.NewHistoryReader(conn),
			Progress:        postgres.NewProgressRepository(conn),
			Gamification:    postgres.NewGamificationRepository(conn),
			Summaries:       postgres.NewSummaryRepository(conn),
		},
		eventLog: postgres.NewEventLogRepository(conn),
		ping:     conn.Ping,
		close:    conn.Close,
	}, nil
}

func memoryDatastore(s *memory.Store) *datastore {
	return &datastore{
		deps: eventhandler.Dependencies{
			Skills:          s.Skills(),
			Performance:     s.Performance(),
			Recommendations: s.Recommendations(),
			History:         s.History(),
			Progress:        s.Progress(),
			Gamification:    s.Gamification(),
			Summaries:       s.Summaries(),
		},
		eventLog: s.EventLog(),
		ping:     func(context.Context) error { return nil },
		close:    func() {},
	}
}

// ─── Queue ────────────────────────────────────────────────────────────────────

func newQueue(cfg config.QueueConfig, log *slog.Logger, observer queue.Observer) queue.Adapter {
	qcfg := queue.DefaultConfig()
	qcfg.Durable = cfg.Durable
	qcfg.BrokerURL = cfg.BrokerURL
	qcfg.QueueName = cfg.Name
	qcfg.ProbeTimeout = cfg.ProbeTimeout
	qcfg.ConnectTimeout = cfg.ConnectTimeout
	qcfg.EnqueueTimeout = cfg.EnqueueTimeout
	qcfg.RegistrySize = cfg.RegistrySize

	if !cfg.Durable {
		return queue.New(qcfg, nil, log, observer)
	}

	addr, err := redisqueue.AddrFromURL(cfg.BrokerURL)
	if err != nil {
		log.Warn("invalid broker url, durable queue unavailable", logger.Err(err))
	}
	qcfg.BrokerAddr = addr

	clientCfg := redisqueue.DefaultClientConfig()
	clientCfg.URL = cfg.BrokerURL

	connect := redisqueue.Connector(clientCfg, redisqueue.JobQueueConfig{
		Name:            cfg.Name,
		MaxAttempts:     cfg.MaxAttempts,
		Backoff:         cfg.Backoff,
		FailedRetention: cfg.FailedRetention,
		PollInterval:    cfg.PollInterval,
	}, log)

	return queue.New(qcfg, connect, log, observer)
}

func auditBreaker(log *slog.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.AuditLogBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
	})
}

func pipelinesFrom(ff config.FeatureFlags) eventhandler.Pipelines {
	return eventhandler.Pipelines{
		SkillScoring:     ff.IsEnabled(config.FeatureSkillScoring),
		TopicPerformance: ff.IsEnabled(config.FeatureTopicPerformance),
		Recommendations:  ff.IsEnabled(config.FeatureRecommendations),
		Retention:        ff.IsEnabled(config.FeatureRetention),
		ActivityStreak:   ff.IsEnabled(config.FeatureActivityStreak),
	}
}
