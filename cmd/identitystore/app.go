package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"identitystore/internal/audit"
	"identitystore/internal/health"
	httpapi "identitystore/internal/http"
	identityhandler "identitystore/internal/identity/handler"
	identityservice "identitystore/internal/identity/service"
	identitystore "identitystore/internal/identity/store"
	jwttoken "identitystore/internal/jwt_token"
	"identitystore/internal/metric"
	"identitystore/internal/notify"
	"identitystore/internal/platform/config"
	"identitystore/internal/platform/database"
	"identitystore/internal/platform/logger"
	"identitystore/internal/platform/metrics"
	redisclient "identitystore/internal/platform/redis"
	webhookhandler "identitystore/internal/webhook/handler"
	webhookservice "identitystore/internal/webhook/service"
	webhookstore "identitystore/internal/webhook/store"
)

type countingIdentityStore interface {
	identityservice.IdentityStore
	metric.Counter
}

type countingOptOutStore interface {
	identityservice.OptOutStore
	metric.Counter
}

type hookStore interface {
	webhookservice.Store
	notify.HookLister
}

// app holds every long-lived dependency of one process.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db     *sql.DB
	redis  *redisclient.Client
	asynq  *asynq.Client
	inline *notify.InlineQueue
	kafka  *audit.KafkaSink

	publisher  *audit.Publisher
	auditSink  audit.Sink
	processor  *notify.Processor
	dispatcher *notify.Dispatcher
	identities *identityservice.Service
	webhooks   *webhookservice.Service
}

func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	a := &app{cfg: cfg, logger: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	if cfg.Database.URL != "" {
		if a.db, err = database.Open(ctx, cfg.Database); err != nil {
			return nil, err
		}
	}
	if a.redis, err = redisclient.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}

	var (
		identities countingIdentityStore
		optouts    countingOptOutStore
		tx         identityservice.TxRunner
		hooks      hookStore
	)
	if a.db != nil {
		pg := identitystore.NewPostgres(a.db)
		identities, optouts, tx = pg.Identities(), pg.OptOuts(), pg
		hooks = webhookstore.NewPostgres(a.db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		mem := identitystore.NewInMemory()
		identities, optouts, tx = mem.Identities(), mem.OptOuts(), mem
		hooks = webhookstore.NewInMemory()
	}

	recorder := metric.NewRecorder(a.metrics, cfg.Metrics, log)
	a.processor = notify.NewProcessor(cfg.Webhook, recorder, metric.NewCollector(identities, optouts), log,
		notify.WithMetrics(a.metrics))

	var queue notify.Enqueuer
	if a.redis != nil {
		a.asynq = asynq.NewClient(a.redis.AsynqOpt())
		queue = a.asynq
	} else {
		log.Warn("REDIS_URL not set, running tasks in-process")
		a.inline = notify.NewInlineQueue(a.processor.Mux(), log)
		queue = a.inline
	}
	a.dispatcher = notify.NewDispatcher(queue, hooks, log)

	a.publisher = audit.NewPublisher(cfg.Worker.BufferSize, log)
	if len(cfg.Kafka.Brokers) > 0 {
		if a.kafka, err = audit.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			return nil, fmt.Errorf("kafka change stream: %w", err)
		}
		a.auditSink = a.kafka
	} else {
		a.auditSink = audit.NewLogSink(log)
	}

	a.identities = identityservice.New(identities, optouts, tx,
		identityservice.WithNotifier(a.dispatcher),
		identityservice.WithAuditPublisher(a.publisher),
		identityservice.WithMetrics(a.metrics),
		identityservice.WithAddressTypes(cfg.Metrics.AddressTypes),
		identityservice.WithLogger(log),
	)
	a.webhooks = webhookservice.New(hooks, log)
	return a, nil
}

func (a *app) router() http.Handler {
	jwt := jwttoken.NewJWTService(a.cfg.Auth.JWTSigningKey, a.cfg.Auth.Issuer, a.cfg.Auth.Audience)
	return httpapi.NewRouter(httpapi.Deps{
		Logger:         a.logger,
		Metrics:        a.metrics,
		Gatherer:       a.registry,
		Validator:      jwttoken.NewJWTServiceAdapter(jwt),
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Handlers: []httpapi.Routes{
			identityhandler.New(a.identities, a.logger),
			webhookhandler.New(a.webhooks, a.logger),
			metric.NewHandler(a.cfg.Metrics.AddressTypes, a.dispatcher, a.logger),
			a.health(),
		},
	})
}

func (a *app) health() *health.Handler {
	var database health.Check
	if a.db != nil {
		database = a.db.PingContext
	}
	var opts []health.Option
	if a.redis != nil {
		opts = append(opts, health.WithCheck("redis", a.redis.Health))
	}
	if a.kafka != nil {
		opts = append(opts, health.WithCheck("kafka", a.kafka.Ping))
	}
	return health.New(database, a.logger, opts...)
}

func (a *app) storeKind() string {
	if a.db != nil {
		return "postgres"
	}
	return "memory"
}

func (a *app) queueKind() string {
	if a.asynq != nil {
		return "redis"
	}
	return "inline"
}

func (a *app) close() {
	if a.asynq != nil {
		if err := a.asynq.Close(); err != nil {
			a.logger.Warn("failed to close task queue client", "error", err)
		}
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}
