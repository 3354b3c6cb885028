package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/application"
	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	"github.com/davicafu/catalogcdc/internal/catalog/infra/outbound/analytics/clickhouse"
	"github.com/davicafu/catalogcdc/internal/catalog/infra/outbound/db/memory"
	catalogMongo "github.com/davicafu/catalogcdc/internal/catalog/infra/outbound/db/mongodb"
	config "github.com/davicafu/catalogcdc/internal/config"
	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	infraEvents "github.com/davicafu/catalogcdc/internal/shared/infra/events"
	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/catalogcdc/internal/shared/infra/platform/cache"
	sharedMongo "github.com/davicafu/catalogcdc/internal/shared/infra/platform/db/mongodb"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/db/postgres"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/db/sqlite"
	"github.com/davicafu/catalogcdc/internal/shared/infra/utils"

	_ "modernc.org/sqlite"
)

// closers acumula lo que hay que cerrar al salir, en orden inverso.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// ---------------- Store ----------------

type store struct {
	repo domain.BookRepository
	tx   domain.TxRunner
	ping func(ctx context.Context) error
}

func connectMongo(ctx context.Context, cfg *config.Config, log *zap.Logger, cl *closers) (*mongo.Client, error) {
	var client *mongo.Client
	err := utils.Retry(ctx, 3, 2*time.Second, func() error {
		var err error
		client, err = mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	cl.add(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(shutdownCtx); err != nil {
			log.Warn("⚠️ Error cerrando MongoDB", zap.Error(err))
		}
	})
	return client, nil
}

func buildStore(ctx context.Context, cfg *config.Config, client *mongo.Client, log *zap.Logger) (*store, error) {
	if cfg.Store == "memory" {
		log.Warn("⚠️ Almacén en memoria: los libros no sobreviven a un reinicio")
		repo := memory.NewBookRepo()
		return &store{repo: repo, tx: repo, ping: repo.Ping}, nil
	}

	repo, err := catalogMongo.NewBookRepoMongoDB(ctx, client, cfg.MongoDB)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure book indexes: %w", err)
	}
	log.Info("✅ MongoDB conectado", zap.String("db", cfg.MongoDB))
	return &store{repo: repo, tx: repo, ping: repo.Ping}, nil
}

// ---------------- Cache ----------------

func buildCache(ctx context.Context, cfg *config.Config, log *zap.Logger, cl *closers) (sharedCache.Cache, func(context.Context) error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria:", zap.Error(err))
		_ = rdb.Close()
		mem := sharedCache.NewInMemoryCache(cfg.BookCacheTTL, 3*cfg.BookCacheTTL)
		cl.add(mem.Stop)
		return mem, nil
	}
	cl.add(func() { _ = rdb.Close() })
	log.Info("✅ Redis conectado, cache habilitado")
	rc := sharedCache.NewRedisCache(rdb, cfg.ServiceName+":", cfg.BookCacheTTL)
	return rc, rc.Ping
}

// ---------------- Broker ----------------

func buildBroker(ctx context.Context, cfg *config.Config, log *zap.Logger) (sharedBus.Sink, error) {
	switch cfg.Broker {
	case "kafka":
		log.Info("🚀 Usando Kafka como broker", zap.Strings("brokers", cfg.KafkaBrokers))
		return infraEvents.NewKafkaSink(infraEvents.DefaultKafkaConfig(cfg.KafkaBrokers), log)
	case "nats":
		log.Info("🚀 Usando NATS JetStream como broker", zap.String("url", cfg.NatsURL))
		return infraEvents.NewNatsSink(cfg.NatsURL, cfg.NatsMaxAge, log)
	case "rabbit":
		log.Info("🚀 Usando RabbitMQ como broker", zap.String("exchange", cfg.RabbitExchange))
		return infraEvents.NewRabbitSink(cfg.RabbitURL, cfg.RabbitExchange, log)
	default:
		log.Info("⚡️ Usando bus en memoria (canales de Go)")
		return infraEvents.NewInMemoryBus(cfg.PublishLanes), nil
	}
}

// withAnalyticsMirror copia el topic de analítica a ClickHouse si está configurado.
func withAnalyticsMirror(ctx context.Context, cfg *config.Config, broker sharedBus.Sink, router *domain.TopicRouter, log *zap.Logger) (sharedBus.Sink, func(context.Context) error) {
	if cfg.ClickHouseAddr == "" {
		return broker, nil
	}
	eventLog, err := clickhouse.NewEventLogSink(cfg.ClickHouseAddr, cfg.ClickHouseDB)
	if err == nil {
		err = eventLog.EnsureTable(ctx)
	}
	if err != nil {
		log.Warn("⚠️ ClickHouse no disponible, sin espejo de analítica", zap.Error(err))
		return broker, nil
	}
	log.Info("✅ Espejo de analítica en ClickHouse", zap.String("addr", cfg.ClickHouseAddr))

	analytics := domain.AnalyticsTopic(router.Entity())
	return infraEvents.NewRoutingSink(broker, map[string]sharedBus.Sink{
		analytics: infraEvents.NewMirrorSink(broker, eventLog, log),
	}), eventLog.Ping
}

// ---------------- Outbox ----------------

func buildOutboxRepo(ctx context.Context, cfg *config.Config, client *mongo.Client, cl *closers) (sharedDomain.OutboxRepository, error) {
	switch cfg.OutboxStore {
	case "mongo":
		repo := sharedMongo.NewOutboxRepoMongoDB(client, cfg.MongoDB)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure outbox indexes: %w", err)
		}
		return repo, nil
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = db.Close() })
		if err := postgres.InitOutboxPostgres(ctx, db); err != nil {
			return nil, fmt.Errorf("init postgres outbox: %w", err)
		}
		return postgres.NewOutboxRepoPostgres(db), nil
	default:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		cl.add(func() { _ = db.Close() })
		if err := sqlite.InitOutboxSQLite(ctx, db); err != nil {
			return nil, fmt.Errorf("init sqlite outbox: %w", err)
		}
		return sqlite.NewOutboxRepoSQLite(db), nil
	}
}

// publishSink decide a dónde escribe el publisher. En modo outbox el CDC va a
// la tabla outbox; la analítica sigue siendo directa porque es best-effort.
func publishSink(cfg *config.Config, broker sharedBus.Sink, outbox sharedDomain.OutboxRepository, router *domain.TopicRouter) sharedBus.Sink {
	if cfg.DispatchMode != config.DispatchOutbox {
		return broker
	}
	cdc := domain.CDCTopic(router.Entity())
	return infraEvents.NewRoutingSink(broker, map[string]sharedBus.Sink{
		cdc: infraEvents.NewOutboxSink(outbox, router.Entity()),
	})
}

// ---------------- Health ----------------

func healthDeps(st *store, broker sharedBus.Sink, cachePing, mirrorPing func(context.Context) error) []application.Dependency {
	out := []application.Dependency{{Name: "store", Check: st.ping}}
	if p, ok := broker.(sharedBus.Pinger); ok {
		out = append(out, application.Dependency{Name: "broker", Check: p.Ping})
	}
	if cachePing != nil {
		out = append(out, application.Dependency{Name: "cache", Check: cachePing})
	}
	if mirrorPing != nil {
		out = append(out, application.Dependency{Name: "analytics_log", Check: mirrorPing})
	}
	return out
}
