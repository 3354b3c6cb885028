package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/application"
	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	catalogHttp "github.com/davicafu/catalogcdc/internal/catalog/infra/inbound/http"
	config "github.com/davicafu/catalogcdc/internal/config"
	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	infraRelayer "github.com/davicafu/catalogcdc/internal/shared/infra/relayer"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/codec"
	"github.com/davicafu/catalogcdc/internal/shared/infra/telemetry"
	"github.com/davicafu/catalogcdc/pkg/logger"
)

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.LogLevel) // inicializa zap
	log := logger.Logger()    // obtiene logger estructurado
	defer logger.Sync()       // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cl closers
	defer cl.run()

	// ---------------- Mongo ----------------
	var client *mongo.Client
	if cfg.Store == "mongo" || (cfg.DispatchMode == config.DispatchOutbox && cfg.OutboxStore == "mongo") {
		client, err = connectMongo(ctx, cfg, log, &cl)
		if err != nil {
			log.Fatal("failed to connect MongoDB", zap.Error(err))
		}
	}

	st, err := buildStore(ctx, cfg, client, log)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}

	// ---------------- Cache ----------------
	cacheInstance, cachePing := buildCache(ctx, cfg, log, &cl)

	// ---------------- Events ---------------
	router := domain.NewTopicRouter(domain.BookEntity)

	broker, err := buildBroker(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect broker", zap.String("broker", cfg.Broker), zap.Error(err))
	}
	direct, mirrorPing := withAnalyticsMirror(ctx, cfg, broker, router, log)

	var outboxRepo sharedDomain.OutboxRepository
	if cfg.DispatchMode == config.DispatchOutbox {
		outboxRepo, err = buildOutboxRepo(ctx, cfg, client, &cl)
		if err != nil {
			log.Fatal("failed to initialize outbox", zap.String("store", cfg.OutboxStore), zap.Error(err))
		}
	}
	sink := publishSink(cfg, direct, outboxRepo, router)

	wireCodec, err := codec.New(cfg.Codec)
	if err != nil {
		log.Fatal("invalid codec", zap.Error(err))
	}

	registry := telemetry.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	publisher := application.NewEventPublisher(sink, wireCodec, application.PublisherConfig{
		Lanes:      cfg.PublishLanes,
		LaneBuffer: cfg.LaneBuffer,
		Timeout:    cfg.PublishTimeout,
	}, metrics, log)

	// --------------- Servicio --------------
	info := application.DefaultServiceInfo()
	info.Source = cfg.ServiceName
	builder := application.NewEnvelopeBuilder(info, application.NewIdentityGenerator())

	catalogService := application.NewCatalogService(st.repo, st.tx, cacheInstance, builder, router, publisher,
		application.CatalogConfig{BookCacheTTL: cfg.BookCacheTTL, ReplayTTL: cfg.ReplayTTL}, metrics, log)

	healthService := application.NewHealthService(cfg.HealthTimeout, cfg.HealthCheckTimeout, log,
		healthDeps(st, broker, cachePing, mirrorPing)...)

	// ------------ Outbox Worker ------------
	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if outboxRepo != nil {
		worker := infraRelayer.NewOutboxWorker(outboxRepo, broker, infraRelayer.Config{
			Interval:   cfg.OutboxPeriod,
			BatchSize:  cfg.OutboxLimit,
			RetryDelay: 200 * time.Millisecond,
		}, metrics, log)
		go func() {
			defer close(workerDone)
			worker.Start(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	// ---------------- HTTP ----------------
	engine := gin.New()
	engine.Use(gin.Recovery(), catalogHttp.CorrelationID(), catalogHttp.RequestLogger(log))
	catalogHttp.RegisterBookRoutes(engine, catalogHttp.NewBookHandler(catalogService))
	catalogHttp.RegisterOpsRoutes(engine, catalogHttp.NewHealthHandler(healthService), telemetry.Handler(registry))

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: engine}
	go func() {
		log.Info("🚀 Server running",
			zap.String("url", "http://localhost:"+cfg.HTTPPort),
			zap.String("dispatch", cfg.DispatchMode),
			zap.String("broker", cfg.Broker),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Apagando servicio")

	// Los sinks se cierran al final: publisher y relayer aún escriben en ellos.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PublishTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("⚠️ Error cerrando HTTP", zap.Error(err))
	}
	publisher.Close()
	stopWorker()
	<-workerDone
	if err := sink.Close(); err != nil {
		log.Warn("⚠️ Error cerrando sinks", zap.Error(err))
	}
}
