package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/common/database"
	"github.com/phlaster/biokeeper-backend/common/logger"
	mqttcommon "github.com/phlaster/biokeeper-backend/common/mqtt"
	rediscommon "github.com/phlaster/biokeeper-backend/common/redis"
	"github.com/phlaster/biokeeper-backend/internal/config"
	"github.com/phlaster/biokeeper-backend/internal/consumer"
	"github.com/phlaster/biokeeper-backend/internal/events"
	httpapi "github.com/phlaster/biokeeper-backend/internal/http"
	"github.com/phlaster/biokeeper-backend/internal/identity"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/repository"
	"github.com/phlaster/biokeeper-backend/internal/service"
	"github.com/phlaster/biokeeper-backend/internal/store"
	"github.com/phlaster/biokeeper-backend/internal/weather"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file")
	migrate := pflag.Bool("migrate", false, "apply the embedded schema on start")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "biokeeper-core")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	// Storage: Postgres when reachable, otherwise the in-memory store
	var (
		db   *sql.DB
		repo repository.Store
	)
	if cfg.DBEnabled {
		if d, err := database.NewPostgresDB(&cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for biokeeper-core", zap.String("host", cfg.Database.Host))
		} else {
			log.Warn("DB enabled but connection failed, falling back to memory store", zap.Error(err))
		}
	}
	if db != nil {
		defer database.Close(db)
		if *migrate {
			if err := repository.ApplySchema(ctx, db); err != nil {
				log.Fatal("Schema migration failed", zap.Error(err))
			}
			log.Info("Schema applied")
		}
		repo = repository.NewPostgresStore(db)
	} else {
		repo = repository.NewMemoryStore()
	}

	// Redis: streams and weather cache
	var rdb *redis.Client
	if cfg.RedisEnabled {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rediscommon.Ping(pingCtx, client)
		pingCancel()
		if err == nil {
			rdb = client
			defer rediscommon.Close(rdb)
		} else {
			log.Warn("Redis unavailable, using in-process queue and no cache", zap.Error(err))
			_ = client.Close()
		}
	}

	var notifier service.SampleNotifier = events.Nop{}
	if cfg.MQTT.Enabled {
		client, err := mqttcommon.NewClient(&cfg.MQTT.MQTTConfig, log)
		if err != nil {
			log.Warn("MQTT unavailable, sample events disabled", zap.Error(err))
		} else {
			defer client.Disconnect()
			notifier = events.NewMQTTNotifier(client, cfg.MQTT.TopicPrefix, log)
		}
	}

	var (
		kv         store.KV = store.NopKV{}
		queue      service.EnrichmentQueue
		localQueue *events.LocalQueue
	)
	if rdb != nil {
		kv = store.NewRedisKV(rdb, "biokeeper")
		queue = events.NewStreamQueue(rdb, cfg.Streams.Enrich.Stream)
	} else {
		localQueue = events.NewLocalQueue(0, nil, log)
		queue = localQueue
	}

	statuses := service.NewStatusRegistry(repo)
	if err := statuses.Load(ctx); err != nil {
		log.Fatal("Failed to load status vocabulary", zap.Error(err))
	}
	users := service.NewUserService(repo, statuses, m, log)
	kits := service.NewKitService(repo, statuses, cfg.Kits.MaxQRs, m, log)
	researches := service.NewResearchService(repo, statuses, m, log)
	samples := service.NewSampleService(repo, statuses, queue, notifier, m, log)
	enrichment := service.NewEnrichmentService(repo, samples,
		weather.NewClient(cfg.Weather, kv, log),
		service.EnrichmentConfig{Timeout: cfg.Enrichment.Timeout, PastDays: cfg.Enrichment.PastDays},
		m, log)

	resolver, err := newResolver(cfg.Auth, log)
	if err != nil {
		log.Fatal("Failed to set up token verification", zap.Error(err))
	}
	auth := httpapi.NewAuthenticator(identity.NewDirectory(resolver, users, log), log)

	router := httpapi.NewAPI(httpapi.Services{
		Statuses:   statuses,
		Users:      users,
		Kits:       kits,
		Researches: researches,
		Samples:    samples,
	}, auth, m.Handler(), log)
	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	var wg sync.WaitGroup
	runWorker := func(name string, start func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(ctx); err != nil {
				log.Error("Worker stopped", zap.String("worker", name), zap.Error(err))
			}
		}()
	}
	if rdb != nil {
		runWorker("user-events", consumer.NewUserEventsConsumer(rdb, users, cfg.Streams.NewUser, m, log).Start)
		runWorker("enrichment", consumer.NewEnrichmentConsumer(rdb, enrichment, cfg.Streams.Enrich, m, log).Start)
	} else {
		localQueue.SetEnricher(enrichment)
		localQueue.Start(ctx, 2)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	wg.Wait()
	if localQueue != nil {
		localQueue.Wait()
	}
}

func newResolver(cfg config.AuthConfig, log *zap.Logger) (identity.Resolver, error) {
	switch cfg.Mode {
	case config.AuthRemote:
		return identity.NewRemoteResolver(cfg.URL, cfg.Timeout, log), nil
	default:
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		return identity.NewJWTResolver(pem)
	}
}
