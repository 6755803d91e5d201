package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/gourilakshmianusha/petshoptify/internal/cache"
	"github.com/gourilakshmianusha/petshoptify/internal/checkout"
	"github.com/gourilakshmianusha/petshoptify/internal/config"
	h "github.com/gourilakshmianusha/petshoptify/internal/http"
	"github.com/gourilakshmianusha/petshoptify/internal/idempotency"
	"github.com/gourilakshmianusha/petshoptify/internal/metrics"
	"github.com/gourilakshmianusha/petshoptify/internal/publisher"
	"github.com/gourilakshmianusha/petshoptify/internal/repository"
	"github.com/gourilakshmianusha/petshoptify/internal/service"
	"github.com/gourilakshmianusha/petshoptify/pkg/circuitbreaker"
	"github.com/gourilakshmianusha/petshoptify/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New("storefront", cfg.LogLevel)
	slog.SetDefault(log)

	ctx := context.Background()
	closers := []func(){}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	repo, closeRepo, err := openCartRepository(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open cart repository", "error", err)
		os.Exit(1)
	}
	closers = append(closers, closeRepo)

	cartCache, closeCache, err := openCartCache(ctx, cfg, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	closers = append(closers, closeCache)

	keys, closeKeys, err := openIdempotencyStore(cfg, log)
	if err != nil {
		log.Error("failed to open idempotency store", "error", err)
		os.Exit(1)
	}
	closers = append(closers, closeKeys)

	pub := openPublisher(cfg, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	carts := service.NewCartService(repo, cartCache, log)
	var gateway checkout.Gateway = checkout.SimulatedGateway{}
	if cfg.DeclinePercent > 0 {
		log.Info("simulated gateway declines payments", "percent", cfg.DeclinePercent)
		gateway = checkout.RandomDeclineGateway{DeclinePercent: cfg.DeclinePercent}
	}
	checkouts := service.NewCheckoutService(carts, keys, pub, m.Checkout, service.CheckoutConfig{
		Delay:         cfg.SettlementDelay,
		SettleTimeout: cfg.SettlementTimeout,
		Retention:     cfg.SessionRetention,
		Gateway:       gateway,
	}, log)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go checkouts.Run(sweepCtx, cfg.SweepInterval)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Carts:          carts,
			Checkouts:      checkouts,
			Metrics:        m,
			Logger:         log,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("storefront starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	stopSweep()
	if err := checkouts.Close(); err != nil {
		log.Error("failed to close publisher", "error", err)
	}
	log.Info("server exited")
}

func openCartRepository(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.CartRepository, func(), error) {
	if cfg.MongoURI == "" {
		log.Info("MONGO_URI not set, keeping carts in memory")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	db, err := repository.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewMongoRepository(db)
	if err := repo.CreateIndexes(ctx); err != nil {
		return nil, nil, err
	}
	log.Info("connected to mongodb", "database", cfg.MongoDBName)

	return repo, func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(disconnectCtx); err != nil {
			log.Warn("mongodb disconnect failed", "error", err)
		}
	}, nil
}

func openCartCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (cache.CartCache, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, cart cache disabled")
		return cache.NoopCache{}, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}
	log.Info("redis ping succeeded", "addr", cfg.RedisAddr)

	return cache.NewRedisCache(client), func() { client.Close() }, nil
}

func openIdempotencyStore(cfg *config.Config, log *slog.Logger) (idempotency.Store, func(), error) {
	var (
		store *idempotency.SQLStore
		err   error
	)
	switch cfg.DBHost {
	case "":
		log.Info("DB_HOST not set, keeping idempotency keys in memory")
		return idempotency.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err = idempotency.NewSQLiteStore(cfg.DBName)
	default:
		store, err = idempotency.NewPostgresStore(&idempotency.Credentials{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
		})
	}
	if err != nil {
		return nil, nil, err
	}
	if err := store.RunMigrations(cfg.MigrationsPath); err != nil {
		store.Close()
		return nil, nil, err
	}
	log.Info("idempotency store ready", "host", cfg.DBHost)

	return store, func() { store.Close() }, nil
}

func openPublisher(cfg *config.Config, log *slog.Logger) publisher.Publisher {
	brokers := publisher.ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		log.Info("KAFKA_BROKERS not set, order events are logged only")
		return publisher.NewLogPublisher(log)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("kafka-publisher"), log)
	return publisher.NewKafkaPublisher(publisher.NewKafkaWriter(cfg.KafkaTopic, brokers...), breaker, log)
}
