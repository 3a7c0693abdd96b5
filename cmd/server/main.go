package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/banking/fraud-service/internal/api"
	"github.com/banking/fraud-service/internal/audit"
	"github.com/banking/fraud-service/internal/blacklist"
	"github.com/banking/fraud-service/internal/config"
	"github.com/banking/fraud-service/internal/pipeline"
	"github.com/banking/fraud-service/internal/pkg/logger"
	"github.com/banking/fraud-service/internal/pkg/telemetry"
	"github.com/banking/fraud-service/internal/risk"
	"github.com/banking/fraud-service/internal/velocity"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("fraud-service", cfg.Telemetry.Environment, os.Getenv("DEBUG") != "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, &cfg.Telemetry, log)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// Postgres: the authoritative blacklist store and transaction history
	pool, err := pgxpool.New(ctx, databaseDSN(&cfg.Database))
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal("postgres ping failed", zap.Error(err))
	}

	// Redis: the hot blacklist lookup cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()
	var cache blacklist.Cache
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Degraded but functional: lookups fall through to postgres
		log.Warn("redis unavailable, blacklist cache disabled", zap.Error(err))
	} else {
		cache = blacklist.NewRedisCache(redisClient, cfg.Redis.BlacklistCacheTTL)
	}

	store := blacklist.NewPostgresStore(pool)
	registry := blacklist.NewRegistry(store, cache, &cfg.Blacklist, log)

	tracker := velocity.NewTracker(velocity.NewPostgresHistory(pool), &cfg.Velocity, log)
	engine := risk.NewEngine()
	gate := pipeline.NewHighValueGate(&cfg.HighValue)

	producer := newProducer(cfg, log)
	recorder := audit.NewRecorder(store, producer, &cfg.Kafka, log)
	defer func() {
		if producer != nil {
			producer.Close()
		}
	}()

	fraudPipeline := pipeline.NewPipeline(
		registry, tracker, engine, gate, recorder,
		nil, // no external signal provider in the default deployment
		&cfg.Pipeline, &cfg.Velocity, log,
	)

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	if cfg.Server.MaxRequestSize > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%d", cfg.Server.MaxRequestSize)))
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Security.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api.NewHandler(fraudPipeline, registry, cfg, log).Register(e)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()
	log.Info("server started", zap.String("addr", serverAddr))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	log.Info("server exited")
}

func newProducer(cfg *config.Config, log *logger.Logger) sarama.AsyncProducer {
	if !cfg.Kafka.Enabled {
		return nil
	}
	producer, err := audit.NewProducer(&cfg.Kafka)
	if err != nil {
		// Event mirroring is best effort; the store write is authoritative
		log.Warn("kafka producer unavailable, decision events disabled", zap.Error(err))
		return nil
	}
	return producer
}

func databaseDSN(db *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		db.User, db.Password, db.Host, db.Port, db.Database, db.SSLMode, db.MaxOpenConns,
	)
}
