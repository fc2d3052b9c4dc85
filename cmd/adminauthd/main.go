package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	adminauth "github.com/oakmont/adminauth"
	"github.com/oakmont/adminauth/httpapi"
	promexport "github.com/oakmont/adminauth/metrics/export/prometheus"
	"github.com/oakmont/adminauth/store/postgres"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Fatal("adminauthd exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwtSecret := os.Getenv("ADMINAUTH_JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("ADMINAUTH_JWT_SECRET is required")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     envOr("ADMINAUTH_REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("ADMINAUTH_REDIS_PASSWORD"),
	})
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, envOr("ADMINAUTH_DATABASE_URL",
		"postgres://localhost:5432/adminauth?sslmode=disable"))
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return err
	}

	var sink adminauth.AuditSink
	var kafkaSink *adminauth.KafkaSink
	if brokers := os.Getenv("ADMINAUTH_KAFKA_BROKERS"); brokers != "" {
		kafkaSink = adminauth.NewKafkaSink(
			strings.Split(brokers, ","),
			envOr("ADMINAUTH_KAFKA_TOPIC", "admin-auth-audit"),
			logger,
		)
		sink = kafkaSink
		defer func() { _ = kafkaSink.Close() }()
	} else {
		sink = adminauth.NewJSONWriterSink(os.Stdout)
	}

	cfg := adminauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(jwtSecret)
	cfg.TOTP.Issuer = envOr("ADMINAUTH_TOTP_ISSUER", cfg.TOTP.Issuer)

	engine, err := adminauth.New().
		WithConfig(cfg).
		WithRedis(redisClient).
		WithAccountStore(postgres.New(pool)).
		WithAuditSink(sink).
		WithLogger(logger).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(promexport.NewCollector(engine))

	handler := httpapi.NewAuthHandler(engine, logger)
	router := httpapi.NewRouter(handler, engine, logger)
	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              envOr("ADMINAUTH_LISTEN_ADDR", ":8080"),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
