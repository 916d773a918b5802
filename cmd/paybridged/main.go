// paybridged runs PayBridge as a standalone service: the provider webhook
// intake on one listener and the management API on another, backed by the
// store named in the environment.
//
// Configuration is environment-only:
//
//	PAYBRIDGE_WEBHOOK_ADDR     webhook intake listen address (default :8080)
//	PAYBRIDGE_API_ADDR         management API listen address (default :8081)
//	PAYBRIDGE_STORE            memory | postgres | sqlite | redis (default memory)
//	PAYBRIDGE_DATABASE_URL     DSN for postgres/sqlite stores
//	PAYBRIDGE_REDIS_URL        redis URL for the redis store
//	PAYBRIDGE_BUS_REDIS_URL    optional redis URL for the outcome bus
//	PAYSTACK_SECRET_KEY        Paystack webhook signing secret
//	FLUTTERWAVE_SECRET_HASH    Flutterwave verif-hash value
//	STRIPE_WEBHOOK_SECRET      Stripe webhook signing secret
//	MONO_SECRET_KEY            Mono webhook signing secret
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	gumetrics "github.com/xraph/go-utils/metrics"

	paybridge "github.com/paybridge/paybridge"
	"github.com/paybridge/paybridge/api"
	"github.com/paybridge/paybridge/bus"
	"github.com/paybridge/paybridge/observability"
	"github.com/paybridge/paybridge/provider"
	"github.com/paybridge/paybridge/receiver"
	pbstore "github.com/paybridge/paybridge/store"
	"github.com/paybridge/paybridge/store/bunstore"
	"github.com/paybridge/paybridge/store/memory"
	redisstore "github.com/paybridge/paybridge/store/redis"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("paybridged exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}

	opts := []paybridge.Option{
		paybridge.WithStore(st),
		paybridge.WithLogger(logger),
		paybridge.WithProviders(provider.DefaultRegistry(provider.Secrets{
			PaystackSecretKey:     os.Getenv("PAYSTACK_SECRET_KEY"),
			FlutterwaveSecretHash: os.Getenv("FLUTTERWAVE_SECRET_HASH"),
			StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
			MonoSecretKey:         os.Getenv("MONO_SECRET_KEY"),
		})),
		paybridge.WithMetrics(observability.NewMetrics(gumetrics.NewMetricsCollector("paybridge"))),
		paybridge.WithTracer(observability.NewTracer()),
	}

	if busURL := os.Getenv("PAYBRIDGE_BUS_REDIS_URL"); busURL != "" {
		redisOpts, err := goredis.ParseURL(busURL)
		if err != nil {
			return fmt.Errorf("parse PAYBRIDGE_BUS_REDIS_URL: %w", err)
		}
		opts = append(opts, paybridge.WithBus(bus.NewRedisBus(goredis.NewClient(redisOpts), logger)))
	}

	bridge, err := paybridge.New(opts...)
	if err != nil {
		return err
	}

	bridge.Start(ctx)

	webhookSrv := &http.Server{
		Addr:              envOr("PAYBRIDGE_WEBHOOK_ADDR", ":8080"),
		Handler:           receiver.NewHandler(bridge, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiSrv := &http.Server{
		Addr:              envOr("PAYBRIDGE_API_ADDR", ":8081"),
		Handler:           api.NewHandler(bridge, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("webhook intake listening", "addr", webhookSrv.Addr)
		errc <- webhookSrv.ListenAndServe()
	}()
	go func() {
		logger.Info("management api listening", "addr", apiSrv.Addr)
		errc <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := webhookSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("webhook server shutdown", "error", err)
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	bridge.Stop(shutdownCtx)
	return nil
}

// openStore selects and opens the persistence backend named by
// PAYBRIDGE_STORE.
func openStore(logger *slog.Logger) (pbstore.Store, error) {
	backend := envOr("PAYBRIDGE_STORE", "memory")
	switch backend {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil

	case "postgres":
		dsn := os.Getenv("PAYBRIDGE_DATABASE_URL")
		if dsn == "" {
			return nil, errors.New("PAYBRIDGE_DATABASE_URL is required for the postgres store")
		}
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bunstore.New(bun.NewDB(sqldb, pgdialect.New())), nil

	case "sqlite":
		dsn := envOr("PAYBRIDGE_DATABASE_URL", "file:paybridge.db?cache=shared&_fk=1")
		sqldb, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return bunstore.New(bun.NewDB(sqldb, sqlitedialect.New())), nil

	case "redis":
		url := os.Getenv("PAYBRIDGE_REDIS_URL")
		if url == "" {
			return nil, errors.New("PAYBRIDGE_REDIS_URL is required for the redis store")
		}
		redisOpts, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse PAYBRIDGE_REDIS_URL: %w", err)
		}
		return redisstore.New(goredis.NewClient(redisOpts)), nil

	default:
		return nil, fmt.Errorf("unknown PAYBRIDGE_STORE %q", backend)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
