// Package initializer builds app.Deps from configuration, choosing the
// durable backends when they are configured and in-memory ones otherwise.
package initializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/ecclesia/infra"
	infracache "github.com/amirasaad/ecclesia/infra/cache"
	infraeventbus "github.com/amirasaad/ecclesia/infra/eventbus"
	"github.com/amirasaad/ecclesia/infra/gateway/pixbank"
	"github.com/amirasaad/ecclesia/infra/gateway/stripepay"
	infralock "github.com/amirasaad/ecclesia/infra/lock"
	"github.com/amirasaad/ecclesia/infra/migrations"
	"github.com/amirasaad/ecclesia/infra/notify"
	"github.com/amirasaad/ecclesia/infra/postal"
	infraratelimit "github.com/amirasaad/ecclesia/infra/ratelimit"
	infrarepo "github.com/amirasaad/ecclesia/infra/repository"
	"github.com/amirasaad/ecclesia/infra/repository/memory"
	"github.com/amirasaad/ecclesia/pkg/app"
	"github.com/amirasaad/ecclesia/pkg/cache"
	"github.com/amirasaad/ecclesia/pkg/config"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/eventbus"
	"github.com/amirasaad/ecclesia/pkg/gateway"
	"github.com/amirasaad/ecclesia/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// InitializeDependencies initializes all the application dependencies. The
// returned func releases connections and flushes the logger.
func InitializeDependencies(cfg *config.App) (deps *app.Deps, cleanup func(), err error) {
	logger, stopLogger := SetupLogger(cfg.Log)
	closers := []func(){stopLogger}
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps = &app.Deps{Logger: logger}
	metrics.Setup(cfg.Metrics, logger)

	if err = initRepositories(ctx, cfg, deps, logger); err != nil {
		return nil, nil, err
	}

	var rdb redis.UniversalClient
	if cfg.Redis != nil && cfg.Redis.URL != "" {
		client, rerr := infra.NewRedisClient(ctx, cfg.Redis)
		if rerr != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", rerr)
		}
		closers = append(closers, func() { _ = client.Close() })
		rdb = client
	}
	initCoordination(cfg, deps, rdb, logger)

	bus, closeBus, err := initEventBus(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeBus)
	deps.EventBus = bus

	if deps.Gateways, err = initGateways(cfg.Gateway, logger); err != nil {
		return nil, nil, err
	}

	deps.Senders = notify.Senders(cfg.Notification, logger)
	if ws := notify.NewWhatsAppSender(cfg.Notification, logger); ws != nil {
		deps.WhatsApp = ws
	}

	var postalCache cache.Cache[payer.Address] = infracache.NewMemoryCache[payer.Address]()
	if rdb != nil {
		postalCache = infracache.NewRedisCache[payer.Address](rdb, cfg.Redis.KeyPrefix+"postal:", logger)
	}
	deps.Postal = postal.New(cfg.Postal, postalCache, nil, logger)

	return deps, release, nil
}

func initRepositories(ctx context.Context, cfg *config.App, deps *app.Deps, logger *slog.Logger) error {
	if cfg.DB == nil || cfg.DB.Url == "" {
		logger.Warn("DATABASE_URL is not set, using in-memory repositories")
		deps.Transactions = memory.NewTransactions()
		deps.Tokens = memory.NewTokens()
		deps.Payers = memory.NewPayers()
		deps.Rules = memory.NewRules()
		deps.NotificationLogs = memory.NewNotificationLogs()
		return nil
	}
	db, err := infra.NewDBConnection(cfg.DB, cfg.Env)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := migrations.Up(ctx, sqlDB, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	deps.Transactions = infrarepo.NewTransactionRepository(db)
	deps.Tokens = infrarepo.NewTokenRepository(db)
	deps.Payers = infrarepo.NewPayerRepository(db)
	deps.Rules = infrarepo.NewRuleRepository(db)
	deps.NotificationLogs = infrarepo.NewNotificationLogRepository(db)
	return nil
}

// initCoordination picks the lock and the rate limit counter. Both need a
// shared store once more than one replica runs.
func initCoordination(cfg *config.App, deps *app.Deps, rdb redis.UniversalClient, logger *slog.Logger) {
	if rdb == nil {
		logger.Warn("REDIS_URL is not set, scheduler lock and rate limits are process local")
		deps.Locker = infralock.NewMemoryLocker()
		deps.RateLimitStore = infraratelimit.NewMemoryStore()
		return
	}
	deps.Locker = infralock.NewRedisLocker(rdb, cfg.Redis.KeyPrefix, logger)
	deps.RateLimitStore = infraratelimit.NewRedisStore(rdb, cfg.Redis.KeyPrefix, logger)
}

func initEventBus(cfg *config.App, logger *slog.Logger) (eventbus.Bus, func(), error) {
	if cfg.Kafka == nil || cfg.Kafka.Brokers == "" {
		return infraeventbus.NewWithMemory(logger), func() {}, nil
	}
	bus, err := infraeventbus.NewWithKafka(cfg.Kafka.Brokers, logger, &infraeventbus.KafkaEventBusConfig{
		GroupID:     cfg.Kafka.GroupID,
		TopicPrefix: cfg.Kafka.TopicPrefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Kafka event bus: %w", err)
	}
	return bus, func() {
		if err := bus.Close(); err != nil {
			logger.Error("failed to close Kafka event bus", "error", err)
		}
	}, nil
}

func initGateways(cfg *config.Gateway, logger *slog.Logger) (*gateway.Registry, error) {
	if cfg == nil {
		return nil, errors.New("gateway configuration is missing")
	}
	var gws []gateway.Gateway
	if cfg.Stripe != nil && cfg.Stripe.ApiKey() != "" {
		gws = append(gws, stripepay.New(cfg.Stripe, logger))
	}
	if cfg.PixBank != nil && cfg.PixBank.ClientID != "" {
		pb, err := pixbank.New(cfg.PixBank, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pixbank gateway: %w", err)
		}
		gws = append(gws, pb)
	}
	if len(gws) == 0 {
		return nil, errors.New("no payment gateway is configured")
	}
	def, err := gateway.ParseKind(cfg.Default)
	if err != nil {
		return nil, err
	}
	return gateway.NewRegistry(def, gws...)
}
