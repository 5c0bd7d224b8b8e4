// Package app initializes every component of the service.
// app.go is the assembly point: it creates the DB pool, repositories,
// services, gateways, handlers and jobs and collects them into one App.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/token-shop/internal/cache"
	"serotonyl.ru/token-shop/internal/common"
	"serotonyl.ru/token-shop/internal/config"
	"serotonyl.ru/token-shop/internal/db/postgres"
	"serotonyl.ru/token-shop/internal/features/admin"
	"serotonyl.ru/token-shop/internal/features/games"
	"serotonyl.ru/token-shop/internal/features/payments"
	"serotonyl.ru/token-shop/internal/features/release"
	"serotonyl.ru/token-shop/internal/features/tokens"
	"serotonyl.ru/token-shop/internal/gateway"
	"serotonyl.ru/token-shop/internal/gateway/paypal"
	"serotonyl.ru/token-shop/internal/gateway/stripe"
	"serotonyl.ru/token-shop/internal/jobs"
	"serotonyl.ru/token-shop/internal/metrics"
	"serotonyl.ru/token-shop/internal/notify"
	"serotonyl.ru/token-shop/internal/server"
)

// App holds every long-lived component.
type App struct {
	Server     *server.Server
	Scheduler  *jobs.Scheduler
	Dispatcher *notify.Dispatcher
	DB         *pgxpool.Pool
	Redis      *redis.Client
}

// New creates and initializes the application. Initialization order
// matters: components depend on each other.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc, err := common.LoadBusinessLocation(cfg.BusinessTimezone)
	if err != nil {
		return nil, err
	}

	// === 1. Database ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	a := &App{DB: pool}

	// === 2. Redis (optional) ===
	var (
		events payments.EventLog
		leaser jobs.Leaser
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		events = cache.NewEventLog(rdb, cache.DefaultEventTTL)
		leaser = cache.NewLeaser(rdb)
	} else {
		log.Info("redis: not configured, webhook dedupe and sweep leases disabled")
	}

	// === 3. Metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// === 4. Repositories ===
	gameRepo := games.NewRepository(pool)
	tokenRepo := tokens.NewRepository(pool)
	paymentRepo := payments.NewRepository(pool, tokenRepo)
	adminRepo := admin.NewRepository(pool)

	// === 5. Gateways and notifications ===
	gateways := buildGateways(cfg)

	sinks := []notify.Sink{notify.LogSink{}}
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramNotifyChatID, loc)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	a.Dispatcher = notify.NewDispatcher(m, sinks...)

	// === 6. Services ===
	gameService := games.NewService(gameRepo)
	tokenService := tokens.NewService(tokenRepo, gameService)
	adminService := admin.NewService(adminRepo, cfg.AdminAPIKeyHash)
	paymentService := payments.NewService(payments.Deps{
		Store:     paymentRepo,
		Catalog:   gameService,
		Evaluator: release.NewEvaluator(loc, cfg.ReleaseMorningLocations, cfg.ReleaseOvernightLocations),
		Gateways:  gateways,
		Notifier:  a.Dispatcher,
		Events:    events,
		Metrics:   m,
	}, payments.Config{
		Currency:        cfg.PaymentCurrency,
		DuplicateWindow: cfg.DuplicateIntentWindow,
		OpenTTL:         cfg.OpenPaymentTTL,
		BatchSize:       cfg.SweepBatchSize,
		Concurrency:     cfg.SweepConcurrency,
	})

	// === 7. HTTP ===
	a.Server = server.New(server.Config{
		Addr:              cfg.HTTPAddr,
		Production:        cfg.IsProduction(),
		JWTSecret:         []byte(cfg.JWTSecret),
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, reg, a.health)

	payments.NewHandler(paymentService).Register(a.Server.Private(), a.Server.Public())
	tokens.NewHandler(tokenService).Register(a.Server.Private(), a.Server.Public(), admin.RequireKey(adminService))

	// === 8. Scheduler ===
	a.Scheduler = jobs.NewScheduler(paymentService, leaser, jobs.Config{
		Location:          loc,
		ReconcileInterval: cfg.ReconcileInterval,
		MorningCron:       cfg.ReleaseMorningCron,
		OvernightCron:     cfg.ReleaseOvernightCron,
	})

	return a, nil
}

func buildGateways(cfg *config.Config) []gateway.Gateway {
	var gateways []gateway.Gateway
	if cfg.StripeEnabled() {
		gateways = append(gateways, stripe.NewClient(stripe.Config{
			SecretKey:         cfg.StripeSecretKey,
			WebhookSecret:     cfg.StripeWebhookSecret,
			APIURL:            cfg.StripeAPIURL,
			Timeout:           cfg.GatewayTimeout,
			MaxNetworkRetries: 2,
			SkipVerify:        cfg.WebhookVerifyDisabled,
		}))
		log.Info("gateway: stripe enabled")
	}
	if cfg.PayPalEnabled() {
		gateways = append(gateways, paypal.NewClient(paypal.Config{
			ClientID:   cfg.PayPalClientID,
			Secret:     cfg.PayPalClientSecret,
			WebhookID:  cfg.PayPalWebhookID,
			BaseURL:    cfg.PayPalBaseURL,
			Timeout:    cfg.GatewayTimeout,
			MaxRetries: 2,
			SkipVerify: cfg.WebhookVerifyDisabled,
		}))
		log.Info("gateway: paypal enabled")
	}
	return gateways
}

func (a *App) health(ctx context.Context) error {
	if err := a.DB.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases the connections. Safe on a partially built App.
func (a *App) Close() {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Warn("close connections")
	}
}

// Migrate applies the embedded SQL migrations in order.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.EnsureMigrationsTable(ctx, pool); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Games},
		{2, migration002Payments},
		{3, migration003Tokens},
		{4, migration004Admin},
		{5, migration005UserStatusIndex},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		log.WithField("version", m.version).Debug("migration applied")
	}
	return nil
}
