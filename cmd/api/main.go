package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safarbook/internal/api"
	"safarbook/internal/cache"
	"safarbook/internal/config"
	"safarbook/internal/database"
	"safarbook/internal/domain"
	"safarbook/internal/events"
	"safarbook/internal/gateway"
	"safarbook/internal/google"
	"safarbook/internal/logging"
	"safarbook/internal/metrics"
	"safarbook/internal/notify"
	"safarbook/internal/pricing"
	"safarbook/internal/service"
	"safarbook/internal/worker"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, logger)
	defer func() { _ = cache.Close(redisClient) }()

	var ruleCache domain.Cache = cache.NewMemoryCache()
	if redisClient != nil {
		ruleCache = cache.NewFailoverCache(cache.NewRedisCache(redisClient), ruleCache, logging.Component(logger, "cache"))
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	bus := events.NewEventBus()
	events.RegisterMetrics(bus)
	events.RegisterAuditLog(bus, logger)

	notifications := initNotifications(ctx, cfg, redisClient, logger)
	go notifications.Start(ctx)

	gw := gateway.NewClient(cfg.Gateway, logging.Component(logger, "gateway"))
	rules := pricing.NewCachedRuleSource(db, ruleCache, cfg.Pricing.RuleCacheTTL(), logging.Component(logger, "rules"))
	engine := pricing.NewEngine(rules, cfg.Pricing.ChargeableAgeThreshold, logging.Component(logger, "pricing"))

	svcLogger := logging.Component(logger, "booking")
	machine := service.NewStateMachine(db, notify.NewDispatcher(notifications, svcLogger), bus, cfg.Booking, svcLogger)
	gate := service.NewIdempotencyGate(ruleCache, cfg.Idempotency, svcLogger)

	health := api.NewHealthChecker()
	health.Register("database", db.PingContext)
	health.Register("cache", ruleCache.Ping)

	metricsOnAPI := cfg.Monitoring.PrometheusEnabled && cfg.Monitoring.PrometheusPort == cfg.API.HTTP.Port
	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Bookings: service.NewBookingService(db, db, engine, machine, gate, bus, cfg.Booking, svcLogger),
		Payments: service.NewPaymentService(db, db, engine, gw, machine, bus, cfg.Pricing, cfg.Gateway,
			logging.Component(logger, "payments")),
		Rules:   service.NewRuleService(db, rules, bus, logging.Component(logger, "rules")),
		Catalog: db,
		Gateway: gw,
		Health:  health,
	}, metricsOnAPI, logging.Component(logger, "http"))

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, health, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go grpcServer.Watch(ctx)
	}

	backup := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	go backup.Start(ctx)

	if cfg.Monitoring.PrometheusEnabled && !metricsOnAPI {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	err = startServers(ctx, grpcServer, httpServer, cfg, logger)
	notifications.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if cfg.Catalog.SeedPath == "" {
		return db, nil
	}
	seed, err := database.LoadCatalogSeed(cfg.Catalog.SeedPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	created, err := db.SeedCatalog(ctx, seed)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info().Int("created", created).Str("seed_path", cfg.Catalog.SeedPath).Msg("catalog seeded")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := cache.NewRedisClient(cfg.Redis)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// the failover cache keeps probing; start on memory
		logger.Warn().Err(err).Msg("redis connection failed, continuing with in-memory cache")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

// initNotifications builds the async worker with every configured sink.
// Optional sinks that fail to initialize are skipped.
func initNotifications(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) *worker.NotificationWorker {
	sinks := []worker.Sink{notify.NewLogSink(logging.Component(logger, "notify"))}

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram notifications")
		} else {
			logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
			sinks = append(sinks, notify.NewTelegramSink(bot, cfg.Telegram.ChatID))
		}
	}

	if cfg.Google.CredentialsFile != "" && cfg.Google.LedgerSpreadsheetID != "" {
		ledger, err := google.NewLedgerService(ctx, cfg.Google.CredentialsFile, cfg.Google.LedgerSpreadsheetID)
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without ledger")
		} else {
			if email, err := google.ServiceAccountEmail(cfg.Google.CredentialsFile); err == nil {
				logger.Info().Str("service_account", email).Msg("google sheets ledger enabled")
			}
			sinks = append(sinks, notify.NewSheetsSink(ledger))
		}
	}

	return worker.NewNotificationWorker(cfg.Notify.QueueSize, worker.PolicyFromConfig(cfg.Notify), redisClient, logging.Component(logger, "notify-worker"), sinks...)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
