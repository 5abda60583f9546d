// Package main - точка входа Telegram-бота курсов.
//
// Бот выдаёт уроки по коду активации, ждёт домашнее задание после каждого
// урока и открывает следующий урок после одобрения администратором.
//
// Слои:
// - Domain: состояния прогресса, задания, расписание доставки
// - Application: команды, запросы, сервис доставки уроков
// - Infrastructure: PostgreSQL, Redis, Telegram Bot API, планировщик
// - Interface: обработчики Telegram и служебный HTTP
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antbot/course-bot/config"
	"github.com/antbot/course-bot/internal/application/command"
	"github.com/antbot/course-bot/internal/application/eventhandler"
	"github.com/antbot/course-bot/internal/application/lesson"
	"github.com/antbot/course-bot/internal/application/query"
	"github.com/antbot/course-bot/internal/domain/course"
	"github.com/antbot/course-bot/internal/infrastructure/content"
	"github.com/antbot/course-bot/internal/infrastructure/external/telegram"
	"github.com/antbot/course-bot/internal/infrastructure/messaging"
	"github.com/antbot/course-bot/internal/infrastructure/persistence/postgres"
	"github.com/antbot/course-bot/internal/infrastructure/persistence/redis"
	"github.com/antbot/course-bot/internal/infrastructure/scheduler"
	"github.com/antbot/course-bot/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/antbot/course-bot/internal/interface/http"
	"github.com/antbot/course-bot/internal/interface/http/handlers"
	bot "github.com/antbot/course-bot/internal/interface/telegram"
	"github.com/antbot/course-bot/internal/interface/telegram/middleware"
	"github.com/antbot/course-bot/pkg/circuitbreaker"
	"github.com/antbot/course-bot/pkg/logger"
	"github.com/antbot/course-bot/pkg/pidfile"
	"github.com/antbot/course-bot/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddSource: cfg.Observability.AddSource,
	})
	slog.SetDefault(log)

	log.Info("starting course bot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"test_mode", cfg.Course.TestMode,
	)
	if cfg.IsProduction() && cfg.Course.TestMode {
		log.Warn("test mode is on in production: lessons arrive minutes apart")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. POSTGRESQL И МИГРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	dbCfg := postgres.DefaultConfig(cfg.Database.URL)
	dbCfg.MaxConns = int32(cfg.Database.MaxConns)
	dbCfg.MinConns = int32(cfg.Database.MinConns)
	dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	conn, err := postgres.NewConnection(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, conn, "up", log); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	store := postgres.NewStore(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. КОНТЕНТ КУРСОВ
	// ─────────────────────────────────────────────────────────────────────────
	catalog, err := content.LoadCatalog(cfg.Course.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load course catalog: %w", err)
	}
	log.Info("course catalog loaded", "courses", len(catalog.IDs()))

	var lessonContent course.ContentRepository = content.NewFilesystem(cfg.Course.ContentDir)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS ИЛИ PID-ФАЙЛ (один экземпляр бота)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache *redis.Cache
		lock  *redis.InstanceLock
	)
	if !cfg.Redis.Disabled {
		cache, err = redis.NewCache(ctx, redisConfig(cfg.Redis))
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer cache.Close()

		// Контент мог поменяться между деплоями.
		if err := cache.DeleteByPattern(ctx, redis.PrefixLesson+"*"); err != nil {
			log.Warn("failed to flush lesson cache", logger.Err(err))
		}
		lessonContent = redis.NewLessonCache(lessonContent, cache, cfg.Course.CacheTTL, log)

		lock = redis.NewInstanceLock(cache, "bot:"+cfg.App.Name, cfg.Redis.LockTTL, log)
		if err := lock.Acquire(ctx); err != nil {
			return fmt.Errorf("another bot instance is running: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release instance lock", logger.Err(err))
			}
		}()
	} else {
		pid, err := pidfile.Acquire(cfg.App.PIDFile)
		if err != nil {
			return fmt.Errorf("another bot instance is running: %w", err)
		}
		defer func() {
			if err := pid.Release(); err != nil {
				log.Warn("failed to remove pid file", logger.Err(err))
			}
		}()
		log.Info("redis disabled, using pid file", "path", pid.Path())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. TELEGRAM И ДОСТАВКА СООБЩЕНИЙ
	// ─────────────────────────────────────────────────────────────────────────
	clientCfg := telegram.DefaultClientConfig(cfg.Telegram.Token)
	clientCfg.BaseURL = cfg.Telegram.APIURL
	clientCfg.RatePerSecond = cfg.Telegram.RateLimit
	clientCfg.Debug = cfg.App.Debug
	clientCfg.Logger = log
	client := telegram.NewClient(clientCfg)

	gateway := telegram.NewGateway(client, log)
	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		Gateway:     gateway,
		MaxAttempts: cfg.Notification.MaxAttempts,
		RetryDelay:  cfg.Notification.RetryDelay,
		Logger:      log,
	})
	defer dispatcher.Close()

	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer bus.Close()

	notifications := eventhandler.NewNotificationHandlers(
		dispatcher,
		catalog,
		store.Enrollments(),
		eventhandler.Admins{IDs: cfg.Telegram.AdminIDs, GroupID: cfg.Telegram.AdminGroupID},
		cfg.Features,
		timeutil.RealClock{},
		log,
	)
	if err := notifications.Register(bus); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.RealClock{}

	lessonCfg := lesson.DefaultConfig()
	lessonCfg.Policy = cfg.DelayPolicy()
	lessonCfg.BatchSize = cfg.Scheduler.BatchSize
	// Строка без итога считается зависшей только после всех попыток отправки.
	if budget := time.Duration(cfg.Notification.MaxAttempts)*cfg.Notification.RetryDelay + time.Minute; budget > lessonCfg.StaleAfter {
		lessonCfg.StaleAfter = budget
	}
	lessons := lesson.NewService(store, lessonContent, dispatcher, bus, clock, log, lessonCfg)

	deps := bot.BotDependencies{
		Activate:  command.NewActivateCourseHandler(store, catalog, lessonContent, lessons, bus, clock, log),
		Submit:    command.NewSubmitHomeworkHandler(store, bus, clock, log),
		Review:    command.NewReviewHomeworkHandler(store, lessonContent, lessons, bus, clock, log),
		Redeliver: command.NewRedeliverLessonHandler(lessons, log),
		Progress:  query.NewGetProgressHandler(store, catalog),
		Pending:   query.NewListPendingHomeworkHandler(store, catalog),
		Features:  cfg.Features,
		Clock:     clock,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Timezone:   timeutil.MoscowTZ,
		Clock:      clock,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})
	if err := registerJobs(sched, lessons, cfg, log); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. БОТ И HTTP
	// ─────────────────────────────────────────────────────────────────────────
	botCfg := bot.DefaultBotConfig()
	botCfg.PollingTimeout = cfg.Telegram.PollingTimeout
	botCfg.Debug = cfg.App.Debug
	botCfg.Logger = log
	botCfg.AdminIDs = cfg.Telegram.AdminIDs
	botCfg.GracefulShutdownTimeout = cfg.App.ShutdownTimeout

	rateCfg := middleware.DefaultRateLimitConfig()
	for _, id := range cfg.Telegram.AdminIDs {
		rateCfg.WhitelistedUsers[id] = true
	}
	botCfg.RateLimit = &rateCfg

	tgBot, err := bot.NewBot(botCfg, client, deps)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("postgres", handlers.NewPingCheck(store))
	if cache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	}
	health.AddOptionalCheck("telegram", func(context.Context) error {
		if gateway.Breaker().State() == circuitbreaker.StateOpen {
			return circuitbreaker.ErrOpen
		}
		return nil
	})

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Addr = cfg.HTTP.Addr
	httpCfg.AdminToken = cfg.HTTP.AdminToken
	httpCfg.Version = cfg.App.Version
	server := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Health: health,
		Jobs:   sched,
		Stats:  func() any { return tgBot.Stats() },
		Logger: log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return tgBot.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	if cfg.Scheduler.Enabled {
		g.Go(func() error { return sched.Run(gctx) })
	}
	if lock != nil {
		g.Go(func() error { return lock.Hold(gctx) })
	}

	log.Info("course bot is running", "http_addr", cfg.HTTP.Addr, "scheduler", cfg.Scheduler.Enabled)

	err = g.Wait()
	bus.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bot stopped with error", logger.Err(err))
		return err
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func registerJobs(sched *scheduler.Scheduler, lessons *lesson.Service, cfg *config.Config, log *slog.Logger) error {
	deliverCfg := jobs.DefaultDeliverLessonsConfig()
	deliverCfg.Interval = cfg.Scheduler.DeliveryInterval
	deliver := jobs.NewDeliverLessonsJob(lessons, log, deliverCfg)
	if err := sched.Register(deliver, scheduler.NewIntervalSchedule(deliverCfg.Interval).Immediately()); err != nil {
		return fmt.Errorf("register %s: %w", deliver.Name(), err)
	}

	reconcileCfg := jobs.DefaultReconcileProgressConfig()
	reconcileCfg.Interval = cfg.Scheduler.ReconcileInterval
	reconcile := jobs.NewReconcileProgressJob(lessons, log, reconcileCfg)
	if err := sched.Register(reconcile, scheduler.NewIntervalSchedule(reconcileCfg.Interval).Immediately()); err != nil {
		return fmt.Errorf("register %s: %w", reconcile.Name(), err)
	}

	cleanupCfg := jobs.DefaultCleanupDeliveriesConfig()
	cleanupCfg.Cron = cfg.Scheduler.CleanupCron
	cleanupCfg.Retention = cfg.Scheduler.Retention
	cron, err := scheduler.ParseCron(cleanupCfg.Cron, timeutil.MoscowTZ)
	if err != nil {
		return fmt.Errorf("cleanup schedule: %w", err)
	}
	cleanup := jobs.NewCleanupDeliveriesJob(lessons, log, cleanupCfg)
	if err := sched.Register(cleanup, cron); err != nil {
		return fmt.Errorf("register %s: %w", cleanup.Name(), err)
	}
	return nil
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}
