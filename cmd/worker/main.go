// Package main is the entry point of the risk analytics worker.
//
// The worker owns the background side of the risk analytics core:
//   - consuming analysis tasks from the Redis Streams queue
//   - the scheduled jobs (daily scan, weekly patterns, plan evaluation,
//     monthly training, enrollment backfill, alert cleanup)
//   - alert notification fan-out (email, in-app, SMS)
//
// It is single-tenant by deployment: one worker instance serves one
// establishment, identified by TENANT_ID.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Idriss091/peproscolaire-sub000/config"
	"github.com/Idriss091/peproscolaire-sub000/internal/alerting"
	"github.com/Idriss091/peproscolaire-sub000/internal/application/analyze"
	"github.com/Idriss091/peproscolaire-sub000/internal/application/effectiveness"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/messaging"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/notification"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/persistence/postgres"
	redisc "github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/persistence/redis"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/queue"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/scheduler"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/scheduler/jobs"
	"github.com/Idriss091/peproscolaire-sub000/internal/ml"
	"github.com/Idriss091/peproscolaire-sub000/internal/pattern"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting risk analytics worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.TenantID(cfg.App.TenantID),
		logger.String("timezone", cfg.App.Timezone))

	tenant := shared.TenantID(cfg.App.TenantID)
	tenantCtx := func(ctx context.Context) context.Context {
		return shared.WithTenant(ctx, tenant)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRESQL
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if cfg.Database.RunMigrations {
		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to Redis...")
	redisCfg := redisc.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	cache, err := redisc.NewCache(redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer cache.Close()
	log.Info("Redis connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewInMemoryEventBus(messaging.DefaultEventBusConfig(), log)
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REPOSITORIES AND SOURCES
	// ─────────────────────────────────────────────────────────────────────────
	profileStore := postgres.NewProfileRepo(dbConn)
	profiles := redisc.NewProfileCache(profileStore, cache, log)
	indicators := postgres.NewIndicatorRepo(dbConn)
	alerts := postgres.NewAlertRepo(dbConn)
	alertConfigs := postgres.NewConfigRepo(dbConn)
	plans := postgres.NewInterventionRepo(dbConn)
	directory := postgres.NewDirectoryAdapter(dbConn)
	enrollment := postgres.NewEnrollmentAdapter(dbConn)
	sources := postgres.PlatformSources(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ANALYSIS PIPELINE
	// ─────────────────────────────────────────────────────────────────────────
	extractor := feature.NewExtractor(sources, log)
	predictor := ml.NewPredictor(cfg.Model.Dir, log)
	engine := alerting.NewEngine(alertConfigs, alerts, directory, bus, log)
	analyzer := analyze.NewService(profiles, indicators, extractor, predictor, engine, bus, log).
		WithWindow(cfg.Analysis.WindowDays).
		WithAutoMonitoring(cfg.Analysis.AutoMonitoring)
	evaluator := effectiveness.NewEvaluator(plans, profiles, extractor, bus, log)
	detectors := pattern.NewRegistry(sources, log)
	detectors.Disable(cfg.Analysis.DisabledDetectors...)
	collector := ml.NewCollector(extractor, enrollment, log)

	// Reload artifacts when another worker publishes a new model version.
	modelSignal := redisc.NewModelSignal(cache, cfg.App.TenantID, log)
	go modelSignal.Watch(ctx, func() error {
		predictor.Reload()
		return nil
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 8. NOTIFICATION FAN-OUT
	// ─────────────────────────────────────────────────────────────────────────
	sinks, err := buildSinks(cfg, cache, log)
	if err != nil {
		return fmt.Errorf("failed to build notification sinks: %w", err)
	}
	dispatcher := notification.NewDispatcher(alerts, alertConfigs, directory, sinks, log)
	if err := dispatcher.Subscribe(bus); err != nil {
		return fmt.Errorf("failed to subscribe dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. TASK QUEUE
	// ─────────────────────────────────────────────────────────────────────────
	tasks := queue.NewRedisQueue(cache, queue.RedisQueueConfig{
		Consumer:    cfg.Analysis.QueueConsumer,
		Concurrency: cfg.Analysis.QueueConcurrency,
		MaxAttempts: cfg.Analysis.QueueMaxAttempts,
	}, log)

	trainJob := jobs.NewTrainModelJob(collector, predictor, modelSignal, bus, jobs.TrainModelConfig{
		ModelDir:   cfg.Model.Dir,
		MinSamples: cfg.Model.MinSamples,
		Seed:       cfg.Model.Seed,
	}, log)
	evaluateJob := jobs.NewEvaluatePlansJob(plans, evaluator, log)
	backfillJob := jobs.NewBackfillProfilesJob(enrollment, profiles, tasks, log)

	jobs.NewHandlers(analyzer, directory, evaluateJob, trainJob, backfillJob).Register(tasks)
	if err := tasks.Start(tenantCtx(ctx)); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	defer func() {
		log.Info("stopping queue consumer...")
		tasks.Stop()
	}()
	log.Info("queue consumer started",
		logger.String("consumer", cfg.Analysis.QueueConsumer),
		logger.Int("concurrency", cfg.Analysis.QueueConcurrency))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Config{
			Logger:        log,
			Timezone:      cfg.App.Location,
			BaseContext:   tenantCtx,
			EnableMetrics: true,
		})

		dailyScanJob := jobs.NewDailyScanJob(profiles, tasks, log)
		patternsJob := jobs.NewWeeklyPatternsJob(profiles, detectors, engine, bus, log)
		cleanupJob := jobs.NewCleanupAlertsJob(alerts, log)

		for _, reg := range []struct {
			job      scheduler.Job
			schedule scheduler.Schedule
		}{
			{dailyScanJob, scheduler.DailyAt(cfg.Scheduler.DailyScanHour, cfg.Scheduler.DailyScanMinute)},
			{patternsJob, scheduler.WeeklyAt(weekday(cfg.Scheduler.PatternsWeekday), cfg.Scheduler.PatternsHour, 0)},
			{evaluateJob, scheduler.DailyAt(cfg.Scheduler.EvaluatePlansHour, 0)},
			{trainJob, scheduler.MonthlyAt(cfg.Scheduler.TrainDay, cfg.Scheduler.TrainHour, 0)},
			{backfillJob, scheduler.NewIntervalSchedule(cfg.Scheduler.BackfillInterval)},
			{cleanupJob, scheduler.MonthlyAt(cfg.Scheduler.CleanupDay, 4, 0)},
		} {
			if err := sched.Register(reg.job, reg.schedule, scheduler.WithTimeout(cfg.Scheduler.JobTimeout)); err != nil {
				return fmt.Errorf("failed to register job %s: %w", reg.job.Name(), err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
		log.Info("scheduler started", logger.Int("jobs", len(sched.ListJobs())))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("risk analytics worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))
	log.Info("starting graceful shutdown...",
		logger.Duration("timeout", cfg.App.ShutdownTimeout))

	// The deferred stops run in reverse registration order: scheduler first,
	// then the queue consumer drains in-flight tasks, then connections close.
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger builds the structured logger from the observability config.
func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.AddCaller = cfg.Observability.AddCaller
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts)
}

// buildSinks assembles the enabled notification channels.
func buildSinks(cfg *config.Config, cache *redisc.Cache, log *logger.Logger) ([]notification.Sink, error) {
	var sinks []notification.Sink

	if cfg.Notification.EmailEnabled {
		if cfg.Notification.SendGridKey != "" {
			email, err := notification.NewSendGridSink(
				cfg.Notification.SendGridKey,
				cfg.Notification.FromName,
				cfg.Notification.FromEmail)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, email)
		} else {
			// Development without a SendGrid key logs instead of sending.
			sinks = append(sinks, notification.NewLogSink(alert.ChannelEmail, log))
		}
	}

	if cfg.Notification.SMSEnabled {
		// No SMS gateway is contracted yet; deliveries go to the log.
		sinks = append(sinks, notification.NewLogSink(alert.ChannelSMS, log))
	}

	if cfg.Notification.InAppEnabled {
		sinks = append(sinks, notification.NewInAppSink(cache, log))
	}

	return sinks, nil
}

// weekday clamps a 0-6 config value onto time.Weekday (0=Sunday).
func weekday(d int) time.Weekday {
	if d < 0 || d > 6 {
		return time.Sunday
	}
	return time.Weekday(d)
}
