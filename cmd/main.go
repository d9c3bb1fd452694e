package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callwatch/internal/adapters/clickhouse"
	"callwatch/internal/adapters/config"
	"callwatch/internal/adapters/errors/noop"
	"callwatch/internal/adapters/errors/sentry"
	"callwatch/internal/adapters/kafka"
	"callwatch/internal/adapters/postgres"
	"callwatch/internal/adapters/pricing"
	"callwatch/internal/adapters/redis"
	"callwatch/internal/api"
	"callwatch/internal/api/health"
	"callwatch/internal/api/ops"
	"callwatch/internal/api/relay"
	telegramapi "callwatch/internal/api/telegram"
	"callwatch/internal/consumers"
	domainsignal "callwatch/internal/domain/signal"
	"callwatch/internal/metrics"
	chrepo "callwatch/internal/repository/clickhouse"
	pgrepo "callwatch/internal/repository/postgres"
	redisrepo "callwatch/internal/repository/redis"
	"callwatch/internal/services/commands"
	"callwatch/internal/services/detector"
	healthsvc "callwatch/internal/services/health"
	"callwatch/internal/services/ingest"
	"callwatch/internal/services/normalizer"
	"callwatch/internal/services/pipeline"
	"callwatch/internal/services/syncer"
	"callwatch/internal/services/topics"
	"callwatch/internal/workers"
	"callwatch/internal/workers/ingestion"
	"callwatch/migrations"
	"callwatch/pkg/errors"
	"callwatch/pkg/logger"
	"callwatch/pkg/telegram/adapters/tgbotapi"
)

const shutdownTimeout = 30 * time.Second

// Database groups storage clients
type Database struct {
	Postgres   *postgres.Client
	Redis      *redis.Client
	ClickHouse *clickhouse.Client // nil when disabled
}

// Repositories groups data access
type Repositories struct {
	Messages   *pgrepo.MessageRepository
	Topics     *pgrepo.TopicRepository
	Signals    *pgrepo.SignalRepository
	Detections *pgrepo.DetectionRepository
	SyncJobs   *pgrepo.SyncJobRepository
	TopicCache *redisrepo.TopicCache
	Events     *chrepo.DetectionEventRepository // nil when ClickHouse is disabled
}

// Services groups the pipeline and its operators
type Services struct {
	Pipeline     *pipeline.Pipeline
	Detector     *detector.Detector
	Resolver     *topics.Resolver
	Monitor      *healthsvc.Monitor
	Orchestrator *syncer.Orchestrator // nil in webhook mode
}

// Messaging groups Kafka clients and the announcement path
type Messaging struct {
	Producer  *kafka.Producer // nil when Kafka is disabled
	Notifier  domainsignal.Notifier
	Announcer *consumers.Announcer
	Consumer  *consumers.NotificationConsumer // nil unless Kafka and announcements are enabled
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	log.Infof("Starting %s %s in %s mode (telegram: %s)", cfg.App.Name, cfg.App.Version, cfg.App.Env, cfg.Telegram.Mode)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := initDatabases(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize databases: %v", err)
	}

	repos := initRepositories(cfg, db)

	bot, err := tgbotapi.NewBot(tgbotapi.Config{
		Token:         cfg.Telegram.BotToken,
		PollTimeout:   cfg.Telegram.PollTimeout,
		RateLimitRate: cfg.Telegram.SendPerSecond,
	}, log)
	if err != nil {
		log.Fatalf("Failed to create Telegram bot: %v", err)
	}
	log.Infow("Telegram bot ready", "username", bot.Username())

	messaging := initMessaging(cfg, repos, bot, log)
	services := initServices(cfg, db, repos, messaging, bot, log)

	metrics.RegisterPipelineCollector(metrics.NewPipelineCollector(log, db.Postgres.DB(), db.Redis.Client()))

	if err := configureTelegramMode(cfg, bot, log); err != nil {
		log.Fatalf("Failed to configure Telegram delivery mode: %v", err)
	}

	scheduler := initWorkers(cfg, services, log)
	server := initServer(cfg, db, services, log)

	// Start background components
	if repos.Events != nil {
		repos.Events.Start(ctx)
	}
	if messaging.Consumer != nil {
		go func() {
			if err := messaging.Consumer.Start(ctx); err != nil {
				log.Errorw("Notification consumer stopped", "error", err)
			}
		}()
	}
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}
	go func() {
		if err := server.Start(); err != nil {
			log.Errorw("HTTP server stopped", "error", err)
			cancel()
		}
	}()

	log.Info("System initialized successfully")

	waitForShutdown(ctx, cancel, log)
	shutdown(server, scheduler, services, repos, messaging, db, errorTracker, log)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnw("Failed to initialize Sentry", "error", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initDatabases connects to PostgreSQL, Redis and optionally ClickHouse, then applies migrations
func initDatabases(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Database, error) {
	log.Info("Initializing databases...")

	pg, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx, migrations.Postgres()); err != nil {
		return nil, err
	}

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	db := &Database{Postgres: pg, Redis: rdb}

	if cfg.ClickHouse.Enabled {
		ch, err := clickhouse.NewClient(cfg.ClickHouse)
		if err != nil {
			return nil, err
		}
		if err := ch.Migrate(ctx, migrations.ClickHouse()); err != nil {
			return nil, err
		}
		db.ClickHouse = ch
	}

	log.Infow("Databases initialized", "clickhouse", db.ClickHouse != nil)
	return db, nil
}

func initRepositories(cfg *config.Config, db *Database) *Repositories {
	sqlDB := db.Postgres.DB()
	repos := &Repositories{
		Messages:   pgrepo.NewMessageRepository(sqlDB),
		Topics:     pgrepo.NewTopicRepository(sqlDB),
		Signals:    pgrepo.NewSignalRepository(sqlDB),
		Detections: pgrepo.NewDetectionRepository(sqlDB),
		SyncJobs:   pgrepo.NewSyncJobRepository(sqlDB),
		TopicCache: redisrepo.NewTopicCache(db.Redis.Client(), cfg.Redis.TopicTTL),
	}
	if db.ClickHouse != nil {
		repos.Events = chrepo.NewDetectionEventRepository(db.ClickHouse.Conn(), cfg.ClickHouse)
	}
	return repos
}

// initMessaging picks the notifier: Kafka when enabled, otherwise direct announcement
func initMessaging(cfg *config.Config, repos *Repositories, bot *tgbotapi.Bot, log *logger.Logger) *Messaging {
	m := &Messaging{
		Announcer: consumers.NewAnnouncer(repos.Signals, bot, cfg.Telegram.AnnounceChatID, log),
	}

	if !cfg.Kafka.Enabled {
		log.Info("Kafka disabled, signals are announced inline")
		m.Notifier = m.Announcer
		return m
	}

	m.Producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, log)
	m.Notifier = kafka.NewNotifier(m.Producer, log)

	if cfg.Telegram.AnnounceChatID != 0 {
		source := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   kafka.TopicSignalsCreated,
		}, log)
		m.Consumer = consumers.NewNotificationConsumer(source, m.Announcer, log)
	}
	return m
}

func initServices(cfg *config.Config, db *Database, repos *Repositories, messaging *Messaging, bot *tgbotapi.Bot, log *logger.Logger) *Services {
	log.Info("Initializing services...")

	resolver := topics.NewResolver(repos.Topics, repos.Messages, repos.TopicCache, log)

	oracle := pricing.NewOracle(pricing.Config{
		BaseURL:    cfg.Pricing.BaseURL,
		Quote:      cfg.Pricing.Quote,
		Timeout:    cfg.Pricing.Timeout,
		CacheTTL:   cfg.Pricing.CacheTTL,
		RatePerSec: cfg.Pricing.RatePerSec,
	}, db.Redis, log)

	var events detector.EventRecorder
	if repos.Events != nil {
		events = repos.Events
	}
	det := detector.NewDetector(repos.Detections, repos.Signals, messaging.Notifier, events, log)

	interpreter := commands.NewInterpreter(repos.Signals, oracle, messaging.Notifier, cfg.Telegram.SuperCallers, log)

	p := pipeline.New(
		normalizer.New(),
		ingest.NewIngestor(repos.Messages, resolver, log),
		interpreter,
		det,
		bot,
		log,
	)

	monitor := healthsvc.NewMonitor(repos.Messages, repos.Topics, repos.SyncJobs, resolver, healthsvc.Config{
		StaleJobAfter: cfg.Health.StaleJobAfter,
	}, log)

	s := &Services{
		Pipeline: p,
		Detector: det,
		Resolver: resolver,
		Monitor:  monitor,
	}

	if cfg.Telegram.Polling() {
		s.Orchestrator = syncer.NewOrchestrator(
			repos.SyncJobs,
			repos.Messages,
			bot,
			p,
			syncer.NewProcess("", cfg.Sync.BackoffMin),
			syncer.Config{
				BatchSize:          cfg.Sync.BatchSize,
				MaxBatchSize:       cfg.Sync.MaxBatchSize,
				CancelPollInterval: cfg.Sync.CancelPollInterval,
				BackoffMax:         cfg.Sync.BackoffMax,
				CleanupLimit:       cfg.Sync.CleanupLimit,
			},
			log,
		)
	}

	log.Info("Services initialized")
	return s
}

// configureTelegramMode registers the webhook, or removes it so getUpdates works
func configureTelegramMode(cfg *config.Config, bot *tgbotapi.Bot, log *logger.Logger) error {
	if cfg.Telegram.Polling() {
		return bot.DeleteWebhook(false)
	}
	if cfg.Telegram.WebhookURL == "" {
		log.Warn("TELEGRAM_WEBHOOK_URL is not set, assuming the webhook is registered externally")
		return nil
	}
	return bot.SetWebhook(cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret)
}

func initWorkers(cfg *config.Config, services *Services, log *logger.Logger) *workers.Scheduler {
	log.Info("Initializing workers...")

	scheduler := workers.NewScheduler(log)
	if services.Orchestrator != nil {
		scheduler.RegisterWorker(ingestion.NewSyncWorker(
			services.Orchestrator,
			cfg.Sync.BatchSize,
			cfg.Sync.CleanupEnabled,
			cfg.Workers.SyncInterval,
			true,
		))
	}
	scheduler.RegisterWorker(ingestion.NewHealthWorker(
		services.Monitor,
		cfg.Health.AutoRepair,
		cfg.Health.RepairBelowScore,
		cfg.Workers.HealthInterval,
		true,
	))

	log.Infow("Workers initialized", "count", len(scheduler.GetWorkers()))
	return scheduler
}

func initServer(cfg *config.Config, db *Database, services *Services, log *logger.Logger) *api.Server {
	components := []health.Component{
		{Name: "postgres", Ping: db.Postgres.Health},
		{Name: "redis", Ping: db.Redis.Health},
	}
	if db.ClickHouse != nil {
		components = append(components, health.Component{Name: "clickhouse", Ping: db.ClickHouse.Health, Optional: true})
	}
	probes := health.New(log, cfg.App.Name, cfg.App.Version, components...)

	// A nil *Orchestrator must stay a nil interface to disable sync routes.
	var sync ops.Syncer
	if services.Orchestrator != nil {
		sync = services.Orchestrator
	}

	serverCfg := api.ServerConfig{
		Port:        cfg.HTTP.Port,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		OpsToken:    cfg.HTTP.OpsToken,
		Relay:       relay.NewHandler(services.Pipeline, cfg.HTTP.WebhookProcessTimeout, log),
		Ops:         ops.NewHandler(sync, services.Detector, services.Monitor, log).Routes(),
	}
	if !cfg.Telegram.Polling() {
		serverCfg.TelegramWebhook = telegramapi.NewWebhookHandler(
			services.Pipeline,
			cfg.Telegram.WebhookSecret,
			cfg.HTTP.WebhookProcessTimeout,
			log,
		)
	}

	return api.NewServer(serverCfg, probes, log)
}

// waitForShutdown blocks until a signal arrives or ctx is cancelled
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("Shutting down...", "signal", sig.String())
	case <-ctx.Done():
		log.Info("Shutting down after fatal component error...")
	}
	cancel()
}

// shutdown stops components in reverse dependency order
func shutdown(
	server *api.Server,
	scheduler *workers.Scheduler,
	services *Services,
	repos *Repositories,
	messaging *Messaging,
	db *Database,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("HTTP server shutdown failed", "error", err)
	}

	if err := scheduler.Stop(); err != nil {
		log.Errorw("Worker shutdown failed", "error", err)
	}

	// A run interrupted by shutdown is already recorded as cancelled; a job
	// still marked running belongs to a stuck run.
	if services.Orchestrator != nil {
		if report, err := services.Orchestrator.Status(ctx, 1); err == nil && report.Running != nil {
			log.Warnw("Sync job still running at shutdown", "job_id", report.Running.ID)
		}
	}

	if repos.Events != nil {
		if err := repos.Events.Stop(ctx); err != nil {
			log.Errorw("Failed to flush detection events", "error", err)
		}
	}

	if messaging.Producer != nil {
		if err := messaging.Producer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		}
	}

	if db.ClickHouse != nil {
		_ = db.ClickHouse.Close()
	}
	if err := db.Redis.Close(); err != nil {
		log.Warnw("Redis close failed", "error", err)
	}
	if err := db.Postgres.Close(); err != nil {
		log.Warnw("Postgres close failed", "error", err)
	}

	if err := errorTracker.Flush(ctx); err != nil {
		log.Warnw("Failed to flush error tracker", "error", err)
	}

	log.Info("Shutdown complete")
}
