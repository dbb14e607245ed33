package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/db"
	"github.com/md-rashed-zaman/agendamento/libs/grpcx"
	"github.com/md-rashed-zaman/agendamento/libs/httpx"
	"github.com/md-rashed-zaman/agendamento/libs/kafkax"
	otelx "github.com/md-rashed-zaman/agendamento/libs/otel"
	"github.com/md-rashed-zaman/agendamento/libs/runtime"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/appointments"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/cache"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/events"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/health"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/refcheck"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/reminders"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/agendamento/services/scheduling-service/internal/waitlist"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const webhookPath = "/webhook/whatsapp"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{
		MaxConns:         int32(cfg.DBMaxConns),
		StatementTimeout: cfg.DBTimeout,
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	// rdb stays a nil interface without REDIS_ADDR; cache and dedupe then run degraded.
	var rdb redis.UniversalClient
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()
		rdb = redisClient
	} else {
		logger.Warn("REDIS_ADDR not set; availability cache and notification dedupe use the database only")
	}

	m := metrics.New(nil)
	cacheLayer := cache.New(rdb, cache.Options{
		AvailabilityTTL: cfg.AvailabilityTTL,
		CalendarTTL:     cfg.CalendarTTL,
		Timeout:         cfg.CacheTimeout,
	}, logger, m)

	apptRepo := storage.NewAppointmentRepository(pool)
	hoursRepo := storage.NewHoursRepository(pool)
	configRepo := storage.NewConfigRepository(pool)
	templateRepo := storage.NewTemplateRepository(pool)
	notifRepo := storage.NewNotificationRepository(pool)
	outboxRepo := storage.NewOutboxRepository(pool)
	inboxRepo := storage.NewInboxRepository(pool)
	waitlistRepo := storage.NewWaitlistRepository(pool)

	refs := refcheck.New(refcheck.Config{
		CRMURL:      cfg.CRMURL,
		ServicesURL: cfg.ServicesURL,
		UsersURL:    cfg.UsersURL,
		Timeout:     cfg.RefTimeout,
	})

	resolver := hours.NewResolver(hoursRepo, configRepo)
	calculator := availability.NewCalculator(resolver, apptRepo, cacheLayer, logger)
	calendarSvc := calendar.NewService(apptRepo, hoursRepo, configRepo, cacheLayer)
	apptSvc := appointments.NewService(apptRepo, resolver, refs, refs, cacheLayer, m, logger)
	waitlistSvc := waitlist.NewService(waitlistRepo, apptSvc, refs, logger)

	callbackURL := ""
	if cfg.PublicURL != "" {
		callbackURL = strings.TrimRight(cfg.PublicURL, "/") + webhookPath
	}
	dispatcher := notify.NewDispatcher(notify.Deps{
		Appointments: apptRepo,
		Configs:      configRepo,
		Templates:    templateRepo,
		Directory:    refs,
		Logs:         notifRepo,
		Claims:       notify.NewDeduper(rdb, notifRepo, cfg.DedupeWindow, logger),
		Providers:    buildProviders(cfg, callbackURL, logger),
		Observer:     m,
		Logger:       logger,
	}, notify.RetryPolicy{MaxTries: uint(cfg.NotifyMaxTries)})

	bus := events.NewBus(logger)
	bus.Subscribe("notifications", dispatcher.Subscriber(), events.AppointmentCreated, events.AppointmentCancelled)
	bus.Subscribe("cache", events.InvalidateOnChange(cacheLayer, logger))

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			logger.Info("background worker stopped", "worker", name)
		}()
	}

	var sink events.Sink = bus
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers)
		defer func() { _ = kafkaSink.Close() }()
		sink = kafkaSink
		consumer := events.NewConsumer(events.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		}, inboxRepo, bus.Publish, logger)
		background("kafka-consumer", consumer.Run)
		logger.Info("events relayed through kafka", "brokers", cfg.KafkaBrokers)
	}
	relay := events.NewRelay(outboxRepo, sink, logger, m, events.RelayConfig{
		PollEvery:   cfg.OutboxPollEvery,
		MaxAttempts: cfg.OutboxMaxAttempts,
	})
	background("outbox-relay", relay.Run)

	webhook := notify.NewWebhookHandler(dispatcher, notify.WebhookConfig{
		TwilioAuthToken: cfg.TwilioAuthToken,
		PublicURL:       callbackURL,
		MetaAppSecret:   cfg.MetaAppSecret,
		MetaVerifyToken: cfg.MetaVerifyToken,
	}, m, logger)
	background("webhook-workers", webhook.Run)

	sweeper := reminders.NewSweeper(configRepo, apptRepo, dispatcher, cfg.ReminderInterval, logger)
	background("reminders", func(ctx context.Context) {
		if err := sweeper.Run(ctx, cfg.ReminderSchedule); err != nil {
			logger.Error("reminder schedule invalid", "schedule", cfg.ReminderSchedule, "err", err)
		}
	})

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: cacheLayer.Ping})
	}
	if len(cfg.KafkaBrokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}
	checker := health.NewChecker(2*time.Second, checks...)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "addr", ":"+cfg.GRPCPort, "err", err)
		os.Exit(1)
	}
	grpcSrv := grpcx.NewServer()
	healthSrv := health.Register(grpcSrv)
	background("grpc-health", func(ctx context.Context) {
		checker.Watch(ctx, healthSrv, cfg.HealthWatchPeriod, logger)
	})
	background("grpc-server", func(ctx context.Context) {
		grpcx.Serve(ctx, logger, grpcSrv, lis)
	})

	var availabilityLimiter, webhookLimiter httpx.Limiter
	if redisClient != nil {
		availabilityLimiter = httpx.NewRedisLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute, "rl:availability")
		webhookLimiter = httpx.NewRedisLimiter(redisClient, cfg.RateLimitPerMinute, time.Minute, "rl:webhook")
	} else {
		availabilityLimiter = httpx.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute)
		webhookLimiter = httpx.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	router := handlers.NewRouter(handlers.Deps{
		Appointments: handlers.NewAppointmentHandler(apptSvc, logger),
		Availability: handlers.NewAvailabilityHandler(calculator, refs, calendarSvc, logger),
		Schedule:     handlers.NewScheduleHandler(hoursRepo, cacheLayer, refs, logger),
		Settings:     handlers.NewSettingsHandler(configRepo, templateRepo, cacheLayer, logger),
		Waitlist:     handlers.NewWaitlistHandler(waitlistSvc, logger),
		Webhook:      webhook,

		Metrics:    m.Handler(),
		Instrument: m.Instrument,
		Checks:     checker.Checks(),

		AvailabilityLimiter: availabilityLimiter,
		WebhookLimiter:      webhookLimiter,
		LimiterFailOpen:     cfg.RateLimitFailOpen,

		CORS: httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", httpx.RequestIDHeader, handlers.HeaderCompanyID, handlers.HeaderUserID, handlers.HeaderIdempotencyKey},
			ExposedHeaders: []string{httpx.RequestIDHeader, "Retry-After", "Idempotent-Replayed"},
			MaxAge:         10 * time.Minute,
		},
		BodyLimitBytes: cfg.BodyLimitBytes,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(router, "scheduling"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	wg.Wait()
	logger.Info("scheduling service stopped")
}

// buildProviders picks one provider per channel: Twilio when configured, then
// the generic SMS webhook or SMTP, then a no-op sender so routing still works.
func buildProviders(cfg Config, callbackURL string, logger *slog.Logger) map[model.Channel]notify.Provider {
	providers := map[model.Channel]notify.Provider{}
	twilioReady := cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != ""

	switch {
	case twilioReady && cfg.TwilioWhatsAppFrom != "":
		providers[model.ChannelWhatsApp] = notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID:     cfg.TwilioAccountSID,
			AuthToken:      cfg.TwilioAuthToken,
			From:           cfg.TwilioWhatsAppFrom,
			StatusCallback: callbackURL,
		}, model.ChannelWhatsApp)
	default:
		providers[model.ChannelWhatsApp] = notify.NewNoopSender("noop-whatsapp")
	}

	switch {
	case twilioReady && cfg.TwilioSMSFrom != "":
		providers[model.ChannelSMS] = notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID:     cfg.TwilioAccountSID,
			AuthToken:      cfg.TwilioAuthToken,
			From:           cfg.TwilioSMSFrom,
			StatusCallback: callbackURL,
		}, model.ChannelSMS)
	case cfg.SMSWebhookURL != "":
		providers[model.ChannelSMS] = notify.NewHTTPSender(cfg.SMSWebhookURL, cfg.SMSWebhookToken, 10*time.Second)
	default:
		providers[model.ChannelSMS] = notify.NewNoopSender("noop-sms")
	}

	switch {
	case cfg.SendGridAPIKey != "":
		providers[model.ChannelEmail] = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		})
	case cfg.SMTPHost != "":
		providers[model.ChannelEmail] = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.EmailFrom)
	default:
		providers[model.ChannelEmail] = notify.NewNoopSender("noop-email")
	}

	for ch, p := range providers {
		logger.Info("notification provider", "channel", string(ch), "provider", p.Name())
	}
	return providers
}
