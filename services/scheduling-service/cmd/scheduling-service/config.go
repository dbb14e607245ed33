package main

import (
	"errors"
	"time"

	"github.com/md-rashed-zaman/agendamento/libs/config"
	"github.com/md-rashed-zaman/agendamento/libs/kafkax"
)

type Config struct {
	Service  string
	LogLevel string
	Port     string
	GRPCPort string

	DatabaseURL string
	DBMaxConns  int
	DBTimeout   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AvailabilityTTL time.Duration
	CalendarTTL     time.Duration
	CacheTimeout    time.Duration

	KafkaBrokers []string
	KafkaGroupID string

	CRMURL         string
	ServicesURL    string
	UsersURL       string
	RefTimeout     time.Duration
	RequestTimeout time.Duration
	BodyLimitBytes int64

	RateLimitPerMinute int
	RateLimitFailOpen  bool

	CORSOrigins []string

	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioWhatsAppFrom string
	TwilioSMSFrom      string
	SMSWebhookURL      string
	SMSWebhookToken    string
	SendGridAPIKey     string
	EmailFrom          string
	EmailFromName      string
	SMTPHost           string
	SMTPPort           string
	PublicURL          string
	MetaAppSecret      string
	MetaVerifyToken    string

	NotifyMaxTries    int
	DedupeWindow      time.Duration
	ReminderSchedule  string
	ReminderInterval  time.Duration
	OutboxPollEvery   time.Duration
	OutboxMaxAttempts int
	HealthWatchPeriod time.Duration
}

func loadConfig() (Config, error) {
	if err := config.LoadDotenv(); err != nil {
		return Config{}, err
	}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	intVar := func(key string, fallback int) int {
		n, err := config.Int(key, fallback)
		collect(err)
		return n
	}
	durVar := func(key string, fallback time.Duration) time.Duration {
		d, err := config.Duration(key, fallback)
		collect(err)
		return d
	}
	boolVar := func(key string, fallback bool) bool {
		b, err := config.Bool(key, fallback)
		collect(err)
		return b
	}

	cfg := Config{
		Service:  config.String("SERVICE_NAME", "scheduling-service"),
		LogLevel: config.String("LOG_LEVEL", "info"),

		DBMaxConns: intVar("DB_MAX_CONNS", 10),
		DBTimeout:  durVar("DB_TIMEOUT", 5*time.Second),

		RedisAddr:     config.String("REDIS_ADDR", ""),
		RedisPassword: config.String("REDIS_PASSWORD", ""),
		RedisDB:       intVar("REDIS_DB", 0),

		AvailabilityTTL: durVar("CACHE_AVAILABILITY_TTL", 30*time.Minute),
		CalendarTTL:     durVar("CACHE_CALENDAR_TTL", 5*time.Minute),
		CacheTimeout:    durVar("CACHE_TIMEOUT", 200*time.Millisecond),

		KafkaBrokers: kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")),
		KafkaGroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),

		CRMURL:         config.String("CRM_URL", ""),
		ServicesURL:    config.String("SERVICES_URL", ""),
		UsersURL:       config.String("USERS_URL", ""),
		RefTimeout:     durVar("REFERENCE_TIMEOUT", 3*time.Second),
		RequestTimeout: durVar("REQUEST_TIMEOUT", 15*time.Second),
		BodyLimitBytes: int64(intVar("BODY_LIMIT_BYTES", 1<<20)),

		RateLimitPerMinute: intVar("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitFailOpen:  boolVar("RATE_LIMIT_FAIL_OPEN", true),

		CORSOrigins: config.List("CORS_ALLOWED_ORIGINS", nil),

		TwilioAccountSID:   config.String("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    config.String("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppFrom: config.String("TWILIO_WHATSAPP_FROM", ""),
		TwilioSMSFrom:      config.String("TWILIO_SMS_FROM", ""),
		SMSWebhookURL:      config.String("SMS_WEBHOOK_URL", ""),
		SMSWebhookToken:    config.String("SMS_WEBHOOK_TOKEN", ""),
		SendGridAPIKey:     config.String("SENDGRID_API_KEY", ""),
		EmailFrom:          config.String("EMAIL_FROM", "no-reply@agendamento.local"),
		EmailFromName:      config.String("EMAIL_FROM_NAME", "Agendamento"),
		SMTPHost:           config.String("SMTP_HOST", ""),
		SMTPPort:           config.String("SMTP_PORT", "1025"),
		PublicURL:          config.String("PUBLIC_URL", ""),
		MetaAppSecret:      config.String("META_APP_SECRET", ""),
		MetaVerifyToken:    config.String("META_VERIFY_TOKEN", ""),

		NotifyMaxTries:    intVar("NOTIFY_MAX_TRIES", 4),
		DedupeWindow:      durVar("NOTIFY_DEDUPE_WINDOW", time.Hour),
		ReminderSchedule:  config.String("REMINDER_SCHEDULE", "@every 5m"),
		ReminderInterval:  durVar("REMINDER_INTERVAL", 5*time.Minute),
		OutboxPollEvery:   durVar("OUTBOX_POLL_EVERY", time.Second),
		OutboxMaxAttempts: intVar("OUTBOX_MAX_ATTEMPTS", 10),
		HealthWatchPeriod: durVar("HEALTH_WATCH_PERIOD", 10*time.Second),
	}

	var err error
	cfg.Port, err = config.Port("PORT", "8080")
	collect(err)
	cfg.GRPCPort, err = config.Port("GRPC_PORT", "9090")
	collect(err)
	cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL")
	collect(err)

	if cfg.NotifyMaxTries < 1 {
		errs = append(errs, errors.New("NOTIFY_MAX_TRIES must be at least 1"))
	}
	return cfg, errors.Join(errs...)
}
