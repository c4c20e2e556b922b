package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBDSN      string `envconfig:"DB_DSN"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"castbox.db"`

	DBPoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"1"`
	DBPoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	DBPoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// scheduling
	Timezone        string        `envconfig:"TIMEZONE" default:"UTC"`
	MissedFireGrace time.Duration `envconfig:"MISSED_FIRE_GRACE" default:"5m"`
	ActionCacheTTL  time.Duration `envconfig:"ACTION_CACHE_TTL" default:"30s"`

	// outbound sends
	SendTimeout     time.Duration `envconfig:"SEND_TIMEOUT" default:"15s"`
	SendMaxAttempts int           `envconfig:"SEND_MAX_ATTEMPTS" default:"3"`
	SendConcurrency int           `envconfig:"SEND_CONCURRENCY" default:"16"`
	ChannelRPS      float64       `envconfig:"CHANNEL_RPS" default:"5"`
	ChannelBurst    int           `envconfig:"CHANNEL_BURST" default:"10"`

	// uploads
	MediaDir    string `envconfig:"MEDIA_DIR" default:"media"`
	MaxUploadMB int64  `envconfig:"MAX_UPLOAD_MB" default:"16"`

	// Twilio (WhatsApp)
	TwilioAccountSID   string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppFrom string `envconfig:"TWILIO_WHATSAPP_FROM"`
	TwilioBaseURL      string `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`

	// Telegram
	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramPollTimeout int    `envconfig:"TELEGRAM_POLL_TIMEOUT" default:"30"`

	// SMTP
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`
	SMTPTLS      string `envconfig:"SMTP_TLS" default:"starttls"`

	// AWS / SQS inbound events (optional)
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	InboundQueueURL    string `envconfig:"INBOUND_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	InboundConcurrency int    `envconfig:"INBOUND_CONCURRENCY" default:"4"`
}

// Location resolves Timezone, falling back to UTC.
func (c APIConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type WebhookConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Webhook signature verification
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`
	PublicWebhookURL string `envconfig:"PUBLIC_WEBHOOK_URL" required:"true"` // must match EXACT URL configured in Twilio

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	InboundQueueURL    string `envconfig:"INBOUND_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if cfg.DBDriver == "postgres" && cfg.DBDSN == "" {
		panic("config: DB_DSN is required when DB_DRIVER=postgres")
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
