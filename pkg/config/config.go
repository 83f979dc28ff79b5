package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Square       SquareConfig
	Outbox       OutboxConfig
	Trials       TrialsConfig
	Retention    RetentionConfig
	Usage        UsageConfig
	Catalog      CatalogConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Metrics      MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Usage.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ENT_APP_ENV" required:"true"`
	Port         string `envconfig:"ENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ENT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ENT_DB_DSN"`
	Driver string `envconfig:"ENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ENT_DB_HOST"`
	LegacyPort     int    `envconfig:"ENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ENT_DB_USER"`
	LegacyPassword string `envconfig:"ENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"ENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"ENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ENT_REDIS_ADDR"`
	Password     string        `envconfig:"ENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"ENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies caller identity tokens minted by the external identity system.
type JWTConfig struct {
	Secret            string `envconfig:"ENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ENT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"ENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"ENT_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ENT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"ENT_PUBSUB_NOTIFICATION_TOPIC" default:"ent-notification-decisions"`
	DomainTopic       string `envconfig:"ENT_PUBSUB_DOMAIN_TOPIC" default:"ent-domain-events"`
	UsageTopic        string `envconfig:"ENT_PUBSUB_USAGE_TOPIC" default:"ent-usage-events"`
	UsageSubscription string `envconfig:"ENT_PUBSUB_USAGE_SUBSCRIPTION" default:"ent-usage-events-worker"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"ENT_BIGQUERY_DATASET" default:"entitlements"`
	UsageEventsTable string `envconfig:"ENT_BIGQUERY_USAGE_TABLE" default:"usage_events"`
	ChurnScoresTable string `envconfig:"ENT_BIGQUERY_CHURN_TABLE" default:"churn_scores"`
	ExportChurn      bool   `envconfig:"ENT_BIGQUERY_EXPORT_CHURN" default:"false"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"ENT_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"ENT_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookURL    string `envconfig:"ENT_SQUARE_WEBHOOK_URL"`
	Env           string `envconfig:"ENT_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type OutboxConfig struct {
	BatchSize        int `envconfig:"ENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS   int `envconfig:"ENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts      int `envconfig:"ENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays    int `envconfig:"ENT_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays int `envconfig:"ENT_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
	PruneBatch       int `envconfig:"ENT_OUTBOX_PRUNE_BATCH" default:"1000"`
}

type TrialsConfig struct {
	RequiredFlags []string `envconfig:"ENT_TRIAL_REQUIRED_FLAGS" default:"email_verified"`
	SweepBatch    int      `envconfig:"ENT_TRIAL_SWEEP_BATCH" default:"500"`
}

type RetentionConfig struct {
	InterventionCooldown time.Duration `envconfig:"ENT_RETENTION_INTERVENTION_COOLDOWN" default:"72h"`
	ChurnSweepBatch      int           `envconfig:"ENT_RETENTION_CHURN_SWEEP_BATCH" default:"500"`
}

type UsageConfig struct {
	HistoryBackend string `envconfig:"ENT_USAGE_HISTORY_BACKEND" default:"postgres"`
}

func (u UsageConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(u.HistoryBackend)) {
	case UsageBackendPostgres, UsageBackendBigQuery:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvUsageHistoryBackend, UsageBackendPostgres, UsageBackendBigQuery)
	}
}

type CatalogConfig struct {
	Path string `envconfig:"ENT_PLATFORM_CATALOG_PATH"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"ENT_CRON_INTERVAL" default:"1h"`
	ReconcileLookahead time.Duration `envconfig:"ENT_CRON_RECONCILE_LOOKAHEAD" default:"48h"`
}

type RateLimitConfig struct {
	AccessWindow time.Duration `envconfig:"ENT_RATE_LIMIT_ACCESS_WINDOW" default:"1m"`
	AccessLimit  int           `envconfig:"ENT_RATE_LIMIT_ACCESS_LIMIT" default:"600"`
}

// MetricsConfig is the worker-side /metrics listener. The API serves
// /metrics on its own router instead.
type MetricsConfig struct {
	Addr string `envconfig:"ENT_METRICS_ADDR" default:":9464"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"ENT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// ensureDSN assembles a postgres:// DSN from the discrete ENT_DB_* variables
// when ENT_DB_DSN is not set.
func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	var missing []string
	for env, val := range map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	} {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%s is unset and so are %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	user := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		user = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   user,
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacySSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = dsn.String()
	return nil
}
