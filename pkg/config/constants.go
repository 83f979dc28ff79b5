package config

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "ENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                  = "ENT_APP_ENV"
	EnvPort                    = "ENT_APP_PORT"
	EnvLogLevel                = "ENT_LOG_LEVEL"
	EnvDBDSN                   = "ENT_DB_DSN"
	EnvDBHost                  = "ENT_DB_HOST"
	EnvDBUser                  = "ENT_DB_USER"
	EnvDBName                  = "ENT_DB_NAME"
	EnvRedisURL                = "ENT_REDIS_URL"
	EnvJWTSecret               = "ENT_JWT_SECRET"
	EnvJWTIssuer               = "ENT_JWT_ISSUER"
	EnvJWTExpMins              = "ENT_JWT_EXPIRATION_MINUTES"
	EnvGCPProjectID            = "ENT_GCP_PROJECT_ID"
	EnvPubSubNotificationTopic = "ENT_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubUsageTopic        = "ENT_PUBSUB_USAGE_TOPIC"
	EnvPubSubUsageSub          = "ENT_PUBSUB_USAGE_SUBSCRIPTION"
	EnvSquareAccessToken       = "ENT_SQUARE_ACCESS_TOKEN"
	EnvSquareWebhookSecret     = "ENT_SQUARE_WEBHOOK_SIGNATURE_KEY"
	EnvSquareWebhookURL        = "ENT_SQUARE_WEBHOOK_URL"
	EnvTrialRequiredFlags      = "ENT_TRIAL_REQUIRED_FLAGS"
	EnvUsageHistoryBackend     = "ENT_USAGE_HISTORY_BACKEND"
	EnvCatalogPath             = "ENT_PLATFORM_CATALOG_PATH"
)

const (
	UsageBackendPostgres = "postgres"
	UsageBackendBigQuery = "bigquery"
)
