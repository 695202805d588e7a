package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "NATAL"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv          = "NATAL_APP_ENV"
	EnvPort            = "NATAL_APP_PORT"
	EnvDBDSN           = "NATAL_DB_DSN"
	EnvDBHost          = "NATAL_DB_HOST"
	EnvDBUser          = "NATAL_DB_USER"
	EnvDBName          = "NATAL_DB_NAME"
	EnvUseSQLite       = "NATAL_USE_SQLITE"
	EnvRedisURL        = "NATAL_REDIS_URL"
	EnvJWTSecret       = "NATAL_JWT_SECRET"
	EnvSitePrice       = "NATAL_SITE_PRICE"
	EnvCurrency        = "NATAL_CURRENCY"
	EnvAmountTolerance = "NATAL_AMOUNT_TOLERANCE"
	EnvMPAccessToken   = "NATAL_MP_ACCESS_TOKEN"
	EnvMPFrontendURL   = "NATAL_MP_FRONTEND_URL"
	EnvMPWebhookURL    = "NATAL_MP_WEBHOOK_URL"
	EnvFrontendURL     = "NATAL_FRONTEND_URL"
	EnvGCPProjectID    = "NATAL_GCP_PROJECT_ID"
	EnvOrdersTopic     = "NATAL_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
