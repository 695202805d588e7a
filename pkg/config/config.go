package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	MercadoPago  MercadoPagoConfig
	Reconcile    ReconcileConfig
	Sweep        SweepConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NATAL_APP_ENV" required:"true"`
	Port         string `envconfig:"NATAL_APP_PORT" default:"3001"`
	LogLevel     string `envconfig:"NATAL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NATAL_LOG_WARN_STACK" default:"false"`
	MaxBodyBytes int64  `envconfig:"NATAL_MAX_BODY_BYTES" default:"10485760"`
	// MetricsAddr, when set, makes the worker binaries serve /metrics.
	MetricsAddr string `envconfig:"NATAL_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"NATAL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"NATAL_DB_DSN"`
	Driver string `envconfig:"NATAL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NATAL_DB_HOST"`
	LegacyPort     int    `envconfig:"NATAL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NATAL_DB_USER"`
	LegacyPassword string `envconfig:"NATAL_DB_PASSWORD"`
	LegacyName     string `envconfig:"NATAL_DB_NAME"`
	LegacySSLMode  string `envconfig:"NATAL_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"NATAL_SQLITE_PATH" default:"natal.db"`

	MaxOpenConns    int           `envconfig:"NATAL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NATAL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NATAL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NATAL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NATAL_REDIS_URL"`
	Address      string        `envconfig:"NATAL_REDIS_ADDR"`
	Password     string        `envconfig:"NATAL_REDIS_PASSWORD"`
	DB           int           `envconfig:"NATAL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NATAL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NATAL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NATAL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NATAL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NATAL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// JWTConfig signs the operator tokens used by the ops routes.
type JWTConfig struct {
	Secret            string `envconfig:"NATAL_JWT_SECRET"`
	Issuer            string `envconfig:"NATAL_JWT_ISSUER" default:"natal-backend"`
	ExpirationMinutes int    `envconfig:"NATAL_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Enabled reports whether ops tokens can be minted and verified.
func (j JWTConfig) Enabled() bool {
	return strings.TrimSpace(j.Secret) != ""
}

type RateLimitConfig struct {
	GeneralWindow time.Duration `envconfig:"NATAL_RATE_LIMIT_GENERAL_WINDOW" default:"15m"`
	GeneralLimit  int           `envconfig:"NATAL_RATE_LIMIT_GENERAL_LIMIT" default:"100"`
	CreateWindow  time.Duration `envconfig:"NATAL_RATE_LIMIT_CREATE_WINDOW" default:"15m"`
	CreateLimit   int           `envconfig:"NATAL_RATE_LIMIT_CREATE_LIMIT" default:"5"`
	WebhookWindow time.Duration `envconfig:"NATAL_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookLimit  int           `envconfig:"NATAL_RATE_LIMIT_WEBHOOK_LIMIT" default:"100"`
}

type CORSConfig struct {
	FrontendURL           string   `envconfig:"NATAL_FRONTEND_URL" default:"http://localhost:5173"`
	ProductionFrontendURL string   `envconfig:"NATAL_PRODUCTION_FRONTEND_URL"`
	ExtraOrigins          []string `envconfig:"NATAL_CORS_EXTRA_ORIGINS"`
}

// Origins returns the de-duplicated list of allowed browser origins.
func (c CORSConfig) Origins(includeLocal bool) []string {
	candidates := []string{c.FrontendURL, c.ProductionFrontendURL}
	if includeLocal {
		candidates = append(candidates, "http://localhost:5173", "http://localhost:3000")
	}
	candidates = append(candidates, c.ExtraOrigins...)

	seen := map[string]struct{}{}
	origins := make([]string, 0, len(candidates))
	for _, origin := range candidates {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}

type FeatureFlagsConfig struct {
	UseSQLite      bool `envconfig:"NATAL_USE_SQLITE" default:"false"`
	AutoMigrate    bool `envconfig:"NATAL_AUTO_MIGRATE" default:"false"`
	EmbeddedWorker bool `envconfig:"NATAL_EMBEDDED_WORKER" default:"true"`
	OpsRoutes      bool `envconfig:"NATAL_OPS_ROUTES" default:"false"`
}

// PricingConfig holds the server-side price; clients never send an amount.
type PricingConfig struct {
	SitePrice       string `envconfig:"NATAL_SITE_PRICE" default:"29.90"`
	Currency        string `envconfig:"NATAL_CURRENCY" default:"BRL"`
	AmountTolerance string `envconfig:"NATAL_AMOUNT_TOLERANCE" default:"0.01"`
	ItemTitle       string `envconfig:"NATAL_ITEM_TITLE" default:"Site de Natal"`
	ItemDescription string `envconfig:"NATAL_ITEM_DESCRIPTION" default:"Criação de site personalizado de Natal para a família"`
}

// Price returns the configured site price.
func (p PricingConfig) Price() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(p.SitePrice))
	if err != nil {
		return decimal.Zero
	}
	return d.Round(2)
}

// Tolerance returns the absolute amount difference accepted when matching payments.
func (p PricingConfig) Tolerance() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(p.AmountTolerance))
	if err != nil {
		return decimal.NewFromFloat(0.01)
	}
	return d.Abs()
}

func (p PricingConfig) validate() error {
	price, err := decimal.NewFromString(strings.TrimSpace(p.SitePrice))
	if err != nil {
		return fmt.Errorf("%s must be a decimal amount: %w", EnvSitePrice, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%s must be positive", EnvSitePrice)
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(p.AmountTolerance)); err != nil {
		return fmt.Errorf("%s must be a decimal amount: %w", EnvAmountTolerance, err)
	}
	if strings.TrimSpace(p.Currency) == "" {
		return fmt.Errorf("%s is required", EnvCurrency)
	}
	return nil
}

type MercadoPagoConfig struct {
	AccessToken         string        `envconfig:"NATAL_MP_ACCESS_TOKEN" required:"true"`
	BaseURL             string        `envconfig:"NATAL_MP_BASE_URL" default:"https://api.mercadopago.com"`
	RequestTimeout      time.Duration `envconfig:"NATAL_MP_REQUEST_TIMEOUT" default:"10s"`
	FrontendURL         string        `envconfig:"NATAL_MP_FRONTEND_URL"`
	WebhookURL          string        `envconfig:"NATAL_MP_WEBHOOK_URL"`
	StatementDescriptor string        `envconfig:"NATAL_MP_STATEMENT_DESCRIPTOR" default:"Natal Familia"`
	// WebhookSecret enables x-signature checks on /api/webhook when set.
	WebhookSecret string `envconfig:"NATAL_MP_WEBHOOK_SECRET"`
}

type ReconcileConfig struct {
	BatchSize      int           `envconfig:"NATAL_RECONCILE_BATCH_SIZE" default:"20"`
	PollIntervalMS int           `envconfig:"NATAL_RECONCILE_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"NATAL_RECONCILE_MAX_ATTEMPTS" default:"8"`
	Lease          time.Duration `envconfig:"NATAL_RECONCILE_LEASE" default:"2m"`
	RetryBase      time.Duration `envconfig:"NATAL_RECONCILE_RETRY_BASE" default:"5s"`
	RetryMax       time.Duration `envconfig:"NATAL_RECONCILE_RETRY_MAX" default:"10m"`
}

type SweepConfig struct {
	Interval      time.Duration `envconfig:"NATAL_SWEEP_INTERVAL" default:"10m"`
	MinAge        time.Duration `envconfig:"NATAL_SWEEP_MIN_AGE" default:"10m"`
	MaxAge        time.Duration `envconfig:"NATAL_SWEEP_MAX_AGE" default:"72h"`
	BatchSize     int           `envconfig:"NATAL_SWEEP_BATCH_SIZE" default:"50"`
	RetentionDays int           `envconfig:"NATAL_NOTIFICATION_RETENTION_DAYS" default:"30"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"NATAL_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"NATAL_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"NATAL_PUBSUB_ORDERS_TOPIC" default:"natal-order-events"`
	OrdersSubscription string `envconfig:"NATAL_PUBSUB_ORDERS_SUBSCRIPTION"`
}

// BigQueryConfig enables the order-event analytics sink when Dataset is set.
type BigQueryConfig struct {
	Dataset          string `envconfig:"NATAL_BQ_DATASET"`
	OrderEventsTable string `envconfig:"NATAL_BQ_ORDER_EVENTS_TABLE" default:"order_events"`
	MaxAttempts      int    `envconfig:"NATAL_BQ_MAX_ATTEMPTS" default:"3"`
	// CreateTables lets the worker create missing tables from the row schema.
	CreateTables bool `envconfig:"NATAL_BQ_CREATE_TABLES" default:"true"`
}

func (c BigQueryConfig) Enabled() bool {
	return strings.TrimSpace(c.Dataset) != ""
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"NATAL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"NATAL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"NATAL_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"NATAL_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
