package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "revend"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "REVEND_DB_DSN"
	EnvDBHost = "REVEND_DB_HOST"
	EnvDBUser = "REVEND_DB_USER"
	EnvDBName = "REVEND_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Checkout  CheckoutConfig
	Stripe    StripeConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
	Flags     FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REVEND_APP_ENV" required:"true"`
	Port         string `envconfig:"REVEND_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"REVEND_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REVEND_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"REVEND_DB_DSN"`
	Driver string `envconfig:"REVEND_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"REVEND_DB_HOST"`
	LegacyPort     int    `envconfig:"REVEND_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REVEND_DB_USER"`
	LegacyPassword string `envconfig:"REVEND_DB_PASSWORD"`
	LegacyName     string `envconfig:"REVEND_DB_NAME"`
	LegacySSLMode  string `envconfig:"REVEND_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REVEND_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REVEND_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REVEND_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REVEND_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	StatementTO     time.Duration `envconfig:"REVEND_DB_STATEMENT_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REVEND_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REVEND_REDIS_ADDR"`
	Password     string        `envconfig:"REVEND_REDIS_PASSWORD"`
	DB           int           `envconfig:"REVEND_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REVEND_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REVEND_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REVEND_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REVEND_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REVEND_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"REVEND_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"REVEND_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"REVEND_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RateLimitConfig struct {
	Window      time.Duration `envconfig:"REVEND_RATE_LIMIT_WINDOW" default:"1m"`
	PerUser     int           `envconfig:"REVEND_RATE_LIMIT_PER_USER" default:"120"`
	CheckoutCap int           `envconfig:"REVEND_RATE_LIMIT_CHECKOUT" default:"10"`
}

type CheckoutConfig struct {
	ShippingFeeCents int    `envconfig:"REVEND_SHIPPING_FEE_CENTS" default:"1500"`
	Currency         string `envconfig:"REVEND_CURRENCY" default:"usd"`
}

type StripeConfig struct {
	APIKey string `envconfig:"REVEND_STRIPE_API_KEY"`
	Secret string `envconfig:"REVEND_STRIPE_SECRET"`
	Env    string `envconfig:"REVEND_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID string `envconfig:"REVEND_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"REVEND_PUBSUB_ORDERS_TOPIC" default:"revend-order-events"`
	OrdersSubscription string `envconfig:"REVEND_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"REVEND_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"REVEND_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"REVEND_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"REVEND_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"REVEND_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
