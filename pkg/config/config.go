package config

import (
	"fmt"
	"net/url"
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
	Escrow       EscrowConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Square       SquareConfig
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
	Env          string `envconfig:"PARCELPEER_APP_ENV" required:"true"`
	Port         string `envconfig:"PARCELPEER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PARCELPEER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PARCELPEER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PARCELPEER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PARCELPEER_DB_DSN"`
	Driver string `envconfig:"PARCELPEER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PARCELPEER_DB_HOST"`
	LegacyPort     int    `envconfig:"PARCELPEER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PARCELPEER_DB_USER"`
	LegacyPassword string `envconfig:"PARCELPEER_DB_PASSWORD"`
	LegacyName     string `envconfig:"PARCELPEER_DB_NAME"`
	LegacySSLMode  string `envconfig:"PARCELPEER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PARCELPEER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PARCELPEER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PARCELPEER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PARCELPEER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PARCELPEER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PARCELPEER_REDIS_ADDR"`
	Password     string        `envconfig:"PARCELPEER_REDIS_PASSWORD"`
	DB           int           `envconfig:"PARCELPEER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PARCELPEER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PARCELPEER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PARCELPEER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PARCELPEER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PARCELPEER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PARCELPEER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PARCELPEER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PARCELPEER_JWT_EXPIRATION_MINUTES" required:"true"`
}

// Expiration returns the access token lifetime configured in minutes.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type EscrowConfig struct {
	PlatformFeePercent  int           `envconfig:"PARCELPEER_PLATFORM_FEE_PERCENT" default:"10"`
	QRSigningSecret     string        `envconfig:"PARCELPEER_QR_SIGNING_SECRET" required:"true"`
	QRTokenTTL          time.Duration `envconfig:"PARCELPEER_QR_TOKEN_TTL" default:"24h"`
	AutoReleaseAfter    time.Duration `envconfig:"PARCELPEER_AUTO_RELEASE_AFTER" default:"24h"`
	AutoReleaseBatch    int           `envconfig:"PARCELPEER_AUTO_RELEASE_BATCH" default:"50"`
	IntentRetryBackoff  time.Duration `envconfig:"PARCELPEER_ESCROW_INTENT_RETRY_BACKOFF" default:"5m"`
	IntentMaxAttempts   int           `envconfig:"PARCELPEER_ESCROW_INTENT_MAX_ATTEMPTS" default:"8"`
	ProviderCallTimeout time.Duration `envconfig:"PARCELPEER_ESCROW_PROVIDER_TIMEOUT" default:"15s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PARCELPEER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PARCELPEER_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PARCELPEER_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PARCELPEER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PARCELPEER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"PARCELPEER_PUBSUB_DOMAIN_TOPIC" required:"true"`
	DomainSubscription       string `envconfig:"PARCELPEER_PUBSUB_DOMAIN_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"PARCELPEER_PUBSUB_NOTIFICATION_TOPIC" default:"pp-notification-events"`
	NotificationSubscription string `envconfig:"PARCELPEER_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PARCELPEER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PARCELPEER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PARCELPEER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"PARCELPEER_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"PARCELPEER_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"PARCELPEER_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
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
