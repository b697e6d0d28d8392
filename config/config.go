package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App               AppConfig
	HTTP              ServerConfig
	GRPC              ServerConfig
	MySQL             MySQLConfig
	Log               LogConfig
	InternalEndpoints InternalEndpointsConfig
	Auth              AuthConfig
	MobileMoney       MobileMoneyConfig
	PayPal            PayPalConfig
	Currency          CurrencyConfig
	Payments          PaymentsConfig
	Notifications     NotificationsConfig
	RateLimit         RateLimitConfig
	Jobs              JobsConfig
}

type AppConfig struct {
	ServiceName string
	APIKey      string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

type InternalEndpointsConfig struct {
	AuthGRPCAddr string
}

type AuthConfig struct {
	JWTSecret string
	AdminRole string
}

type MobileMoneyConfig struct {
	BaseURL         string
	Username        string
	Password        string
	WebhookSecret   string
	SignatureHeader string
	HTTPTimeout     time.Duration
}

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	BrandName    string
	HTTPTimeout  time.Duration
}

// CurrencyConfig holds the fixed conversion used for the card rail. Rate is
// home currency units per one settlement unit.
type CurrencyConfig struct {
	Home       string
	Settlement string
	Rate       decimal.Decimal
}

type PaymentsConfig struct {
	LicenseRenewalWindow time.Duration
	EffectsMaxAttempts   int32
	EffectsRetryBase     time.Duration
	EffectsRetryMax      time.Duration
	EffectsLease         time.Duration
	PendingTimeout       time.Duration
	UnattachedTimeout    time.Duration
	ReconcileStaleAfter  time.Duration
	JobBatchSize         int32
	Description          string
}

type NotificationsConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
}

type RateLimitConfig struct {
	WebhookRPS   float64
	WebhookBurst int
}

type JobsConfig struct {
	ReconcileInterval       time.Duration
	EffectsDispatchInterval time.Duration
	ExpirePendingInterval   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	rate, err := decimal.NewFromString(getEnv("CURRENCY_SETTLEMENT_RATE", "600"))
	if err != nil || !rate.IsPositive() {
		return nil, errors.New("CURRENCY_SETTLEMENT_RATE must be a positive decimal")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "settlements-service"),
			APIKey:      getEnv("APP_API_KEY", ""),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		InternalEndpoints: InternalEndpointsConfig{
			AuthGRPCAddr: getEnv("AUTH_SERVICE_GRPC_ADDR", "localhost:9090"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			AdminRole: getEnv("AUTH_ADMIN_ROLE", "admin"),
		},
		MobileMoney: MobileMoneyConfig{
			BaseURL:         getEnv("MOMO_BASE_URL", "https://demo.campay.net/api"),
			Username:        getEnv("MOMO_USERNAME", ""),
			Password:        getEnv("MOMO_PASSWORD", ""),
			WebhookSecret:   getEnv("MOMO_WEBHOOK_SECRET", ""),
			SignatureHeader: getEnv("MOMO_SIGNATURE_HEADER", "X-Signature"),
			HTTPTimeout:     getSecondsEnv("MOMO_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		PayPal: PayPalConfig{
			BaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			WebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
			BrandName:    getEnv("PAYPAL_BRAND_NAME", ""),
			HTTPTimeout:  getSecondsEnv("PAYPAL_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		Currency: CurrencyConfig{
			Home:       strings.ToUpper(getEnv("CURRENCY_HOME", "XAF")),
			Settlement: strings.ToUpper(getEnv("CURRENCY_SETTLEMENT", "USD")),
			Rate:       rate,
		},
		Payments: PaymentsConfig{
			LicenseRenewalWindow: time.Duration(getIntEnv("PAYMENTS_LICENSE_RENEWAL_DAYS", 30)) * 24 * time.Hour,
			EffectsMaxAttempts:   int32(getIntEnv("PAYMENTS_EFFECTS_MAX_ATTEMPTS", 10)),
			EffectsRetryBase:     getSecondsEnv("PAYMENTS_EFFECTS_RETRY_BASE_SECONDS", 30*time.Second),
			EffectsRetryMax:      getMinutesEnv("PAYMENTS_EFFECTS_RETRY_MAX_MINUTES", 60*time.Minute),
			EffectsLease:         getMinutesEnv("PAYMENTS_EFFECTS_LEASE_MINUTES", 5*time.Minute),
			PendingTimeout:       getMinutesEnv("PAYMENTS_PENDING_TIMEOUT_MINUTES", 60*time.Minute),
			UnattachedTimeout:    getMinutesEnv("PAYMENTS_UNATTACHED_TIMEOUT_MINUTES", 24*time.Hour),
			ReconcileStaleAfter:  getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 5*time.Minute),
			JobBatchSize:         int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
			Description:          getEnv("PAYMENTS_DESCRIPTION", "Marketplace payment"),
		},
		Notifications: NotificationsConfig{
			BaseURL:     getEnv("NOTIFICATIONS_BASE_URL", ""),
			APIKey:      getEnv("NOTIFICATIONS_API_KEY", ""),
			HTTPTimeout: getSecondsEnv("NOTIFICATIONS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			WebhookRPS:   getFloatEnv("RATE_LIMIT_WEBHOOK_RPS", 100),
			WebhookBurst: getIntEnv("RATE_LIMIT_WEBHOOK_BURST", 500),
		},
		Jobs: JobsConfig{
			ReconcileInterval:       getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
			EffectsDispatchInterval: getMinutesEnv("PAYMENTS_EFFECTS_DISPATCH_INTERVAL_MINUTES", time.Minute),
			ExpirePendingInterval:   getMinutesEnv("PAYMENTS_EXPIRE_PENDING_INTERVAL_MINUTES", 5*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
