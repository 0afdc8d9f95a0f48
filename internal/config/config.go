package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Email    EmailConfig    `mapstructure:"email"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	SiteURL        string   `mapstructure:"site_url"`
	InternalSecret string   `mapstructure:"internal_secret"`
	ClamdAddr      string   `mapstructure:"clamd_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	CookieDomain   string   `mapstructure:"cookie_domain"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig holds the redis endpoint shared by the API, asynq and pub/sub.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig contains token signing keys and login protection settings.
type AuthConfig struct {
	PrivateKeyPath        string        `mapstructure:"private_key_path"`
	PublicKeyPath         string        `mapstructure:"public_key_path"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
	LoginRateLimitPerHour int           `mapstructure:"login_rate_limit_per_hour"`
	LoginLockThreshold    int           `mapstructure:"login_lock_threshold"`
	LoginLockTTL          time.Duration `mapstructure:"login_lock_ttl"`
}

// PaymentConfig contains payment gateway credentials and the free-unlock coupon.
type PaymentConfig struct {
	KeyID      string `mapstructure:"key_id"`
	KeySecret  string `mapstructure:"key_secret"`
	Currency   string `mapstructure:"currency"`
	CouponCode string `mapstructure:"coupon_code"`
}

// EmailConfig selects the mail transport. An empty SendGridKey logs mails instead of sending them.
type EmailConfig struct {
	SendGridKey string `mapstructure:"sendgrid_key"`
	FromName    string `mapstructure:"from_name"`
	FromAddress string `mapstructure:"from_address"`
}

// LimitsConfig bounds uploads and the monitoring buffers.
type LimitsConfig struct {
	MaxPhotoBytes      int64         `mapstructure:"max_photo_bytes"`
	MaxResumeBytes     int64         `mapstructure:"max_resume_bytes"`
	MonitoringCapacity int           `mapstructure:"monitoring_capacity"`
	SlowRequest        time.Duration `mapstructure:"slow_request"`
}

// WorkerConfig contains asynq server options.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetry    int `mapstructure:"max_retry"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration from environment variables, after applying a .env file when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.site_url", "http://localhost:8080")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "portfoliopro")
	v.SetDefault("database.user", "portfoliopro")
	v.SetDefault("database.password", "portfoliopro")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "portfolios")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.login_rate_limit_per_hour", 10)
	v.SetDefault("auth.login_lock_threshold", 5)
	v.SetDefault("auth.login_lock_ttl", 15*time.Minute)
	v.SetDefault("payment.currency", "INR")
	v.SetDefault("payment.coupon_code", "FREE100")
	v.SetDefault("email.from_name", "PortfolioPro")
	v.SetDefault("email.from_address", "noreply@portfoliopro.local")
	v.SetDefault("limits.max_photo_bytes", 2*1024*1024)
	v.SetDefault("limits.max_resume_bytes", 5*1024*1024)
	v.SetDefault("limits.monitoring_capacity", 100)
	v.SetDefault("limits.slow_request", time.Second)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.max_retry", 3)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                        "API_PORT",
		"api.site_url":                    "SITE_URL",
		"api.internal_secret":             "INTERNAL_API_SECRET",
		"api.clamd_addr":                  "CLAMD_ADDR",
		"api.allowed_origins":             "ALLOWED_ORIGINS",
		"api.cookie_domain":               "COOKIE_DOMAIN",
		"database.host":                   "DATABASE_HOST",
		"database.port":                   "DATABASE_PORT",
		"database.name":                   "POSTGRES_DB",
		"database.user":                   "POSTGRES_USER",
		"database.password":               "POSTGRES_PASSWORD",
		"database.sslmode":                "DATABASE_SSLMODE",
		"database.log_level":              "DATABASE_LOG_LEVEL",
		"redis.host":                      "REDIS_HOST",
		"redis.port":                      "REDIS_PORT",
		"minio.endpoint":                  "MINIO_ENDPOINT",
		"minio.public_endpoint":           "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":             "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":         "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                   "MINIO_USE_SSL",
		"minio.bucket":                    "MINIO_BUCKET",
		"minio.region":                    "MINIO_REGION",
		"minio.bucket_lookup":             "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":        "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":           "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":            "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":           "JWT_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":          "JWT_REFRESH_TOKEN_TTL",
		"auth.login_rate_limit_per_hour":  "LOGIN_RATE_LIMIT_PER_HOUR",
		"auth.login_lock_threshold":       "LOGIN_LOCK_THRESHOLD",
		"auth.login_lock_ttl":             "LOGIN_LOCK_TTL",
		"payment.key_id":                  "RAZORPAY_API_KEY",
		"payment.key_secret":              "RAZORPAY_API_SECRET",
		"payment.currency":                "PAYMENT_CURRENCY",
		"payment.coupon_code":             "PAYMENT_COUPON_CODE",
		"email.sendgrid_key":              "SENDGRID_API_KEY",
		"email.from_name":                 "EMAIL_FROM_NAME",
		"email.from_address":              "DEFAULT_FROM_EMAIL",
		"limits.max_photo_bytes":          "MAX_PHOTO_BYTES",
		"limits.max_resume_bytes":         "MAX_RESUME_BYTES",
		"limits.monitoring_capacity":      "MONITORING_CAPACITY",
		"limits.slow_request":             "SLOW_REQUEST_THRESHOLD",
		"worker.concurrency":              "WORKER_CONCURRENCY",
		"worker.max_retry":                "WORKER_MAX_RETRY",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	if cfg.Payment.KeySecret == "" {
		return errors.New("payment key secret is required")
	}
	if cfg.Limits.MonitoringCapacity <= 0 {
		return errors.New("monitoring capacity must be positive")
	}
	return nil
}
