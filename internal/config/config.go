package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix = "HELPCENTER"

	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"

	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "helpcenter.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultIssuer          = "helpcenter-api"
	defaultAudience        = "helpcenter-admin"
	defaultTokenTTL        = 12 * time.Hour
	defaultCookieName      = "helpcenter_session"
	defaultUploadsRoot     = "uploads"
	defaultUploadsURL      = "/uploads"
	defaultMaxUploadBytes  = 20 << 20
	defaultRedisPrefix     = "helpcenter"
	defaultReportCacheTTL  = 10 * time.Minute
	defaultDigestSchedule  = "0 0 * * * *"
	defaultTrackingRate    = 2.0
	defaultTrackingBurst   = 30
	defaultShutdownTimeout = 10 * time.Second
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	ShutdownTimeout time.Duration
	DatabasePath    string
	LogLevel        string
	LogFormat       string

	AdminPasswordHash string
	SigningSecret     string
	TokenIssuer       string
	TokenAudience     string
	TokenTTL          time.Duration
	CookieName        string
	SecureCookies     bool
	AllowedOrigins    []string

	Storage StorageConfig
	Redis   RedisConfig

	DigestSchedule string
	TrackingRate   float64
	TrackingBurst  int
	MaxUploadBytes int64
}

// StorageConfig selects where uploaded files are written.
type StorageConfig struct {
	Driver        string
	LocalRoot     string
	PublicBaseURL string
	S3            S3Config
}

// S3Config addresses an S3 compatible bucket.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// RedisConfig enables the shared analytics report cache when Address is set.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.shutdown_timeout", defaultShutdownTimeout)
	configViper.SetDefault("http.allowed_origins", "")
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)

	configViper.SetDefault("admin.password_hash", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.secure_cookies", false)

	configViper.SetDefault("storage.driver", StorageDriverLocal)
	configViper.SetDefault("storage.local_root", defaultUploadsRoot)
	configViper.SetDefault("storage.public_base_url", defaultUploadsURL)
	configViper.SetDefault("storage.s3.bucket", "")
	configViper.SetDefault("storage.s3.prefix", "")
	configViper.SetDefault("storage.s3.region", "")
	configViper.SetDefault("storage.s3.endpoint", "")
	configViper.SetDefault("storage.s3.access_key_id", "")
	configViper.SetDefault("storage.s3.secret_access_key", "")
	configViper.SetDefault("storage.max_upload_bytes", defaultMaxUploadBytes)

	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.key_prefix", defaultRedisPrefix)
	configViper.SetDefault("redis.ttl", defaultReportCacheTTL)

	configViper.SetDefault("analytics.digest_schedule", defaultDigestSchedule)
	configViper.SetDefault("tracking.rate", defaultTrackingRate)
	configViper.SetDefault("tracking.burst", defaultTrackingBurst)
}

// LoadDotEnv exports the variables of a .env file into the process
// environment. A missing file is not an error; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     strings.TrimSpace(configViper.GetString("http.address")),
		ShutdownTimeout: configViper.GetDuration("http.shutdown_timeout"),
		AllowedOrigins:  splitList(configViper.GetString("http.allowed_origins")),
		DatabasePath:    strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:        configViper.GetString("log.level"),
		LogFormat:       configViper.GetString("log.format"),

		AdminPasswordHash: strings.TrimSpace(configViper.GetString("admin.password_hash")),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenIssuer:       strings.TrimSpace(configViper.GetString("auth.issuer")),
		TokenAudience:     strings.TrimSpace(configViper.GetString("auth.audience")),
		TokenTTL:          configViper.GetDuration("auth.token_ttl"),
		CookieName:        strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		SecureCookies:     configViper.GetBool("auth.secure_cookies"),

		Storage: StorageConfig{
			Driver:        strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
			LocalRoot:     strings.TrimSpace(configViper.GetString("storage.local_root")),
			PublicBaseURL: strings.TrimSpace(configViper.GetString("storage.public_base_url")),
			S3: S3Config{
				Bucket:          strings.TrimSpace(configViper.GetString("storage.s3.bucket")),
				Prefix:          strings.TrimSpace(configViper.GetString("storage.s3.prefix")),
				Region:          strings.TrimSpace(configViper.GetString("storage.s3.region")),
				Endpoint:        strings.TrimSpace(configViper.GetString("storage.s3.endpoint")),
				AccessKeyID:     configViper.GetString("storage.s3.access_key_id"),
				SecretAccessKey: configViper.GetString("storage.s3.secret_access_key"),
			},
		},
		Redis: RedisConfig{
			Address:   strings.TrimSpace(configViper.GetString("redis.address")),
			Password:  configViper.GetString("redis.password"),
			DB:        configViper.GetInt("redis.db"),
			KeyPrefix: strings.TrimSpace(configViper.GetString("redis.key_prefix")),
			TTL:       configViper.GetDuration("redis.ttl"),
		},

		DigestSchedule: strings.TrimSpace(configViper.GetString("analytics.digest_schedule")),
		TrackingRate:   configViper.GetFloat64("tracking.rate"),
		TrackingBurst:  configViper.GetInt("tracking.burst"),
		MaxUploadBytes: configViper.GetInt64("storage.max_upload_bytes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.AdminPasswordHash == "" {
		return fmt.Errorf("admin.password_hash is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.TrackingRate <= 0 || c.TrackingBurst <= 0 {
		return fmt.Errorf("tracking.rate and tracking.burst must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage.max_upload_bytes must be positive")
	}
	switch c.Storage.Driver {
	case StorageDriverLocal:
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("storage.local_root is required for the local driver")
		}
	case StorageDriverS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 driver")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required for the s3 driver")
		}
		if c.Storage.PublicBaseURL == "" || c.Storage.PublicBaseURL == defaultUploadsURL {
			return fmt.Errorf("storage.public_base_url must point at the bucket for the s3 driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
