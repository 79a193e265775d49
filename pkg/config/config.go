package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Batch bounds accepted from configuration and from per-request options.
const (
	MinBatchSize      = 1
	MaxBatchSize      = 50
	MaxBatchPause     = 300 * time.Second
	MaxItemPause      = 10 * time.Second
	DefaultBatchSize  = 10
	DefaultBatchPause = 20 * time.Second
	DefaultItemPause  = time.Second
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Mail         MailConfig
	Batch        BatchConfig
	Certificates CertificatesConfig
	Import       ImportConfig
	Uploads      UploadsConfig
	Sentry       SentryConfig
	Metrics      MetricsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MailConfig selects the outbound mail provider.
type MailConfig struct {
	Provider       string
	SMTP2GOAPIKey  string
	SMTP2GOAPIURL  string
	SendGridAPIKey string
	Sender         string
	Timeout        time.Duration
}

// APIKey returns the key for the selected provider.
func (m MailConfig) APIKey() string {
	if strings.EqualFold(m.Provider, "sendgrid") {
		return m.SendGridAPIKey
	}
	return m.SMTP2GOAPIKey
}

// APIURL returns the endpoint override for the selected provider. SendGrid
// uses its client default.
func (m MailConfig) APIURL() string {
	if strings.EqualFold(m.Provider, "sendgrid") {
		return ""
	}
	return m.SMTP2GOAPIURL
}

// BatchConfig holds the default pacing for batch sends.
type BatchConfig struct {
	Size       int
	Pause      time.Duration
	ItemPause  time.Duration
	Workers    int
	BufferSize int
	JobTTL     time.Duration
}

// CertificatesConfig tunes certificate rendering.
type CertificatesConfig struct {
	FetchTimeout time.Duration
}

// ImportConfig controls the enrollment spreadsheet import.
type ImportConfig struct {
	DefaultInstructorEmail string
	DefaultPassword        string
	MaxFileSizeBytes       int64
}

// UploadsConfig configures locally stored certificate backgrounds.
type UploadsConfig struct {
	Dir              string
	PublicURL        string
	MaxFileSizeBytes int64
}

type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Mail = MailConfig{
		Provider:       strings.ToLower(v.GetString("MAIL_PROVIDER")),
		SMTP2GOAPIKey:  v.GetString("SMTP2GO_API_KEY"),
		SMTP2GOAPIURL:  v.GetString("SMTP2GO_API_URL"),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		Sender:         v.GetString("MAIL_SENDER"),
		Timeout:        parseDuration(v.GetString("MAIL_TIMEOUT"), 30*time.Second),
	}

	workers := v.GetInt("MAIL_BATCH_WORKERS")
	if workers <= 0 {
		workers = 1
	}
	cfg.Batch = BatchConfig{
		Size:       ClampBatchSize(v.GetInt("MAIL_BATCH_SIZE")),
		Pause:      ClampDuration(parseDuration(v.GetString("MAIL_BATCH_PAUSE"), DefaultBatchPause), MaxBatchPause),
		ItemPause:  ClampDuration(parseDuration(v.GetString("MAIL_ITEM_PAUSE"), DefaultItemPause), MaxItemPause),
		Workers:    workers,
		BufferSize: v.GetInt("MAIL_BATCH_QUEUE_SIZE"),
		JobTTL:     parseDuration(v.GetString("MAIL_BATCH_JOB_TTL"), 24*time.Hour),
	}

	cfg.Certificates = CertificatesConfig{
		FetchTimeout: parseDuration(v.GetString("CERTIFICATE_FETCH_TIMEOUT"), 10*time.Second),
	}

	cfg.Import = ImportConfig{
		DefaultInstructorEmail: v.GetString("IMPORT_DEFAULT_INSTRUCTOR_EMAIL"),
		DefaultPassword:        v.GetString("IMPORT_DEFAULT_PASSWORD"),
		MaxFileSizeBytes:       v.GetInt64("IMPORT_MAX_FILE_SIZE"),
	}

	cfg.Uploads = UploadsConfig{
		Dir:              v.GetString("UPLOADS_DIR"),
		PublicURL:        strings.TrimRight(v.GetString("UPLOADS_PUBLIC_URL"), "/"),
		MaxFileSizeBytes: v.GetInt64("UPLOADS_MAX_FILE_SIZE"),
	}

	cfg.Sentry = SentryConfig{
		DSN:         v.GetString("SENTRY_DSN"),
		Environment: v.GetString("SENTRY_ENVIRONMENT"),
		Release:     v.GetString("SENTRY_RELEASE"),
	}
	if cfg.Sentry.Environment == "" {
		cfg.Sentry.Environment = cfg.Env
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("METRICS_ENABLED"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "cdp")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MAIL_PROVIDER", "smtp2go")
	v.SetDefault("SMTP2GO_API_KEY", "")
	v.SetDefault("SMTP2GO_API_URL", "https://api.smtp2go.com/v3/email/send")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_SENDER", "Centro de Desarrollo Profesional CDP <documentos@capacitacionescdp.com>")
	v.SetDefault("MAIL_TIMEOUT", "30s")

	v.SetDefault("MAIL_BATCH_SIZE", DefaultBatchSize)
	v.SetDefault("MAIL_BATCH_PAUSE", "20s")
	v.SetDefault("MAIL_ITEM_PAUSE", "1s")
	v.SetDefault("MAIL_BATCH_WORKERS", 1)
	v.SetDefault("MAIL_BATCH_QUEUE_SIZE", 16)
	v.SetDefault("MAIL_BATCH_JOB_TTL", "24h")

	v.SetDefault("CERTIFICATE_FETCH_TIMEOUT", "10s")

	v.SetDefault("IMPORT_DEFAULT_INSTRUCTOR_EMAIL", "admin@capacitacionescdp.com")
	v.SetDefault("IMPORT_DEFAULT_PASSWORD", "123456")
	v.SetDefault("IMPORT_MAX_FILE_SIZE", 10*1024*1024)

	v.SetDefault("UPLOADS_DIR", "./uploads")
	v.SetDefault("UPLOADS_PUBLIC_URL", "http://localhost:8080/uploads")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 5*1024*1024)

	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("SENTRY_ENVIRONMENT", "")
	v.SetDefault("SENTRY_RELEASE", "")

	v.SetDefault("METRICS_ENABLED", true)
}

// ClampBatchSize bounds n to [MinBatchSize, MaxBatchSize]; zero or less
// means the default.
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}

// ClampDuration bounds d to [0, limit].
func ClampDuration(d, limit time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > limit {
		return limit
	}
	return d
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
