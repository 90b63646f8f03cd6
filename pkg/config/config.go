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

// Storage drivers.
const (
	StorageDriverLocal = "local"
	StorageDriverMinio = "minio"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Session  SessionConfig
	Letters  LettersConfig
	Storage  StorageConfig
	OTP      OTPConfig
	Jobs     JobsConfig
	Desk     DeskConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SessionConfig tunes client session liveness and re-validation.
type SessionConfig struct {
	InactivityCeiling time.Duration
	RenewBuffer       time.Duration
	VerifyInterval    time.Duration
	VerifyTimeout     time.Duration
	VerifyOnNavigate  bool
}

// LettersConfig governs lifecycle polling, mutation timeouts and report limits.
type LettersConfig struct {
	PollInterval    time.Duration
	MutationTimeout time.Duration
	ReportMaxBytes  int64
	ListLimit       int
}

// StorageConfig selects where covering letters and reports are kept.
type StorageConfig struct {
	Driver          string
	LocalDir        string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// OTPConfig controls the password reset codes.
type OTPConfig struct {
	TTL         time.Duration
	Length      int
	MaxAttempts int
}

// JobsConfig sizes the background mutation queue. Mutations are never
// retried, so only the worker count is tunable.
type JobsConfig struct {
	Workers int
}

// DeskConfig configures the operator console.
type DeskConfig struct {
	GatewayURL   string
	UseRedis     bool
	RequestLimit time.Duration
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
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Session = SessionConfig{
		InactivityCeiling: parseDuration(v.GetString("SESSION_INACTIVITY_CEILING"), 24*time.Hour),
		RenewBuffer:       parseDuration(v.GetString("SESSION_RENEW_BUFFER"), 5*time.Minute),
		VerifyInterval:    parseDuration(v.GetString("SESSION_VERIFY_INTERVAL"), 30*time.Second),
		VerifyTimeout:     parseDuration(v.GetString("SESSION_VERIFY_TIMEOUT"), 10*time.Second),
		VerifyOnNavigate:  v.GetBool("SESSION_VERIFY_ON_NAVIGATE"),
	}

	reportMax := v.GetInt64("LETTER_REPORT_MAX_BYTES")
	if reportMax <= 0 {
		reportMax = 10 * 1024 * 1024
	}
	cfg.Letters = LettersConfig{
		PollInterval:    parseDuration(v.GetString("LETTER_POLL_INTERVAL"), 15*time.Second),
		MutationTimeout: parseDuration(v.GetString("LETTER_MUTATION_TIMEOUT"), 15*time.Second),
		ReportMaxBytes:  reportMax,
		ListLimit:       v.GetInt("LETTER_LIST_LIMIT"),
	}

	cfg.Storage = StorageConfig{
		Driver:          strings.ToLower(v.GetString("STORAGE_DRIVER")),
		LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		MinioEndpoint:   v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey:  v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:  v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:     v.GetString("MINIO_BUCKET"),
		MinioUseSSL:     v.GetBool("MINIO_USE_SSL"),
		SignedURLSecret: v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.OTP = OTPConfig{
		TTL:         parseDuration(v.GetString("OTP_TTL"), 10*time.Minute),
		Length:      v.GetInt("OTP_LENGTH"),
		MaxAttempts: v.GetInt("OTP_MAX_ATTEMPTS"),
	}

	cfg.Jobs = JobsConfig{
		Workers: v.GetInt("JOBS_WORKERS"),
	}

	cfg.Desk = DeskConfig{
		GatewayURL:   v.GetString("DESK_GATEWAY_URL"),
		UseRedis:     v.GetBool("DESK_USE_REDIS"),
		RequestLimit: parseDuration(v.GetString("DESK_REQUEST_TIMEOUT"), 20*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "patra")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "patra-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SESSION_INACTIVITY_CEILING", "24h")
	v.SetDefault("SESSION_RENEW_BUFFER", "5m")
	v.SetDefault("SESSION_VERIFY_INTERVAL", "30s")
	v.SetDefault("SESSION_VERIFY_TIMEOUT", "10s")
	v.SetDefault("SESSION_VERIFY_ON_NAVIGATE", true)

	v.SetDefault("LETTER_POLL_INTERVAL", "15s")
	v.SetDefault("LETTER_MUTATION_TIMEOUT", "15s")
	v.SetDefault("LETTER_REPORT_MAX_BYTES", 10*1024*1024)
	v.SetDefault("LETTER_LIST_LIMIT", 100)

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./letter-files")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_BUCKET", "patra-documents")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "30m")

	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)

	v.SetDefault("JOBS_WORKERS", 2)

	v.SetDefault("DESK_GATEWAY_URL", "http://localhost:8080/api/v1")
	v.SetDefault("DESK_USE_REDIS", false)
	v.SetDefault("DESK_REQUEST_TIMEOUT", "20s")
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
