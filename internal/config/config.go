package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/artisthub/platform/backend/admin-service/pkg/logger"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	MongoDB   MongoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	MinIO     MinIOConfig
	RabbitMQ  RabbitMQConfig
	Admin     AdminConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StoreConfig selects the user store: memory, mongo or postgres.
type StoreConfig struct {
	Driver string
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
}

type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type SessionConfig struct {
	CookieName string
	Secure     bool
	Domain     string
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type CORSConfig struct {
	ClientURL string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// AdminConfig holds panel defaults.
type AdminConfig struct {
	PageSize     int
	MaxPageSize  int
	MaxGrantDays int
	// BootstrapEmail is promoted to admin on first login when no admin exists yet.
	BootstrapEmail string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5002")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("STORE_DRIVER", "")
	v.SetDefault("MONGODB_DATABASE", "artisthub")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	v.SetDefault("JWT_REFRESH_TOKEN_TTL", 10080)
	v.SetDefault("SESSION_COOKIE_NAME", "admin_session")
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_RPS", 10.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("CLIENT_URL", "http://localhost:3000")
	v.SetDefault("MINIO_BUCKET", "artisthub-audit")
	v.SetDefault("RABBITMQ_EXCHANGE", "artisthub.admin")
	v.SetDefault("ADMIN_PAGE_SIZE", 15)
	v.SetDefault("ADMIN_MAX_PAGE_SIZE", 100)
	v.SetDefault("ADMIN_MAX_GRANT_DAYS", 3650)

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Postgres: PostgresConfig{
			DSN: v.GetString("POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Keycloak: KeycloakConfig{
			URL:          v.GetString("KEYCLOAK_URL"),
			Realm:        v.GetString("KEYCLOAK_REALM"),
			ClientID:     v.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret: v.GetString("KEYCLOAK_CLIENT_SECRET"),
		},
		JWT: JWTConfig{
			Secret:          v.GetString("JWT_SECRET"),
			AccessTokenTTL:  time.Duration(v.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
			RefreshTokenTTL: time.Duration(v.GetInt("JWT_REFRESH_TOKEN_TTL")) * time.Minute,
		},
		Session: SessionConfig{
			CookieName: v.GetString("SESSION_COOKIE_NAME"),
			Secure:     v.GetBool("SESSION_COOKIE_SECURE"),
			Domain:     v.GetString("SESSION_COOKIE_DOMAIN"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		CORS: CORSConfig{
			ClientURL: v.GetString("CLIENT_URL"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      v.GetString("RABBITMQ_URL"),
			Exchange: v.GetString("RABBITMQ_EXCHANGE"),
		},
		Admin: AdminConfig{
			PageSize:       v.GetInt("ADMIN_PAGE_SIZE"),
			MaxPageSize:    v.GetInt("ADMIN_MAX_PAGE_SIZE"),
			MaxGrantDays:   v.GetInt("ADMIN_MAX_GRANT_DAYS"),
			BootstrapEmail: strings.ToLower(strings.TrimSpace(v.GetString("ADMIN_BOOTSTRAP_EMAIL"))),
		},
	}
	cfg.Store.Driver = resolveDriver(strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))), cfg)

	if cfg.JWT.Secret == "" {
		logger.Warn("JWT_SECRET is not set; set a secure value in production")
	}
	if cfg.Admin.PageSize <= 0 {
		cfg.Admin.PageSize = 15
	}
	if cfg.Admin.MaxPageSize < cfg.Admin.PageSize {
		cfg.Admin.MaxPageSize = cfg.Admin.PageSize
	}

	return cfg, nil
}

// resolveDriver picks a store when STORE_DRIVER is unset: mongo, then postgres,
// then the in-memory store.
func resolveDriver(explicit string, cfg *Config) string {
	switch explicit {
	case "memory", "mongo", "postgres":
		return explicit
	}
	if cfg.MongoDB.URI != "" {
		return "mongo"
	}
	if cfg.Postgres.DSN != "" {
		return "postgres"
	}
	return "memory"
}
