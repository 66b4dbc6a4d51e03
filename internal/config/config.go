package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Jobs      JobsConfig
	JWT       JWTConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Places    PlacesConfig
}

type ServerConfig struct {
	Port       string
	Env        string
	CORSOrigin string
}

type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
}

type StorageConfig struct {
	// Driver selects the job store: "redis" or "memory"
	Driver string
}

type JobsConfig struct {
	Concurrency     int
	MaxAttempts     int
	Queue           string
	RunWorker       bool
	StreamHeartbeat time.Duration
	Retention       time.Duration
}

type JWTConfig struct {
	Secret string
}

// AuthConfig points at the external identity provider
type AuthConfig struct {
	Issuer   string
	ClientID string

	// GatewayMode trusts X-User-* headers from a ForwardAuth proxy
	GatewayMode bool
}

type RateLimitConfig struct {
	JobsPerHour   int
	ClaimsPerHour int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type PlacesConfig struct {
	APIKey  string
	BaseURL string
	Timeout int // seconds
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("PLACES_API_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.cors_origin", "CORS_ORIGIN")
	_ = viper.BindEnv("logging.level", "LOG_LEVEL")
	_ = viper.BindEnv("logging.format", "LOG_FORMAT")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("database.max_conns", "DATABASE_MAX_CONNS")
	_ = viper.BindEnv("storage.driver", "JOB_STORE_DRIVER")
	_ = viper.BindEnv("jobs.concurrency", "JOBS_CONCURRENCY")
	_ = viper.BindEnv("jobs.max_attempts", "JOBS_MAX_ATTEMPTS")
	_ = viper.BindEnv("jobs.queue", "JOBS_QUEUE")
	_ = viper.BindEnv("jobs.run_worker", "JOBS_RUN_WORKER")
	_ = viper.BindEnv("jobs.stream_heartbeat", "JOBS_STREAM_HEARTBEAT")
	_ = viper.BindEnv("jobs.retention", "JOBS_RETENTION")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("auth.issuer", "AUTH_ISSUER")
	_ = viper.BindEnv("auth.client_id", "AUTH_CLIENT_ID")
	_ = viper.BindEnv("auth.gateway_mode", "AUTH_GATEWAY_MODE")
	_ = viper.BindEnv("ratelimit.jobs_per_hour", "RATELIMIT_JOBS_PER_HOUR")
	_ = viper.BindEnv("ratelimit.claims_per_hour", "RATELIMIT_CLAIMS_PER_HOUR")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("places.api_key", "PLACES_API_KEY")
	_ = viper.BindEnv("places.base_url", "PLACES_BASE_URL")
	_ = viper.BindEnv("places.timeout", "PLACES_TIMEOUT")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.cors_origin", "*")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("database.url", "postgres://localhost:5432/directory?sslmode=disable")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("storage.driver", "redis")
	viper.SetDefault("jobs.concurrency", 4)
	viper.SetDefault("jobs.max_attempts", 3)
	viper.SetDefault("jobs.queue", "enrichment")
	viper.SetDefault("jobs.run_worker", true)
	viper.SetDefault("jobs.stream_heartbeat", "15s")
	viper.SetDefault("jobs.retention", "720h")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("ratelimit.jobs_per_hour", 30)
	viper.SetDefault("ratelimit.claims_per_hour", 5)
	viper.SetDefault("places.base_url", "https://places.googleapis.com/v1")
	viper.SetDefault("places.timeout", 20)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:       viper.GetString("server.port"),
			Env:        viper.GetString("server.env"),
			CORSOrigin: viper.GetString("server.cors_origin"),
		},
		Logging: LoggingConfig{
			Level:  viper.GetString("logging.level"),
			Format: viper.GetString("logging.format"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			URL:      viper.GetString("database.url"),
			MaxConns: viper.GetInt("database.max_conns"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(viper.GetString("storage.driver")),
		},
		Jobs: JobsConfig{
			Concurrency:     viper.GetInt("jobs.concurrency"),
			MaxAttempts:     viper.GetInt("jobs.max_attempts"),
			Queue:           viper.GetString("jobs.queue"),
			RunWorker:       viper.GetBool("jobs.run_worker"),
			StreamHeartbeat: viper.GetDuration("jobs.stream_heartbeat"),
			Retention:       viper.GetDuration("jobs.retention"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Auth: AuthConfig{
			Issuer:      viper.GetString("auth.issuer"),
			ClientID:    viper.GetString("auth.client_id"),
			GatewayMode: viper.GetBool("auth.gateway_mode"),
		},
		RateLimit: RateLimitConfig{
			JobsPerHour:   viper.GetInt("ratelimit.jobs_per_hour"),
			ClaimsPerHour: viper.GetInt("ratelimit.claims_per_hour"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Places: PlacesConfig{
			APIKey:  viper.GetString("places.api_key"),
			BaseURL: viper.GetString("places.base_url"),
			Timeout: viper.GetInt("places.timeout"),
		},
	}

	return cfg, nil
}
