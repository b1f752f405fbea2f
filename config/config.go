package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Engine   EngineConfig
	Cron     CronConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/engage?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. Tokens are minted by the
// management product; this engine only validates them.
type JWTConfig struct {
	Secret string
}

// AWSConfig holds AWS credentials and the bucket used for stats exports.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string
	PresignExpireMinutes int
}

// EngineConfig holds session/presence/stats tuning knobs.
type EngineConfig struct {
	HeartbeatThrottle time.Duration // min elapsed time before watch-time accumulates again
	LivenessWindow    time.Duration // open session reuse window for StartOrResume
	StaleAfter        time.Duration // inactivity threshold before the sweeper closes a session
	SweepInterval     time.Duration // how often the sweeper runs
	SampleInterval    time.Duration // how often presence counts are folded into buckets
	BucketWidth       time.Duration // access bucket granularity
	ActiveWindow      time.Duration // last_seen_at window that counts as "active right now"
	VisitLookback     time.Duration // on-demand source visit attribution window
}

// CronConfig authenticates internal scheduler-triggered endpoints,
// distinct from viewer-facing auth.
type CronConfig struct {
	Secret string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/engage?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "engage"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", "engage-stats-exports"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Engine: EngineConfig{
			HeartbeatThrottle: getEnvDuration("HEARTBEAT_THROTTLE_SEC", 30) * time.Second,
			LivenessWindow:    getEnvDuration("SESSION_LIVENESS_MIN", 5) * time.Minute,
			StaleAfter:        getEnvDuration("SESSION_STALE_MIN", 5) * time.Minute,
			SweepInterval:     getEnvDuration("SWEEP_INTERVAL_MIN", 10) * time.Minute,
			SampleInterval:    getEnvDuration("SAMPLE_INTERVAL_SEC", 60) * time.Second,
			BucketWidth:       getEnvDuration("BUCKET_WIDTH_MIN", 1) * time.Minute,
			ActiveWindow:      getEnvDuration("PRESENCE_ACTIVE_MIN", 3) * time.Minute,
			VisitLookback:     getEnvDuration("VISIT_LOOKBACK_MIN", 10) * time.Minute,
		},
		Cron: CronConfig{
			Secret: getEnv("CRON_SECRET", ""),
		},
	}

	// The client heartbeat cadence must fit inside the staleness window with
	// margin; a threshold at or below the throttle would close live sessions.
	if cfg.Engine.StaleAfter <= cfg.Engine.HeartbeatThrottle {
		return nil, fmt.Errorf("SESSION_STALE_MIN (%s) must exceed HEARTBEAT_THROTTLE_SEC (%s)",
			cfg.Engine.StaleAfter, cfg.Engine.HeartbeatThrottle)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback))
}
