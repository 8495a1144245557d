package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for all services
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Transport TransportConfig `yaml:"transport"`
	Pool      PoolConfig      `yaml:"pool"`
	Staging   StagingConfig   `yaml:"staging"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	InfoTTL  time.Duration `yaml:"info_ttl"`
}

// TransportConfig holds the messaging transport credentials and the bin
// channel every session reads from and writes to.
type TransportConfig struct {
	Type       string `yaml:"type"` // telegram, memory
	AppID      int    `yaml:"app_id"`
	AppHash    string `yaml:"app_hash"`
	BotToken   string `yaml:"bot_token"`
	Channel    int64  `yaml:"channel"`
	SessionDir string `yaml:"session_dir"`
}

// PoolConfig holds session pool tuning
type PoolConfig struct {
	Size             int           `yaml:"size"`
	StartRetries     int           `yaml:"start_retries"`
	FloodMargin      time.Duration `yaml:"flood_margin"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	Selector         string        `yaml:"selector"` // random, round-robin, least-loaded
	MaxInFlight      int64         `yaml:"max_in_flight"`
	ChunkSize        int           `yaml:"chunk_size"`
	RequestSize      int           `yaml:"request_size"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// StagingConfig holds the directory incoming uploads are spooled to
type StagingConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	JWTExpiration     time.Duration `yaml:"jwt_expiration"`
	AdminUsername     string        `yaml:"admin_username"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// LoadFromEnv loads configuration from environment variables. Values from
// config.env (current or parent directory) are applied first without
// overriding variables that are already set.
func LoadFromEnv() *Config {
	_ = godotenv.Load("config.env")
	_ = godotenv.Load("../config.env")

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 0),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "mediabin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "mediabin"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			InfoTTL:  getEnvDuration("BLOB_INFO_TTL", 10*time.Minute),
		},
		Transport: TransportConfig{
			Type:       getEnv("TRANSPORT_TYPE", "telegram"),
			AppID:      getEnvInt("API_ID", 0),
			AppHash:    getEnv("API_HASH", ""),
			BotToken:   getEnv("BOT_TOKEN", ""),
			Channel:    getEnvInt64("BIN_CHANNEL", 0),
			SessionDir: getEnv("SESSION_DIR", "./sessions"),
		},
		Pool: PoolConfig{
			Size:             getEnvInt("TELEGRAM_POOL_SIZE", 4),
			StartRetries:     getEnvInt("POOL_START_RETRIES", 3),
			FloodMargin:      getEnvDuration("POOL_FLOOD_MARGIN", time.Second),
			CallTimeout:      getEnvDuration("POOL_CALL_TIMEOUT", 30*time.Second),
			Selector:         getEnv("POOL_SELECTOR", "random"),
			MaxInFlight:      getEnvInt64("POOL_MAX_IN_FLIGHT", 0),
			ChunkSize:        getEnvInt("STREAM_CHUNK_SIZE", 1024*1024),
			RequestSize:      getEnvInt("STREAM_REQUEST_SIZE", 512*1024),
			ProgressInterval: getEnvDuration("UPLOAD_PROGRESS_INTERVAL", 500*time.Millisecond),
		},
		Staging: StagingConfig{
			Dir: getEnv("STAGING_DIR", "./staging"),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", "your-secret-key"),
			JWTExpiration:     getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
			AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Validate checks the settings the service cannot start without
func (c *Config) Validate() error {
	var errs []error

	if c.Pool.Size < 1 {
		errs = append(errs, fmt.Errorf("pool size must be at least 1, got %d", c.Pool.Size))
	}
	if c.Pool.RequestSize <= 0 || c.Pool.ChunkSize < c.Pool.RequestSize {
		errs = append(errs, fmt.Errorf("invalid stream sizes: chunk %d, request %d", c.Pool.ChunkSize, c.Pool.RequestSize))
	}

	switch c.Transport.Type {
	case "memory":
	case "telegram":
		if c.Transport.AppID == 0 || c.Transport.AppHash == "" || c.Transport.BotToken == "" {
			errs = append(errs, errors.New("missing telegram credentials (API_ID, API_HASH, BOT_TOKEN)"))
		}
		if c.Transport.Channel == 0 {
			errs = append(errs, errors.New("missing BIN_CHANNEL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported transport type: %s", c.Transport.Type))
	}

	return errors.Join(errs...)
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SetupLogging configures the global zerolog logger
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if l.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
