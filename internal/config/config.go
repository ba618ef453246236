package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"taskd/internal/db"
	"taskd/internal/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort     string
	DatabaseURL string
	Pool        db.PoolOptions

	LogLevel string
	LogJSON  bool
	LogFile  logger.FileOptions

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	APIRateLimit  int
	APIRateWindow time.Duration
}

// Load reads .env (when present) and the environment.
// Every malformed value is reported, wrapped in db.ErrConfig.
func Load() (*Config, error) {
	_ = godotenv.Load()

	r := &reader{}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		dbURL = strings.TrimSpace(os.Getenv("DB_URL"))
	}
	if dbURL == "" {
		r.errs = append(r.errs, errors.New("DATABASE_URL is not set"))
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	// pool size is the idle floor, overflow the burst on top of it
	poolSize := r.getInt("DB_POOL_SIZE", 5)
	overflow := r.getInt("DB_MAX_OVERFLOW", 10)
	if poolSize < 1 {
		r.errs = append(r.errs, fmt.Errorf("DB_POOL_SIZE must be at least 1, got %d", poolSize))
	}
	if overflow < 0 {
		r.errs = append(r.errs, fmt.Errorf("DB_MAX_OVERFLOW must not be negative, got %d", overflow))
	}
	if poolSize > math.MaxInt32 || overflow > math.MaxInt32-max(poolSize, 0) {
		r.errs = append(r.errs, fmt.Errorf("DB_POOL_SIZE + DB_MAX_OVERFLOW must not exceed %d, got %d + %d", math.MaxInt32, poolSize, overflow))
		poolSize, overflow = 5, 10
	}

	pool := db.DefaultPoolOptions()
	pool.MaxConnections = int32(poolSize + overflow)
	pool.MaxIdle = int32(poolSize)
	pool.HealthCheckOnCheckout = r.getBool("DB_POOL_PRE_PING", true)
	pool.AcquireTimeout = r.getSeconds("DB_POOL_TIMEOUT", 30*time.Second)
	pool.ConnMaxLifetime = r.getSeconds("DB_POOL_RECYCLE", time.Hour)
	pool.StatementTimeout = r.getSeconds("DB_STATEMENT_TIMEOUT", 0)
	pool.ShutdownTimeout = r.getSeconds("DB_SHUTDOWN_TIMEOUT", 10*time.Second)
	pool.LogQueries = r.getBool("SQL_ECHO", false)
	if pool.AcquireTimeout == 0 {
		r.errs = append(r.errs, errors.New("DB_POOL_TIMEOUT must be positive"))
	}
	if pool.ShutdownTimeout == 0 {
		r.errs = append(r.errs, errors.New("DB_SHUTDOWN_TIMEOUT must be positive"))
	}

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	cfg := &Config{
		AppPort:     port,
		DatabaseURL: dbURL,
		Pool:        pool,
		LogLevel:    level,
		LogJSON:     r.getBool("LOG_JSON", false),
		LogFile: logger.FileOptions{
			Path:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  r.getInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: r.getInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: r.getInt("LOG_MAX_AGE_DAYS", 30),
			Compress:   r.getBool("LOG_COMPRESS", true),
		},
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       r.getInt("REDIS_DB", 0),
		APIRateLimit:  r.getInt("API_RATE_LIMIT", 120),
		APIRateWindow: r.getSeconds("API_RATE_WINDOW_SECONDS", time.Minute),
	}

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", db.ErrConfig, errors.Join(r.errs...))
	}
	return cfg, nil
}

// reader collects parse errors so that all bad variables show up at once
type reader struct {
	errs []error
}

func (r *reader) getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (r *reader) getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// getSeconds accepts a plain number of seconds or a Go duration such as "1m30s"
func (r *reader) getSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f < 0 {
			r.errs = append(r.errs, fmt.Errorf("%s: must not be negative", key))
			return def
		}
		return time.Duration(f * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}
