// Package config loads the bot configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/antbot/course-bot/internal/domain/course"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Telegram     TelegramConfig
	Course       CourseConfig
	Scheduler    SchedulerConfig
	Notification NotificationConfig
	HTTP         HTTPConfig

	// Feature Flags
	Features *FeatureFlags

	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool
	Version     string

	// Timezone used to render times to users (default: Europe/Moscow)
	Timezone string
	Location *time.Location

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// PIDFile is the singleton guard used when Redis is disabled.
	PIDFile string
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// AutoMigrate applies pending migrations on bot start.
	AutoMigrate bool
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Disabled turns off the lesson cache and the Redis instance lock.
	Disabled bool

	LockTTL time.Duration
}

// TelegramConfig holds Bot API settings.
type TelegramConfig struct {
	Token          string
	APIURL         string
	PollingTimeout time.Duration

	// RateLimit is the global send rate in messages per second.
	RateLimit int

	// AdminIDs may review homework and run admin commands.
	AdminIDs []int64

	// AdminGroupID receives review requests. Zero sends them to each admin.
	AdminGroupID int64
}

// CourseConfig locates course material and sets the delivery delays.
type CourseConfig struct {
	CatalogPath string
	ContentDir  string

	// TestMode shortens every delay so a whole course can be walked through quickly.
	TestMode        bool
	TestFileDelay   time.Duration
	TestLessonDelay time.Duration
	LessonDelay     time.Duration

	CacheTTL time.Duration
}

// SchedulerConfig holds background loop settings.
type SchedulerConfig struct {
	Enabled bool

	DeliveryInterval  time.Duration
	ReconcileInterval time.Duration
	CleanupCron       string
	Retention         time.Duration
	BatchSize         int
	JobTimeout        time.Duration
}

// NotificationConfig controls the dispatcher retry policy.
type NotificationConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// HTTPConfig holds the health endpoint listener.
type HTTPConfig struct {
	Addr string

	// AdminToken guards POST /jobs/{name}/run. Empty disables the route.
	AdminToken string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
	AddSource bool
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		App:           loadAppConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Telegram:      loadTelegramConfig(),
		Course:        loadCourseConfig(),
		Scheduler:     loadSchedulerConfig(),
		Notification:  loadNotificationConfig(),
		HTTP:          HTTPConfig{Addr: getEnv("HTTP_ADDR", ":8080"), AdminToken: getEnv("HTTP_ADMIN_TOKEN", "")},
		Features:      LoadFeatureFlags(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))
	timezone := getEnv("APP_TIMEZONE", "Europe/Moscow")

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	return AppConfig{
		Name:            getEnv("APP_NAME", "course-bot"),
		Environment:     env,
		Debug:           env == EnvDevelopment || getEnvBool("APP_DEBUG", false),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		Timezone:        timezone,
		Location:        loc,
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
		PIDFile:         getEnv("APP_PID_FILE", "course-bot.pid"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		host := getEnv("DB_HOST", "")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "")
		pass := getEnv("DB_PASSWORD", "")
		name := getEnv("DB_NAME", "postgres")
		sslmode := getEnv("DB_SSLMODE", "disable")

		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, pass, host, port, name, sslmode)
		}
	}

	return DatabaseConfig{
		URL:             url,
		MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
		MinConns:        getEnvInt("DB_MIN_CONNS", 2),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
		LockTTL:      getEnvDuration("REDIS_LOCK_TTL", 30*time.Second),
	}
}

func loadTelegramConfig() TelegramConfig {
	return TelegramConfig{
		Token:          getEnv("TELEGRAM_BOT_TOKEN", ""),
		APIURL:         getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
		PollingTimeout: getEnvDuration("TELEGRAM_POLLING_TIMEOUT", 30*time.Second),
		RateLimit:      getEnvInt("TELEGRAM_RATE_LIMIT", 25),
		AdminIDs:       getEnvInt64Slice("TELEGRAM_ADMIN_IDS", nil),
		AdminGroupID:   getEnvInt64("TELEGRAM_ADMIN_GROUP_ID", 0),
	}
}

func loadCourseConfig() CourseConfig {
	return CourseConfig{
		CatalogPath:     getEnv("COURSE_CATALOG_PATH", "data/courses.yaml"),
		ContentDir:      getEnv("COURSE_CONTENT_DIR", "data/courses"),
		TestMode:        getEnvBool("COURSE_TEST_MODE", false),
		TestFileDelay:   getEnvDuration("COURSE_TEST_FILE_DELAY", 10*time.Second),
		TestLessonDelay: getEnvDuration("COURSE_TEST_LESSON_DELAY", 5*time.Minute),
		LessonDelay:     getEnvDuration("COURSE_LESSON_DELAY", 24*time.Hour),
		CacheTTL:        getEnvDuration("COURSE_CACHE_TTL", 5*time.Minute),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:           getEnvBool("SCHEDULER_ENABLED", true),
		DeliveryInterval:  getEnvDuration("SCHEDULER_DELIVERY_INTERVAL", 35*time.Second),
		ReconcileInterval: getEnvDuration("SCHEDULER_RECONCILE_INTERVAL", 100*time.Second),
		CleanupCron:       getEnv("SCHEDULER_CLEANUP_CRON", "0 3 * * *"),
		Retention:         getEnvDuration("SCHEDULER_RETENTION", 7*24*time.Hour),
		BatchSize:         getEnvInt("SCHEDULER_BATCH_SIZE", 100),
		JobTimeout:        getEnvDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
	}
}

func loadNotificationConfig() NotificationConfig {
	return NotificationConfig{
		MaxAttempts: getEnvInt("NOTIFY_MAX_ATTEMPTS", 3),
		RetryDelay:  getEnvDuration("NOTIFY_RETRY_DELAY", 5*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		AddSource: getEnvBool("LOG_ADD_SOURCE", false),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Telegram.Token == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.Telegram.AdminIDs) == 0 && c.Telegram.AdminGroupID == 0 {
		errs = append(errs, "TELEGRAM_ADMIN_IDS or TELEGRAM_ADMIN_GROUP_ID is required")
	}
	if c.Course.ContentDir == "" {
		errs = append(errs, "COURSE_CONTENT_DIR is required")
	}

	if c.Notification.MaxAttempts < 1 {
		errs = append(errs, "NOTIFY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Notification.RetryDelay < 0 {
		errs = append(errs, "NOTIFY_RETRY_DELAY must not be negative")
	}
	if c.Scheduler.DeliveryInterval <= 0 || c.Scheduler.ReconcileInterval <= 0 {
		errs = append(errs, "scheduler intervals must be positive")
	}
	if c.Scheduler.BatchSize < 0 {
		errs = append(errs, "SCHEDULER_BATCH_SIZE must not be negative")
	}
	if c.Telegram.RateLimit <= 0 {
		errs = append(errs, "TELEGRAM_RATE_LIMIT must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// DelayPolicy returns the delivery delays for the configured mode.
func (c *Config) DelayPolicy() course.DelayPolicy {
	return course.DelayPolicy{
		TestMode:        c.Course.TestMode,
		TestFileDelay:   c.Course.TestFileDelay,
		TestLessonDelay: c.Course.TestLessonDelay,
		LessonDelay:     c.Course.LessonDelay,
	}
}

// IsAdmin reports whether userID is a configured admin.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvInt64Slice(key string, defaultVal []int64) []int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	parts := strings.Split(val, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		i, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		result = append(result, i)
	}
	return result
}
