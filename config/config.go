// Package config loads the worker configuration from environment variables
// with an optional YAML file overlay. Environment variables are the primary
// source; the file exists for deployments that prefer checked-in settings
// over long env lists. Credentials are env-only and never read from the
// file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	// Application
	App AppConfig

	// Platform credentials
	Credentials CredentialsConfig

	// Platform API behavior
	Platform PlatformConfig

	// Polling
	Polling PollingConfig

	// Observability
	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// CredentialsConfig holds the platform account. The account is a parent or
// student login on the school platform; the worker only ever reads with it.
type CredentialsConfig struct {
	// EmailOrUsername is the login identifier.
	EmailOrUsername string

	// Password is used transiently to derive the login hash; it is never
	// logged or persisted.
	Password string

	// InstitutionID preselects the school for accounts that span several.
	// Zero lets single-school accounts log in without a choice.
	InstitutionID int64
}

// PlatformConfig holds upstream API settings.
type PlatformConfig struct {
	// BaseURL of the platform.
	BaseURL string

	RequestTimeout time.Duration

	// Rate limiting, to stay a polite unofficial client.
	RequestsPerSecond float64
	RateLimitBurst    int

	// Retry behavior for transient network failures.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Circuit breaker settings.
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// PollingConfig holds poll cadence and window settings.
type PollingConfig struct {
	// Per-domain intervals.
	ScheduleInterval time.Duration
	HomeworkInterval time.Duration
	ExamsInterval    time.Duration
	GradesInterval   time.Duration
	LettersInterval  time.Duration

	// EnableGrades switches the grades domain on. Default off.
	EnableGrades bool

	// ScheduleLookaheadWeeks extends the schedule window beyond the
	// current school week.
	ScheduleLookaheadWeeks int

	// ExamLookaheadWeeks sets how far ahead the exam window reaches.
	ExamLookaheadWeeks int

	// MaxConcurrent bounds parallel fetches within one poll cycle.
	MaxConcurrent int
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// Load loads configuration from environment variables, then overlays the
// YAML file named by SYNC_CONFIG_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		App:           loadAppConfig(),
		Credentials:   loadCredentialsConfig(),
		Platform:      loadPlatformConfig(),
		Polling:       loadPollingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv("SYNC_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))

	return AppConfig{
		Name:            getEnv("APP_NAME", "schulmanager-sync"),
		Environment:     env,
		Debug:           env == EnvDevelopment || getEnvBool("APP_DEBUG", false),
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadCredentialsConfig() CredentialsConfig {
	return CredentialsConfig{
		EmailOrUsername: getEnv("SCHULMANAGER_USERNAME", ""),
		Password:        getEnv("SCHULMANAGER_PASSWORD", ""),
		InstitutionID:   getEnvInt64("SCHULMANAGER_INSTITUTION_ID", 0),
	}
}

func loadPlatformConfig() PlatformConfig {
	return PlatformConfig{
		BaseURL:                 getEnv("SCHULMANAGER_BASE_URL", "https://login.schulmanager-online.de"),
		RequestTimeout:          getEnvDuration("SCHULMANAGER_REQUEST_TIMEOUT", 30*time.Second),
		RequestsPerSecond:       getEnvFloat("SCHULMANAGER_RATE_LIMIT", 2.0),
		RateLimitBurst:          getEnvInt("SCHULMANAGER_RATE_LIMIT_BURST", 5),
		MaxRetries:              getEnvInt("SCHULMANAGER_MAX_RETRIES", 3),
		RetryBaseDelay:          getEnvDuration("SCHULMANAGER_RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:           getEnvDuration("SCHULMANAGER_RETRY_MAX_DELAY", 10*time.Second),
		CircuitBreakerThreshold: getEnvInt("SCHULMANAGER_CB_THRESHOLD", 5),
		CircuitBreakerTimeout:   getEnvDuration("SCHULMANAGER_CB_TIMEOUT", 30*time.Second),
	}
}

func loadPollingConfig() PollingConfig {
	return PollingConfig{
		ScheduleInterval:       getEnvDuration("POLL_SCHEDULE_INTERVAL", 5*time.Minute),
		HomeworkInterval:       getEnvDuration("POLL_HOMEWORK_INTERVAL", time.Hour),
		ExamsInterval:          getEnvDuration("POLL_EXAMS_INTERVAL", time.Hour),
		GradesInterval:         getEnvDuration("POLL_GRADES_INTERVAL", time.Hour),
		LettersInterval:        getEnvDuration("POLL_LETTERS_INTERVAL", time.Hour),
		EnableGrades:           getEnvBool("POLL_ENABLE_GRADES", false),
		ScheduleLookaheadWeeks: getEnvInt("POLL_SCHEDULE_LOOKAHEAD_WEEKS", 1),
		ExamLookaheadWeeks:     getEnvInt("POLL_EXAM_LOOKAHEAD_WEEKS", 8),
		MaxConcurrent:          getEnvInt("POLL_MAX_CONCURRENT", 4),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// YAML OVERLAY
// ══════════════════════════════════════════════════════════════════════════════

// yamlDuration accepts Go duration strings ("5m", "1h30m") in the YAML
// file, which yaml.v3 does not decode into time.Duration on its own.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = yamlDuration(parsed)
	return nil
}

// fileConfig mirrors the YAML file. Pointer fields distinguish "absent"
// from zero values so the file only overrides what it names.
type fileConfig struct {
	Platform struct {
		BaseURL           *string       `yaml:"base_url"`
		RequestTimeout    *yamlDuration `yaml:"request_timeout"`
		RequestsPerSecond *float64      `yaml:"requests_per_second"`
	} `yaml:"platform"`

	Polling struct {
		ScheduleInterval       *yamlDuration `yaml:"schedule_interval"`
		HomeworkInterval       *yamlDuration `yaml:"homework_interval"`
		ExamsInterval          *yamlDuration `yaml:"exams_interval"`
		GradesInterval         *yamlDuration `yaml:"grades_interval"`
		LettersInterval        *yamlDuration `yaml:"letters_interval"`
		EnableGrades           *bool         `yaml:"enable_grades"`
		ScheduleLookaheadWeeks *int          `yaml:"schedule_lookahead_weeks"`
		ExamLookaheadWeeks     *int          `yaml:"exam_lookahead_weeks"`
		MaxConcurrent          *int          `yaml:"max_concurrent"`
	} `yaml:"polling"`

	Observability struct {
		LogLevel  *string `yaml:"log_level"`
		LogFormat *string `yaml:"log_format"`
	} `yaml:"observability"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	setString(&c.Platform.BaseURL, fc.Platform.BaseURL)
	setDuration(&c.Platform.RequestTimeout, fc.Platform.RequestTimeout)
	if fc.Platform.RequestsPerSecond != nil {
		c.Platform.RequestsPerSecond = *fc.Platform.RequestsPerSecond
	}

	setDuration(&c.Polling.ScheduleInterval, fc.Polling.ScheduleInterval)
	setDuration(&c.Polling.HomeworkInterval, fc.Polling.HomeworkInterval)
	setDuration(&c.Polling.ExamsInterval, fc.Polling.ExamsInterval)
	setDuration(&c.Polling.GradesInterval, fc.Polling.GradesInterval)
	setDuration(&c.Polling.LettersInterval, fc.Polling.LettersInterval)
	if fc.Polling.EnableGrades != nil {
		c.Polling.EnableGrades = *fc.Polling.EnableGrades
	}
	setInt(&c.Polling.ScheduleLookaheadWeeks, fc.Polling.ScheduleLookaheadWeeks)
	setInt(&c.Polling.ExamLookaheadWeeks, fc.Polling.ExamLookaheadWeeks)
	setInt(&c.Polling.MaxConcurrent, fc.Polling.MaxConcurrent)

	setString(&c.Observability.LogLevel, fc.Observability.LogLevel)
	setString(&c.Observability.LogFormat, fc.Observability.LogFormat)

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *yamlDuration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Credentials.EmailOrUsername == "" {
		errs = append(errs, "SCHULMANAGER_USERNAME is required")
	}
	if c.Credentials.Password == "" {
		errs = append(errs, "SCHULMANAGER_PASSWORD is required")
	}
	if c.Platform.BaseURL == "" {
		errs = append(errs, "SCHULMANAGER_BASE_URL must not be empty")
	}
	if c.Polling.MaxConcurrent < 1 {
		errs = append(errs, "POLL_MAX_CONCURRENT must be at least 1")
	}
	if c.Polling.ScheduleLookaheadWeeks < 0 {
		errs = append(errs, "POLL_SCHEDULE_LOOKAHEAD_WEEKS must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
