package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// Values come from env (or a .env file loaded by main); viper only supplies defaults.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Provider  ProviderConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. Without it the scheduler falls back to a Postgres
// advisory lock for single-owner ticks.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ProviderConfig describes the telephony provider HTTP API and the parent
// account under which tenant sub-accounts are created.
type ProviderConfig struct {
	APIURL            string
	ParentAccountID   string
	ParentAPIKey      string
	TemplateAccountID string
	CallbackURL       string
	CallbackSecret    string
	CountryCode       string
	Timeout           time.Duration
	RatePerSec        int
}

type SchedulerConfig struct {
	Enabled           bool
	Interval          time.Duration
	StartDelay        time.Duration
	BatchSize         int
	Concurrency       int
	StoreTimeout      time.Duration
	SingleOwner       bool
	StalePendingAfter time.Duration

	// VerificationSyncSchedule is a cron spec for polling verification status.
	VerificationSyncSchedule string
}

type DispatchConfig struct {
	Timezone string
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	c := Config{}

	c.App.Env = strings.TrimSpace(v.GetString("APP_ENV"))
	c.App.Port = v.GetInt("APP_PORT")
	c.App.LogLevel = strings.TrimSpace(v.GetString("LOG_LEVEL"))

	c.DB.Host = strings.TrimSpace(v.GetString("DB_HOST"))
	c.DB.Port = v.GetInt("DB_PORT")
	c.DB.User = strings.TrimSpace(v.GetString("DB_USER"))
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(v.GetString("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(v.GetString("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(v.GetString("REDIS_HOST"))
	c.Redis.Port = v.GetInt("REDIS_PORT")
	c.Redis.Password = v.GetString("REDIS_PASSWORD")

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(v.GetString("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(v.GetString("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = v.GetDuration("JWT_REFRESH_TTL")

	c.Provider.APIURL = strings.TrimRight(strings.TrimSpace(v.GetString("PROVIDER_API_URL")), "/")
	c.Provider.ParentAccountID = strings.TrimSpace(v.GetString("PROVIDER_PARENT_ACCOUNT_ID"))
	c.Provider.ParentAPIKey = v.GetString("PROVIDER_PARENT_API_KEY")
	c.Provider.TemplateAccountID = strings.TrimSpace(v.GetString("PROVIDER_TEMPLATE_ACCOUNT_ID"))
	c.Provider.CallbackURL = strings.TrimSpace(v.GetString("PROVIDER_CALLBACK_URL"))
	c.Provider.CallbackSecret = v.GetString("PROVIDER_CALLBACK_SECRET")
	c.Provider.CountryCode = strings.ToUpper(strings.TrimSpace(v.GetString("PROVIDER_COUNTRY_CODE")))
	c.Provider.Timeout = v.GetDuration("PROVIDER_TIMEOUT")
	c.Provider.RatePerSec = v.GetInt("PROVIDER_RATE_PER_SEC")

	c.Scheduler.Enabled = v.GetBool("SCHEDULER_ENABLED")
	c.Scheduler.Interval = v.GetDuration("SCHEDULER_INTERVAL")
	c.Scheduler.StartDelay = v.GetDuration("SCHEDULER_START_DELAY")
	c.Scheduler.BatchSize = v.GetInt("SCHEDULER_BATCH_SIZE")
	c.Scheduler.Concurrency = v.GetInt("SCHEDULER_CONCURRENCY")
	c.Scheduler.StoreTimeout = v.GetDuration("SCHEDULER_STORE_TIMEOUT")
	c.Scheduler.SingleOwner = v.GetBool("SCHEDULER_SINGLE_OWNER")
	c.Scheduler.StalePendingAfter = v.GetDuration("SCHEDULER_STALE_PENDING_AFTER")
	c.Scheduler.VerificationSyncSchedule = strings.TrimSpace(v.GetString("VERIFICATION_SYNC_SCHEDULE"))

	c.Dispatch.Timezone = strings.TrimSpace(v.GetString("DISPATCH_TIMEZONE"))

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("REDIS_PORT", 6379)

	v.SetDefault("PROVIDER_TIMEOUT", "30s")
	v.SetDefault("PROVIDER_RATE_PER_SEC", 5)
	v.SetDefault("PROVIDER_COUNTRY_CODE", "US")

	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_INTERVAL", "30s")
	v.SetDefault("SCHEDULER_START_DELAY", "10s")
	v.SetDefault("SCHEDULER_BATCH_SIZE", 50)
	v.SetDefault("SCHEDULER_CONCURRENCY", 4)
	v.SetDefault("SCHEDULER_STORE_TIMEOUT", "10s")
	v.SetDefault("SCHEDULER_SINGLE_OWNER", false)
	v.SetDefault("SCHEDULER_STALE_PENDING_AFTER", "15m")
	v.SetDefault("VERIFICATION_SYNC_SCHEDULE", "@every 15m")

	v.SetDefault("DISPATCH_TIMEZONE", "UTC")
}

// Validate reports every problem at once and fills environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Provider.APIURL == "" {
		errs = append(errs, errors.New("PROVIDER_API_URL is required"))
	} else if !strings.HasPrefix(c.Provider.APIURL, "http://") && !strings.HasPrefix(c.Provider.APIURL, "https://") {
		errs = append(errs, fmt.Errorf("PROVIDER_API_URL must be an http(s) URL, got %q", c.Provider.APIURL))
	}
	if c.Provider.ParentAccountID == "" {
		errs = append(errs, errors.New("PROVIDER_PARENT_ACCOUNT_ID is required"))
	}
	if c.Provider.ParentAPIKey == "" {
		errs = append(errs, errors.New("PROVIDER_PARENT_API_KEY is required"))
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.RatePerSec <= 0 {
		c.Provider.RatePerSec = 5
	}
	if c.Provider.CountryCode == "" {
		c.Provider.CountryCode = "US"
	}
	if c.IsProduction() && c.Provider.CallbackSecret == "" {
		errs = append(errs, errors.New("PROVIDER_CALLBACK_SECRET is required in production"))
	}

	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 30 * time.Second
	}
	if c.Scheduler.StartDelay < 0 {
		errs = append(errs, errors.New("SCHEDULER_START_DELAY must not be negative"))
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 50
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = 4
	}
	if c.Scheduler.StoreTimeout <= 0 {
		c.Scheduler.StoreTimeout = 10 * time.Second
	}
	if c.Scheduler.StalePendingAfter <= 0 {
		c.Scheduler.StalePendingAfter = 15 * time.Minute
	}
	if c.Scheduler.StalePendingAfter <= c.Provider.Timeout {
		errs = append(errs, errors.New("SCHEDULER_STALE_PENDING_AFTER must be greater than PROVIDER_TIMEOUT"))
	}

	if c.Dispatch.Timezone == "" {
		c.Dispatch.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Dispatch.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("DISPATCH_TIMEZONE is not a valid IANA zone: %q", c.Dispatch.Timezone))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisEnabled reports whether a Redis endpoint was configured.
func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
