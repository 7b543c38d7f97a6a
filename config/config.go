// Package config loads tokstats settings from a YAML file, the environment
// and an optional .env file.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Source names.
const (
	SourceRemote     = "remote"
	SourceSubstitute = "substitute"
)

// Config holds all application configuration.
type Config struct {
	Source     string           `mapstructure:"source"`
	API        APIConfig        `mapstructure:"api"`
	Substitute SubstituteConfig `mapstructure:"substitute"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Privacy    PrivacyConfig    `mapstructure:"privacy"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// APIConfig configures the remote source.
type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	AccessToken  string        `mapstructure:"access_token"`
	ClientKey    string        `mapstructure:"client_key"`
	ClientSecret string        `mapstructure:"client_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
	// PacingRPS spaces outbound requests. Zero disables pacing.
	PacingRPS float64       `mapstructure:"pacing_rps"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RedisURL  string        `mapstructure:"redis_url"`
}

// SubstituteConfig configures the offline source.
type SubstituteConfig struct {
	FixturePath    string        `mapstructure:"fixture_path"`
	SyntheticCount int           `mapstructure:"synthetic_count"`
	Latency        time.Duration `mapstructure:"latency"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
	Fabricate      bool          `mapstructure:"fabricate"`
	Seed           uint64        `mapstructure:"seed"`
}

// BatchConfig configures byId lookups.
type BatchConfig struct {
	SkipOnError bool `mapstructure:"skip_on_error"`
	Concurrency int  `mapstructure:"concurrency"`
}

// StorageConfig selects and configures the store.
type StorageConfig struct {
	Driver         string        `mapstructure:"driver"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	PostgresDSN    string        `mapstructure:"postgres_dsn"`
	JSONPath       string        `mapstructure:"json_path"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	ConnectDelay   time.Duration `mapstructure:"connect_delay"`
	RetentionDays  int           `mapstructure:"retention_days"`
}

// PrivacyConfig controls anonymization and export encryption.
type PrivacyConfig struct {
	Anonymize bool `mapstructure:"anonymize"`
	Encrypt   bool `mapstructure:"encrypt"`
	// EncryptionKey is 32 bytes, base64 encoded.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus endpoint served by watch.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// legacyEnv maps the environment names used by earlier deployments.
var legacyEnv = map[string]string{
	"api.access_token":       "TIKTOK_ACCESS_TOKEN",
	"api.client_key":         "TIKTOK_API_KEY",
	"api.client_secret":      "TIKTOK_API_SECRET",
	"storage.postgres_dsn":   "DATABASE_URL",
	"storage.retention_days": "DATA_RETENTION_DAYS",
	"privacy.anonymize":      "ANONYMIZE_DATA",
	"privacy.encryption_key": "ENCRYPTION_KEY",
}

// Load reads configuration. Priority: environment > config file > defaults.
// cfgFile overrides the search for tokstats.yaml; envFile names a dotenv
// file to load first and defaults to ".env".
func Load(cfgFile, envFile string) (*Config, error) {
	return LoadWithOverrides(cfgFile, envFile, nil)
}

// LoadWithOverrides is Load with dotted keys that take precedence over
// every other layer, such as command line flags.
func LoadWithOverrides(cfgFile, envFile string, overrides map[string]any) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("tokstats")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tokstats")
	}

	v.SetEnvPrefix("TOKSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "TOKSTATS_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	applyMockFlag(v)
	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// applyMockFlag honours USE_MOCK_API unless TOKSTATS_SOURCE is set.
func applyMockFlag(v *viper.Viper) {
	if _, ok := os.LookupEnv("TOKSTATS_SOURCE"); ok {
		return
	}
	mock, ok := os.LookupEnv("USE_MOCK_API")
	if !ok {
		return
	}
	if strings.EqualFold(strings.TrimSpace(mock), "true") {
		v.Set("source", SourceSubstitute)
	} else {
		v.Set("source", SourceRemote)
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("source", d.Source)

	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.access_token", "")
	v.SetDefault("api.client_key", "")
	v.SetDefault("api.client_secret", "")
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.rate_limit", d.API.RateLimit)
	v.SetDefault("api.rate_window", d.API.RateWindow)
	v.SetDefault("api.pacing_rps", d.API.PacingRPS)
	v.SetDefault("api.cache_ttl", d.API.CacheTTL)
	v.SetDefault("api.redis_url", "")

	v.SetDefault("substitute.fixture_path", d.Substitute.FixturePath)
	v.SetDefault("substitute.synthetic_count", d.Substitute.SyntheticCount)
	v.SetDefault("substitute.latency", d.Substitute.Latency)
	v.SetDefault("substitute.rate_limit", d.Substitute.RateLimit)
	v.SetDefault("substitute.rate_window", d.Substitute.RateWindow)
	v.SetDefault("substitute.fabricate", d.Substitute.Fabricate)
	v.SetDefault("substitute.seed", d.Substitute.Seed)

	v.SetDefault("batch.skip_on_error", d.Batch.SkipOnError)
	v.SetDefault("batch.concurrency", d.Batch.Concurrency)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.json_path", d.Storage.JSONPath)
	v.SetDefault("storage.connect_retries", d.Storage.ConnectRetries)
	v.SetDefault("storage.connect_delay", d.Storage.ConnectDelay)
	v.SetDefault("storage.retention_days", d.Storage.RetentionDays)

	v.SetDefault("privacy.anonymize", d.Privacy.Anonymize)
	v.SetDefault("privacy.encrypt", d.Privacy.Encrypt)
	v.SetDefault("privacy.encryption_key", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.addr", "")
}

// Default returns configuration with safe defaults.
func Default() *Config {
	return &Config{
		Source: SourceSubstitute,
		API: APIConfig{
			BaseURL:    "https://open.tiktokapis.com/v2/",
			Timeout:    30 * time.Second,
			RateLimit:  600,
			RateWindow: 60 * time.Second,
			CacheTTL:   10 * time.Minute,
		},
		Substitute: SubstituteConfig{
			FixturePath:    "data/mock_videos.json",
			SyntheticCount: 30,
			Latency:        500 * time.Millisecond,
			RateLimit:      1000,
			RateWindow:     60 * time.Second,
		},
		Batch: BatchConfig{SkipOnError: true, Concurrency: 1},
		Storage: StorageConfig{
			Driver:         "sqlite",
			SQLitePath:     "data/tokstats.db",
			JSONPath:       "data/videos.json",
			ConnectRetries: 5,
			ConnectDelay:   5 * time.Second,
			RetentionDays:  30,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks every setting and returns all violations joined.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Source {
	case SourceRemote:
		if c.API.AccessToken == "" {
			fail("api.access_token", "required when source is %s", SourceRemote)
		}
	case SourceSubstitute:
	default:
		fail("source", "must be %s or %s, got %q", SourceRemote, SourceSubstitute, c.Source)
	}

	if c.API.Timeout <= 0 {
		fail("api.timeout", "must be positive")
	}
	if c.API.RateLimit <= 0 {
		fail("api.rate_limit", "must be positive")
	}
	if c.API.RateWindow <= 0 {
		fail("api.rate_window", "must be positive")
	}
	if c.API.PacingRPS < 0 {
		fail("api.pacing_rps", "must not be negative")
	}
	if c.Substitute.RateLimit <= 0 {
		fail("substitute.rate_limit", "must be positive")
	}
	if c.Substitute.RateWindow <= 0 {
		fail("substitute.rate_window", "must be positive")
	}
	if c.Substitute.SyntheticCount < 0 {
		fail("substitute.synthetic_count", "must not be negative")
	}
	if c.Batch.Concurrency < 1 {
		fail("batch.concurrency", "must be at least 1")
	}

	switch c.Storage.Driver {
	case "sqlite", "json":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			fail("storage.postgres_dsn", "required for the postgres driver")
		}
	default:
		fail("storage.driver", "must be sqlite, postgres or json, got %q", c.Storage.Driver)
	}
	if c.Storage.ConnectRetries < 0 {
		fail("storage.connect_retries", "must not be negative")
	}
	if c.Storage.RetentionDays < 0 {
		fail("storage.retention_days", "must not be negative")
	}

	if c.Privacy.Encrypt {
		key, err := base64.StdEncoding.DecodeString(c.Privacy.EncryptionKey)
		if err != nil || len(key) != 32 {
			fail("privacy.encryption_key", "must be 32 bytes, base64 encoded")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		fail("logging.level", "must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		fail("logging.format", "must be text or json")
	}

	return errors.Join(errs...)
}
