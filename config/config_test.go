package config

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with an empty HOME.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, SourceSubstitute, cfg.Source)
	assert.Equal(t, "https://open.tiktokapis.com/v2/", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 600, cfg.API.RateLimit)
	assert.Equal(t, time.Minute, cfg.API.RateWindow)
	assert.Equal(t, 10*time.Minute, cfg.API.CacheTTL)
	assert.Equal(t, "data/mock_videos.json", cfg.Substitute.FixturePath)
	assert.Equal(t, 1000, cfg.Substitute.RateLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Substitute.Latency)
	assert.False(t, cfg.Substitute.Fabricate)
	assert.True(t, cfg.Batch.SkipOnError)
	assert.Equal(t, 1, cfg.Batch.Concurrency)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 5, cfg.Storage.ConnectRetries)
	assert.Equal(t, 30, cfg.Storage.RetentionDays)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, filepath.Join(dir, "custom.yaml"), `
source: remote
api:
  access_token: file-token
  pacing_rps: 2.5
substitute:
  latency: 10ms
batch:
  concurrency: 4
  skip_on_error: false
storage:
  driver: json
logging:
  format: json
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, SourceRemote, cfg.Source)
	assert.Equal(t, "file-token", cfg.API.AccessToken)
	assert.InDelta(t, 2.5, cfg.API.PacingRPS, 1e-9)
	assert.Equal(t, 10*time.Millisecond, cfg.Substitute.Latency)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.False(t, cfg.Batch.SkipOnError)
	assert.Equal(t, "json", cfg.Storage.Driver)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 600, cfg.API.RateLimit, "unset keys keep defaults")
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "tokstats.yaml"), "storage:\n  retention_days: 7\n")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Storage.RetentionDays)
}

func TestLoadEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("TOKSTATS_API_RATE_LIMIT", "100")
	t.Setenv("TOKSTATS_STORAGE_DRIVER", "json")
	t.Setenv("USE_MOCK_API", "false")
	t.Setenv("TIKTOK_ACCESS_TOKEN", "legacy-token")
	t.Setenv("DATA_RETENTION_DAYS", "14")
	t.Setenv("ANONYMIZE_DATA", "true")

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, SourceRemote, cfg.Source)
	assert.Equal(t, "legacy-token", cfg.API.AccessToken)
	assert.Equal(t, 100, cfg.API.RateLimit)
	assert.Equal(t, "json", cfg.Storage.Driver)
	assert.Equal(t, 14, cfg.Storage.RetentionDays)
	assert.True(t, cfg.Privacy.Anonymize)
}

func TestLoadSourceEnvBeatsMockFlag(t *testing.T) {
	isolate(t)
	t.Setenv("USE_MOCK_API", "false")
	t.Setenv("TOKSTATS_SOURCE", "substitute")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, SourceSubstitute, cfg.Source)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	envFile := writeFile(t, filepath.Join(dir, "test.env"), "TOKSTATS_BATCH_CONCURRENCY=3\n")
	t.Cleanup(func() { os.Unsetenv("TOKSTATS_BATCH_CONCURRENCY") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Batch.Concurrency)
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)

	t.Run("malformed file", func(t *testing.T) {
		path := writeFile(t, filepath.Join(dir, "bad.yaml"), "source: [unterminated\n")
		_, err := Load(path, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading config")
	})

	t.Run("remote without token", func(t *testing.T) {
		path := writeFile(t, filepath.Join(dir, "remote.yaml"), "source: remote\n")
		_, err := Load(path, "")
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "api.access_token", ve.Field)
	})
}

func fields(err error) []string {
	var out []string
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return nil
	}
	for _, e := range joined.Unwrap() {
		var ve *ValidationError
		if errors.As(e, &ve) {
			out = append(out, ve.Field)
		}
	}
	return out
}

func TestValidateReportsEveryViolation(t *testing.T) {
	cfg := Default()
	cfg.Source = "scraper"
	cfg.API.RateLimit = 0
	cfg.Batch.Concurrency = 0
	cfg.Storage.Driver = "mongo"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ElementsMatch(t, []string{
		"source", "api.rate_limit", "batch.concurrency", "storage.driver", "logging.level",
	}, fields(err))
	assert.True(t, strings.Contains(err.Error(), `got "scraper"`))
}

func TestValidate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	short := base64.StdEncoding.EncodeToString(make([]byte, 16))

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "remote with token", mutate: func(c *Config) { c.Source = SourceRemote; c.API.AccessToken = "t" }},
		{name: "encrypt with key", mutate: func(c *Config) { c.Privacy.Encrypt = true; c.Privacy.EncryptionKey = key }},
		{name: "encrypt with short key", mutate: func(c *Config) { c.Privacy.Encrypt = true; c.Privacy.EncryptionKey = short }, field: "privacy.encryption_key"},
		{name: "encrypt with garbage key", mutate: func(c *Config) { c.Privacy.Encrypt = true; c.Privacy.EncryptionKey = "!!" }, field: "privacy.encryption_key"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, field: "storage.postgres_dsn"},
		{name: "postgres with dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.PostgresDSN = "postgres://localhost/db" }},
		{name: "negative pacing", mutate: func(c *Config) { c.API.PacingRPS = -1 }, field: "api.pacing_rps"},
		{name: "zero substitute window", mutate: func(c *Config) { c.Substitute.RateWindow = 0 }, field: "substitute.rate_window"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, field: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, []string{tt.field}, fields(err))
		})
	}
}

func TestLoadWithOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("TOKSTATS_SOURCE", "remote")

	cfg, err := LoadWithOverrides("", "", map[string]any{"source": SourceSubstitute})
	require.NoError(t, err, "override wins before validation runs")
	assert.Equal(t, SourceSubstitute, cfg.Source)
}
