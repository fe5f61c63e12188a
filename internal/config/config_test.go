package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IMPORTER_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Australia/Sydney", cfg.Browser.TimezoneID)
	assert.Equal(t, "/images/products", cfg.Media.PublicPath)
	assert.Equal(t, 50, cfg.Importer.MaxPages)
	assert.Equal(t, int64(10000), cfg.Importer.RelayStreamMaxLen)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
scraper:
  base_url: https://trade.nursery.example.com
  settle_delay: 500ms
media:
  blob_provider: s3
  s3_bucket: nursery-media
  migrated_prefixes:
    - https://media.storefront.example.com/
importer:
  max_pages: 5
`), 0o644))

	t.Setenv("IMPORTER_CONFIG", path)
	t.Setenv("PORT", "9191")
	t.Setenv("SCRAPER_USERNAME", "buyer")
	t.Setenv("SCRAPER_PASSWORD", "secret")
	t.Setenv("IMPORTER_WORKER_INTERVAL", "3s")
	t.Setenv("IMPORTER_MAX_PAGES", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "https://trade.nursery.example.com", cfg.Scraper.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Scraper.SettleDelay)
	assert.Equal(t, "buyer", cfg.Scraper.Username)
	assert.Equal(t, "s3", cfg.Media.BlobProvider)
	assert.Equal(t, []string{"https://media.storefront.example.com/"}, cfg.Media.MigratedPrefixes)
	assert.Equal(t, 3*time.Second, cfg.Importer.WorkerInterval)
	assert.Equal(t, 5, cfg.Importer.MaxPages, "unparsable env values keep the file value")
	assert.Equal(t, 24, cfg.Scraper.PageSize, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("IMPORTER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.ErrorContains(t, err, "failed to open config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"username without password", func(c *Config) { c.Scraper.Username = "buyer" }, "password is required"},
		{"database url replaces host", func(c *Config) { c.Database.Host = ""; c.Database.URL = "postgres://localhost/nursery" }, ""},
		{"missing database", func(c *Config) { c.Database.Host = "" }, "database host and name"},
		{"s3 without bucket", func(c *Config) { c.Media.BlobProvider = "s3" }, "S3_BUCKET"},
		{"cloudinary without url", func(c *Config) { c.Media.BlobProvider = "cloudinary" }, "CLOUDINARY_URL"},
		{"unknown provider", func(c *Config) { c.Media.BlobProvider = "ftp" }, "unknown blob provider"},
		{"zero attempts", func(c *Config) { c.Media.MaxAttempts = 0 }, "max attempts"},
		{"zero worker interval", func(c *Config) { c.Importer.WorkerInterval = 0 }, "intervals must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("LIST_KEY", " a, ,b ")
	assert.Equal(t, []string{"a", "b"}, getEnvList("LIST_KEY", nil))
	assert.Equal(t, []string{"x"}, getEnvList("LIST_KEY_UNSET", []string{"x"}))
}
