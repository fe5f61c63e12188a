package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Browser  BrowserConfig  `yaml:"browser"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Media    MediaConfig    `yaml:"media"`
	API      APIConfig      `yaml:"api"`
	Importer ImporterConfig `yaml:"importer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type ScraperConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PageSize     int           `yaml:"page_size"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	ScrollPasses int           `yaml:"scroll_passes"`
	// RequestInterval is the minimum spacing of requests to the wholesaler.
	RequestInterval time.Duration `yaml:"request_interval"`
}

type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	UserAgent      string        `yaml:"user_agent"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	TimezoneID     string        `yaml:"timezone"`
	Locale         string        `yaml:"locale"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Enabled turns on the outbox relay and the shared stop signal.
	Enabled bool `yaml:"enabled"`
}

type MediaConfig struct {
	Dir         string `yaml:"dir"`
	PublicPath  string `yaml:"public_path"`
	MaxAttempts int    `yaml:"max_attempts"`
	// BlobProvider is "", "s3" or "cloudinary".
	BlobProvider  string `yaml:"blob_provider"`
	S3Bucket      string `yaml:"s3_bucket"`
	S3Region      string `yaml:"s3_region"`
	S3BaseURL     string `yaml:"s3_base_url"`
	CloudinaryURL string `yaml:"cloudinary_url"`
	// MigratedPrefixes are URL prefixes already hosted by the storefront.
	MigratedPrefixes []string `yaml:"migrated_prefixes"`
}

type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type ImporterConfig struct {
	APIPageSize    int           `yaml:"api_page_size"`
	MaxPages       int           `yaml:"max_pages"`
	WorkerInterval time.Duration `yaml:"worker_interval"`
	RelayInterval  time.Duration `yaml:"relay_interval"`
	RelayBatchSize int           `yaml:"relay_batch_size"`
	// RelayStreamMaxLen of -1 leaves the catalog stream untrimmed.
	RelayStreamMaxLen int64         `yaml:"relay_stream_max_len"`
	StopSignalTTL     time.Duration `yaml:"stop_signal_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*", "https://localhost:*"},
		},
		Scraper: ScraperConfig{
			BaseURL:         "https://www.wholesale-nursery.example.com.au",
			PageSize:        24,
			SettleDelay:     2 * time.Second,
			ScrollPasses:    3,
			RequestInterval: 2 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			TimezoneID:     "Australia/Sydney",
			Locale:         "en-AU",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "nursery",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Media: MediaConfig{
			Dir:         "public/images/products",
			PublicPath:  "/images/products",
			MaxAttempts: 3,
		},
		API: APIConfig{
			MinInterval: time.Second,
		},
		Importer: ImporterConfig{
			APIPageSize:       50,
			MaxPages:          50,
			WorkerInterval:    10 * time.Second,
			RelayInterval:     5 * time.Second,
			RelayBatchSize:    100,
			RelayStreamMaxLen: 10000,
			StopSignalTTL:     24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// IMPORTER_CONFIG and the environment, in that order. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("IMPORTER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Scraper.BaseURL = getEnv("SCRAPER_BASE_URL", c.Scraper.BaseURL)
	c.Scraper.Username = getEnv("SCRAPER_USERNAME", c.Scraper.Username)
	c.Scraper.Password = getEnv("SCRAPER_PASSWORD", c.Scraper.Password)
	c.Scraper.PageSize = getEnvInt("SCRAPER_PAGE_SIZE", c.Scraper.PageSize)
	c.Scraper.SettleDelay = getEnvDuration("SCRAPER_SETTLE_DELAY", c.Scraper.SettleDelay)
	c.Scraper.ScrollPasses = getEnvInt("SCRAPER_SCROLL_PASSES", c.Scraper.ScrollPasses)
	c.Scraper.RequestInterval = getEnvDuration("SCRAPER_REQUEST_INTERVAL", c.Scraper.RequestInterval)

	c.Browser.Headless = getEnvBool("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.Timeout = getEnvDuration("BROWSER_TIMEOUT", c.Browser.Timeout)
	c.Browser.MaxRetries = getEnvInt("BROWSER_MAX_RETRIES", c.Browser.MaxRetries)
	c.Browser.UserAgent = getEnv("BROWSER_USER_AGENT", c.Browser.UserAgent)
	c.Browser.TimezoneID = getEnv("BROWSER_TIMEZONE", c.Browser.TimezoneID)
	c.Browser.Locale = getEnv("BROWSER_LOCALE", c.Browser.Locale)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(c.Database.MaxConns)))

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)

	c.Media.Dir = getEnv("MEDIA_DIR", c.Media.Dir)
	c.Media.PublicPath = getEnv("MEDIA_PUBLIC_PATH", c.Media.PublicPath)
	c.Media.MaxAttempts = getEnvInt("MEDIA_MAX_ATTEMPTS", c.Media.MaxAttempts)
	c.Media.BlobProvider = getEnv("BLOB_PROVIDER", c.Media.BlobProvider)
	c.Media.S3Bucket = getEnv("S3_BUCKET", c.Media.S3Bucket)
	c.Media.S3Region = getEnv("S3_REGION", c.Media.S3Region)
	c.Media.S3BaseURL = getEnv("S3_BASE_URL", c.Media.S3BaseURL)
	c.Media.CloudinaryURL = getEnv("CLOUDINARY_URL", c.Media.CloudinaryURL)
	c.Media.MigratedPrefixes = getEnvList("MEDIA_MIGRATED_PREFIXES", c.Media.MigratedPrefixes)

	c.API.BaseURL = getEnv("WHOLESALER_API_URL", c.API.BaseURL)
	c.API.APIKey = getEnv("WHOLESALER_API_KEY", c.API.APIKey)
	c.API.MinInterval = getEnvDuration("WHOLESALER_API_MIN_INTERVAL", c.API.MinInterval)

	c.Importer.APIPageSize = getEnvInt("IMPORTER_API_PAGE_SIZE", c.Importer.APIPageSize)
	c.Importer.MaxPages = getEnvInt("IMPORTER_MAX_PAGES", c.Importer.MaxPages)
	c.Importer.WorkerInterval = getEnvDuration("IMPORTER_WORKER_INTERVAL", c.Importer.WorkerInterval)
	c.Importer.RelayInterval = getEnvDuration("IMPORTER_RELAY_INTERVAL", c.Importer.RelayInterval)
	c.Importer.RelayBatchSize = getEnvInt("IMPORTER_RELAY_BATCH_SIZE", c.Importer.RelayBatchSize)
	c.Importer.RelayStreamMaxLen = int64(getEnvInt("IMPORTER_RELAY_STREAM_MAXLEN", int(c.Importer.RelayStreamMaxLen)))
	c.Importer.StopSignalTTL = getEnvDuration("IMPORTER_STOP_TTL", c.Importer.StopSignalTTL)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper base url is required")
	}
	if c.Scraper.Username != "" && c.Scraper.Password == "" {
		return fmt.Errorf("scraper password is required when a username is set")
	}
	if c.Database.URL == "" && (c.Database.Host == "" || c.Database.Name == "") {
		return fmt.Errorf("database host and name are required")
	}
	if c.Media.MaxAttempts < 1 {
		return fmt.Errorf("media max attempts must be at least 1")
	}

	switch c.Media.BlobProvider {
	case "":
	case "s3":
		if c.Media.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 blob provider")
		}
	case "cloudinary":
		if c.Media.CloudinaryURL == "" {
			return fmt.Errorf("CLOUDINARY_URL is required for the cloudinary blob provider")
		}
	default:
		return fmt.Errorf("unknown blob provider %q", c.Media.BlobProvider)
	}

	if c.Importer.APIPageSize < 1 {
		return fmt.Errorf("importer api page size must be at least 1")
	}
	if c.Importer.MaxPages < 1 {
		return fmt.Errorf("importer max pages must be at least 1")
	}
	if c.Importer.WorkerInterval <= 0 || c.Importer.RelayInterval <= 0 {
		return fmt.Errorf("worker and relay intervals must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
