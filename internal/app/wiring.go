// Package app assembles the importer's components from configuration for the
// binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/nursery-importer/internal/apiclient"
	"github.com/maltedev/nursery-importer/internal/browser"
	"github.com/maltedev/nursery-importer/internal/config"
	"github.com/maltedev/nursery-importer/internal/database"
	"github.com/maltedev/nursery-importer/internal/importer"
	"github.com/maltedev/nursery-importer/internal/media"
	"github.com/maltedev/nursery-importer/internal/ratelimit"
	"github.com/maltedev/nursery-importer/internal/scraper"
)

// OpenDatabase connects to Postgres and applies the schema.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	var (
		db  *database.DB
		err error
	)
	if cfg.URL != "" {
		db, err = database.NewFromURL(ctx, cfg.URL)
	} else {
		db, err = database.New(ctx, database.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Name,
			SSLMode:  cfg.SSLMode,
			MaxConns: cfg.MaxConns,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// OpenRedis returns nil when redis is disabled.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func BrowserOptions(cfg config.BrowserConfig) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Headless
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.UserAgent != "" {
		opts.UserAgent = cfg.UserAgent
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts.ViewportWidth = cfg.ViewportWidth
		opts.ViewportHeight = cfg.ViewportHeight
	}
	if cfg.TimezoneID != "" {
		opts.TimezoneID = cfg.TimezoneID
	}
	if cfg.Locale != "" {
		opts.Locale = cfg.Locale
	}
	return opts
}

func ScraperConfig(cfg config.ScraperConfig) scraper.Config {
	sc := scraper.DefaultConfig(cfg.BaseURL)
	sc.Username = cfg.Username
	sc.Password = cfg.Password
	if cfg.PageSize > 0 {
		sc.PageSize = cfg.PageSize
	}
	if cfg.SettleDelay > 0 {
		sc.SettleDelay = cfg.SettleDelay
	}
	if cfg.ScrollPasses > 0 {
		sc.ScrollPasses = cfg.ScrollPasses
	}
	return sc
}

// ScraperFactory gives every job its own browser, started lazily on Initialize.
func ScraperFactory(cfg *config.Config, gate *ratelimit.Gate, logger *slog.Logger) importer.ScraperFactory {
	opts := BrowserOptions(cfg.Browser)
	scraperCfg := ScraperConfig(cfg.Scraper)

	return func() importer.CatalogScraper {
		newDriver := func(ctx context.Context) (browser.Driver, error) {
			b, err := browser.New(opts, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
		return scraper.New(scraperCfg, newDriver, gate, logger)
	}
}

func Downloader(cfg config.MediaConfig, gate *ratelimit.Gate, logger *slog.Logger) *media.Downloader {
	mc := media.DefaultConfig(cfg.Dir, cfg.PublicPath)
	if cfg.MaxAttempts > 0 {
		mc.MaxAttempts = cfg.MaxAttempts
	}
	return media.NewDownloader(mc, gate, logger)
}

// Uploader returns nil when no blob provider is configured.
func Uploader(ctx context.Context, cfg config.MediaConfig) (media.Uploader, error) {
	switch cfg.BlobProvider {
	case "":
		return nil, nil
	case "s3":
		store, err := media.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3BaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "cloudinary":
		store, err := media.NewCloudinaryStore(cfg.CloudinaryURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob provider %q", cfg.BlobProvider)
	}
}

func APIClient(cfg config.APIConfig, logger *slog.Logger) *apiclient.Client {
	return apiclient.New(apiclient.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		MinInterval: cfg.MinInterval,
	}, logger)
}

func ImporterConfig(cfg config.ImporterConfig) importer.Config {
	return importer.Config{
		APIPageSize:    cfg.APIPageSize,
		MaxPages:       cfg.MaxPages,
		WorkerInterval: cfg.WorkerInterval,
	}
}
