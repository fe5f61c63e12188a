// Package apiclient talks to the wholesaler's catalog API. The wholesaler has
// not published one yet, so every method reports KindNotImplemented after
// honoring the rate limit and the importer falls back to scraping.
package apiclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/nursery-importer/internal/models"
	"github.com/maltedev/nursery-importer/internal/ratelimit"
)

type Config struct {
	BaseURL     string
	APIKey      string
	MinInterval time.Duration
}

type Client struct {
	cfg     Config
	limiter *ratelimit.Interval
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		limiter: ratelimit.NewInterval(cfg.MinInterval, cfg.MinInterval),
		logger:  logger.With("component", "apiclient"),
	}
}

func (c *Client) ListProducts(ctx context.Context, page, pageSize int) ([]*models.ScrapedProduct, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.logger.Debug("list products", "page", page, "pageSize", pageSize)
	return nil, notImplemented("list products")
}

func (c *Client) GetProduct(ctx context.Context, id string) (*models.ScrapedProduct, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.logger.Debug("get product", "id", id)
	return nil, notImplemented("get product")
}

func (c *Client) Search(ctx context.Context, query string) ([]*models.ScrapedProduct, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.logger.Debug("search", "query", query)
	return nil, notImplemented("search")
}

func (c *Client) Categories(ctx context.Context) ([]models.Category, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return nil, notImplemented("categories")
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindNetwork, Op: "rate limit", Err: err}
	}
	return nil
}
