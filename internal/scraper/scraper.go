package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/nursery-importer/internal/browser"
	"github.com/maltedev/nursery-importer/internal/ratelimit"
)

var ErrNotInitialized = errors.New("scraper not initialized")

// DriverFactory acquires a browser for one scraping run.
type DriverFactory func(ctx context.Context) (browser.Driver, error)

type Config struct {
	BaseURL  string
	Username string
	Password string

	// PageSize is the number of products the wholesaler renders per listing page.
	PageSize     int
	SettleDelay  time.Duration
	ScrollPasses int

	LoginPath        string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:          strings.TrimRight(baseURL, "/"),
		PageSize:         24,
		SettleDelay:      2 * time.Second,
		ScrollPasses:     3,
		LoginPath:        "/login",
		UsernameSelector: "#username",
		PasswordSelector: "#password",
		SubmitSelector:   "button[type=submit], input[type=submit]",
	}
}

func (c Config) hasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

func (c Config) loginURL() string {
	return c.BaseURL + c.LoginPath
}

// listingURL builds the hash-fragment route of a listing page. Pages are 1-based.
func (c Config) listingURL(page int, categoryFilter string) string {
	if page < 1 {
		page = 1
	}
	if categoryFilter == "" {
		return fmt.Sprintf("%s/#/plant-finder?page=%d", c.BaseURL, page)
	}
	return fmt.Sprintf("%s/#/category/%s?page=%d", c.BaseURL, url.PathEscape(categoryFilter), page)
}

// Session carries the state of one scraping run between calls.
type Session struct {
	Authenticated bool
	// TotalResults is the result count mined from the first listing page that
	// showed one; zero means unknown.
	TotalResults int
	PagesVisited int
	StartedAt    time.Time
}

type Scraper struct {
	cfg       Config
	newDriver DriverFactory
	gate      *ratelimit.Gate
	logger    *slog.Logger

	mu     sync.Mutex
	driver browser.Driver
}

// New creates a scraper. Every page load goes through gate, which is shared with
// everything else that talks to the wholesaler.
func New(cfg Config, newDriver DriverFactory, gate *ratelimit.Gate, logger *slog.Logger) *Scraper {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 24
	}
	if gate == nil {
		gate = ratelimit.NewGate(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		cfg:       cfg,
		newDriver: newDriver,
		gate:      gate,
		logger:    logger.With("component", "scraper"),
	}
}

// Initialize acquires the browser and, when credentials are configured, signs in.
// A failed sign-in is logged and the session continues without prices.
func (s *Scraper) Initialize(ctx context.Context) (*Session, error) {
	if err := s.acquireDriver(ctx); err != nil {
		return nil, err
	}

	session := &Session{StartedAt: time.Now()}

	if !s.cfg.hasCredentials() {
		s.logger.Info("no credentials configured, scraping without prices")
		return session, nil
	}

	ok, err := s.login(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("login failed, continuing unauthenticated", "error", err)
		return session, nil
	}
	if !ok {
		s.logger.Warn("login not confirmed, continuing unauthenticated")
		return session, nil
	}

	session.Authenticated = true
	s.logger.Info("logged in", "user", s.cfg.Username)
	return session, nil
}

// Close releases the browser. It is safe to call more than once.
func (s *Scraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver == nil {
		return nil
	}
	err := s.driver.Close()
	s.driver = nil
	return err
}

func (s *Scraper) acquireDriver(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver != nil {
		return nil
	}
	driver, err := s.newDriver(ctx)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	s.driver = driver
	return nil
}

func (s *Scraper) currentDriver() (browser.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver == nil {
		return nil, ErrNotInitialized
	}
	return s.driver, nil
}

func (s *Scraper) load(ctx context.Context, pageURL string, opts browser.LoadOptions) (*browser.Snapshot, error) {
	driver, err := s.currentDriver()
	if err != nil {
		return nil, err
	}

	var snap *browser.Snapshot
	err = s.gate.Do(ctx, func(ctx context.Context) error {
		var loadErr error
		snap, loadErr = driver.Load(ctx, pageURL, opts)
		return loadErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", pageURL, err)
	}
	return snap, nil
}
