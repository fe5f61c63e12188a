package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/nursery-importer/internal/ratelimit"
	"github.com/playwright-community/playwright-go"
)

// Snapshot is the rendered state of the page after a load.
type Snapshot struct {
	URL   string
	Title string
	HTML  string
}

type LoadOptions struct {
	// Settle is how long to wait after DOMContentLoaded for client rendering.
	Settle time.Duration
	// ScrollPasses scrolls to the bottom this many times so virtualized lists render.
	ScrollPasses int
}

type LoginForm struct {
	URL              string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	Username         string
	Password         string
}

// Driver is the subset of a browser the scraper relies on.
type Driver interface {
	Load(ctx context.Context, url string, opts LoadOptions) (*Snapshot, error)
	SubmitLogin(ctx context.Context, form LoginForm, settle time.Duration) (*Snapshot, error)
	CookieNames(ctx context.Context) ([]string, error)
	Close() error
}

var ErrClosed = errors.New("browser closed")

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	opts    *Options
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	MaxRetries     int
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		TimezoneID:     "Australia/Sydney",
		Locale:         "en-AU",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-AU,en;q=0.9",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(opts.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(opts.Locale),
		TimezoneId:        playwright.String(opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    page,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) Load(ctx context.Context, url string, opts LoadOptions) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	if err := b.navigateWithRetry(ctx, url); err != nil {
		return nil, err
	}
	if err := ratelimit.Sleep(ctx, opts.Settle); err != nil {
		return nil, err
	}

	for i := 0; i < opts.ScrollPasses; i++ {
		if _, err := b.page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			b.logger.Debug("scroll failed", "url", url, "error", err)
			break
		}
		if err := ratelimit.Sleep(ctx, opts.Settle/2); err != nil {
			return nil, err
		}
	}

	return b.snapshot()
}

func (b *Browser) SubmitLogin(ctx context.Context, form LoginForm, settle time.Duration) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	if err := b.navigateWithRetry(ctx, form.URL); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	if err := b.page.Locator(form.UsernameSelector).First().Fill(form.Username); err != nil {
		return nil, fmt.Errorf("failed to fill username: %w", err)
	}
	if err := b.page.Locator(form.PasswordSelector).First().Fill(form.Password); err != nil {
		return nil, fmt.Errorf("failed to fill password: %w", err)
	}
	if err := b.page.Locator(form.SubmitSelector).First().Click(); err != nil {
		return nil, fmt.Errorf("failed to submit login form: %w", err)
	}

	if err := b.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateDomcontentloaded,
	}); err != nil {
		b.logger.Debug("wait after login submit failed", "error", err)
	}
	if err := ratelimit.Sleep(ctx, settle); err != nil {
		return nil, err
	}

	return b.snapshot()
}

func (b *Browser) CookieNames(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	cookies, err := b.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	return names, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (b *Browser) navigateWithRetry(ctx context.Context, url string) error {
	maxRetries := b.opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := ratelimit.Sleep(ctx, time.Duration(i)*time.Second); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := b.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		b.logger.Warn("navigation failed", "url", url, "error", err, "attempt", i+1)
	}

	return fmt.Errorf("navigate %s failed after %d attempts: %w", url, maxRetries, lastErr)
}

func (b *Browser) snapshot() (*Snapshot, error) {
	html, err := b.page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}
	title, err := b.page.Title()
	if err != nil {
		return nil, fmt.Errorf("failed to get page title: %w", err)
	}

	return &Snapshot{
		URL:   b.page.URL(),
		Title: title,
		HTML:  html,
	}, nil
}
