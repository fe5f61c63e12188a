package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/nursery-importer/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://nursery.example.com"

type fakeDriver struct {
	mu        sync.Mutex
	pages     map[string]*browser.Snapshot
	loadErr   map[string]error
	loginSnap *browser.Snapshot
	loginErr  error
	cookies   []string
	loads     []string
	logins    int
	closed    bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pages:   make(map[string]*browser.Snapshot),
		loadErr: make(map[string]error),
	}
}

func (f *fakeDriver) page(url, title, html string) {
	f.pages[url] = &browser.Snapshot{URL: url, Title: title, HTML: html}
}

func (f *fakeDriver) Load(ctx context.Context, url string, opts browser.LoadOptions) (*browser.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loads = append(f.loads, url)
	if err := f.loadErr[url]; err != nil {
		return nil, err
	}
	snap, ok := f.pages[url]
	if !ok {
		return &browser.Snapshot{URL: url, HTML: "<html><body></body></html>"}, nil
	}
	return snap, nil
}

func (f *fakeDriver) SubmitLogin(ctx context.Context, form browser.LoginForm, settle time.Duration) (*browser.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logins++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.loginSnap, nil
}

func (f *fakeDriver) CookieNames(ctx context.Context) ([]string, error) {
	return f.cookies, nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScraper(driver *fakeDriver, mutate func(*Config)) *Scraper {
	cfg := DefaultConfig(baseURL)
	cfg.SettleDelay = 0
	if mutate != nil {
		mutate(&cfg)
	}
	factory := func(ctx context.Context) (browser.Driver, error) { return driver, nil }
	return New(cfg, factory, nil, testLogger())
}

func listingHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="breadcrumb"><li>Home</li><li>Trees</li></ul>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<div class="product-item" data-product-id="%s"><a href="/product/%s-tree"><h3 class="product-name">Tree %s</h3></a><span class="price">$10.00 ex GST</span></div>`, id, id, id)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func TestInitializeWithoutCredentials(t *testing.T) {
	driver := newFakeDriver()
	s := newTestScraper(driver, nil)

	session, err := s.Initialize(context.Background())
	require.NoError(t, err)
	assert.False(t, session.Authenticated)
	assert.Equal(t, 0, driver.logins)

	require.NoError(t, s.Close())
	assert.True(t, driver.closed)
	assert.NoError(t, s.Close())
}

func TestInitializeLogin(t *testing.T) {
	withCreds := func(c *Config) {
		c.Username = "trade@example.com"
		c.Password = "secret"
	}

	t.Run("signed-in marker after leaving login page", func(t *testing.T) {
		driver := newFakeDriver()
		driver.loginSnap = &browser.Snapshot{URL: baseURL + "/my-account", HTML: `<a href="/logout">Log out</a>`}

		session, err := newTestScraper(driver, withCreds).Initialize(context.Background())
		require.NoError(t, err)
		assert.True(t, session.Authenticated)
		assert.Equal(t, 1, driver.logins)
		assert.Empty(t, driver.loads)
	})

	t.Run("session cookie after leaving login page", func(t *testing.T) {
		driver := newFakeDriver()
		driver.loginSnap = &browser.Snapshot{URL: baseURL + "/", HTML: `<p>Welcome</p>`}
		driver.cookies = []string{"PHPSESSID"}

		session, err := newTestScraper(driver, withCreds).Initialize(context.Background())
		require.NoError(t, err)
		assert.True(t, session.Authenticated)
	})

	t.Run("prices visible on listing", func(t *testing.T) {
		driver := newFakeDriver()
		driver.loginSnap = &browser.Snapshot{URL: baseURL + "/login", HTML: `<form></form>`}
		driver.page(baseURL+"/#/plant-finder?page=1", "", listingHTML("1"))

		session, err := newTestScraper(driver, withCreds).Initialize(context.Background())
		require.NoError(t, err)
		assert.True(t, session.Authenticated)
	})

	t.Run("failure is not fatal", func(t *testing.T) {
		driver := newFakeDriver()
		driver.loginSnap = &browser.Snapshot{URL: baseURL + "/login?error=1", HTML: `<p>Invalid password</p>`}
		driver.page(baseURL+"/#/plant-finder?page=1", "", `<div class="price">Login to see prices</div>`)

		session, err := newTestScraper(driver, withCreds).Initialize(context.Background())
		require.NoError(t, err)
		assert.False(t, session.Authenticated)
	})

	t.Run("submit error is not fatal", func(t *testing.T) {
		driver := newFakeDriver()
		driver.loginErr = errors.New("selector #username not found")

		session, err := newTestScraper(driver, withCreds).Initialize(context.Background())
		require.NoError(t, err)
		assert.False(t, session.Authenticated)
	})
}

func TestInitializeDriverError(t *testing.T) {
	boom := errors.New("no chromium")
	s := New(DefaultConfig(baseURL), func(ctx context.Context) (browser.Driver, error) { return nil, boom }, nil, testLogger())

	_, err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestScrapeProductsHasMoreFromTotal(t *testing.T) {
	driver := newFakeDriver()
	page1 := strings.Replace(listingHTML("1", "2"), "<body>", "<body><p>Showing 1-2 of 5 products</p>", 1)
	driver.page(baseURL+"/#/category/trees?page=1", "", page1)
	driver.page(baseURL+"/#/category/trees?page=3", "", listingHTML("5"))

	s := newTestScraper(driver, func(c *Config) { c.PageSize = 2 })
	session, err := s.Initialize(context.Background())
	require.NoError(t, err)

	result, err := s.ScrapeProducts(context.Background(), session, 1, "trees")
	require.NoError(t, err)
	require.Len(t, result.Products, 2)
	assert.True(t, result.HasMore)
	assert.Equal(t, 5, session.TotalResults)
	assert.Equal(t, "Trees", result.Products[0].Category)

	result, err = s.ScrapeProducts(context.Background(), session, 3, "trees")
	require.NoError(t, err)
	require.Len(t, result.Products, 1)
	assert.False(t, result.HasMore)
	assert.Equal(t, 2, session.PagesVisited)
}

func TestScrapeProductsHasMoreFromNextControl(t *testing.T) {
	driver := newFakeDriver()
	withNext := strings.Replace(listingHTML("1"), "</body>", `<a rel="next" href="#/plant-finder?page=2">Next</a></body>`, 1)
	driver.page(baseURL+"/#/plant-finder?page=1", "", withNext)
	driver.page(baseURL+"/#/plant-finder?page=2", "", listingHTML("2"))

	s := newTestScraper(driver, nil)
	session, err := s.Initialize(context.Background())
	require.NoError(t, err)

	result, err := s.ScrapeProducts(context.Background(), session, 1, "")
	require.NoError(t, err)
	assert.True(t, result.HasMore)

	result, err = s.ScrapeProducts(context.Background(), session, 2, "")
	require.NoError(t, err)
	assert.False(t, result.HasMore)
}

func TestScrapeProductsEmptyPageStops(t *testing.T) {
	driver := newFakeDriver()
	s := newTestScraper(driver, nil)
	session, err := s.Initialize(context.Background())
	require.NoError(t, err)
	session.TotalResults = 100

	result, err := s.ScrapeProducts(context.Background(), session, 1, "")
	require.NoError(t, err)
	assert.Empty(t, result.Products)
	assert.False(t, result.HasMore)
}

func TestScrapeProductsNavigationError(t *testing.T) {
	driver := newFakeDriver()
	boom := errors.New("net::ERR_CONNECTION_RESET")
	driver.loadErr[baseURL+"/#/plant-finder?page=1"] = boom

	s := newTestScraper(driver, nil)
	session, err := s.Initialize(context.Background())
	require.NoError(t, err)

	_, err = s.ScrapeProducts(context.Background(), session, 1, "")
	assert.ErrorIs(t, err, boom)
}

func TestScrapeBeforeInitialize(t *testing.T) {
	s := newTestScraper(newFakeDriver(), nil)

	_, err := s.ScrapeProductDetail(context.Background(), baseURL+"/product/1-x")
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = s.ScrapeProducts(context.Background(), nil, 1, "")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestScrapeProductDetail(t *testing.T) {
	driver := newFakeDriver()
	productURL := baseURL + "/product/42-lomandra"
	driver.page(productURL, "Lomandra 'Tanika' | Trade Nursery", `<html><body>
		<h1 class="product-title">Lomandra 'Tanika'</h1>
		<p class="botanical-name">Lomandra longifolia</p>
		<span class="product-price">$5.50 inc GST</span>
		<span class="stock">In stock</span>
	</body></html>`)
	driver.page(baseURL+"/product/404", "Page Not Found | Trade Nursery", `<html><body><p>Gone</p></body></html>`)

	s := newTestScraper(driver, nil)
	_, err := s.Initialize(context.Background())
	require.NoError(t, err)

	p, err := s.ScrapeProductDetail(context.Background(), productURL)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "Lomandra 'Tanika'", p.Name)
	assert.Equal(t, "Lomandra longifolia", p.BotanicalName)
	require.NotNil(t, p.Price)
	assert.InDelta(t, 5.0, *p.Price, 0.001)

	p, err = s.ScrapeProductDetail(context.Background(), baseURL+"/product/404")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestListingURL(t *testing.T) {
	cfg := DefaultConfig(baseURL + "/")
	assert.Equal(t, baseURL+"/#/plant-finder?page=1", cfg.listingURL(0, ""))
	assert.Equal(t, baseURL+"/#/category/native%20grasses?page=2", cfg.listingURL(2, "native grasses"))
}
