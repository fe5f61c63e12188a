// Package media downloads product and category images and optionally copies
// them to blob storage.
package media

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/maltedev/nursery-importer/internal/ratelimit"
	"github.com/maltedev/nursery-importer/internal/validation"
)

var thumbnailSuffix = regexp.MustCompile(`_\d+(\.[A-Za-z0-9]+)$`)

var allowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true, "gif": true, "avif": true,
}

var ErrInvalidURL = errors.New("image url must be absolute http(s)")

// StatusError is returned when the image host answers with a non-200 status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// retryable reports whether another attempt could succeed. Client errors other
// than 408 and 429 will not change on retry.
func (e *StatusError) retryable() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return true
	}
	return e.Code < 400 || e.Code >= 500
}

type Config struct {
	// Dir is where files are written.
	Dir string
	// PublicPath is the site path Dir is served under, e.g. "/images/products".
	PublicPath     string
	MaxAttempts    int
	Backoff        time.Duration
	TimeoutBackoff time.Duration
	HTTPTimeout    time.Duration
	UserAgent      string
}

func DefaultConfig(dir, publicPath string) Config {
	return Config{
		Dir:            dir,
		PublicPath:     publicPath,
		MaxAttempts:    3,
		Backoff:        time.Second,
		TimeoutBackoff: 5 * time.Second,
		HTTPTimeout:    30 * time.Second,
		UserAgent:      "Mozilla/5.0 (compatible; nursery-importer/1.0)",
	}
}

// Result is the outcome of one image download. LocalPath is the file on disk and
// PublicURL the site path it is served under.
type Result struct {
	Success   bool
	SourceURL string
	LocalPath string
	PublicURL string
	Error     error
}

type Failure struct {
	URL   string
	Error error
}

type BatchResult struct {
	Downloaded []Result
	Failed     []Failure
}

type Downloader struct {
	cfg    Config
	client *http.Client
	gate   *ratelimit.Gate
	logger *slog.Logger
}

// NewDownloader creates a downloader that sends every request through gate.
func NewDownloader(cfg Config, gate *ratelimit.Gate, logger *slog.Logger) *Downloader {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if gate == nil {
		gate = ratelimit.NewGate(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		gate:   gate,
		logger: logger.With("component", "media"),
	}
}

// DownloadImage fetches rawURL into the media directory. A thumbnail URL is first
// tried as its full-resolution original. The same URL always maps to the same
// file, and an existing file is returned without touching the network.
func (d *Downloader) DownloadImage(ctx context.Context, rawURL, hint string) Result {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{Error: fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)}
	}

	name := Filename(rawURL, hint)
	dest := filepath.Join(d.cfg.Dir, name)
	result := Result{SourceURL: rawURL, LocalPath: dest, PublicURL: d.publicURL(name)}

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		result.Success = true
		return result
	}

	if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
		return Result{Error: fmt.Errorf("failed to create media dir: %w", err)}
	}

	var lastErr error
	for _, candidate := range Candidates(rawURL) {
		lastErr = d.downloadWithRetry(ctx, candidate, dest)
		if lastErr == nil {
			result.Success = true
			return result
		}
		if ctx.Err() != nil {
			break
		}
		d.logger.Debug("candidate failed", "url", candidate, "cause", Classify(lastErr), "error", lastErr)
	}

	d.logger.Warn("image download failed", "url", rawURL, "cause", Classify(lastErr), "error", lastErr)
	return Result{Error: lastErr}
}

// DownloadImages downloads urls one after another. A failed image never stops
// the rest of the batch.
func (d *Downloader) DownloadImages(ctx context.Context, urls []string, hint string) BatchResult {
	var batch BatchResult
	for _, u := range urls {
		if ctx.Err() != nil {
			batch.Failed = append(batch.Failed, Failure{URL: u, Error: ctx.Err()})
			continue
		}
		res := d.DownloadImage(ctx, u, hint)
		if res.Success {
			batch.Downloaded = append(batch.Downloaded, res)
		} else {
			batch.Failed = append(batch.Failed, Failure{URL: u, Error: res.Error})
		}
	}
	return batch
}

func (d *Downloader) downloadWithRetry(ctx context.Context, src, dest string) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		lastErr = d.gate.Do(ctx, func(ctx context.Context) error {
			return d.fetch(ctx, src, dest)
		})
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.retryable() {
			return lastErr
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		backoff := time.Duration(attempt) * d.cfg.Backoff
		if Classify(lastErr) == CauseTimeout {
			backoff = time.Duration(attempt) * d.cfg.TimeoutBackoff
		}
		d.logger.Debug("retrying image", "url", src, "attempt", attempt, "backoff", backoff, "error", lastErr)
		if err := ratelimit.Sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return lastErr
}

// fetch streams src to dest via a .part file so a failed transfer never leaves
// a truncated image behind.
func (d *Downloader) fetch(ctx context.Context, src, dest string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode}
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", part, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(part)
		}
	}()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("empty response body")
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close image: %w", err)
	}
	if err = os.Rename(part, dest); err != nil {
		return fmt.Errorf("failed to move image into place: %w", err)
	}
	return nil
}

func (d *Downloader) publicURL(name string) string {
	if d.cfg.PublicPath == "" {
		return ""
	}
	return strings.TrimRight(d.cfg.PublicPath, "/") + "/" + name
}

// Candidates lists the URLs to try for rawURL: the full-resolution original when
// rawURL carries a "_<digits>" thumbnail suffix, then rawURL itself.
func Candidates(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return []string{rawURL}
	}
	stripped := thumbnailSuffix.ReplaceAllString(u.Path, "$1")
	if stripped == u.Path {
		return []string{rawURL}
	}

	full := *u
	full.Path = stripped
	full.RawPath = ""
	return []string{full.String(), rawURL}
}

// Filename derives the local file name for rawURL: a slug of hint (or of the
// URL's own base name), eight hex characters of the URL's SHA-256, and the URL's
// image extension.
func Filename(rawURL, hint string) string {
	sum := sha256.Sum256([]byte(rawURL))
	hash := hex.EncodeToString(sum[:])[:8]

	base, ext := "", "jpg"
	if u, err := url.Parse(rawURL); err == nil {
		name := path.Base(u.Path)
		if e := strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")); allowedExtensions[e] {
			ext = e
		}
		base = validation.GenerateSlug(strings.TrimSuffix(name, path.Ext(name)))
	}

	if slug := validation.GenerateSlug(hint); slug != "" {
		base = slug
	}
	if base == "" {
		base = "image"
	}
	if len(base) > 80 {
		base = strings.Trim(base[:80], "-")
	}

	return fmt.Sprintf("%s-%s.%s", base, hash, ext)
}

type Cause string

const (
	CauseDNS               Cause = "dns"
	CauseConnectionRefused Cause = "connection_refused"
	CauseTimeout           Cause = "timeout"
	CauseTLS               Cause = "tls"
	CauseHTTPStatus        Cause = "http_status"
	CauseOther             Cause = "other"
)

// Classify names the failure class of a download error for logging.
func Classify(err error) Cause {
	if err == nil {
		return ""
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return CauseHTTPStatus
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CauseDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return CauseConnectionRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout
	}
	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &recordErr) || errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return CauseTLS
	}
	return CauseOther
}
