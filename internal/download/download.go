// Package download fetches manifests, packages and tool binaries over HTTP
// with bounded retries.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of download retries
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "ZINSTALL/1.0"
	// maxTextSize caps text downloads such as manifests
	maxTextSize = 8 << 20
)

// StatusError reports a response with a non-2xx status code.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code from %s: %d", e.URL, e.StatusCode)
}

// Downloader handles HTTP downloads with retry logic
type Downloader struct {
	client          *http.Client
	userAgent       string
	retries         uint
	initialInterval time.Duration
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithClient sets the HTTP client.
func WithClient(client *http.Client) Option {
	return func(d *Downloader) {
		d.client = client
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(d *Downloader) {
		d.userAgent = userAgent
	}
}

// WithRetries sets how many times a failed download is retried.
func WithRetries(retries uint) Option {
	return func(d *Downloader) {
		d.retries = retries
	}
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(interval time.Duration) Option {
	return func(d *Downloader) {
		d.initialInterval = interval
	}
}

// New creates a new downloader
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Allow up to 10 redirects
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent:       DefaultUserAgent,
		retries:         DefaultRetries,
		initialInterval: time.Second,
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// retry runs op with exponential backoff: 1s, 2s, 4s by default.
func retry[T any](ctx context.Context, d *Downloader, op backoff.Operation[T]) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(d.retries+1),
	)
}

// classify marks errors that retrying cannot fix as permanent.
func classify(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
		return backoff.Permanent(err)
	}
	return err
}

// Text downloads a URL and returns its body as a string.
func (d *Downloader) Text(ctx context.Context, url string) (string, error) {
	text, err := retry(ctx, d, func() (string, error) {
		body, err := d.textOnce(ctx, url)
		if err != nil {
			return "", classify(err)
		}
		return body, nil
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	return text, nil
}

func (d *Downloader) textOnce(ctx context.Context, url string) (string, error) {
	resp, err := d.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTextSize))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(data), nil
}

// ToFile downloads a URL to a specific file path
func (d *Downloader) ToFile(ctx context.Context, url, destPath string) error {
	_, err := retry(ctx, d, func() (struct{}, error) {
		if err := d.fileOnce(ctx, url, destPath); err != nil {
			return struct{}{}, classify(err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	return nil
}

// fileOnce performs a single download attempt
func (d *Downloader) fileOnce(ctx context.Context, url, destPath string) error {
	resp, err := d.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Create destination directory
	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	// Create temporary file
	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	// Track whether we need to clean up the temp file
	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return fmt.Errorf("copy response body: %w", err)
	}

	// Close temp file before rename
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return nil
}

// get issues a GET request and rejects non-2xx responses.
func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}
