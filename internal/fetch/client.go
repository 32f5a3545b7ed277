package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"shroomdump/internal/asynccache"
	"shroomdump/internal/config"
	"shroomdump/internal/logging"
	"shroomdump/internal/retry"
	"shroomdump/internal/services"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "shroomdump/1 (+https://github.com/shroom)"
	// maxDocumentSize bounds documents held in memory by Bytes.
	maxDocumentSize = 64 << 20
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each document request. Archive downloads are bounded
	// only by the caller's context.
	Timeout    time.Duration
	Retry      retry.Options
	CacheTTL   time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

// Client fetches remote resources. Safe for concurrent use.
type Client struct {
	http      *http.Client
	transfer  *http.Client
	retry     retry.Options
	userAgent string
	cache     *asynccache.Cache[string, []byte]
	logger    *slog.Logger
}

// New constructs a Client.
func New(opts Options, logger *slog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		http:      httpClient,
		transfer:  &http.Client{Transport: httpClient.Transport, CheckRedirect: httpClient.CheckRedirect, Jar: httpClient.Jar},
		retry:     opts.Retry,
		userAgent: userAgent,
		cache:     asynccache.New[string, []byte](asynccache.Options{TTL: opts.CacheTTL}),
		logger:    logging.NewComponentLogger(logger, "fetch"),
	}
}

// NewFromConfig builds a Client from the [network] section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Client {
	return New(Options{
		Timeout: cfg.RequestTimeout(),
		Retry: retry.Options{
			MaxRetries:    cfg.Network.MaxRetries,
			InitialDelay:  time.Duration(cfg.Network.InitialDelayMS) * time.Millisecond,
			MaxDelay:      time.Duration(cfg.Network.MaxDelayMS) * time.Millisecond,
			BackoffFactor: cfg.Network.BackoffFactor,
		},
		CacheTTL: cfg.CacheTTL(),
	}, logger)
}

// Bytes returns the body at url. Concurrent and repeated calls within the
// cache TTL share one request.
func (c *Client) Bytes(ctx context.Context, url string) ([]byte, error) {
	data, err := c.cache.Get(ctx, url, func(ctx context.Context) ([]byte, error) {
		return withRetry(ctx, c, "fetch", url, func(ctx context.Context) ([]byte, error) {
			return c.readBody(ctx, url)
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Text returns the body at url as a string.
func (c *Client) Text(ctx context.Context, url string) (string, error) {
	data, err := c.Bytes(ctx, url)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JSON decodes the body at url into v. A body that is not valid JSON is a
// fetch error that is not retried.
func (c *Client) JSON(ctx context.Context, url string, v any) error {
	data, err := c.Bytes(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return services.Wrap(services.KindFetch, "decode json", url, "", err)
	}
	return nil
}

// Forget drops url from the document cache.
func (c *Client) Forget(url string) {
	c.cache.Delete(url)
}

// Download streams url to dest, replacing it atomically. It returns the
// number of bytes written.
func (c *Client) Download(ctx context.Context, url, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create download directory: %w", err)
	}
	return withRetry(ctx, c, "download", url, func(ctx context.Context) (int64, error) {
		return c.downloadOnce(ctx, url, dest)
	})
}

func (c *Client) downloadOnce(ctx context.Context, url, dest string) (int64, error) {
	resp, err := c.get(ctx, c.transfer, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tempPath := dest + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("read body: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return 0, retry.Permanent(fmt.Errorf("close temp file: %w", closeErr))
	}
	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return 0, retry.Permanent(fmt.Errorf("replace %s: %w", dest, err))
	}
	c.logger.Debug("download complete",
		logging.String("url", url),
		logging.String("path", dest),
		logging.Int64("bytes", written),
	)
	return written, nil
}

func (c *Client) readBody(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.get(ctx, c.http, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, retry.Permanent(fmt.Errorf("document exceeds %d bytes", maxDocumentSize))
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		statusErr := &StatusError{URL: url, StatusCode: resp.StatusCode}
		if isPermanentStatus(resp.StatusCode) {
			return nil, retry.Permanent(statusErr)
		}
		return nil, statusErr
	}
	return resp, nil
}

func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func withRetry[T any](ctx context.Context, c *Client, op, url string, fn func(ctx context.Context) (T, error)) (T, error) {
	opts := c.retry
	opts.OnRetry = func(attempt int, err error) {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "request failed, retrying", "fetch_retry",
			logging.String("url", url),
			logging.Int("attempt", attempt),
			logging.Error(err),
			logging.String(logging.FieldImpact, "request will be retried after backoff"),
			logging.String(logging.FieldErrorHint, "check network connectivity and the configured URL"),
		)
	}
	value, err := retry.Do(ctx, fn, opts)
	if err != nil {
		var zero T
		if ctx.Err() != nil {
			return zero, err
		}
		return zero, services.Wrap(services.KindFetch, op, url, "", err)
	}
	return value, nil
}
