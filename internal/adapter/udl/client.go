// Package udl downloads Unified Data Library bulk export archives and
// unpacks them into the raw directory the ingest pipeline reads.
package udl

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/udl-ingest/internal/config"
)

// StatusError reports a non-200 response from the UDL endpoint.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// Client downloads single archives with retry. Responses with status 429 or
// 5xx retry under exponential backoff, honoring a numeric Retry-After header
// when the server sends one. Transport errors retry the same way.
type Client struct {
	httpClient   *http.Client
	authHeader   string
	maxRetries   int
	retryInitial time.Duration
	retryMax     time.Duration
	logger       *slog.Logger
}

// NewClient creates a UDL download client from config.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.FetchTimeout},
		authHeader:   basicAuthHeader(cfg.UDLToken, cfg.APIUsername, cfg.APIPassword),
		maxRetries:   cfg.FetchMaxRetries,
		retryInitial: cfg.FetchRetryInitial,
		retryMax:     cfg.FetchRetryMax,
		logger:       logger,
	}
}

// basicAuthHeader builds the Authorization value. A UDL dynamic-query token
// is used verbatim when it already carries the scheme, otherwise prefixed;
// with no token, username and password fall back to standard Basic auth. An
// empty result means unauthenticated.
func basicAuthHeader(token, user, pass string) string {
	token = strings.TrimSpace(token)
	if token != "" {
		if strings.HasPrefix(strings.ToLower(token), "basic ") {
			return token
		}
		return "Basic " + token
	}
	if user != "" && pass != "" {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	}
	return ""
}

// Download fetches url into destPath through a temp file, so a partial
// transfer never masquerades as a complete archive. Bulk export links are
// sometimes pre-signed and reject credentials outright: a 401 or 403 with
// auth configured retries exactly once without it.
func (c *Client) Download(ctx context.Context, url, destPath string) error {
	err := c.download(ctx, url, destPath, c.authHeader)
	if c.authHeader != "" {
		var status *StatusError
		if errors.As(err, &status) && (status.Code == http.StatusUnauthorized || status.Code == http.StatusForbidden) {
			c.logger.Warn("credentials rejected, retrying unauthenticated", "status", status.Code)
			return c.download(ctx, url, destPath, "")
		}
	}
	return err
}

func (c *Client) download(ctx context.Context, url, destPath, auth string) error {
	attempts := c.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		retryAfter, err := c.fetchOnce(ctx, url, destPath, auth)
		if err == nil {
			return nil
		}
		lastErr = err

		var status *StatusError
		if errors.As(err, &status) && !retryableStatus(status.Code) {
			return err
		}
		if attempt == attempts {
			break
		}

		backoff := nextBackoff(c.retryInitial, attempt, c.retryMax)
		if retryAfter > 0 {
			backoff = retryAfter
		}
		c.logger.Warn("download failed, backing off",
			"attempt", attempt,
			"of", attempts,
			"backoff", backoff,
			"error", err,
		)
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
	}
	return lastErr
}

// fetchOnce performs a single request. On a non-200 response it also returns
// the parsed Retry-After delay, zero if absent.
func (c *Client) fetchOnce(ctx context.Context, url, destPath, auth string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseRetryAfter(resp.Header.Get("Retry-After")), &StatusError{URL: url, Code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("stream body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return 0, fmt.Errorf("finalize download: %w", err)
	}
	return 0, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// parseRetryAfter reads a numeric Retry-After value in seconds. HTTP-date
// forms are rare on the UDL side and are ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// nextBackoff doubles from initial for each completed attempt, capped at max.
func nextBackoff(initial time.Duration, attempt int, max time.Duration) time.Duration {
	backoff := initial << (attempt - 1)
	if backoff <= 0 || backoff > max {
		return max
	}
	return backoff
}
