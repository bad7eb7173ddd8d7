package udl

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(maxRetries int, auth string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		authHeader:   auth,
		maxRetries:   maxRetries,
		retryInitial: time.Millisecond,
		retryMax:     10 * time.Millisecond,
		logger:       slog.Default(),
	}
}

func destPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "bulk.zip")
}

func TestDownload_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archive-bytes"))
	}))
	defer srv.Close()

	dest := destPath(t)
	err := testClient(0, "").Download(context.Background(), srv.URL, dest)
	require.NoError(t, err)

	body, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(body))

	leftovers, err := filepath.Glob(dest + ".tmp-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dest := destPath(t)
	err := testClient(3, "").Download(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.FileExists(t, dest)
}

func TestDownload_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := testClient(2, "").Download(context.Background(), srv.URL, destPath(t))

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusServiceUnavailable, status.Code)
	assert.EqualValues(t, 3, calls.Load(), "maxRetries of 2 means 3 attempts")
}

func TestDownload_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := testClient(5, "").Download(context.Background(), srv.URL, destPath(t))

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDownload_HonorsRetryAfter(t *testing.T) {
	fake := clockwork.NewFakeClock()
	SetClock(fake)
	t.Cleanup(func() { SetClock(nil) })

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	done := make(chan error, 1)
	go func() {
		done <- testClient(1, "").Download(context.Background(), srv.URL, destPath(t))
	}()

	// The client must be sleeping on the server's delay, not its own backoff.
	fake.BlockUntil(1)
	fake.Advance(7 * time.Second)

	require.NoError(t, <-done)
	assert.EqualValues(t, 2, calls.Load())
}

func TestDownload_SendsAuthHeader(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	err := testClient(0, "Basic dXNlcjpwYXNz").Download(context.Background(), srv.URL, destPath(t))
	require.NoError(t, err)
	assert.Equal(t, "Basic dXNlcjpwYXNz", got.Load())
}

func TestDownload_RetriesUnauthenticatedOnceOnRejection(t *testing.T) {
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		auths = append(auths, auth)
		if auth != "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dest := destPath(t)
	err := testClient(0, "Basic bogus").Download(context.Background(), srv.URL, dest)

	require.NoError(t, err)
	require.Equal(t, []string{"Basic bogus", ""}, auths)
	assert.FileExists(t, dest)
}

func TestDownload_UnauthenticatedSkipsFallback(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := testClient(0, "").Download(context.Background(), srv.URL, destPath(t))

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.EqualValues(t, 1, calls.Load(), "no credentials means no unauthenticated retry")
}

func TestBasicAuthHeader(t *testing.T) {
	tests := []struct {
		name  string
		token string
		user  string
		pass  string
		want  string
	}{
		{"token with scheme", "Basic abc123", "", "", "Basic abc123"},
		{"token without scheme", "abc123", "", "", "Basic abc123"},
		{"token wins over credentials", "abc", "u", "p", "Basic abc"},
		{"username and password", "", "user", "pass", "Basic dXNlcjpwYXNz"},
		{"nothing configured", "", "", "", ""},
		{"user without password", "", "user", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, basicAuthHeader(tt.token, tt.user, tt.pass))
		})
	}
}

func TestNextBackoff(t *testing.T) {
	initial := 1400 * time.Millisecond
	max := time.Minute

	assert.Equal(t, 1400*time.Millisecond, nextBackoff(initial, 1, max))
	assert.Equal(t, 2800*time.Millisecond, nextBackoff(initial, 2, max))
	assert.Equal(t, 5600*time.Millisecond, nextBackoff(initial, 3, max))
	assert.Equal(t, max, nextBackoff(initial, 10, max), "backoff is capped")
	assert.Equal(t, max, nextBackoff(initial, 70, max), "shift overflow falls back to the cap")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Equal(t, 7*time.Second, parseRetryAfter(" 7 "))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("0"))
	assert.Zero(t, parseRetryAfter("-3"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}
