package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

const testMarker = "You have specified an ID that does not exist in the database."

func newTestFetcher(t *testing.T, handler http.HandlerFunc) (*Fetcher, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{
		URLTemplate:    srv.URL + "/id.php?id=%d",
		NotFoundMarker: testMarker,
		UserAgent:      "test-agent",
		Timeout:        time.Second,
		Retry:          NewExponentialRetryPolicy(2, time.Millisecond, 2*time.Millisecond),
	}, nil, nil)
	return f, &hits
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	f, hits := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		assert.Equal(t, "test-agent", r.UserAgent())
		_, _ = fmt.Fprint(w, "<html><body>record</body></html>")
	})

	page, err := f.Fetch(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 42, page.ID)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, string(page.Body), "record")
	assert.Equal(t, 1, page.Attempts)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchNotFoundStatus(t *testing.T) {
	t.Parallel()

	f, hits := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})

	_, err := f.Fetch(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, genealogy.ErrNotFound)
	assert.Equal(t, int32(1), hits.Load(), "not found must not be retried")
}

func TestFetchNotFoundMarker(t *testing.T) {
	t.Parallel()

	f, hits := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, "<html><p>%s</p></html>", testMarker)
	})

	_, err := f.Fetch(context.Background(), 7)
	assert.ErrorIs(t, err, genealogy.ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f, hits := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, "ok")
	})

	page, err := f.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	f, hits := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := f.Fetch(context.Background(), 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, genealogy.ErrTransient)
	assert.NotErrorIs(t, err, genealogy.ErrNotFound)

	var transient *genealogy.TransientError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, 9, transient.ID)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	f, hits := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := f.Fetch(context.Background(), 3)
	assert.ErrorIs(t, err, genealogy.ErrTransient)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{
		URLTemplate: srv.URL + "/id.php?id=%d",
		Timeout:     50 * time.Millisecond,
		Retry:       NewExponentialRetryPolicy(1, time.Millisecond, time.Millisecond),
	}, nil, nil)

	_, err := f.Fetch(context.Background(), 5)
	assert.ErrorIs(t, err, genealogy.ErrTransient)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{URLTemplate: "https://example.com/id.php?id=%d"}, nil, nil)
	var result attemptResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/id.php?id=1")},
	})
	assert.Equal(t, http.StatusOK, result.statusCode)
	assert.Equal(t, "body", string(result.body))

	hooks.onError(nil, errors.New("boom"))
	require.Error(t, fetchErr)
	assert.Equal(t, "boom", fetchErr.Error())
}

func TestBaseCollectorSettings(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true}, nil, nil)
	assert.Equal(t, "coverage-agent", f.baseCollector.UserAgent)
	assert.False(t, f.baseCollector.IgnoreRobotsTxt)
	assert.True(t, f.baseCollector.AllowURLRevisit)
	assert.True(t, f.baseCollector.ParseHTTPErrorResponse)
	assert.Equal(t, "https://x/?id=12", New(Config{URLTemplate: "https://x/?id=%d"}, nil, nil).URL(12))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
