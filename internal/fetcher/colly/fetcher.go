// Package collyfetcher implements genealogy.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/metrics"
	"github.com/JakeFAU/genealogy-crawler/internal/policy/ratelimit"
)

// Config controls collector behavior.
type Config struct {
	// URLTemplate is formatted with the record ID, e.g. ".../id.php?id=%d".
	URLTemplate string
	// NotFoundMarker, when present in a 2xx body, means the ID does not exist.
	NotFoundMarker string
	UserAgent      string
	RespectRobots  bool
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Retry   RetryPolicy
}

// Fetcher implements genealogy.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
	baseCollector *colly.Collector
	marker        []byte
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptResult is what one Visit produced.
type attemptResult struct {
	url        string
	statusCode int
	body       []byte
}

// New builds a Fetcher. A nil limiter disables politeness throttling.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = NewExponentialRetryPolicy(3, 0, 0)
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// The backend client is shared by every clone, so it is configured once here.
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		logger:        logger,
		baseCollector: c,
		marker:        []byte(cfg.NotFoundMarker),
	}
}

// URL renders the record URL for id.
func (f *Fetcher) URL(id int) string {
	return fmt.Sprintf(f.cfg.URLTemplate, id)
}

// Fetch retrieves the record page for id, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, id int) (genealogy.Page, error) {
	url := f.URL(id)
	start := time.Now()
	logger := f.logger.With(zap.Int("id", id))

	for attempt := 1; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return genealogy.Page{}, fmt.Errorf("fetch id %d: %w", id, err)
		}

		res, err := f.attempt(ctx, url)
		if err == nil {
			err = f.classify(res)
		}
		if ctx.Err() != nil {
			return genealogy.Page{}, fmt.Errorf("fetch id %d: %w", id, ctx.Err())
		}

		switch {
		case err == nil:
			metrics.ObserveFetchAttempt("ok")
			return genealogy.Page{
				ID:         id,
				URL:        res.url,
				StatusCode: res.statusCode,
				Body:       res.body,
				Attempts:   attempt,
				Duration:   time.Since(start),
			}, nil
		case errors.Is(err, genealogy.ErrNotFound):
			metrics.ObserveFetchAttempt("not_found")
			return genealogy.Page{}, fmt.Errorf("fetch id %d: %w", id, err)
		case f.cfg.Retry.ShouldRetry(err, attempt):
			metrics.ObserveFetchAttempt("retry")
			delay := f.cfg.Retry.Backoff(attempt)
			logger.Debug("retrying fetch", zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
			if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
				return genealogy.Page{}, fmt.Errorf("fetch id %d: %w", id, sleepErr)
			}
		default:
			metrics.ObserveFetchAttempt("error")
			return genealogy.Page{}, &genealogy.TransientError{ID: id, Attempts: attempt, Err: err}
		}
	}
}

// classify maps a completed response onto the fetch error taxonomy.
func (f *Fetcher) classify(res attemptResult) error {
	switch {
	case res.statusCode == http.StatusNotFound:
		return genealogy.ErrNotFound
	case res.statusCode >= 200 && res.statusCode < 300:
		if len(f.marker) > 0 && bytes.Contains(res.body, f.marker) {
			return genealogy.ErrNotFound
		}
		return nil
	default:
		return &StatusError{Code: res.statusCode}
	}
}

func (f *Fetcher) attempt(ctx context.Context, url string) (attemptResult, error) {
	var (
		result   attemptResult
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, &result, &fetchErr)

	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if err := f.runCollector(attemptCtx, collector, url, &fetchErr); err != nil {
		return attemptResult{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *attemptResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = attemptResult{
			url:        r.Request.URL.String(),
			statusCode: r.StatusCode,
			body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// A status error still carries a response worth classifying.
		if r != nil && r.StatusCode != 0 && result.statusCode == 0 {
			result.statusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
