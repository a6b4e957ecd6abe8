// Package collyfetcher implements crawler.ArchiveClient using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/metrics"
)

// Archive endpoints and request defaults.
const (
	DefaultListURL     = "https://mopsov.twse.com.tw/mops/web/ajax_t51sb10"
	DefaultDetailURL   = "https://mopsov.twse.com.tw/mops/web/ajax_t05st01"
	DefaultReferer     = "https://mopsov.twse.com.tw/mops/web/t51sb10_q1"
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultBlockMarker = "FOR SECURITY REASONS"
	DefaultPageSize    = 15
)

// Config controls collector behavior.
type Config struct {
	ListURL     string
	DetailURL   string
	Referer     string
	UserAgent   string
	BlockMarker string
	PageSize    int
	Timeout     time.Duration
	Retry       crawler.RetryPolicy
}

// Waiter paces outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher posts archive forms through a shared Colly session.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
	pauser        crawler.Pauser
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter paces requests through w.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) { f.limiter = w }
}

// WithPauser replaces the sleeper used for jitter and backoff.
func WithPauser(p crawler.Pauser) Option {
	return func(f *Fetcher) { f.pauser = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New builds a Fetcher. Empty config fields take the archive defaults.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.ListURL == "" {
		cfg.ListURL = DefaultListURL
	}
	if cfg.DetailURL == "" {
		cfg.DetailURL = DefaultDetailURL
	}
	if cfg.Referer == "" {
		cfg.Referer = DefaultReferer
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.BlockMarker == "" {
		cfg.BlockMarker = DefaultBlockMarker
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.AllowURLRevisit = true
	c.DetectCharset = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		pauser:        crawler.TimerPauser{},
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchList posts the list form for q after the list jitter delay.
func (f *Fetcher) FetchList(ctx context.Context, q crawler.ListQuery) ([]byte, error) {
	f.pauser.Pause(ctx, f.cfg.Retry.ListJitter.Draw())
	return f.do(ctx, "list", http.MethodPost, f.cfg.ListURL, ListForm(q, f.cfg.PageSize))
}

// FetchDetail posts the detail form for p after the detail jitter delay.
func (f *Fetcher) FetchDetail(ctx context.Context, p crawler.DetailParams) ([]byte, error) {
	f.pauser.Pause(ctx, f.cfg.Retry.DetailJitter.Draw())
	return f.do(ctx, "detail", http.MethodPost, f.cfg.DetailURL, DetailForm(p))
}

// Get fetches rawURL with the same session, retry and block handling.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return f.do(ctx, "get", http.MethodGet, rawURL, nil)
}

// ListForm builds the monthly list payload.
func ListForm(q crawler.ListQuery, pageSize int) map[string]string {
	return map[string]string{
		"encodeURIComponent": "1",
		"step":               "1",
		"firstin":            "true",
		"TYPEK":              "",
		"Stp":                "4",
		"r1":                 "1",
		"KIND":               q.Market.Kind,
		"year":               strconv.Itoa(q.Year),
		"month1":             strconv.Itoa(q.Month),
		"begin_day":          "1",
		"end_day":            "31",
		"Orderby":            "1",
		"PCount":             strconv.Itoa(pageSize),
		"pagenum":            strconv.Itoa(q.Page),
	}
}

// DetailForm builds the detail payload.
func DetailForm(p crawler.DetailParams) map[string]string {
	return map[string]string{
		"encodeURIComponent": "1",
		"step":               "2",
		"firstin":            "1",
		"off":                "1",
		"co_id":              p.CompanyID,
		"TYPEK":              p.TypeK,
		"spoke_date":         p.SpokeDate,
		"spoke_time":         p.SpokeTime,
		"seq_no":             p.SeqNo,
	}
}

func (f *Fetcher) do(ctx context.Context, endpoint, method, rawURL string, form map[string]string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("archive request canceled: %w", err)
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, rawURL); err != nil {
				return nil, err
			}
		}
		body, err := f.once(ctx, method, rawURL, form)
		if err == nil && f.isBlocked(body) {
			err = crawler.ErrBlocked
		}
		if err == nil {
			return body, nil
		}
		if !f.cfg.Retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		delay := f.cfg.Retry.Backoff(attempt)
		metrics.ObserveRetry(endpoint)
		f.logger.Debug("retrying archive request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		f.pauser.Pause(ctx, delay)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
}

func (f *Fetcher) once(ctx context.Context, method, rawURL string, form map[string]string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("colly request canceled: %w", err)
	}
	var (
		body     []byte
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, &body, &fetchErr)

	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			done <- collector.Post(rawURL, form)
			return
		}
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, fmt.Errorf("colly request failed: %w", err)
		}
		return body, nil
	}
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Referer", f.cfg.Referer)
		r.Headers.Set("Accept-Language", "zh-TW,zh;q=0.9,en;q=0.8")
		if r.Method == http.MethodPost {
			r.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && f.isBlocked(r.Body) {
			*fetchErr = crawler.ErrBlocked
			return
		}
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			target := ""
			if r.Request != nil && r.Request.URL != nil {
				target = r.Request.URL.String()
			}
			*fetchErr = &crawler.HTTPStatusError{StatusCode: r.StatusCode, URL: target}
			return
		}
		*fetchErr = fmt.Errorf("archive request: %w", err)
	})
}

func (f *Fetcher) isBlocked(body []byte) bool {
	return f.cfg.BlockMarker != "" && bytes.Contains(body, []byte(f.cfg.BlockMarker))
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
		IdleConnTimeout:       90 * time.Second,
	}
}
