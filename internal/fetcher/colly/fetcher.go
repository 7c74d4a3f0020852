// Package collyfetcher retrieves pages and posts forms through gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/webmentions/internal/policy/ratelimit"
	"github.com/JakeFAU/webmentions/internal/retry"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Limiter throttles requests per host; nil disables it.
	Limiter *ratelimit.Limiter
}

// Response is the outcome of one request.
type Response struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	// RobotsAssumed is set when robots.txt could not be read and the
	// request went ahead as if the host allowed everything.
	RobotsAssumed bool
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Fetcher issues each request through its own Colly collector. Clones of a
// shared collector share its HTTP client, so per-request transports and
// timeouts would leak between concurrent calls.
type Fetcher struct {
	cfg         Config
	transport   http.RoundTripper
	robotsRetry *retry.Policy
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:         cfg,
		transport:   newHTTPTransport(),
		robotsRetry: newRobotsRetry(),
	}
}

// Get fetches rawURL. Non-2xx responses are returned along with a *StatusError.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers http.Header) (Response, error) {
	if err := f.cfg.Limiter.Wait(ctx, rawURL); err != nil {
		return Response{}, err
	}
	return f.run(ctx, f.cfg.RespectRobots, headers, func(c *colly.Collector) error {
		return c.Visit(rawURL)
	})
}

// PostForm submits form to rawURL as application/x-www-form-urlencoded.
// robots.txt is not consulted for form posts.
func (f *Fetcher) PostForm(ctx context.Context, rawURL string, form map[string]string) (Response, error) {
	if err := f.cfg.Limiter.Wait(ctx, rawURL); err != nil {
		return Response{}, err
	}
	return f.run(ctx, false, nil, func(c *colly.Collector) error {
		return c.Post(rawURL, form)
	})
}

// visitResult is filled in by the visiting goroutine and handed back whole.
type visitResult struct {
	resp     Response
	visitErr error
	fetchErr error
}

// run performs one request on a fresh collector. All state the collector
// writes is owned by the visiting goroutine, so returning early on
// cancellation leaves nothing shared behind.
func (f *Fetcher) run(
	ctx context.Context,
	respectRobots bool,
	headers http.Header,
	visit func(*colly.Collector) error,
) (Response, error) {
	done := make(chan visitResult, 1)
	go func() {
		var res visitResult
		collector, fallback := f.buildCollector(respectRobots, headers, time.Now(), &res.resp, &res.fetchErr)
		res.visitErr = visit(collector)
		res.resp.RobotsAssumed = fallback.Assumed()
		done <- res
	}()

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case res := <-done:
		if res.visitErr != nil {
			return Response{}, fmt.Errorf("colly visit failed: %w", res.visitErr)
		}
		if res.fetchErr != nil {
			return Response{}, fmt.Errorf("colly response failed: %w", res.fetchErr)
		}
		return res.resp, statusError(res.resp)
	}
}

func statusError(result Response) error {
	if result.StatusCode >= 200 && result.StatusCode < 300 {
		return nil
	}
	return &StatusError{URL: result.URL, StatusCode: result.StatusCode}
}

func (f *Fetcher) buildCollector(
	respectRobots bool,
	headers http.Header,
	start time.Time,
	result *Response,
	fetchErr *error,
) (*colly.Collector, *robotsFallback) {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.ParseHTTPErrorResponse = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !respectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var fallback *robotsFallback
	baseTransport := f.transport
	if baseTransport == nil {
		baseTransport = newHTTPTransport()
	}
	if respectRobots {
		fallback = &robotsFallback{}
		collector.WithTransport(&robotsTransport{
			base:     baseTransport,
			retry:    f.robotsRetry,
			fallback: fallback,
		})
	} else {
		collector.WithTransport(baseTransport)
	}

	f.configureCollectorHooks(collector, headers, start, result, fetchErr)
	return collector, fallback
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	headers http.Header,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var h http.Header
		if r.Headers != nil {
			h = r.Headers.Clone()
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    h,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
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
		IdleConnTimeout:       90 * time.Second,
	}
}
