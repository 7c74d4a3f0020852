package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/webmentions/internal/metrics"
	"github.com/JakeFAU/webmentions/internal/retry"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsAttempts bounds how often an unreachable robots.txt is requested
// before every path on the host is assumed allowed.
const robotsAttempts = 4

func newRobotsRetry() *retry.Policy {
	return retry.New(robotsAttempts).WithDelays(250*time.Millisecond, time.Second)
}

// robotsFallback remembers whether a request went ahead without a readable
// robots.txt.
type robotsFallback struct {
	assumed atomic.Bool
}

func (f *robotsFallback) Assumed() bool {
	return f != nil && f.assumed.Load()
}

// robotsTransport retries robots.txt requests that time out and answers
// with an allow-all policy once retries run out. A webmention target whose
// robots.txt hangs is still contacted. Other requests pass straight through.
type robotsTransport struct {
	base     http.RoundTripper
	retry    *retry.Policy
	fallback *robotsFallback
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	var resp *http.Response
	err := t.retry.Do(req.Context(), func(ctx context.Context) error {
		r, err := t.base.RoundTrip(req.Clone(ctx))
		if err != nil {
			return &robotsError{err: err, timeout: isTimeout(err)}
		}
		resp = r
		return nil
	})
	if err == nil {
		return resp, nil
	}

	var rerr *robotsError
	if errors.As(err, &rerr) && rerr.timeout && req.Context().Err() == nil {
		t.fallback.assumed.Store(true)
		metrics.ObserveRobotsFallback(req.URL.Host)
		return allowAllResponse(req), nil
	}
	return nil, err
}

// robotsError hides the cause from errors.Is so retry.Policy classifies it
// by Temporary alone; a per-attempt deadline is worth another try here.
type robotsError struct {
	err     error
	timeout bool
}

func (e *robotsError) Error() string   { return "fetch robots.txt: " + e.err.Error() }
func (e *robotsError) Temporary() bool { return e.timeout }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
}
