package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
		{"protocol relative", "//Example.org/x", "example.org"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if lookupsTotal == nil || mentionsDiscoveredTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(lookupsTotal.WithLabelValues(OutcomeThrottled))
	ObserveLookup(OutcomeThrottled)
	if val := testutil.ToFloat64(lookupsTotal.WithLabelValues(OutcomeThrottled)); val != before+1 {
		t.Errorf("Expected throttled lookups to be %f, got %f", before+1, val)
	}
}

func TestObserveSendLabelsBySite(t *testing.T) {
	ObserveSend("//Example.org/post", OutcomeSent)
	if val := testutil.ToFloat64(sendsTotal.WithLabelValues("example.org", OutcomeSent)); val < 1 {
		t.Errorf("Expected a send for example.org, got %f", val)
	}

	before := testutil.ToFloat64(outgoingQueuedTotal)
	ObserveQueued(0)
	ObserveQueued(3)
	if val := testutil.ToFloat64(outgoingQueuedTotal); val != before+3 {
		t.Errorf("Expected queued total %f, got %f", before+3, val)
	}
}

func TestObserveRobotsFallback(t *testing.T) {
	ObserveRobotsFallback("Robots.Example:8443")
	if val := testutil.ToFloat64(robotsFallbacksTotal.WithLabelValues("robots.example")); val < 1 {
		t.Errorf("Expected a robots fallback for robots.example, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
