package daemon

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClientLimitersPerHost(t *testing.T) {
	limits := newClientLimiters(1, 2)
	now := time.Unix(1_700_000_000, 0)
	limits.now = func() time.Time { return now }

	for i := range 2 {
		if !limits.allow("10.0.0.1") {
			t.Fatalf("request %d rejected inside burst", i)
		}
	}
	if limits.allow("10.0.0.1") {
		t.Fatal("expected third request to be throttled")
	}
	if !limits.allow("10.0.0.2") {
		t.Fatal("second host should have its own bucket")
	}

	now = now.Add(time.Second)
	if !limits.allow("10.0.0.1") {
		t.Fatal("bucket should refill after a second")
	}
}

func TestClientLimitersSweepIdle(t *testing.T) {
	limits := newClientLimiters(1, 1)
	now := time.Unix(1_700_000_000, 0)
	limits.now = func() time.Time { return now }
	limits.lastSweep = now

	limits.allow("10.0.0.1")
	limits.allow("10.0.0.2")
	now = now.Add(apiClientIdleTTL)
	limits.allow("10.0.0.3")
	if got := limits.size(); got != 1 {
		t.Fatalf("clients after sweep = %d, want 1", got)
	}
}

func TestAPIServerThrottles(t *testing.T) {
	d := newAPITestDaemon(t, "")
	d.api.limits.rate = 0
	d.api.limits.burst = 1

	if code := serveAPI(d, "/api/status", "").Code; code != http.StatusOK {
		t.Fatalf("first request status = %d", code)
	}
	w := serveAPI(d, "/api/status", "")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("second request status = %d, headers %v", w.Code, w.Header())
	}
	expected := `
# HELP discarchive_api_throttled_total HTTP API requests rejected by the per-client rate limit.
# TYPE discarchive_api_throttled_total counter
discarchive_api_throttled_total 1
`
	if err := testutil.GatherAndCompare(d.metrics.Registry(), strings.NewReader(expected), "discarchive_api_throttled_total"); err != nil {
		t.Fatal(err)
	}
}

func TestRemoteHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if got := remoteHost(req); got != "192.0.2.7" {
		t.Fatalf("remoteHost = %q", got)
	}
	req.RemoteAddr = "pipe"
	if got := remoteHost(req); got != "pipe" {
		t.Fatalf("remoteHost = %q", got)
	}
}
