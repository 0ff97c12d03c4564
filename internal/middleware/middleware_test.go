package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/firewatch-ops/firewatch-backend/internal/metrics"
	"github.com/firewatch-ops/firewatch-backend/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

// call wraps a simple 200-OK inner handler in the provided middleware and
// returns the recorded response.
func call(t *testing.T, mw func(http.Handler) http.Handler, method, origin string) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/test", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

func TestCORS_AllowedOrigin(t *testing.T) {
	mw := middleware.CORS([]string{"http://localhost:5173"})

	rec := call(t, mw, http.MethodGet, "http://localhost:5173")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected origin to be echoed, got %q", got)
	}
}

func TestCORS_UnknownOrigin(t *testing.T) {
	mw := middleware.CORS([]string{"http://localhost:5173"})

	rec := call(t, mw, http.MethodGet, "https://elsewhere.example")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin header, got %q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	mw := middleware.CORS(nil)

	rec := call(t, mw, http.MethodOptions, "")

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestRateLimit_RejectsPastBurst(t *testing.T) {
	// Refills far slower than the test runs.
	l := rate.NewLimiter(rate.Limit(0.001), 2)
	mw := middleware.RateLimit(l, "test")
	before := testutil.ToFloat64(metrics.IngestThrottled.WithLabelValues("test"))

	for i := 0; i < 2; i++ {
		if rec := call(t, mw, http.MethodPost, ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := call(t, mw, http.MethodPost, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	after := testutil.ToFloat64(metrics.IngestThrottled.WithLabelValues("test"))
	if after-before != 1 {
		t.Errorf("expected throttle counter +1, got %v", after-before)
	}
}
