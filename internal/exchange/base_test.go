package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	resty "github.com/go-resty/resty/v2"
	gobreakerpkg "github.com/sony/gobreaker"
)

func TestTripOnRepeatedFailureConsecutive(t *testing.T) {
	counts := gobreakerpkg.Counts{ConsecutiveFailures: 3, Requests: 3, TotalFailures: 3}
	if !tripOnRepeatedFailure(counts) {
		t.Error("3 consecutive failures should trip the breaker")
	}
}

func TestTripOnRepeatedFailureRatio(t *testing.T) {
	// 20 requests, 2 failures = 10% > 5% threshold.
	counts := gobreakerpkg.Counts{ConsecutiveFailures: 1, Requests: 20, TotalFailures: 2}
	if !tripOnRepeatedFailure(counts) {
		t.Error("failure ratio above 5% with >=20 requests should trip the breaker")
	}
}

func TestTripOnRepeatedFailureBelowThreshold(t *testing.T) {
	counts := gobreakerpkg.Counts{ConsecutiveFailures: 1, Requests: 20, TotalFailures: 1}
	if tripOnRepeatedFailure(counts) {
		t.Error("1 failure in 20 requests (5%) should not trip the breaker")
	}
}

func TestRestClientDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewRestClient("test-venue", srv.URL, 2*time.Second)
	resp, err := c.Do(context.Background(), "get", func() (*resty.Response, error) {
		return c.HTTP.R().Get("/")
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if resp.StatusCode() != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode())
	}
}

func TestRestClientDoSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewRestClient("test-venue", srv.URL, 2*time.Second)
	_, err := c.Do(context.Background(), "get", func() (*resty.Response, error) {
		return c.HTTP.R().Get("/")
	})
	if err == nil {
		t.Error("expected an error for a 500 response")
	}
}
