package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/sales/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sales/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Contains(t, scrape(t, m), `posledger_http_requests_total{code="404",route="/api/v1/sales/{id}"} 2`)
}

func TestCheckoutAndReceiptCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveCheckout("committed")
	m.ObserveCheckout("committed")
	m.ObserveCheckout("rejected")
	m.ReceiptDegraded("tenant-a")

	body := scrape(t, m)
	assert.Contains(t, body, `posledger_checkouts_total{outcome="committed"} 2`)
	assert.Contains(t, body, `posledger_checkouts_total{outcome="rejected"} 1`)
	assert.Contains(t, body, `posledger_receipt_degraded_total{tenant="tenant-a"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCheckout("committed")
	m.ReceiptDegraded("tenant-a")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
