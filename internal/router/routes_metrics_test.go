package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mlevan/refetch/internal/metrics"
)

func TestMetricsEndpointEmitsFamilies(t *testing.T) {
	// Register collectors and prime a couple of samples
	metrics.Register()
	metrics.EngineEvents.WithLabelValues("started").Inc()
	metrics.BytesDownloaded.Add(1024)
	metrics.ActiveDownloads.Set(2)

	r := New(testLogger(), &fakeEngine{}, &fakePinger{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "refetch_engine_events_total") {
		t.Fatalf("missing engine_events_total in metrics: %s", body)
	}
	if !strings.Contains(body, "refetch_bytes_downloaded_total") {
		t.Fatalf("missing bytes_downloaded_total in metrics: %s", body)
	}
	if !strings.Contains(body, "refetch_active_downloads") {
		t.Fatalf("missing active_downloads gauge in metrics: %s", body)
	}
}
