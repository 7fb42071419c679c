package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreRecorded(t *testing.T) {
	registry := New()

	registry.EventRecorded("page_view")
	registry.EventRecorded("page_view")
	registry.EventDropped("link_click")
	registry.UploadFinished("local", nil)
	registry.UploadFinished("s3", errors.New("denied"))
	finish := registry.RequestStarted()
	finish(http.MethodGet, "/api/articles", http.StatusNotFound)

	if got := testutil.ToFloat64(registry.eventsRecorded.WithLabelValues("page_view")); got != 2 {
		t.Fatalf("expected 2 recorded page views, got %v", got)
	}
	if got := testutil.ToFloat64(registry.eventsDropped.WithLabelValues("link_click")); got != 1 {
		t.Fatalf("expected 1 dropped click, got %v", got)
	}
	if got := testutil.ToFloat64(registry.uploads.WithLabelValues("s3", "error")); got != 1 {
		t.Fatalf("expected 1 failed s3 upload, got %v", got)
	}
	if got := testutil.ToFloat64(registry.httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/articles", "4xx")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}
	if got := testutil.ToFloat64(registry.httpRequestsInFlight); got != 0 {
		t.Fatalf("expected no requests in flight, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var registry *Metrics
	registry.EventRecorded("page_view")
	registry.ReportCacheResult("hit")
	registry.RequestStarted()(http.MethodGet, "/", http.StatusOK)

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil handler, got %d", recorder.Code)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	registry := New()
	registry.ReportCacheResult("miss")

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `helpcenter_analytics_report_cache_total{result="miss"} 1`) {
		t.Fatalf("expected cache counter in exposition output")
	}
}
