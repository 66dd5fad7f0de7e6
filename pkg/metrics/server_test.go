package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/health"
)

func TestOpsRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.BatchesTotal.Inc()

	checker := health.NewChecker()
	checker.Register("opensearch", health.Ping(func(context.Context) error { return errors.New("connection refused") }))

	srv := httptest.NewServer(NewMux(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), checker))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "bridge_batches_total 1") {
		t.Errorf("metrics body missing counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("GET /health/ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready status = %d, want 503", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatalf("GET /health/live: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live status = %d", resp.StatusCode)
	}
}
