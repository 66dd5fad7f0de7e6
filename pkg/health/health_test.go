package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func up(ctx context.Context) error { return nil }

func down(ctx context.Context) error { return errors.New("connection refused") }

func TestRunAggregatesStatus(t *testing.T) {
	tests := []struct {
		name     string
		critical func(context.Context) error
		optional func(context.Context) error
		want     Status
	}{
		{"all up", up, up, StatusUp},
		{"optional down", up, down, StatusDegraded},
		{"critical down", down, up, StatusDown},
		{"both down", down, down, StatusDown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("opensearch", Ping(tc.critical))
			c.RegisterOptional("redis", Ping(tc.optional))
			report := c.Run(context.Background())
			if report.Status != tc.want {
				t.Fatalf("status = %s, want %s", report.Status, tc.want)
			}
			if len(report.Components) != 2 {
				t.Fatalf("components = %d, want 2", len(report.Components))
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("opensearch", Ping(down))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want 503", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Components["opensearch"].Message != "connection refused" {
		t.Errorf("message = %q", report.Components["opensearch"].Message)
	}

	rec = httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("live status code = %d, want 200", rec.Code)
	}
}
