package observability

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestManagerDisabledByDefault(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.TracingEnabled() {
		t.Error("expected tracing disabled when Config.Tracing.Enabled is false")
	}
	if m.MetricsEnabled() {
		t.Error("expected metrics disabled when Config.Metrics.Enabled is false")
	}
}

func TestManagerNilIsSafe(t *testing.T) {
	var m *Manager
	if m.TracingEnabled() || m.MetricsEnabled() {
		t.Error("nil Manager must report everything disabled")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("nil Manager Shutdown: %v", err)
	}
	rr := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Errorf("expected 503 for disabled metrics handler, got %d", rr.Code)
	}
}

func TestManagerMetricsEnabled(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{
		Metrics: MetricsConfig{Enabled: true, Namespace: "test_voxelcrew"},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if !m.MetricsEnabled() {
		t.Fatal("expected metrics enabled")
	}
	m.Metrics().SessionsStarted.Inc()

	rr := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}
