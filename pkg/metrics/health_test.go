package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// resetHealth clears both the component registry and the critical-component
// set, restoring the default registered by SetCriticalComponents in normal
// startup. Tests that call SetCriticalComponents must reset it explicitly
// since it is package-level state shared across the suite.
func resetHealth(t *testing.T) {
	t.Helper()
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
	SetCriticalComponents([]string{"kv-store", "wal", "schema-registry"})
}

func TestRegisterComponent(t *testing.T) {
	resetHealth(t)
	RegisterComponent("test-component", true, "running")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["test-component"]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}
	if comp.Message != "running" {
		t.Errorf("expected message 'running', got '%s'", comp.Message)
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	resetHealth(t)
	healthChecker.version = "1.0.0"

	RegisterComponent("schema-registry", true, "")
	RegisterComponent("kv-store", true, "")

	health := GetHealth()

	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	resetHealth(t)

	RegisterComponent("schema-registry", true, "")
	RegisterComponent("kv-store", false, "not connected")

	health := GetHealth()

	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components["kv-store"] != "unhealthy: not connected" {
		t.Errorf("unexpected kv-store status: %s", health.Components["kv-store"])
	}
}

func TestGetReadiness_AllReady(t *testing.T) {
	resetHealth(t)

	RegisterComponent("kv-store", true, "")
	RegisterComponent("wal", true, "")
	RegisterComponent("schema-registry", true, "")

	readiness := GetReadiness()
	if readiness.Status != "ready" {
		t.Errorf("expected status 'ready', got '%s'", readiness.Status)
	}
}

func TestGetReadiness_MissingCriticalComponent(t *testing.T) {
	resetHealth(t)

	RegisterComponent("schema-registry", true, "")
	// kv-store and wal not registered

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Message == "" {
		t.Error("expected message explaining why not ready")
	}
}

func TestGetReadiness_CriticalComponentUnhealthy(t *testing.T) {
	resetHealth(t)

	RegisterComponent("kv-store", false, "open failed")
	RegisterComponent("wal", true, "")
	RegisterComponent("schema-registry", true, "")

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
}

func TestGetReadiness_FollowerAddsReplicationStream(t *testing.T) {
	resetHealth(t)
	t.Cleanup(func() { SetCriticalComponents([]string{"kv-store", "wal", "schema-registry"}) })

	SetCriticalComponents([]string{"kv-store", "wal", "schema-registry", "replication-stream"})
	RegisterComponent("kv-store", true, "")
	RegisterComponent("wal", true, "")
	RegisterComponent("schema-registry", true, "")

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Fatalf("expected not_ready while replication-stream is unregistered, got %q", readiness.Status)
	}

	RegisterComponent("replication-stream", false, "not yet connected")
	readiness = GetReadiness()
	if readiness.Status != "not_ready" {
		t.Fatalf("expected not_ready while the follower has not reached its primary, got %q", readiness.Status)
	}

	RegisterComponent("replication-stream", true, "")
	readiness = GetReadiness()
	if readiness.Status != "ready" {
		t.Fatalf("expected ready once replication-stream reports healthy, got %q", readiness.Status)
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealth(t)
	healthChecker.version = "test"
	RegisterComponent("test", true, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("expected healthy status, got %s", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("expected version 'test', got %s", health.Version)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealth(t)
	RegisterComponent("test", false, "broken")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "unhealthy" {
		t.Errorf("expected unhealthy status, got %s", health.Status)
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealth(t)
	RegisterComponent("kv-store", true, "")
	RegisterComponent("wal", true, "")
	RegisterComponent("schema-registry", true, "")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "ready" {
		t.Errorf("expected ready status, got %s", readiness.Status)
	}
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealth(t)
	RegisterComponent("schema-registry", true, "")
	// kv-store not registered

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "not_ready" {
		t.Errorf("expected not_ready status, got %s", readiness.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealth(t)

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()
	LivenessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got '%s'", response["status"])
	}
	if response["uptime"] == "" {
		t.Error("uptime should not be empty")
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealth(t)
	RegisterComponent("test", true, "ok")
	UpdateComponent("test", false, "error")

	comp := healthChecker.components["test"]
	if comp.Healthy {
		t.Error("component should be unhealthy after update")
	}
	if comp.Message != "error" {
		t.Errorf("expected message 'error', got '%s'", comp.Message)
	}
}
