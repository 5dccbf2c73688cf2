package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `enginesync:
  name: "TestApp"
  version: "1.0"
engine:
  websocket_url: "ws://localhost:9000/ws"
market:
  symbols: ["BTCUSDT"]
  interval_ms: 3000
oauth:
  dashboard_url: "http://localhost:3000/dashboard"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("API_BASE", "")
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.EngineSync.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.EngineSync.Name)
	}
	if cfg.EngineSync.APIBase != DefaultAPIBase {
		t.Errorf("expected default api base, got %s", cfg.EngineSync.APIBase)
	}
	if cfg.Market.StatusIntervalMs != 3000 {
		t.Errorf("unexpected status interval default: %d", cfg.Market.StatusIntervalMs)
	}
	if cfg.Telemetry.Capacity != 500 {
		t.Errorf("unexpected telemetry capacity default: %d", cfg.Telemetry.Capacity)
	}
	if cfg.Engine.HeartbeatInterval != 15*time.Second {
		t.Errorf("unexpected heartbeat default: %s", cfg.Engine.HeartbeatInterval)
	}
}

func TestLoadConfigAPIBaseFromEnv(t *testing.T) {
	t.Setenv("API_BASE", "https://api.example.com/")
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.EngineSync.APIBase != "https://api.example.com" {
		t.Errorf("expected env override without trailing slash, got %s", cfg.EngineSync.APIBase)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	content := `enginesync:
  version: "1.0"
engine:
  websocket_url: "ws://localhost:9000/ws"
oauth:
  dashboard_url: "http://localhost:3000/dashboard"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestLoadConfigRejectsUnknownSource(t *testing.T) {
	content := `enginesync:
  name: "TestApp"
  version: "1.0"
engine:
  websocket_url: "ws://localhost:9000/ws"
market:
  source: "kraken"
oauth:
  dashboard_url: "http://localhost:3000/dashboard"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected validation error for unknown market source")
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv(appEnvVar, "prod")
	if env := AppEnvironment(); env != EnvironmentProduction {
		t.Fatalf("expected production, got %s", env)
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Fatalf("staging should be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Fatalf("development should not be production-like")
	}
}
