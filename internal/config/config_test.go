package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
edge_id: edge-1
mqtt:
  broker_ip: 10.0.0.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MQTT.BrokerPort != 1883 {
		t.Fatalf("BrokerPort = %d, want default 1883", cfg.MQTT.BrokerPort)
	}
	if cfg.Radio.OverloadThreshold != 0.85 {
		t.Fatalf("OverloadThreshold = %v, want default 0.85", cfg.Radio.OverloadThreshold)
	}
	if cfg.Assignment.Hysteresis != 0.1 {
		t.Fatalf("Hysteresis = %v, want default 0.1", cfg.Assignment.Hysteresis)
	}
}

func TestLoadRejectsMissingBrokerIP(t *testing.T) {
	path := writeTempConfig(t, `edge_id: edge-1`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected ConfigInvalid for missing mqtt.broker_ip")
	}
	if _, ok := err.(*ConfigInvalid); !ok {
		t.Fatalf("expected *ConfigInvalid, got %T", err)
	}
}

func TestLoadRejectsBadRSSIRange(t *testing.T) {
	path := writeTempConfig(t, `
edge_id: edge-1
mqtt:
  broker_ip: 10.0.0.5
assignment:
  rssi_min: -30
  rssi_max: -120
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected ConfigInvalid for inverted rssi range")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
