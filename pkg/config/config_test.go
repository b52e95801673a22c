package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glasses.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Defaults should be valid: %v", err)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("Expected baud 115200, got %d", cfg.Serial.Baud)
	}
	if cfg.Capture.Deadline != 20*time.Second || cfg.Capture.Interval != 10*time.Second {
		t.Errorf("Unexpected capture timings: %+v", cfg.Capture)
	}
	if cfg.Capture.StopGrace != 5*time.Second || cfg.Capture.ChunkSize != 1024 {
		t.Errorf("Unexpected capture limits: %+v", cfg.Capture)
	}
	if cfg.HTTP.Addr != ":5000" {
		t.Errorf("Expected :5000, got %s", cfg.HTTP.Addr)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB1
  driver: tarm
  read_timeout: 500ms
capture:
  output_dir: /data/captures
  interval: 1m
retention:
  schedule: "*/15 * * * *"
  max_files: 100
mqtt:
  broker: mosquitto:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyUSB1" || cfg.Serial.Driver != "tarm" {
		t.Errorf("Unexpected serial config %+v", cfg.Serial)
	}
	if cfg.Serial.ReadTimeout != 500*time.Millisecond {
		t.Errorf("Expected 500ms read timeout, got %s", cfg.Serial.ReadTimeout)
	}
	if cfg.Capture.Interval != time.Minute || cfg.Capture.OutputDir != "/data/captures" {
		t.Errorf("Unexpected capture config %+v", cfg.Capture)
	}
	// Untouched keys keep their defaults.
	if cfg.Capture.Deadline != 20*time.Second || cfg.Serial.Baud != 115200 {
		t.Errorf("Defaults lost: %+v %+v", cfg.Capture, cfg.Serial)
	}
	if cfg.MQTT.Broker != "mosquitto:1883" || cfg.MQTT.Topic != "glasses/captures" {
		t.Errorf("Unexpected mqtt config %+v", cfg.MQTT)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GLASSES_SERIAL_PORT", "auto")
	t.Setenv("GLASSES_CAPTURE_INTERVAL", "30s")
	t.Setenv("GLASSES_AUTOSTART", "true")
	t.Setenv("GLASSES_HTTP_USER", "admin")
	t.Setenv("GLASSES_HTTP_PASSWORD", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Serial.Port != "auto" || cfg.Capture.Interval != 30*time.Second || !cfg.Capture.Autostart {
		t.Errorf("Environment not applied: %+v %+v", cfg.Serial, cfg.Capture)
	}
	if cfg.HTTP.User != "admin" || cfg.HTTP.Password != "secret" {
		t.Errorf("Credentials not applied: %+v", cfg.HTTP)
	}

	t.Setenv("GLASSES_CAPTURE_INTERVAL", "soon")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "GLASSES_CAPTURE_INTERVAL") {
		t.Errorf("Expected a parse error naming the variable, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad driver", func(c *Config) { c.Serial.Driver = "usb" }, "serial.driver"},
		{"zero deadline", func(c *Config) { c.Capture.Deadline = 0 }, "capture.deadline"},
		{"no output dir", func(c *Config) { c.Capture.OutputDir = "" }, "capture.output_dir"},
		{"bad schedule", func(c *Config) { c.Retention.Schedule = "every hour" }, "retention.schedule"},
		{"half credentials", func(c *Config) { c.HTTP.User = "admin" }, "http.user"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}
}
