// Package config loads the glasses-cam configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wachiwi/glasses-cam/pkg/capture"
	"github.com/wachiwi/glasses-cam/pkg/indicator"
	"github.com/wachiwi/glasses-cam/pkg/notify"
	"github.com/wachiwi/glasses-cam/pkg/seriallink"
	"github.com/wachiwi/glasses-cam/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Config represents the complete glasses-cam configuration
type Config struct {
	Serial    seriallink.Config `yaml:"serial"`
	Capture   capture.Config    `yaml:"capture"`
	Retention RetentionConfig   `yaml:"retention"`
	Journal   JournalConfig     `yaml:"journal"`
	HTTP      HTTPConfig        `yaml:"http"`
	MQTT      notify.Config     `yaml:"mqtt"`
	Indicator indicator.Config  `yaml:"indicator"`
	Telemetry telemetry.Config  `yaml:"telemetry"`
	Log       LogConfig         `yaml:"log"`
}

// RetentionConfig controls pruning of stored captures.
type RetentionConfig struct {
	Schedule string        `yaml:"schedule"` // cron expression
	MaxAge   time.Duration `yaml:"max_age"`  // 0 keeps captures forever
	MaxFiles int           `yaml:"max_files"`
}

// JournalConfig locates the capture history file.
type JournalConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// HTTPConfig holds API server settings. Basic auth is enabled when both
// User and Password are set.
type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Serial:  seriallink.DefaultConfig(),
		Capture: capture.DefaultConfig(),
		Retention: RetentionConfig{
			Schedule: "@hourly",
		},
		Journal: JournalConfig{
			Path:      "captures/history.json",
			Retention: 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Addr: ":5000",
		},
		MQTT: notify.Config{
			Topic:    "glasses/captures",
			ClientID: "glasses-cam",
		},
		Telemetry: telemetry.Config{
			Endpoint:    telemetry.DefaultEndpoint,
			ServiceName: "glasses-cam",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, applies GLASSES_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("GLASSES_SERIAL_PORT", &c.Serial.Port)
	str("GLASSES_SERIAL_DRIVER", &c.Serial.Driver)
	num("GLASSES_SERIAL_BAUD", &c.Serial.Baud)
	str("GLASSES_OUTPUT_DIR", &c.Capture.OutputDir)
	dur("GLASSES_CAPTURE_DEADLINE", &c.Capture.Deadline)
	dur("GLASSES_CAPTURE_INTERVAL", &c.Capture.Interval)
	flag("GLASSES_AUTOSTART", &c.Capture.Autostart)
	str("GLASSES_JOURNAL_PATH", &c.Journal.Path)
	str("GLASSES_HTTP_ADDR", &c.HTTP.Addr)
	str("GLASSES_HTTP_USER", &c.HTTP.User)
	str("GLASSES_HTTP_PASSWORD", &c.HTTP.Password)
	str("GLASSES_MQTT_BROKER", &c.MQTT.Broker)
	str("GLASSES_INDICATOR_CHIP", &c.Indicator.Chip)
	flag("GLASSES_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	str("GLASSES_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	str("GLASSES_LOG_LEVEL", &c.Log.Level)

	return errors.Join(errs...)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	switch c.Serial.Driver {
	case "", seriallink.DriverBugst, seriallink.DriverTarm:
	default:
		errs = append(errs, fmt.Errorf("serial.driver must be %q or %q, got %q",
			seriallink.DriverBugst, seriallink.DriverTarm, c.Serial.Driver))
	}
	if c.Serial.ReadTimeout <= 0 {
		errs = append(errs, errors.New("serial.read_timeout must be positive"))
	}

	if c.Capture.OutputDir == "" {
		errs = append(errs, errors.New("capture.output_dir is required"))
	}
	if c.Capture.Deadline <= 0 {
		errs = append(errs, errors.New("capture.deadline must be positive"))
	}
	if c.Capture.Interval <= 0 {
		errs = append(errs, errors.New("capture.interval must be positive"))
	}
	if c.Capture.ChunkSize <= 0 {
		errs = append(errs, errors.New("capture.chunk_size must be positive"))
	}

	if c.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("retention.schedule: %w", err))
		}
	}
	if c.Retention.MaxAge < 0 || c.Retention.MaxFiles < 0 {
		errs = append(errs, errors.New("retention limits must not be negative"))
	}

	if (c.HTTP.User == "") != (c.HTTP.Password == "") {
		errs = append(errs, errors.New("http.user and http.password must be set together"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	return errors.Join(errs...)
}
