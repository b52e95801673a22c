// Package seriallink wraps the USB serial connection to the ESP32 camera.
//
// Opening a link reboots the device, so Open waits for it to settle, drops
// stale input and drains the boot banner before handing the link out.
package seriallink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Port is the part of a serial port the link relies on.
// go.bug.st/serial ports satisfy it directly.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens the named port using cfg.
type Opener func(name string, cfg Config) (Port, error)

// Config holds serial link configuration
type Config struct {
	Port        string        `yaml:"port"`   // device path, "auto" or empty for the platform default
	Baud        int           `yaml:"baud"`
	Driver      string        `yaml:"driver"` // "bugst" or "tarm"
	ReadTimeout time.Duration `yaml:"read_timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"` // the ESP32 reboots when the port opens
	BannerWait  time.Duration `yaml:"banner_wait"`
}

// DefaultConfig returns the settings the ESP32 firmware expects.
func DefaultConfig() Config {
	return Config{
		Baud:        115200,
		Driver:      DriverBugst,
		ReadTimeout: 1 * time.Second,
		SettleDelay: 2 * time.Second,
		BannerWait:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Baud == 0 {
		c.Baud = def.Baud
	}
	if c.Driver == "" {
		c.Driver = def.Driver
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	return c
}

// Link is an open serial connection to the camera.
type Link struct {
	cfg  Config
	name string

	mu      sync.Mutex
	port    Port
	timeout time.Duration
	closed  bool
}

// Open opens the configured port and prepares the device for framing.
// If open is nil the opener for cfg.Driver is used. Failures are
// returned as *ConnectionError.
func Open(ctx context.Context, cfg Config, open Opener) (*Link, error) {
	cfg = cfg.withDefaults()

	name, err := ResolvePort(cfg.Port)
	if err != nil {
		return nil, &ConnectionError{Port: cfg.Port, Err: err}
	}
	if open == nil {
		open, err = OpenerFor(cfg.Driver)
		if err != nil {
			return nil, &ConnectionError{Port: name, Err: err}
		}
	}

	slog.Info("Connecting to ESP32", "port", name, "baud", cfg.Baud, "driver", cfg.Driver)
	p, err := open(name, cfg)
	if err != nil {
		return nil, &ConnectionError{Port: name, Err: err}
	}

	l := &Link{
		cfg:     cfg,
		name:    name,
		port:    p,
		timeout: cfg.ReadTimeout,
	}
	if err := l.settle(ctx); err != nil {
		l.Close()
		return nil, &ConnectionError{Port: name, Err: err}
	}

	slog.Info("ESP32 camera connected", "port", name)
	return l, nil
}

// Name returns the resolved device path.
func (l *Link) Name() string {
	return l.name
}

// settle waits for the device reboot, drops stale input and drains the
// boot banner.
func (l *Link) settle(ctx context.Context) error {
	if d := l.cfg.SettleDelay; d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	if err := l.ResetInput(); err != nil {
		return err
	}
	l.drainBanner()
	return nil
}

// drainBanner logs boot messages until the device goes quiet for one read
// timeout or BannerWait elapses.
func (l *Link) drainBanner() {
	if l.cfg.BannerWait <= 0 {
		return
	}

	deadline := time.Now().Add(l.cfg.BannerWait)
	buf := make([]byte, 256)
	var pending []byte

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		n, err := l.Read(buf, min(l.cfg.ReadTimeout, remaining))
		if err != nil {
			slog.Warn("Failed to read boot messages", "port", l.name, "error", err)
			break
		}
		if n == 0 {
			break
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			logBannerLine(pending[:i])
			pending = pending[i+1:]
		}
	}
	logBannerLine(pending)
}

func logBannerLine(line []byte) {
	msg := strings.TrimSpace(strings.ToValidUTF8(string(line), ""))
	if msg != "" {
		slog.Info("ESP32", "message", msg)
	}
}

// Read reads whatever is available into p, waiting at most timeout.
// It returns 0, nil when nothing arrived in time.
func (l *Link) Read(p []byte, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, &IOError{Op: "read", Err: ErrClosed}
	}
	port := l.port
	if timeout != l.timeout {
		if err := port.SetReadTimeout(timeout); err != nil {
			l.mu.Unlock()
			return 0, &IOError{Op: "set read timeout", Err: err}
		}
		l.timeout = timeout
	}
	l.mu.Unlock()

	n, err := port.Read(p)
	if err != nil {
		return n, &IOError{Op: "read", Err: err}
	}
	return n, nil
}

// Write sends p to the device.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, &IOError{Op: "write", Err: ErrClosed}
	}
	port := l.port
	l.mu.Unlock()

	n, err := port.Write(p)
	if err != nil {
		return n, &IOError{Op: "write", Err: err}
	}
	return n, nil
}

// ResetInput discards anything buffered on the input side.
func (l *Link) ResetInput() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return &IOError{Op: "reset input", Err: ErrClosed}
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		return &IOError{Op: "reset input", Err: err}
	}
	return nil
}

// Close releases the port. Calling it more than once is harmless.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.port.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", l.name, err)
	}
	return nil
}
