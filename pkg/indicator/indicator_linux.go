//go:build linux

package indicator

import (
	"fmt"
	"log/slog"

	"github.com/warthog618/go-gpiocdev"
)

type led struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func open(cfg Config) (Indicator, error) {
	c, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("failed to open chip: %w", err)
	}
	l, err := c.RequestLine(cfg.Line, gpiocdev.AsOutput(0))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to request line %d: %w", cfg.Line, err)
	}
	slog.Info("Capture indicator ready", "chip", cfg.Chip, "line", cfg.Line)
	return &led{chip: c, line: l}, nil
}

func (l *led) On() error  { return l.line.SetValue(1) }
func (l *led) Off() error { return l.line.SetValue(0) }

// Close turns the LED off and releases the line.
func (l *led) Close() error {
	l.line.SetValue(0)
	l.line.Close()
	return l.chip.Close()
}
