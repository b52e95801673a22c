//go:build !linux

package indicator

import (
	"log/slog"
)

func open(cfg Config) (Indicator, error) {
	slog.Warn("GPIO not supported on this platform, capture indicator disabled", "chip", cfg.Chip)
	return Nop{}, nil
}
