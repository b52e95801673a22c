// Package indicator drives an optional LED that is lit while a capture
// is in progress.
package indicator

// Indicator is switched on for the duration of a capture session.
type Indicator interface {
	On() error
	Off() error
	Close() error
}

// Config selects the GPIO line. An empty Chip disables the indicator.
type Config struct {
	Chip string `yaml:"chip"` // e.g. "gpiochip0"
	Line int    `yaml:"line"` // BCM offset
}

// Nop does nothing.
type Nop struct{}

func (Nop) On() error    { return nil }
func (Nop) Off() error   { return nil }
func (Nop) Close() error { return nil }

// New opens the configured line, or returns Nop when none is configured.
func New(cfg Config) (Indicator, error) {
	if cfg.Chip == "" {
		return Nop{}, nil
	}
	return open(cfg)
}
