package capture

import "time"

// Config holds capture configuration
type Config struct {
	OutputDir string        `yaml:"output_dir"`
	Deadline  time.Duration `yaml:"deadline"`   // per session, trigger to last payload byte
	Interval  time.Duration `yaml:"interval"`   // sleep between scheduled sessions
	StopGrace time.Duration `yaml:"stop_grace"` // how long Stop waits for the loop to exit
	ChunkSize int           `yaml:"chunk_size"`
	Autostart bool          `yaml:"autostart"`
}

// DefaultConfig returns the capture defaults.
func DefaultConfig() Config {
	return Config{
		OutputDir: "captures",
		Deadline:  20 * time.Second,
		Interval:  10 * time.Second,
		StopGrace: 5 * time.Second,
		ChunkSize: 1024,
	}
}
