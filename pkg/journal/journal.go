// Package journal keeps a short JSON history of capture attempts.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome of a recorded capture attempt.
const (
	OutcomeCaptured = "captured"
	OutcomeNoImage  = "no_image"
	OutcomeError    = "error"
)

type Record struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"` // "adhoc" or "scheduled"
	Outcome    string    `json:"outcome"`
	Filename   string    `json:"filename,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Checksum   string    `json:"crc16,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Journal is a capture history file. Entries older than the retention
// period are dropped whenever a new one is added.
type Journal struct {
	mu        sync.Mutex
	path      string
	retention time.Duration
}

// New returns a journal stored at path.
func New(path string, retention time.Duration) *Journal {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Journal{path: path, retention: retention}
}

// ensureDir creates the directory if it doesn't exist
func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// Records returns the stored history, oldest first.
func (j *Journal) Records() ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load()
}

// Add stores rec, filling in ID and Timestamp when empty, and returns it.
func (j *Journal) Add(rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.load()
	if err != nil {
		return rec, err
	}
	records = append(records, rec)

	// Filter out old records
	recent := []Record{}
	cutoff := time.Now().Add(-j.retention)
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			recent = append(recent, r)
		}
	}

	data, err := json.MarshalIndent(recent, "", "  ")
	if err != nil {
		return rec, err
	}
	if err := ensureDir(j.path); err != nil {
		return rec, err
	}
	return rec, os.WriteFile(j.path, data, 0644)
}

// load must be called with j.mu held.
func (j *Journal) load() ([]Record, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		// Corrupted file, the next Add starts fresh.
		return []Record{}, nil
	}
	return records, nil
}
