package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sigurn/crc16"
)

const (
	timestampLayout = "20060102_150405"
	capturePrefix   = "capture_"
)

// ErrImageNotFound is returned for names that are not stored captures.
var ErrImageNotFound = errors.New("image not found")

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Image is a capture written to the output directory.
type Image struct {
	Name     string    `json:"filename"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Checksum string    `json:"crc16,omitempty"`
	TakenAt  time.Time `json:"timestamp"`
}

// Filename derives the artifact name for a capture taken at t.
func Filename(t time.Time) string {
	return capturePrefix + t.Format(timestampLayout) + ".jpg"
}

// Checksum returns the CRC-16/MODBUS of payload as 4 hex digits.
func Checksum(payload []byte) string {
	return fmt.Sprintf("%04x", crc16.Checksum(payload, crcTable))
}

// Store writes captures to a directory and lists them back.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create captures directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes payload as a new capture taken at at. Existing files are
// never overwritten: a second capture within the same second gets a
// numeric suffix (capture_20250101_120000_2.jpg).
func (s *Store) Save(payload []byte, at time.Time) (Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at = at.Truncate(time.Second)
	stamp := at.Format(timestampLayout)
	name := Filename(at)

	for i := 2; ; i++ {
		path := filepath.Join(s.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			if i > 1000 {
				return Image{}, fmt.Errorf("too many captures for %s", stamp)
			}
			name = fmt.Sprintf("%s%s_%d.jpg", capturePrefix, stamp, i)
			continue
		}
		if err != nil {
			return Image{}, fmt.Errorf("failed to create %s: %w", path, err)
		}

		_, werr := f.Write(payload)
		cerr := f.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(path)
			return Image{}, fmt.Errorf("failed to write %s: %w", path, werr)
		}

		return Image{
			Name:     name,
			Path:     path,
			Size:     int64(len(payload)),
			Checksum: Checksum(payload),
			TakenAt:  at,
		}, nil
	}
}

// List returns stored captures, most recently written first. A limit of
// 0 or less returns all of them.
func (s *Store) List(limit int) ([]Image, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Image{}, nil
		}
		return nil, fmt.Errorf("failed to read captures directory: %w", err)
	}

	images := []Image{}
	for _, e := range entries {
		if e.IsDir() || !isCaptureName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		images = append(images, Image{
			Name:    e.Name(),
			Path:    filepath.Join(s.dir, e.Name()),
			Size:    info.Size(),
			TakenAt: info.ModTime(),
		})
	}

	sort.SliceStable(images, func(i, j int) bool {
		if images[i].TakenAt.Equal(images[j].TakenAt) {
			return images[i].Name > images[j].Name
		}
		return images[i].TakenAt.After(images[j].TakenAt)
	})

	if limit > 0 && len(images) > limit {
		images = images[:limit]
	}
	return images, nil
}

// Path returns the location of the named capture. Names that could escape
// the output directory are rejected.
func (s *Store) Path(name string) (string, error) {
	if name != filepath.Base(name) || !isCaptureName(name) {
		return "", ErrImageNotFound
	}
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrImageNotFound
	}
	return path, nil
}

// Prune deletes captures older than maxAge and everything beyond the
// newest maxFiles. Zero disables either rule.
func (s *Store) Prune(maxAge time.Duration, maxFiles int, now time.Time) (int, error) {
	if maxAge <= 0 && maxFiles <= 0 {
		return 0, nil
	}

	images, err := s.List(0)
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := now.Add(-maxAge)
	for i, img := range images {
		tooMany := maxFiles > 0 && i >= maxFiles
		tooOld := maxAge > 0 && img.TakenAt.Before(cutoff)
		if !tooMany && !tooOld {
			continue
		}
		if err := os.Remove(img.Path); err != nil && !os.IsNotExist(err) {
			slog.Error("Failed to remove capture", "file", img.Path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// isCaptureName reports whether name was written by Save. Other files in
// the output directory are never listed or pruned.
func isCaptureName(name string) bool {
	return strings.HasPrefix(name, capturePrefix) && strings.HasSuffix(strings.ToLower(name), ".jpg")
}
