package capture

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilename(t *testing.T) {
	at := time.Date(2025, 3, 7, 9, 5, 1, 0, time.UTC)
	if got := Filename(at); got != "capture_20250307_090501.jpg" {
		t.Errorf("Unexpected filename %s", got)
	}
}

func TestChecksum(t *testing.T) {
	// CRC-16/MODBUS check value.
	if got := Checksum([]byte("123456789")); got != "4b37" {
		t.Errorf("Expected 4b37, got %s", got)
	}
}

func TestSaveDoesNotOverwrite(t *testing.T) {
	store := newTestStore(t)
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	first, err := store.Save([]byte("one"), at)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, err := store.Save([]byte("two"), at.Add(300*time.Millisecond))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if first.Name != "capture_20250101_120000.jpg" {
		t.Errorf("Unexpected first name %s", first.Name)
	}
	if second.Name != "capture_20250101_120000_2.jpg" {
		t.Errorf("Unexpected second name %s", second.Name)
	}

	data, _ := os.ReadFile(first.Path)
	if string(data) != "one" {
		t.Errorf("First capture was overwritten: %q", data)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	names := []string{"capture_a.jpg", "capture_b.jpg", "capture_c.jpg"}
	for i, name := range names {
		path := filepath.Join(store.Dir(), name)
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
		mtime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(store.Dir(), "sub.jpg"), 0755)

	images, err := store.List(0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("Expected 3 images, got %d", len(images))
	}
	if images[0].Name != "capture_c.jpg" || images[2].Name != "capture_a.jpg" {
		t.Errorf("Unexpected order: %s, %s, %s", images[0].Name, images[1].Name, images[2].Name)
	}

	limited, _ := store.List(2)
	if len(limited) != 2 || limited[0].Name != "capture_c.jpg" {
		t.Errorf("Limit not applied: %+v", limited)
	}
}

func TestPath(t *testing.T) {
	store := newTestStore(t)
	img, err := store.Save([]byte{1}, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	if p, err := store.Path(img.Name); err != nil || p != img.Path {
		t.Errorf("Expected %s, got %s (%v)", img.Path, p, err)
	}

	for _, name := range []string{"../secret.jpg", "missing.jpg", "notes.txt", ""} {
		if _, err := store.Path(name); !errors.Is(err, ErrImageNotFound) {
			t.Errorf("%q: expected ErrImageNotFound, got %v", name, err)
		}
	}
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	ages := []time.Duration{1 * time.Minute, 2 * time.Minute, 3 * time.Minute, 48 * time.Hour}
	for i, age := range ages {
		img, err := store.Save([]byte{byte(i)}, now.Add(-time.Duration(i)*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		mtime := now.Add(-age)
		os.Chtimes(img.Path, mtime, mtime)
	}

	removed, err := store.Prune(24*time.Hour, 0, now)
	if err != nil || removed != 1 {
		t.Fatalf("Expected 1 expired capture removed, got %d (%v)", removed, err)
	}

	removed, err = store.Prune(0, 2, now)
	if err != nil || removed != 1 {
		t.Fatalf("Expected 1 surplus capture removed, got %d (%v)", removed, err)
	}

	images, _ := store.List(0)
	if len(images) != 2 {
		t.Errorf("Expected 2 captures left, got %d", len(images))
	}
	if n, _ := store.Prune(0, 0, now); n != 0 {
		t.Errorf("Disabled prune removed %d files", n)
	}
}

func TestPruneLeavesForeignFiles(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	old := now.Add(-72 * time.Hour)

	foreign := filepath.Join(store.Dir(), "holiday.jpg")
	if err := os.WriteFile(foreign, []byte{0xFF, 0xD8}, 0644); err != nil {
		t.Fatal(err)
	}
	os.Chtimes(foreign, old, old)

	img, err := store.Save([]byte{1}, now)
	if err != nil {
		t.Fatal(err)
	}
	os.Chtimes(img.Path, old, old)

	removed, err := store.Prune(time.Hour, 0, now)
	if err != nil || removed != 1 {
		t.Fatalf("Expected only the capture removed, got %d (%v)", removed, err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("Prune removed a file it did not write: %v", err)
	}
	if _, err := store.Path("holiday.jpg"); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Expected ErrImageNotFound for a foreign file, got %v", err)
	}
}
