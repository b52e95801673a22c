package seriallink

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/wachiwi/glasses-cam/pkg/capture"
	"go.bug.st/serial/enumerator"
)

// fixedTimeoutConn behaves like a tarm port opened with a fixed read
// timeout: an empty read blocks for poll and then reports io.EOF.
type fixedTimeoutConn struct {
	poll time.Duration

	mu      sync.Mutex
	pending []byte
	flushes int
}

func (c *fixedTimeoutConn) feed(b []byte) {
	c.mu.Lock()
	c.pending = append(c.pending, b...)
	c.mu.Unlock()
}

func (c *fixedTimeoutConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		n := copy(b, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	time.Sleep(c.poll)
	return 0, io.EOF
}

func (c *fixedTimeoutConn) Write(b []byte) (int, error) { return len(b), nil }
func (c *fixedTimeoutConn) Close() error                { return nil }

func (c *fixedTimeoutConn) Flush() error {
	c.mu.Lock()
	c.pending = nil
	c.flushes++
	c.mu.Unlock()
	return nil
}

func TestTarmReadHonoursTimeout(t *testing.T) {
	conn := &fixedTimeoutConn{poll: 20 * time.Millisecond}
	p := newTarmPort(conn, time.Second)

	if err := p.SetReadTimeout(150 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 16)
	start := time.Now()
	n, err := p.Read(buf)
	elapsed := time.Since(start)
	if n != 0 || err != nil {
		t.Fatalf("Expected an empty read, got n=%d err=%v", n, err)
	}
	if elapsed < 150*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Errorf("Read should wait about 150ms, took %s", elapsed)
	}

	conn.feed([]byte("jpeg"))
	start = time.Now()
	n, err = p.Read(buf)
	if err != nil || string(buf[:n]) != "jpeg" {
		t.Fatalf("Expected jpeg, got %q (%v)", buf[:n], err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Read with data pending should not wait, took %s", elapsed)
	}

	conn.feed([]byte("stale"))
	if err := p.ResetInputBuffer(); err != nil || conn.flushes != 1 {
		t.Errorf("Expected one flush, got %d (%v)", conn.flushes, err)
	}
}

func TestTarmSessionKeepsDeadline(t *testing.T) {
	conn := &fixedTimeoutConn{poll: 40 * time.Millisecond}
	opener := func(name string, cfg Config) (Port, error) {
		return newTarmPort(conn, cfg.ReadTimeout), nil
	}

	link, err := Open(context.Background(), Config{
		Port:        "/dev/ttyTARM",
		Driver:      DriverTarm,
		ReadTimeout: 400 * time.Millisecond,
	}, opener)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer link.Close()

	store, err := capture.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	deadline := 500 * time.Millisecond
	res, err := capture.NewSession(link, store, capture.SessionOptions{
		Deadline:    deadline,
		ReadTimeout: 400 * time.Millisecond,
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("A silent camera should not be an error: %v", err)
	}
	if res.Status != capture.StatusNoImage {
		t.Fatalf("Expected no_image, got %s", res.Status)
	}
	// One poll of slack: the driver cannot time out any finer.
	if res.Elapsed < deadline || res.Elapsed > deadline+conn.poll+60*time.Millisecond {
		t.Errorf("Session took %s for a %s deadline", res.Elapsed, deadline)
	}
}

func TestResolvePort(t *testing.T) {
	orig := detailedPorts
	defer func() { detailedPorts = orig }()

	detailedPorts = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyACM3", IsUSB: true, VID: "303a", PID: "1001"},
		}, nil
	}

	name, err := ResolvePort(PortAuto)
	if err != nil {
		t.Fatalf("ResolvePort failed: %v", err)
	}
	if name != "/dev/ttyACM3" {
		t.Errorf("Expected /dev/ttyACM3, got %s", name)
	}

	if name, _ := ResolvePort("/dev/custom"); name != "/dev/custom" {
		t.Errorf("Explicit port should pass through, got %s", name)
	}
	if name, _ := ResolvePort(""); name != defaultPortName {
		t.Errorf("Empty port should use the platform default, got %s", name)
	}

	detailedPorts = func() ([]*enumerator.PortDetails, error) {
		return nil, nil
	}
	if _, err := ResolvePort(PortAuto); err == nil {
		t.Error("Expected error when no USB port is present")
	}
}

func TestOpenerForUnknownDriver(t *testing.T) {
	if _, err := OpenerFor("carrier-pigeon"); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Expected ErrUnknownDriver, got %v", err)
	}
	for _, d := range []string{"", DriverBugst, DriverTarm} {
		if _, err := OpenerFor(d); err != nil {
			t.Errorf("OpenerFor(%q) failed: %v", d, err)
		}
	}
}
