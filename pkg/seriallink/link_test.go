package seriallink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wachiwi/glasses-cam/internal/serialmock"
	"github.com/wachiwi/glasses-cam/pkg/seriallink"
)

func testConfig() seriallink.Config {
	return seriallink.Config{
		Port:        "/dev/ttyTEST",
		ReadTimeout: 50 * time.Millisecond,
		BannerWait:  500 * time.Millisecond,
	}
}

func TestOpenDrainsBootBanner(t *testing.T) {
	port := serialmock.New()
	port.Feed([]byte("stale bytes from before the reboot"))

	opener := func(name string, cfg seriallink.Config) (seriallink.Port, error) {
		p, err := port.Opener()(name, cfg)
		// The banner arrives after the input reset.
		go func() {
			time.Sleep(10 * time.Millisecond)
			port.Feed([]byte("ESP32 camera boot\r\nREADY\n"))
		}()
		return p, err
	}

	link, err := seriallink.Open(context.Background(), testConfig(), opener)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer link.Close()

	if port.Resets() != 1 {
		t.Errorf("Expected 1 input reset, got %d", port.Resets())
	}
	if link.Name() != "/dev/ttyTEST" {
		t.Errorf("Expected port name /dev/ttyTEST, got %s", link.Name())
	}

	buf := make([]byte, 64)
	n, err := link.Read(buf, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected banner to be drained, got %q", buf[:n])
	}
}

func TestOpenBannerWaitIsBounded(t *testing.T) {
	port := serialmock.New()
	stop := make(chan struct{})
	defer close(stop)

	// A chatty device that never goes quiet.
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				port.Feed([]byte("log line\n"))
			}
		}
	}()

	cfg := testConfig()
	cfg.BannerWait = 100 * time.Millisecond

	start := time.Now()
	link, err := seriallink.Open(context.Background(), cfg, port.Opener())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer link.Close()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Banner drain should stop after BannerWait, took %s", elapsed)
	}
}

func TestOpenFailureIsConnectionError(t *testing.T) {
	opener := func(name string, cfg seriallink.Config) (seriallink.Port, error) {
		return nil, errors.New("no such device")
	}

	_, err := seriallink.Open(context.Background(), testConfig(), opener)
	if err == nil {
		t.Fatal("Expected error for unavailable device")
	}
	if !errors.Is(err, seriallink.ErrConnection) {
		t.Errorf("Expected ErrConnection, got %v", err)
	}
	var connErr *seriallink.ConnectionError
	if !errors.As(err, &connErr) || connErr.Port != "/dev/ttyTEST" {
		t.Errorf("Expected ConnectionError for /dev/ttyTEST, got %v", err)
	}
}

func TestOpenHonoursContextDuringSettle(t *testing.T) {
	port := serialmock.New()
	cfg := testConfig()
	cfg.SettleDelay = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := seriallink.Open(ctx, cfg, port.Opener())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if !port.Closed() {
		t.Error("Port should be closed after a failed open")
	}
}

func TestReadWriteAndClose(t *testing.T) {
	port := serialmock.New()
	port.Respond = func(p []byte) []byte {
		return []byte("pong")
	}
	cfg := testConfig()
	cfg.BannerWait = 0

	link, err := seriallink.Open(context.Background(), cfg, port.Opener())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if _, err := link.Write([]byte{'x'}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if string(port.Written()) != "x" {
		t.Errorf("Expected trigger byte to be written, got %q", port.Written())
	}

	buf := make([]byte, 16)
	n, err := link.Read(buf, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "pong" {
		t.Errorf("Expected pong, got %q", buf[:n])
	}

	// Nothing pending: the read returns empty once the timeout expires.
	start := time.Now()
	n, err = link.Read(buf, 30*time.Millisecond)
	if err != nil || n != 0 {
		t.Errorf("Expected empty read, got n=%d err=%v", n, err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Read returned before its timeout: %s", elapsed)
	}

	if err := link.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	_, err = link.Read(buf, 10*time.Millisecond)
	var ioErr *seriallink.IOError
	if !errors.As(err, &ioErr) || !errors.Is(err, seriallink.ErrClosed) {
		t.Errorf("Expected IOError wrapping ErrClosed, got %v", err)
	}
}
