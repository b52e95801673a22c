// Package serialmock provides an in-memory serial port for tests.
package serialmock

import (
	"io"
	"sync"
	"time"

	"github.com/wachiwi/glasses-cam/pkg/seriallink"
)

// Port is an in-memory seriallink.Port. Bytes handed to Feed, or produced
// by Respond in reply to a Write, become readable in order.
type Port struct {
	// ChunkSize caps the bytes returned by one Read; 0 means no cap.
	ChunkSize int
	// ChunkDelay is slept before every Read that returns data.
	ChunkDelay time.Duration
	// Respond returns what the device sends back for a write.
	Respond func(p []byte) []byte

	mu      sync.Mutex
	pending []byte
	written []byte
	timeout time.Duration
	closed  bool
	opens   int
	resets  int
	notify  chan struct{}
}

var _ seriallink.Port = (*Port)(nil)

// New creates a port with a 100ms read timeout.
func New() *Port {
	return &Port{
		timeout: 100 * time.Millisecond,
		notify:  make(chan struct{}, 1),
	}
}

// Opener returns an opener that hands out m, reopening it if closed.
func (m *Port) Opener() seriallink.Opener {
	return func(name string, cfg seriallink.Config) (seriallink.Port, error) {
		m.mu.Lock()
		m.closed = false
		m.opens++
		if cfg.ReadTimeout > 0 {
			m.timeout = cfg.ReadTimeout
		}
		m.mu.Unlock()
		return m, nil
	}
}

// Feed makes b readable.
func (m *Port) Feed(b []byte) {
	m.mu.Lock()
	m.pending = append(m.pending, b...)
	m.mu.Unlock()
	m.wake()
}

func (m *Port) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Port) Read(p []byte) (int, error) {
	m.mu.Lock()
	timeout := m.timeout
	m.mu.Unlock()
	deadline := time.Now().Add(timeout)

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if len(m.pending) > 0 {
			delay := m.ChunkDelay
			m.mu.Unlock()
			if delay > 0 {
				time.Sleep(delay)
			}
			m.mu.Lock()
			n := m.take(p)
			m.mu.Unlock()
			if n > 0 {
				return n, nil
			}
			continue
		}
		m.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		select {
		case <-m.notify:
		case <-time.After(remaining):
		}
	}
}

// take must be called with m.mu held.
func (m *Port) take(p []byte) int {
	n := len(p)
	if m.ChunkSize > 0 && n > m.ChunkSize {
		n = m.ChunkSize
	}
	n = copy(p[:n], m.pending)
	m.pending = m.pending[n:]
	return n
}

func (m *Port) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	m.written = append(m.written, p...)
	respond := m.Respond
	m.mu.Unlock()

	if respond != nil {
		if out := respond(append([]byte(nil), p...)); len(out) > 0 {
			m.Feed(out)
		}
	}
	return len(p), nil
}

func (m *Port) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	m.timeout = t
	m.mu.Unlock()
	return nil
}

func (m *Port) ResetInputBuffer() error {
	m.mu.Lock()
	m.pending = nil
	m.resets++
	m.mu.Unlock()
	return nil
}

func (m *Port) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
	return nil
}

// Written returns every byte written so far.
func (m *Port) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written...)
}

// Closed reports whether the port is currently closed.
func (m *Port) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Opens returns how many times the port was opened through Opener.
func (m *Port) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Resets returns how many times the input buffer was reset.
func (m *Port) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}
