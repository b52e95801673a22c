package seriallink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"

	// PortAuto selects the first USB serial device found.
	PortAuto = "auto"
)

// allow tests to override port enumeration
var detailedPorts = enumerator.GetDetailedPortsList

// OpenerFor returns the opener for the named driver.
func OpenerFor(driver string) (Opener, error) {
	switch driver {
	case "", DriverBugst:
		return openBugst, nil
	case DriverTarm:
		return openTarm, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func openBugst(name string, cfg Config) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// tarmPollInterval is the read timeout tarm ports are opened with. It is
// the shortest timeout tarm supports (one VTIME decisecond).
const tarmPollInterval = 100 * time.Millisecond

// tarmConn is the part of *tarm.Port the adapter uses.
type tarmConn interface {
	io.ReadWriteCloser
	Flush() error
}

// tarmPort adapts github.com/tarm/serial, whose read timeout is fixed when
// the port is opened. Reads poll in tarmPollInterval steps until data
// arrives or the timeout set by SetReadTimeout passes.
type tarmPort struct {
	conn tarmConn

	mu      sync.Mutex
	timeout time.Duration
}

func openTarm(name string, cfg Config) (Port, error) {
	p, err := tarm.OpenPort(&tarm.Config{
		Name:        name,
		Baud:        cfg.Baud,
		Parity:      tarm.ParityNone,
		ReadTimeout: tarmPollInterval,
	})
	if err != nil {
		return nil, err
	}
	return newTarmPort(p, cfg.ReadTimeout), nil
}

func newTarmPort(conn tarmConn, timeout time.Duration) *tarmPort {
	return &tarmPort{conn: conn, timeout: timeout}
}

// Read returns as soon as any bytes arrive. tarm reports an expired poll
// as io.EOF, which is an empty read here.
func (p *tarmPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	deadline := time.Now().Add(p.timeout)
	p.mu.Unlock()

	for {
		n, err := p.conn.Read(b)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
	}
}

func (p *tarmPort) Write(b []byte) (int, error) { return p.conn.Write(b) }

func (p *tarmPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *tarmPort) ResetInputBuffer() error { return p.conn.Flush() }

func (p *tarmPort) Close() error { return p.conn.Close() }

// ResolvePort maps the configured port to a device path.
func ResolvePort(name string) (string, error) {
	switch name {
	case "":
		return defaultPortName, nil
	case PortAuto:
		return detectUSBPort()
	default:
		return name, nil
	}
}

func detectUSBPort() (string, error) {
	ports, err := detailedPorts()
	if err != nil {
		return "", fmt.Errorf("enumerator error: %w", err)
	}
	for _, p := range ports {
		if p.IsUSB {
			slog.Info("Detected USB serial port", "port", p.Name, "vid", p.VID, "pid", p.PID, "product", p.Product)
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("no USB serial ports found")
}
