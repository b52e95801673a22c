// Package camera owns the ESP32 camera connection and serializes every
// capture made through it, whether on demand or from the capture loop.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wachiwi/glasses-cam/pkg/capture"
	"github.com/wachiwi/glasses-cam/pkg/indicator"
	"github.com/wachiwi/glasses-cam/pkg/journal"
	"github.com/wachiwi/glasses-cam/pkg/notify"
	"github.com/wachiwi/glasses-cam/pkg/seriallink"
)

// ErrNotConnected is returned when a capture is requested without a link.
var ErrNotConnected = errors.New("camera not connected")

// State is the connection state of the controller.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = Disconnected
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	default:
		return fmt.Errorf("unknown camera state %q", b)
	}
	return nil
}

// Config holds camera configuration
type Config struct {
	Serial  seriallink.Config
	Capture capture.Config
}

// Options carries the collaborators of a Controller. Nil fields get
// no-op defaults.
type Options struct {
	Opener    seriallink.Opener // nil selects the configured driver
	Journal   *journal.Journal
	Notifier  notify.Notifier
	Indicator indicator.Indicator
}

// Status is a point-in-time view of the controller.
type Status struct {
	State       State          `json:"state"`
	Connected   bool           `json:"connected"`
	Port        string         `json:"port,omitempty"`
	Capturing   bool           `json:"capturing"`
	LoopRunning bool           `json:"loop_running"`
	IntervalS   float64        `json:"interval_s,omitempty"`
	OutputDir   string         `json:"output_dir"`
	Captures    int            `json:"captures"`
	NoImage     int            `json:"no_image"`
	Failures    int            `json:"failures"`
	LastCapture *capture.Image `json:"last_capture,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// Controller is the single owner of the serial link.
type Controller struct {
	cfg       Config
	opts      Options
	store     *capture.Store
	scheduler *capture.Scheduler

	// mu is held for connect, disconnect and the whole of every session.
	mu   sync.Mutex
	link *seriallink.Link

	// stateMu guards the fields below so Status never waits on a session.
	stateMu     sync.RWMutex
	state       State
	port        string
	capturing   bool
	captures    int
	noImage     int
	failures    int
	lastCapture *capture.Image
	lastError   string
}

// New creates a disconnected controller writing to cfg.Capture.OutputDir.
func New(cfg Config, opts Options) (*Controller, error) {
	def := capture.DefaultConfig()
	if cfg.Capture.OutputDir == "" {
		cfg.Capture.OutputDir = def.OutputDir
	}
	if cfg.Capture.Interval <= 0 {
		cfg.Capture.Interval = def.Interval
	}

	store, err := capture.NewStore(cfg.Capture.OutputDir)
	if err != nil {
		return nil, err
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Indicator == nil {
		opts.Indicator = indicator.Nop{}
	}

	c := &Controller{
		cfg:   cfg,
		opts:  opts,
		store: store,
	}
	c.scheduler = capture.NewScheduler(c.runScheduled, cfg.Capture.StopGrace)
	return c, nil
}

// Store returns the capture store.
func (c *Controller) Store() *capture.Store {
	return c.store
}

// Journal returns the capture history, or nil when none is kept.
func (c *Controller) Journal() *journal.Journal {
	return c.opts.Journal
}

// Connect opens the serial link. Connecting while connected is a no-op.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Controller) connectLocked(ctx context.Context) error {
	if c.link != nil {
		return nil
	}

	c.setState(Connecting, "")
	link, err := seriallink.Open(ctx, c.cfg.Serial, c.opts.Opener)
	if err != nil {
		c.stateMu.Lock()
		c.state = Disconnected
		c.lastError = err.Error()
		c.stateMu.Unlock()
		slog.Error("Failed to connect to camera", "error", err)
		return err
	}

	c.link = link
	c.setState(Connected, link.Name())
	return nil
}

// Disconnect stops the capture loop and closes the link.
func (c *Controller) Disconnect() error {
	c.scheduler.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked()
}

func (c *Controller) disconnectLocked() error {
	if c.link == nil {
		return nil
	}
	err := c.link.Close()
	c.link = nil
	c.setState(Disconnected, "")
	slog.Info("Camera disconnected")
	return err
}

// CaptureSingle runs one session now. It waits for any session already
// in progress. A timeout is reported as capture.StatusNoImage.
func (c *Controller) CaptureSingle(ctx context.Context) (capture.Result, error) {
	return c.capture(ctx, capture.SourceAdHoc)
}

// StartContinuous starts the capture loop, connecting first if needed.
// A zero interval uses the configured one.
func (c *Controller) StartContinuous(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = c.cfg.Capture.Interval
	}
	if c.scheduler.Running() {
		return capture.ErrAlreadyRunning
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.scheduler.Start(interval)
}

// StopContinuous stops the capture loop. It reports whether the loop
// exited within the grace period.
func (c *Controller) StopContinuous() bool {
	return c.scheduler.Stop()
}

// Status returns the current state without waiting for a running session.
func (c *Controller) Status() Status {
	c.stateMu.RLock()
	st := Status{
		State:       c.state,
		Connected:   c.state == Connected,
		Port:        c.port,
		Capturing:   c.capturing,
		OutputDir:   c.store.Dir(),
		Captures:    c.captures,
		NoImage:     c.noImage,
		Failures:    c.failures,
		LastCapture: c.lastCapture,
		LastError:   c.lastError,
	}
	c.stateMu.RUnlock()

	st.LoopRunning = c.scheduler.Running()
	st.IntervalS = c.scheduler.Interval().Seconds()
	return st
}

// Close stops the loop, waits for it to exit and releases the link and
// collaborators.
func (c *Controller) Close() error {
	c.scheduler.Stop()
	c.scheduler.Wait()

	var errs []error
	if err := c.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	if err := c.opts.Indicator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close indicator: %w", err))
	}
	if err := c.opts.Notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close notifier: %w", err))
	}
	return errors.Join(errs...)
}

// runScheduled is the loop body. A link lost to an I/O failure is
// reopened on the next iteration.
func (c *Controller) runScheduled(ctx context.Context) error {
	_, err := c.capture(ctx, capture.SourceScheduled)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// attempt is a finished session, or a failed reconnect before one.
type attempt struct {
	res     capture.Result
	err     error
	elapsed time.Duration
}

func (c *Controller) capture(ctx context.Context, source capture.Source) (capture.Result, error) {
	a, err := c.runSession(ctx, source)
	if err != nil {
		return capture.Result{}, err
	}
	c.record(source, a.res, a.err, a.elapsed)
	return a.res, a.err
}

// runSession holds the link for the whole session. An error means no
// attempt was made and nothing is recorded.
func (c *Controller) runSession(ctx context.Context, source capture.Source) (attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if source == capture.SourceScheduled {
		// Stopped while waiting for the lock.
		if err := ctx.Err(); err != nil {
			return attempt{}, err
		}
		if err := c.connectLocked(ctx); err != nil {
			return attempt{err: err}, nil
		}
	}
	if c.link == nil {
		return attempt{}, ErrNotConnected
	}

	c.setCapturing(true)
	defer c.setCapturing(false)

	if err := c.opts.Indicator.On(); err != nil {
		slog.Warn("Failed to switch capture indicator on", "error", err)
	}
	defer c.opts.Indicator.Off()

	slog.Info("Starting capture", "source", source)
	start := time.Now()
	res, err := capture.NewSession(c.link, c.store, capture.SessionOptions{
		Deadline:    c.cfg.Capture.Deadline,
		ReadTimeout: c.cfg.Serial.ReadTimeout,
		ChunkSize:   c.cfg.Capture.ChunkSize,
	}).Run(ctx)

	var ioErr *seriallink.IOError
	if errors.As(err, &ioErr) {
		slog.Error("Camera link failed, closing it", "error", err)
		c.disconnectLocked()
	}
	return attempt{res: res, err: err, elapsed: time.Since(start)}, nil
}

// record updates the counters, the journal and the notifier. It runs
// after the link is released.
func (c *Controller) record(source capture.Source, res capture.Result, err error, elapsed time.Duration) {
	rec := journal.Record{
		Source:     string(source),
		DurationMS: elapsed.Milliseconds(),
	}

	c.stateMu.Lock()
	switch {
	case err != nil:
		c.failures++
		c.lastError = err.Error()
		rec.Outcome = journal.OutcomeError
		rec.Error = err.Error()
	case res.Captured():
		c.captures++
		img := *res.Image
		c.lastCapture = &img
		c.lastError = ""
		rec.Outcome = journal.OutcomeCaptured
		rec.Filename = img.Name
		rec.Size = img.Size
		rec.Checksum = img.Checksum
	default:
		c.noImage++
		rec.Outcome = journal.OutcomeNoImage
	}
	c.stateMu.Unlock()

	if c.opts.Journal != nil {
		added, jerr := c.opts.Journal.Add(rec)
		if jerr != nil {
			slog.Error("Failed to write capture journal", "error", jerr)
		}
		rec = added
	}
	if nerr := c.opts.Notifier.Notify(rec); nerr != nil {
		slog.Warn("Failed to publish capture event", "error", nerr)
	}
}

func (c *Controller) setState(s State, port string) {
	c.stateMu.Lock()
	c.state = s
	c.port = port
	c.stateMu.Unlock()
}

func (c *Controller) setCapturing(v bool) {
	c.stateMu.Lock()
	c.capturing = v
	c.stateMu.Unlock()
}
