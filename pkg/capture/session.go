// Package capture runs trigger-and-assemble sessions against the camera
// link and schedules them in the background.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wachiwi/glasses-cam/pkg/frame"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Conn is the link a session talks to. *seriallink.Link implements it.
type Conn interface {
	Write(p []byte) (int, error)
	Read(p []byte, timeout time.Duration) (int, error)
}

// Source tells scheduled captures apart from on-demand ones.
type Source string

const (
	SourceAdHoc     Source = "adhoc"
	SourceScheduled Source = "scheduled"
)

// Status is the terminal outcome of a session.
type Status int

const (
	StatusCaptured Status = iota
	StatusNoImage
)

func (s Status) String() string {
	if s == StatusCaptured {
		return "captured"
	}
	return "no_image"
}

// Result is what a session produced. A session that ran out of time is a
// Result with StatusNoImage, not an error.
type Result struct {
	Status  Status
	Image   *Image
	Length  uint32      // declared payload length, when a header was read
	Stalled frame.State // state the assembler was stuck in on timeout
	Elapsed time.Duration
}

// Captured reports whether an image was stored.
func (r Result) Captured() bool {
	return r.Status == StatusCaptured && r.Image != nil
}

// SessionOptions bound a single session.
type SessionOptions struct {
	Deadline    time.Duration // wall-clock budget for the whole session
	ReadTimeout time.Duration // longest single read
	ChunkSize   int
}

func (o SessionOptions) withDefaults() SessionOptions {
	def := DefaultConfig()
	if o.Deadline <= 0 {
		o.Deadline = def.Deadline
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = time.Second
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	return o
}

// Session is one trigger-and-assemble attempt. Callers must hold exclusive
// access to conn for the whole Run.
type Session struct {
	conn  Conn
	store *Store
	opts  SessionOptions
}

// NewSession prepares a session; nothing is sent until Run.
func NewSession(conn Conn, store *Store, opts SessionOptions) *Session {
	return &Session{
		conn:  conn,
		store: store,
		opts:  opts.withDefaults(),
	}
}

// Run sends the trigger and assembles the reply until the deadline. ctx
// carries tracing only: a running session always finishes on its own.
func (s *Session) Run(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "capture.session",
		trace.WithAttributes(attribute.Int64("capture.deadline_ms", s.opts.Deadline.Milliseconds())))
	defer span.End()

	start := time.Now()
	deadline := start.Add(s.opts.Deadline)

	if _, err := s.conn.Write([]byte{frame.Trigger}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trigger failed")
		recordSession(ctx, outcomeError, time.Since(start), 0)
		return Result{}, fmt.Errorf("failed to send capture trigger: %w", err)
	}

	asm := frame.NewAssembler()
	buf := make([]byte, s.opts.ChunkSize)

	for asm.State() != frame.Complete {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		n, err := s.conn.Read(buf, min(s.opts.ReadTimeout, remaining))
		if n > 0 {
			before := asm.State()
			if after := asm.Feed(buf[:n]); after != before && after == frame.ReadingBody {
				l, _ := asm.DeclaredLength()
				slog.Info("Sync found", "jpeg_length", l)
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			recordSession(ctx, outcomeError, time.Since(start), 0)
			return Result{}, fmt.Errorf("failed to read frame (%s): %w", asm.State(), err)
		}
	}

	f, ok := asm.Frame()
	if !ok {
		stalled := asm.Expire()
		elapsed := time.Since(start)
		length, _ := asm.DeclaredLength()
		slog.Warn("No image received within timeout",
			"deadline", s.opts.Deadline,
			"stalled_in", stalled.String(),
			"declared_length", length,
		)
		span.SetAttributes(attribute.String("capture.outcome", StatusNoImage.String()),
			attribute.String("capture.stalled_in", stalled.String()))
		recordSession(ctx, outcomeNoImage, elapsed, 0)
		return Result{Status: StatusNoImage, Length: length, Stalled: stalled, Elapsed: elapsed}, nil
	}

	if extra := asm.Extra(); extra > 0 {
		slog.Debug("Dropped bytes after frame", "bytes", extra)
	}

	img, err := s.store.Save(f.Payload, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		recordSession(ctx, outcomeError, time.Since(start), 0)
		return Result{}, fmt.Errorf("failed to store capture: %w", err)
	}

	elapsed := time.Since(start)
	slog.Info("Saved capture", "path", img.Path, "size", img.Size, "elapsed", elapsed)
	span.SetAttributes(attribute.String("capture.outcome", StatusCaptured.String()),
		attribute.Int64("capture.bytes", img.Size))
	recordSession(ctx, outcomeCaptured, elapsed, img.Size)

	return Result{
		Status:  StatusCaptured,
		Image:   &img,
		Length:  f.Length,
		Elapsed: elapsed,
	}, nil
}
