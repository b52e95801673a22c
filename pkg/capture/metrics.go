package capture

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/wachiwi/glasses-cam/pkg/capture"

const (
	outcomeCaptured = "captured"
	outcomeNoImage  = "no_image"
	outcomeError    = "error"
)

var (
	tracer = otel.Tracer(instrumentationName)

	sessionsCounter metric.Int64Counter
	bytesCounter    metric.Int64Counter
	sessionDuration metric.Float64Histogram
)

func init() {
	var err error
	meter := otel.Meter(instrumentationName)

	sessionsCounter, err = meter.Int64Counter("capture.sessions",
		metric.WithDescription("Capture sessions by outcome"),
		metric.WithUnit("{sessions}"),
	)
	if err != nil {
		slog.Error("Failed to create capture session counter", "error", err)
	}

	bytesCounter, err = meter.Int64Counter("capture.bytes",
		metric.WithDescription("JPEG bytes received from the camera"),
		metric.WithUnit("By"),
	)
	if err != nil {
		slog.Error("Failed to create capture bytes counter", "error", err)
	}

	sessionDuration, err = meter.Float64Histogram("capture.session.duration",
		metric.WithDescription("Time from trigger to stored image or timeout"),
		metric.WithUnit("s"),
	)
	if err != nil {
		slog.Error("Failed to create capture duration histogram", "error", err)
	}
}

func recordSession(ctx context.Context, outcome string, elapsed time.Duration, size int64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if sessionsCounter != nil {
		sessionsCounter.Add(ctx, 1, attrs)
	}
	if sessionDuration != nil {
		sessionDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if bytesCounter != nil && size > 0 {
		bytesCounter.Add(ctx, size)
	}
}
