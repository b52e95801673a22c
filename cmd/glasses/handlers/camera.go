package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/glasses-cam/pkg/camera"
	"github.com/wachiwi/glasses-cam/pkg/capture"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	requestsCounter metric.Int64Counter
)

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/glasses-cam/cmd/glasses")
	requestsCounter, err = meter.Int64Counter("glasses.camera.requests",
		metric.WithDescription("Camera control requests by action"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		slog.Error("Failed to create request metrics", "error", err)
	}
}

func countRequest(c *gin.Context, action string) {
	if requestsCounter != nil {
		requestsCounter.Add(c.Request.Context(), 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

type CameraHandler struct {
	Cam *camera.Controller
}

type startRequest struct {
	IntervalS float64 `json:"interval_s"`
}

func (h *CameraHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Cam.Status())
}

func (h *CameraHandler) Connect(c *gin.Context) {
	countRequest(c, "connect")
	if err := h.Cam.Connect(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, "Failed to connect to camera", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Camera connected", "status": h.Cam.Status()})
}

func (h *CameraHandler) Disconnect(c *gin.Context) {
	countRequest(c, "disconnect")
	if err := h.Cam.Disconnect(); err != nil {
		fail(c, http.StatusInternalServerError, "Failed to disconnect camera", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Camera disconnected"})
}

func (h *CameraHandler) Start(c *gin.Context) {
	countRequest(c, "start")

	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request", err)
			return
		}
	}
	if req.IntervalS < 0 {
		fail(c, http.StatusBadRequest, "Invalid request", fmt.Errorf("interval_s must not be negative"))
		return
	}
	interval := time.Duration(req.IntervalS * float64(time.Second))

	err := h.Cam.StartContinuous(c.Request.Context(), interval)
	if errors.Is(err, capture.ErrAlreadyRunning) {
		c.JSON(http.StatusOK, gin.H{"message": "Camera already running"})
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to start camera", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Camera started successfully", "interval_s": h.Cam.Status().IntervalS})
}

func (h *CameraHandler) Stop(c *gin.Context) {
	countRequest(c, "stop")
	if !h.Cam.StopContinuous() {
		c.JSON(http.StatusAccepted, gin.H{"message": "Camera stopping, a capture is still in progress"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Camera stopped successfully"})
}

// Capture takes one picture now, connecting first if needed.
func (h *CameraHandler) Capture(c *gin.Context) {
	countRequest(c, "capture")
	ctx := c.Request.Context()

	if err := h.Cam.Connect(ctx); err != nil {
		fail(c, http.StatusInternalServerError, "Failed to connect to camera", err)
		return
	}

	res, err := h.Cam.CaptureSingle(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Capture error", err)
		return
	}
	if !res.Captured() {
		fail(c, http.StatusGatewayTimeout, "Failed to capture image",
			fmt.Errorf("no image received after %s (stalled in %s)", res.Elapsed.Round(time.Millisecond), res.Stalled))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Image captured",
		"path":    res.Image.Path,
		"image":   res.Image,
	})
}
