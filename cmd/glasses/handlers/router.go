package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/glasses-cam/pkg/camera"
)

// NewRouter wires the API routes. With non-empty accounts everything but
// the health check requires basic auth.
func NewRouter(cam *camera.Controller, accounts gin.Accounts) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "camera": cam.Status().State})
	})

	api := router.Group("/api")
	if len(accounts) > 0 {
		api.Use(gin.BasicAuth(accounts))
	}

	cameraHandler := &CameraHandler{Cam: cam}
	api.GET("/camera/status", cameraHandler.Status)
	api.POST("/camera/connect", cameraHandler.Connect)
	api.POST("/camera/disconnect", cameraHandler.Disconnect)
	api.POST("/camera/start", cameraHandler.Start)
	api.POST("/camera/stop", cameraHandler.Stop)
	api.POST("/camera/capture", cameraHandler.Capture)

	imageHandler := &ImageHandler{Store: cam.Store(), Journal: cam.Journal()}
	api.GET("/images", imageHandler.List)
	api.GET("/image/:filename", imageHandler.Get)
	api.GET("/captures/history", imageHandler.History)

	return router
}
