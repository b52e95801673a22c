package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// fail aborts with a generic message for users and the cause for operators.
func fail(c *gin.Context, status int, msg string, err error) {
	slog.Error(msg, "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "cause": err.Error()})
}
