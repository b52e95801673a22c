package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/glasses-cam/pkg/capture"
	"github.com/wachiwi/glasses-cam/pkg/journal"
)

const defaultImageLimit = 20

type ImageHandler struct {
	Store   *capture.Store
	Journal *journal.Journal
}

// List returns the most recent captures.
func (h *ImageHandler) List(c *gin.Context) {
	limit := defaultImageLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "cause": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	images, err := h.Store.List(limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to list images", err)
		return
	}
	c.JSON(http.StatusOK, images)
}

func (h *ImageHandler) Get(c *gin.Context) {
	path, err := h.Store.Path(c.Param("filename"))
	if err != nil {
		c.String(http.StatusNotFound, "Image not found")
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.File(path)
}

// History returns the capture journal, newest first.
func (h *ImageHandler) History(c *gin.Context) {
	if h.Journal == nil {
		c.JSON(http.StatusOK, []journal.Record{})
		return
	}
	records, err := h.Journal.Records()
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to read capture history", err)
		return
	}

	// Sort by timestamp descending
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	c.JSON(http.StatusOK, records)
}
