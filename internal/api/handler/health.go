package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	jobs func() int
}

// NewHealthHandler creates a new health handler. jobs, if set, reports the
// number of tracked conversion jobs.
func NewHealthHandler(jobs func() int) *HealthHandler {
	return &HealthHandler{jobs: jobs}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.jobs != nil {
		body["jobs"] = h.jobs()
	}
	c.JSON(http.StatusOK, body)
}
