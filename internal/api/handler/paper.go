package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/papershelf/internal/api/middleware"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/service"
)

// Conversions is the conversion side of the service layer.
type Conversions interface {
	RequestConversion(ctx context.Context, id string, statusOnly bool) *domain.ConversionResponse
	Forget(id string) bool
}

// Library lists and reads converted papers.
type Library interface {
	List(ctx context.Context) (*service.LibraryListing, error)
	Read(ctx context.Context, id string) (*service.PaperContent, error)
}

// PaperHandler handles download, status and library endpoints.
type PaperHandler struct {
	conversions Conversions
	library     Library
}

// NewPaperHandler creates a new paper handler.
func NewPaperHandler(conversions Conversions, library Library) *PaperHandler {
	return &PaperHandler{conversions: conversions, library: library}
}

func paperID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

// Download handles POST /api/v1/papers/:id/download.
// 202 while the job runs, 200 once the paper is available or failed.
func (h *PaperHandler) Download(c *gin.Context) {
	resp := h.conversions.RequestConversion(c.Request.Context(), paperID(c), false)
	c.JSON(downloadStatusCode(resp), resp)
}

func downloadStatusCode(resp *domain.ConversionResponse) int {
	switch resp.Status {
	case string(domain.PhaseFetching), string(domain.PhaseConverting):
		return http.StatusAccepted
	}
	return http.StatusOK
}

// Status handles GET /api/v1/papers/:id/status. It never starts work.
func (h *PaperHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.conversions.RequestConversion(c.Request.Context(), paperID(c), true))
}

// Forget handles DELETE /api/v1/papers/:id/status.
func (h *PaperHandler) Forget(c *gin.Context) {
	id := paperID(c)
	if !h.conversions.Forget(id) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "No finished job to forget for paper " + id,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// List handles GET /api/v1/papers.
func (h *PaperHandler) List(c *gin.Context) {
	listing, err := h.library.List(c.Request.Context())
	if err != nil {
		middleware.GetLogger(c).WithError(err).Error("Failed to list papers")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list papers: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Read handles GET /api/v1/papers/:id.
func (h *PaperHandler) Read(c *gin.Context) {
	content, err := h.library.Read(c.Request.Context(), paperID(c))
	if err != nil {
		if errors.Is(err, service.ErrNotStored) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, content)
}
