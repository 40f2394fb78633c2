package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/logger"
	"github.com/timmy/papershelf/internal/service"
	"github.com/timmy/papershelf/internal/source"
	"github.com/timmy/papershelf/internal/source/staging"
)

// Ingester runs bulk conversions.
type Ingester interface {
	IngestFromSource(ctx context.Context, src source.Source, limit int, opts *service.IngestOptions) (*service.IngestStats, error)
	RetryFailed(ctx context.Context, limit int) (*service.IngestStats, error)
}

// JobHistory reads persisted conversion jobs.
type JobHistory interface {
	ListByPaper(ctx context.Context, paperID string, limit int) ([]domain.ConversionJob, error)
	CountByStatus(ctx context.Context) (map[domain.Phase]int64, error)
}

// AdminHandler handles admin operations.
type AdminHandler struct {
	ingest      Ingester
	history     JobHistory
	stagingRoot string

	// ingest run state
	mu            sync.RWMutex
	isRunning     bool
	currentStats  *service.IngestStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - ingest: bulk conversion service.
//   - history: persisted job history; nil disables the history endpoints.
//   - stagingRoot: directory holding staging sources by name.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(ingest Ingester, history JobHistory, stagingRoot string) *AdminHandler {
	return &AdminHandler{
		ingest:      ingest,
		history:     history,
		stagingRoot: stagingRoot,
	}
}

// IngestRequest represents the ingest API request.
type IngestRequest struct {
	Source string `json:"source" binding:"required"`
	Limit  int    `json:"limit" binding:"required,min=1,max=10000"`
	Force  bool   `json:"force"`
}

// RetryRequest represents the retry API request.
type RetryRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=10000"`
}

// IngestResponse represents the ingest API response.
type IngestResponse struct {
	Message string               `json:"message"`
	Stats   *service.IngestStats `json:"stats,omitempty"`
}

// IngestStatusResponse represents the ingest status.
type IngestStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	CurrentStats  *service.IngestStats `json:"current_stats,omitempty"`
}

// claim marks a run as started. It reports false if one is already running.
func (h *AdminHandler) claim() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isRunning {
		return false
	}
	h.isRunning = true
	h.currentStats = nil
	return true
}

func (h *AdminHandler) finish(stats *service.IngestStats, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
}

// TriggerIngest converts papers from a staging directory.
// The request blocks until the run completes.
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	ctx := c.Request.Context()

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid ingest request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !staging.ValidName(req.Source) {
		logger.CtxWarn(ctx, "Unknown source requested: source=%s, client_ip=%s", req.Source, c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source: " + req.Source})
		return
	}

	if !h.claim() {
		logger.CtxWarn(ctx, "Ingest request rejected: already running, source=%s, client_ip=%s",
			req.Source, c.ClientIP())
		c.JSON(http.StatusConflict, gin.H{"error": "Ingest is already running"})
		return
	}

	logger.CtxInfo(ctx, "Starting ingest process: source=%s, limit=%d, force=%v",
		req.Source, req.Limit, req.Force)

	// a dropped client connection must not abort the run
	runCtx := context.WithoutCancel(ctx)
	startTime := time.Now()
	stats, err := h.ingest.IngestFromSource(runCtx, staging.NewAdapter(h.stagingRoot, req.Source), req.Limit, &service.IngestOptions{
		Force: req.Force,
	})
	duration := time.Since(startTime)
	h.finish(stats, err)

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: duration.Milliseconds(),
		}).Error(ctx, "Ingest process failed: source=%s, error=%v", req.Source, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stats": stats})
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: duration.Milliseconds(),
	}).Info(ctx, "Ingest process completed: source=%s, total=%d, skipped=%d, failed=%d",
		req.Source, stats.TotalItems, stats.SkippedItems, stats.FailedItems)

	c.JSON(http.StatusOK, IngestResponse{
		Message: "Ingest completed successfully",
		Stats:   stats,
	})
}

// RetryFailed converts failed papers again.
func (h *AdminHandler) RetryFailed(c *gin.Context) {
	ctx := c.Request.Context()

	var req RetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if !h.claim() {
		c.JSON(http.StatusConflict, gin.H{"error": "Ingest is already running"})
		return
	}

	stats, err := h.ingest.RetryFailed(context.WithoutCancel(ctx), req.Limit)
	h.finish(stats, err)
	if err != nil {
		logger.CtxError(ctx, "Retry of failed papers aborted: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stats": stats})
		return
	}

	c.JSON(http.StatusOK, IngestResponse{
		Message: "Retry completed",
		Stats:   stats,
	})
}

// GetIngestStatus returns the current ingest status.
func (h *AdminHandler) GetIngestStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	logger.CtxDebug(c.Request.Context(), "Ingest status requested: client_ip=%s, is_running=%v", c.ClientIP(), h.isRunning)

	resp := IngestStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}

// JobStats returns the number of recorded jobs per terminal phase.
func (h *AdminHandler) JobStats(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job history is disabled"})
		return
	}
	counts, err := h.history.CountByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": counts})
}

// PaperHistory returns recorded jobs for one paper, newest first.
func (h *AdminHandler) PaperHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job history is disabled"})
		return
	}
	id := paperID(c)
	jobs, err := h.history.ListByPaper(c.Request.Context(), id, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paper_id": id, "jobs": jobs})
}
