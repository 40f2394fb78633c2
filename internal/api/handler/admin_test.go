package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/service"
	"github.com/timmy/papershelf/internal/source"
)

type stubIngester struct {
	mu      sync.Mutex
	sources []string
	limit   int
	force   bool
	err     error
	block   chan struct{}
}

func (s *stubIngester) IngestFromSource(ctx context.Context, src source.Source, limit int, opts *service.IngestOptions) (*service.IngestStats, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.sources = append(s.sources, src.GetSourceID())
	s.limit = limit
	s.force = opts.Force
	s.mu.Unlock()
	return &service.IngestStats{TotalItems: int64(limit)}, s.err
}

func (s *stubIngester) RetryFailed(ctx context.Context, limit int) (*service.IngestStats, error) {
	return &service.IngestStats{TotalItems: 2, ProcessedItems: 2}, s.err
}

type stubHistory struct{}

func (stubHistory) ListByPaper(ctx context.Context, paperID string, limit int) ([]domain.ConversionJob, error) {
	return []domain.ConversionJob{{PaperID: paperID, Status: domain.PhaseSucceeded}}, nil
}

func (stubHistory) CountByStatus(ctx context.Context) (map[domain.Phase]int64, error) {
	return map[domain.Phase]int64{domain.PhaseSucceeded: 3, domain.PhaseFailed: 1}, nil
}

func newAdminEngine(h *AdminHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/ingest", h.TriggerIngest)
	r.GET("/ingest/status", h.GetIngestStatus)
	r.POST("/retry", h.RetryFailed)
	r.GET("/jobs/stats", h.JobStats)
	r.GET("/papers/:id/history", h.PaperHistory)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerIngest(t *testing.T) {
	ing := &stubIngester{}
	r := newAdminEngine(NewAdminHandler(ing, stubHistory{}, t.TempDir()))

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"source":"batch1","limit":5,"force":true}`, http.StatusOK},
		{"missing limit", `{"source":"batch1"}`, http.StatusBadRequest},
		{"limit too large", `{"source":"batch1","limit":20000}`, http.StatusBadRequest},
		{"path traversal", `{"source":"../etc","limit":5}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/ingest", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	if len(ing.sources) != 1 || ing.sources[0] != "staging:batch1" || ing.limit != 5 || !ing.force {
		t.Errorf("ingester saw sources=%v limit=%d force=%v", ing.sources, ing.limit, ing.force)
	}

	w := doJSON(r, http.MethodGet, "/ingest/status", "")
	var status IngestStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.IsRunning || status.LastRunStatus != "success" || status.CurrentStats == nil {
		t.Errorf("status = %+v", status)
	}
}

func TestTriggerIngestFailureAndConflict(t *testing.T) {
	ing := &stubIngester{err: errors.New("manifest file not found"), block: make(chan struct{})}
	h := NewAdminHandler(ing, nil, t.TempDir())
	r := newAdminEngine(h)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- doJSON(r, http.MethodPost, "/ingest", `{"source":"batch1","limit":1}`)
	}()

	// wait for the first run to hold the running flag
	for {
		h.mu.RLock()
		running := h.isRunning
		h.mu.RUnlock()
		if running {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if w := doJSON(r, http.MethodPost, "/ingest", `{"source":"batch2","limit":1}`); w.Code != http.StatusConflict {
		t.Errorf("concurrent ingest code = %d, want 409", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/retry", ""); w.Code != http.StatusConflict {
		t.Errorf("retry during ingest code = %d, want 409", w.Code)
	}

	close(ing.block)
	if w := <-done; w.Code != http.StatusInternalServerError {
		t.Errorf("failed ingest code = %d, want 500", w.Code)
	}

	w := doJSON(r, http.MethodGet, "/ingest/status", "")
	if !strings.Contains(w.Body.String(), "failed: manifest file not found") {
		t.Errorf("status body = %s", w.Body.String())
	}
}

func TestRetryAndHistory(t *testing.T) {
	r := newAdminEngine(NewAdminHandler(&stubIngester{}, stubHistory{}, t.TempDir()))

	w := doJSON(r, http.MethodPost, "/retry", `{"limit":3}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"processed_items":2`) {
		t.Errorf("retry = %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/jobs/stats", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":3`) {
		t.Errorf("stats = %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/papers/2301.00001/history", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"paper_id":"2301.00001"`) {
		t.Errorf("history = %d %s", w.Code, w.Body.String())
	}
}

func TestHistoryDisabled(t *testing.T) {
	r := newAdminEngine(NewAdminHandler(&stubIngester{}, nil, t.TempDir()))
	if w := doJSON(r, http.MethodGet, "/jobs/stats", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", w.Code)
	}
}
