package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/papershelf/internal/service"
)

// Searcher runs paper searches.
type Searcher interface {
	Search(ctx context.Context, req *service.SearchRequest) (*service.SearchResponse, error)
}

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searcher: search service instance.
//
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// SearchGet handles GET /api/v1/search?q=...&max_results=&categories=a,b&date_from=&date_to=.
func (h *SearchHandler) SearchGet(c *gin.Context) {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}

	req := service.SearchRequest{
		Query:    query,
		DateFrom: c.Query("date_from"),
		DateTo:   c.Query("date_to"),
	}
	if v := c.Query("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_results must be an integer"})
			return
		}
		req.MaxResults = n
	}
	for _, raw := range c.QueryArray("categories") {
		for _, cat := range strings.Split(raw, ",") {
			if cat = strings.TrimSpace(cat); cat != "" {
				req.Categories = append(req.Categories, cat)
			}
		}
	}

	h.search(c, &req)
}

// SearchPost handles POST /api/v1/search with a JSON body.
func (h *SearchHandler) SearchPost(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	h.search(c, &req)
}

func (h *SearchHandler) search(c *gin.Context, req *service.SearchRequest) {
	result, err := h.searcher.Search(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSearch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}
