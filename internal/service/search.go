package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/logger"
)

// ErrInvalidSearch is returned for search requests that fail validation.
var ErrInvalidSearch = errors.New("invalid search request")

// maxSearchPages stops pagination against a service that never returns an empty page.
const maxSearchPages = 20

// SearchConfig holds configuration for the search service.
type SearchConfig struct {
	BaseURL    string
	MaxResults int
	Timeout    time.Duration
}

// PaperCatalog receives metadata of papers seen in search results.
type PaperCatalog interface {
	UpsertBatch(ctx context.Context, papers []*domain.Paper) error
}

// SearchService queries the semantic paper search API.
type SearchService struct {
	client     *resty.Client
	maxResults int
	catalog    PaperCatalog
	logger     *logger.Logger
}

// SearchRequest represents a paper search.
type SearchRequest struct {
	Query      string   `json:"query" form:"q"`
	MaxResults int      `json:"max_results" form:"max_results"`
	Categories []string `json:"categories" form:"categories"`
	DateFrom   string   `json:"date_from" form:"date_from"`
	DateTo     string   `json:"date_to" form:"date_to"`
}

// SearchResponse is the result of a search.
type SearchResponse struct {
	TotalResults int                   `json:"total_results"`
	Papers       []domain.SearchResult `json:"papers"`
}

// rawPaper is one element of a search API page.
type rawPaper struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Authors    string      `json:"authors"`
	Abstract   string      `json:"abstract"`
	Categories flexStrings `json:"categories"`
	Date       string      `json:"date"`
	Score      float64     `json:"score"`
}

// flexStrings accepts either a JSON array of strings or a single
// space- or comma-separated string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	return nil
}

// NewSearchService creates a new search service.
// Parameters:
//   - cfg: search API location, result cap and timeout.
//   - catalog: optional catalog that receives result metadata.
//   - log: logger instance.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(cfg *SearchConfig, catalog PaperCatalog, log *logger.Logger) *SearchService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}
	if log == nil {
		log = logger.GetDefault()
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &SearchService{
		client:     client,
		maxResults: maxResults,
		catalog:    catalog,
		logger:     log,
	}
}

func (s *SearchService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Search pages through the search API until enough results are collected
// or a page comes back empty, then applies category and date filters.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: query, result limit and filters.
//
// Returns:
//   - *SearchResponse: filtered results.
//   - error: ErrInvalidSearch for bad input, otherwise upstream failures.
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidSearch)
	}

	limit := req.MaxResults
	if limit <= 0 {
		limit = 10
	}
	if limit > s.maxResults {
		limit = s.maxResults
	}

	from, err := parseDateBound(req.DateFrom, false)
	if err != nil {
		return nil, fmt.Errorf("%w: date_from: %v", ErrInvalidSearch, err)
	}
	to, err := parseDateBound(req.DateTo, true)
	if err != nil {
		return nil, fmt.Errorf("%w: date_to: %v", ErrInvalidSearch, err)
	}

	ctx = logger.SetComponent(ctx, "search")
	start := time.Now()

	var raw []rawPaper
	for page := 1; len(raw) < limit && page <= maxSearchPages; page++ {
		items, err := s.fetchPage(ctx, query, page)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		raw = append(raw, items...)
	}

	results := make([]domain.SearchResult, 0, limit)
	for _, p := range raw {
		if !matchesCategories(p.Categories, req.Categories) {
			continue
		}
		result := toSearchResult(p)
		if published, ok := parseDate(result.Published); ok && !withinRange(published, from, to) {
			continue
		}
		results = append(results, result)
		if len(results) >= limit {
			break
		}
	}

	logger.With(logger.Fields{"query": query, "results": len(results)}).
		WithDuration(time.Since(start).Milliseconds()).
		Info(ctx, "Search completed")

	s.catalogResults(ctx, results)

	return &SearchResponse{TotalResults: len(results), Papers: results}, nil
}

func (s *SearchService) fetchPage(ctx context.Context, query string, page int) ([]rawPaper, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetQueryParam("page", strconv.Itoa(page)).
		Get("/")
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode())
	}

	var items []rawPaper
	if err := json.Unmarshal(resp.Body(), &items); err != nil {
		return nil, fmt.Errorf("unexpected response format from search API: %w", err)
	}
	return items, nil
}

// catalogResults is best-effort; search results are returned either way.
func (s *SearchService) catalogResults(ctx context.Context, results []domain.SearchResult) {
	if s.catalog == nil || len(results) == 0 {
		return
	}
	papers := make([]*domain.Paper, 0, len(results))
	for _, r := range results {
		if r.ID != "" {
			papers = append(papers, r.ToPaper())
		}
	}
	if err := s.catalog.UpsertBatch(ctx, papers); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to catalog search results")
	}
}

func toSearchResult(p rawPaper) domain.SearchResult {
	authors := []string{}
	if p.Authors != "" {
		for _, a := range strings.Split(p.Authors, ",") {
			authors = append(authors, strings.TrimSpace(a))
		}
	}

	published := p.Date
	if t, ok := parseDate(p.Date); ok {
		published = t.Format(time.RFC3339)
	}

	categories := []string(p.Categories)
	if categories == nil {
		categories = []string{}
	}

	return domain.SearchResult{
		ID:          p.ID,
		Title:       p.Title,
		Authors:     authors,
		Abstract:    p.Abstract,
		Categories:  categories,
		Published:   published,
		URL:         fmt.Sprintf("https://arxiv.org/pdf/%s.pdf", p.ID),
		ResourceURI: "arxiv://" + p.ID,
		Score:       p.Score,
	}
}

func matchesCategories(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// parseDate parses a date in one of the common layouts. Times without a
// zone are taken as UTC.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseDateBound parses a filter bound. A date-only upper bound covers the whole day.
func parseDateBound(s string, upper bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, ok := parseDate(s)
	if !ok {
		return nil, fmt.Errorf("unrecognized date %q", s)
	}
	if upper && t.Equal(t.Truncate(24*time.Hour)) && !strings.Contains(s, ":") {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func withinRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
