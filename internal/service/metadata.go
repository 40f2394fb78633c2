package service

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/papershelf/internal/domain"
	"golang.org/x/time/rate"
)

// MetadataConfig holds configuration for the arXiv export API client.
type MetadataConfig struct {
	APIURL  string
	Timeout time.Duration
	// RateLimit caps requests per second. Zero disables it.
	RateLimit float64
}

// MetadataClient looks up paper metadata through the arXiv Atom API.
type MetadataClient struct {
	client  *resty.Client
	limiter *rate.Limiter
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string         `xml:"id"`
	Title     string         `xml:"title"`
	Summary   string         `xml:"summary"`
	Published string         `xml:"published"`
	Authors   []atomAuthor   `xml:"author"`
	Links     []atomLink     `xml:"link"`
	Category  []atomCategory `xml:"category"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// NewMetadataClient creates a metadata client.
func NewMetadataClient(cfg *MetadataConfig) *MetadataClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &MetadataClient{
		client: resty.New().
			SetBaseURL(cfg.APIURL).
			SetTimeout(timeout),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// Lookup returns metadata for the given ids. Each paper carries the id it
// was requested under, versioned or not. Ids unknown upstream are absent
// from the result.
func (c *MetadataClient) Lookup(ctx context.Context, ids []string) ([]*domain.Paper, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("metadata rate limit: %w", err)
		}
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("id_list", strings.Join(ids, ",")).
		SetQueryParam("max_results", strconv.Itoa(len(ids))).
		Get("")
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("metadata API returned status %d", resp.StatusCode())
	}

	papers, err := parseAtom(resp.Body())
	if err != nil {
		return nil, err
	}
	return matchRequested(ids, papers), nil
}

// matchRequested rekeys feed entries to the requested ids. Entries are
// matched on the unversioned id, so 2301.00001v2 and 2301.00001 both find
// the entry for 2301.00001.
func matchRequested(ids []string, papers []*domain.Paper) []*domain.Paper {
	byBase := make(map[string]*domain.Paper, len(papers))
	for _, p := range papers {
		byBase[stripVersion(p.ID)] = p
	}

	out := make([]*domain.Paper, 0, len(papers))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		p, ok := byBase[stripVersion(id)]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if p.ID != id {
			cp := *p
			cp.ID = id
			p = &cp
		}
		out = append(out, p)
	}
	return out
}

func parseAtom(body []byte) ([]*domain.Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse metadata feed: %w", err)
	}

	papers := make([]*domain.Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if strings.Contains(e.ID, "/api/errors") {
			continue
		}
		id := entryID(e.ID)
		if id == "" {
			continue
		}

		paper := &domain.Paper{
			ID:        id,
			Title:     collapseSpace(e.Title),
			Abstract:  collapseSpace(e.Summary),
			Published: strings.TrimSpace(e.Published),
			PDFURL:    fmt.Sprintf("https://arxiv.org/pdf/%s", id),
		}
		for _, a := range e.Authors {
			paper.Authors = append(paper.Authors, strings.TrimSpace(a.Name))
		}
		for _, c := range e.Category {
			paper.Categories = append(paper.Categories, c.Term)
		}
		for _, l := range e.Links {
			paper.Links = append(paper.Links, l.Href)
			if l.Title == "pdf" {
				paper.PDFURL = l.Href
			}
		}
		papers = append(papers, paper)
	}
	return papers, nil
}

// entryID turns http://arxiv.org/abs/2301.00001v2 into 2301.00001.
func entryID(raw string) string {
	raw = strings.TrimSpace(raw)
	idx := strings.Index(raw, "/abs/")
	if idx < 0 {
		return ""
	}
	return stripVersion(raw[idx+len("/abs/"):])
}

// stripVersion drops a trailing vN from an id.
func stripVersion(id string) string {
	if v := strings.LastIndex(id, "v"); v > 0 {
		if _, err := strconv.Atoi(id[v+1:]); err == nil {
			return id[:v]
		}
	}
	return id
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
