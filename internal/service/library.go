package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/papershelf/internal/artifact"
	"github.com/timmy/papershelf/internal/domain"
	"github.com/timmy/papershelf/internal/logger"
)

// ErrNotStored is matched by NotStoredError.
var ErrNotStored = errors.New("paper not stored")

// NotStoredError reports a read of a paper that has not been converted.
type NotStoredError struct {
	PaperID string
}

func (e *NotStoredError) Error() string {
	return fmt.Sprintf("Paper %s not found in storage. You may need to download it first using download_paper.", e.PaperID)
}

func (e *NotStoredError) Is(target error) bool { return target == ErrNotStored }

// LibraryStore lists and reads converted papers.
type LibraryStore interface {
	ListFinal() ([]string, error)
	ReadFinal(id string) (string, error)
	URI(id string) string
}

// CatalogReader is the read and write side of the paper catalog used for listings.
type CatalogReader interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Paper, error)
	UpsertBatch(ctx context.Context, papers []*domain.Paper) error
}

// MetadataLookup resolves metadata for papers missing from the catalog.
type MetadataLookup interface {
	Lookup(ctx context.Context, ids []string) ([]*domain.Paper, error)
}

// LibraryService lists and reads the locally converted papers.
type LibraryService struct {
	store    LibraryStore
	catalog  CatalogReader
	metadata MetadataLookup
	logger   *logger.Logger
}

// LibraryListing is the result of List.
type LibraryListing struct {
	TotalPapers int           `json:"total_papers"`
	Papers      []LibraryItem `json:"papers"`
}

// LibraryItem is a stored paper with whatever metadata is known about it.
type LibraryItem struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Published   string   `json:"published,omitempty"`
	Links       []string `json:"links,omitempty"`
	PDFURL      string   `json:"pdf_url,omitempty"`
	ResourceURI string   `json:"resource_uri"`
}

// PaperContent is the result of Read.
type PaperContent struct {
	Status  string `json:"status"`
	PaperID string `json:"paper_id"`
	Content string `json:"content"`
}

// NewLibraryService creates a library service. catalog and metadata may be nil.
func NewLibraryService(store LibraryStore, catalog CatalogReader, metadata MetadataLookup, log *logger.Logger) *LibraryService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &LibraryService{
		store:    store,
		catalog:  catalog,
		metadata: metadata,
		logger:   log,
	}
}

func (s *LibraryService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// List returns every converted paper. Metadata comes from the catalog,
// falling back to the metadata API for papers the catalog has not seen.
// Metadata failures leave entries with just their id.
func (s *LibraryService) List(ctx context.Context) (*LibraryListing, error) {
	ids, err := s.store.ListFinal()
	if err != nil {
		return nil, err
	}

	known := s.knownMetadata(ctx, ids)

	items := make([]LibraryItem, 0, len(ids))
	for _, id := range ids {
		item := LibraryItem{ID: id, ResourceURI: s.store.URI(id)}
		if p, ok := known[id]; ok {
			item.Title = p.Title
			item.Summary = p.Abstract
			item.Authors = p.Authors
			item.Categories = p.Categories
			item.Published = p.Published
			item.Links = p.Links
			item.PDFURL = p.PDFURL
		}
		items = append(items, item)
	}

	return &LibraryListing{TotalPapers: len(items), Papers: items}, nil
}

func (s *LibraryService) knownMetadata(ctx context.Context, ids []string) map[string]*domain.Paper {
	known := make(map[string]*domain.Paper, len(ids))
	if len(ids) == 0 {
		return known
	}

	if s.catalog != nil {
		found, err := s.catalog.GetByIDs(ctx, ids)
		if err != nil {
			s.log(ctx).WithError(err).Warn("Failed to read paper catalog")
		}
		for id, p := range found {
			known[id] = p
		}
	}

	if s.metadata == nil {
		return known
	}
	var missing []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return known
	}

	fetched, err := s.metadata.Lookup(ctx, missing)
	if err != nil {
		s.log(ctx).WithError(err).WithField("missing", len(missing)).Warn("Metadata lookup failed")
		return known
	}
	for _, p := range fetched {
		known[p.ID] = p
	}
	if s.catalog != nil && len(fetched) > 0 {
		if err := s.catalog.UpsertBatch(ctx, fetched); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to cache paper metadata")
		}
	}
	return known
}

// Read returns the converted text of a paper.
func (s *LibraryService) Read(ctx context.Context, id string) (*PaperContent, error) {
	id = strings.TrimSpace(id)
	text, err := s.store.ReadFinal(id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, &NotStoredError{PaperID: id}
		}
		return nil, fmt.Errorf("error reading paper: %w", err)
	}
	return &PaperContent{Status: "success", PaperID: id, Content: text}, nil
}
