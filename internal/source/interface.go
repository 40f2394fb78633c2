// Package source lists papers available for bulk import from outside the
// arXiv download path.
package source

import "context"

// PaperItem is one paper offered by a source. Metadata fields are optional.
type PaperItem struct {
	PaperID    string
	LocalPath  string // raw PDF on local disk
	SourceURL  string
	Title      string
	Authors    []string
	Abstract   string
	Categories []string
	Published  string
}

// HasMetadata reports whether the item carries enough to catalog it.
func (p PaperItem) HasMetadata() bool {
	return p.Title != ""
}

// Source defines the interface for paper import sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of paper items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []PaperItem, nextCursor string, err error)
}
