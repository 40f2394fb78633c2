// Package staging reads papers dropped into a local staging directory:
//
//	<root>/<name>/manifest.jsonl
//	<root>/<name>/pdfs/<filename>
package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/timmy/papershelf/internal/source"
)

const (
	// ManifestFileName is the JSONL manifest file name in staging sources.
	ManifestFileName = "manifest.jsonl"
	// PDFDir is the directory name for staged PDFs.
	PDFDir = "pdfs"
)

// ManifestItem represents a line of manifest.jsonl.
type ManifestItem struct {
	ID         string   `json:"id"`
	Filename   string   `json:"filename"`
	SourceURL  string   `json:"source_url"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors"`
	Abstract   string   `json:"abstract"`
	Categories []string `json:"categories"`
	Published  string   `json:"published"`
}

// Adapter implements source.Source for one staging directory.
type Adapter struct {
	basePath string
	sourceID string
	items    []source.PaperItem
	loaded   bool
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: root of all staging directories.
//   - sourceID: name of the directory under basePath.
//
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		basePath: basePath,
		sourceID: sourceID,
	}
}

// ValidName reports whether name can be used as a staging directory name.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// GetSourceID returns the source identifier with a "staging:" prefix.
func (a *Adapter) GetSourceID() string {
	return "staging:" + a.sourceID
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.sourceID)
}

// FetchBatch returns staged papers in ID order. The cursor is an index.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.PaperItem, string, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to load staging items: %w", err)
		}
		a.loaded = true
	}

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	if startIndex >= len(a.items) {
		return []source.PaperItem{}, "", nil
	}

	endIndex := startIndex + limit
	if limit <= 0 || endIndex > len(a.items) {
		endIndex = len(a.items)
	}

	nextCursor := ""
	if endIndex < len(a.items) {
		nextCursor = strconv.Itoa(endIndex)
	}

	return a.items[startIndex:endIndex], nextCursor, nil
}

func (a *Adapter) loadItems() error {
	stagingPath := filepath.Join(a.basePath, a.sourceID)
	manifestPath := filepath.Join(stagingPath, ManifestFileName)
	pdfPath := filepath.Join(stagingPath, PDFDir)

	file, err := os.Open(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("manifest file not found: %s", manifestPath)
		}
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.items = []source.PaperItem{}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item ManifestItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			// malformed lines are skipped
			continue
		}
		if item.ID == "" || item.Filename == "" {
			continue
		}

		localPath := filepath.Join(pdfPath, filepath.Base(item.Filename))
		if _, err := os.Stat(localPath); err != nil {
			continue
		}

		a.items = append(a.items, source.PaperItem{
			PaperID:    item.ID,
			LocalPath:  localPath,
			SourceURL:  item.SourceURL,
			Title:      item.Title,
			Authors:    item.Authors,
			Abstract:   item.Abstract,
			Categories: item.Categories,
			Published:  item.Published,
		})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	sort.Slice(a.items, func(i, j int) bool {
		return a.items[i].PaperID < a.items[j].PaperID
	})

	return nil
}
