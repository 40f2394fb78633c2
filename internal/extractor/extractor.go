// Package extractor turns a downloaded PDF into markdown-flavoured text.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrConversion wraps every extraction failure.
var ErrConversion = errors.New("conversion failed")

// Extractor converts a raw artifact on disk into text.
type Extractor interface {
	Extract(ctx context.Context, rawPath string) (string, error)
}

// PDFExtractor extracts page text with ledongthuc/pdf and optionally falls
// back to the pdftotext binary when the embedded parser finds no text.
type PDFExtractor struct {
	pdftotextFallback bool
	pdftotextPath     string
}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor(pdftotextFallback bool) *PDFExtractor {
	return &PDFExtractor{
		pdftotextFallback: pdftotextFallback,
		pdftotextPath:     "pdftotext",
	}
}

// Extract reads the PDF at rawPath and returns one "## Page N" section per
// page that has text.
func (e *PDFExtractor) Extract(ctx context.Context, rawPath string) (string, error) {
	if _, statErr := os.Stat(rawPath); statErr != nil {
		return "", fmt.Errorf("%w: source file: %v", ErrConversion, statErr)
	}

	pages, err := e.extractPages(ctx, rawPath)
	if err != nil {
		return "", err
	}

	if len(pages) == 0 && e.pdftotextFallback {
		pages, err = e.extractWithPDFToText(ctx, rawPath)
		if err != nil {
			return "", err
		}
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("%w: no extractable text in %s", ErrConversion, filepath.Base(rawPath))
	}
	return renderMarkdown(pages), nil
}

type page struct {
	number int
	text   string
}

func (e *PDFExtractor) extractPages(ctx context.Context, rawPath string) (pages []page, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed pdf: %v", ErrConversion, r)
		}
	}()

	f, r, err := pdf.Open(rawPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrConversion, err)
	}
	defer f.Close()

	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConversion, err)
		}

		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		raw, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: extract text from page %d: %v", ErrConversion, i, err)
		}
		if text := normalizeText(raw); text != "" {
			pages = append(pages, page{number: i, text: text})
		}
	}
	return pages, nil
}

func (e *PDFExtractor) extractWithPDFToText(ctx context.Context, rawPath string) ([]page, error) {
	cmd := exec.CommandContext(ctx, e.pdftotextPath, "-layout", rawPath, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: pdftotext: %v", ErrConversion, err)
	}

	var pages []page
	// pdftotext separates pages with form feeds.
	for i, chunk := range strings.Split(string(out), "\f") {
		if text := normalizeText(chunk); text != "" {
			pages = append(pages, page{number: i + 1, text: text})
		}
	}
	return pages, nil
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func renderMarkdown(pages []page) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## Page %d\n\n%s", p.number, p.text)
	}
	b.WriteString("\n")
	return b.String()
}
