package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractMissingFile(t *testing.T) {
	e := NewPDFExtractor(false)
	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestExtractNotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pdf")
	if err := os.WriteFile(path, []byte("this is not a pdf at all"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewPDFExtractor(false)
	_, err := e.Extract(context.Background(), path)
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestExtractFallbackFailureIsConversionError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n%%EOF\n"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewPDFExtractor(true)
	e.pdftotextPath = filepath.Join(t.TempDir(), "no-such-binary")

	_, err := e.Extract(context.Background(), path)
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trims", in: "  hello  ", want: "hello"},
		{name: "crlf", in: "a\r\nb", want: "a\nb"},
		{name: "trailing spaces", in: "a   \nb", want: "a\nb"},
		{name: "blank runs", in: "a\n\n\n\n\nb", want: "a\n\nb"},
		{name: "nul bytes", in: "a\x00b", want: "ab"},
		{name: "only whitespace", in: " \n\t\n ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeText(tt.in); got != tt.want {
				t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	got := renderMarkdown([]page{{number: 1, text: "Intro"}, {number: 3, text: "Results"}})
	want := "## Page 1\n\nIntro\n\n## Page 3\n\nResults\n"
	if got != want {
		t.Errorf("renderMarkdown = %q, want %q", got, want)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Error("expected trailing newline")
	}
}
