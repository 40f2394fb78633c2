package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/2301.00001v2</id>
    <published>2023-01-01T10:00:00Z</published>
    <title>A   Study of
      Things</title>
    <summary>  We study things.
    </summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Alan Turing</name></author>
    <link href="http://arxiv.org/abs/2301.00001v2" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2301.00001v2" rel="related" type="application/pdf"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/hep-th/9901001v1</id>
    <title>Old style</title>
  </entry>
  <entry>
    <id>http://arxiv.org/api/errors#incorrect_id_format_for_bad</id>
    <title>Error</title>
  </entry>
</feed>`

func TestMetadataLookup(t *testing.T) {
	var gotIDs string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIDs = r.URL.Query().Get("id_list")
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	client := NewMetadataClient(&MetadataConfig{APIURL: srv.URL})
	papers, err := client.Lookup(context.Background(), []string{"2301.00001", "hep-th/9901001", "bad"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if gotIDs != "2301.00001,hep-th/9901001,bad" {
		t.Errorf("id_list = %q", gotIDs)
	}
	if len(papers) != 2 {
		t.Fatalf("got %d papers, want 2", len(papers))
	}

	p := papers[0]
	if p.ID != "2301.00001" || p.Title != "A Study of Things" || p.Abstract != "We study things." {
		t.Errorf("paper = %+v", p)
	}
	if len(p.Authors) != 2 || p.PDFURL != "http://arxiv.org/pdf/2301.00001v2" {
		t.Errorf("authors = %v, pdf = %q", p.Authors, p.PDFURL)
	}
	if len(p.Categories) != 1 || p.Categories[0] != "cs.LG" || len(p.Links) != 2 {
		t.Errorf("categories = %v, links = %v", p.Categories, p.Links)
	}
	if papers[1].ID != "hep-th/9901001" {
		t.Errorf("old-style id = %q", papers[1].ID)
	}
}

func TestMetadataLookupKeepsRequestedVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	client := NewMetadataClient(&MetadataConfig{APIURL: srv.URL})
	papers, err := client.Lookup(context.Background(), []string{"hep-th/9901001v1", "2301.00001v2"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(papers) != 2 {
		t.Fatalf("got %d papers, want 2", len(papers))
	}
	if papers[0].ID != "hep-th/9901001v1" || papers[0].Title != "Old style" {
		t.Errorf("first = %+v", papers[0])
	}
	if papers[1].ID != "2301.00001v2" || papers[1].Title != "A Study of Things" {
		t.Errorf("second = %+v", papers[1])
	}
}

func TestMetadataLookupErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewMetadataClient(&MetadataConfig{APIURL: srv.URL})
	if _, err := client.Lookup(context.Background(), []string{"x"}); err == nil {
		t.Error("expected error for 503")
	}
	papers, err := client.Lookup(context.Background(), nil)
	if err != nil || papers != nil {
		t.Errorf("empty lookup = %v, %v", papers, err)
	}
}

func TestEntryID(t *testing.T) {
	tests := map[string]string{
		"http://arxiv.org/abs/2301.00001v2":     "2301.00001",
		"http://arxiv.org/abs/2301.00001":       "2301.00001",
		"http://arxiv.org/abs/solv-int/9901001": "solv-int/9901001",
		"urn:something":                         "",
	}
	for in, want := range tests {
		if got := entryID(in); got != want {
			t.Errorf("entryID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMetadataRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	client := NewMetadataClient(&MetadataConfig{APIURL: srv.URL, RateLimit: 0.001})
	if _, err := client.Lookup(context.Background(), []string{"2301.00001"}); err != nil {
		t.Fatalf("first lookup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Lookup(ctx, []string{"2301.00001"}); err == nil {
		t.Fatal("expected rate limit error")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}
