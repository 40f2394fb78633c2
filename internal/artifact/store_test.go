package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathIsDeterministicAndCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "papers")
	s := NewStore(root)

	raw, err := s.Path("2301.12345", KindRaw)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if raw != filepath.Join(root, "2301.12345.pdf") {
		t.Errorf("raw path = %q", raw)
	}
	final, err := s.Path("2301.12345", KindFinal)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if final != filepath.Join(root, "2301.12345.md") {
		t.Errorf("final path = %q", final)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}

	again, _ := s.Path("2301.12345", KindFinal)
	if again != final {
		t.Errorf("path changed between calls: %q vs %q", final, again)
	}
}

func TestPathStorageUnavailable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(filepath.Join(blocker, "papers"))

	_, err := s.Path("2301.12345", KindRaw)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestExistsHasNoSideEffects(t *testing.T) {
	root := filepath.Join(t.TempDir(), "papers")
	s := NewStore(root)

	if s.Exists("2301.12345", KindFinal) {
		t.Error("expected no artifact")
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("Exists must not create the storage root")
	}
}

func TestWriteAndReadFinal(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, err := s.ReadFinal("2301.12345"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.WriteFinal("2301.12345", "first"); err != nil {
		t.Fatalf("WriteFinal: %v", err)
	}
	if err := s.WriteFinal("2301.12345", "second"); err != nil {
		t.Fatalf("WriteFinal overwrite: %v", err)
	}

	got, err := s.ReadFinal("2301.12345")
	if err != nil {
		t.Fatalf("ReadFinal: %v", err)
	}
	if got != "second" {
		t.Errorf("ReadFinal = %q, want %q", got, "second")
	}
	if !s.Exists("2301.12345", KindFinal) {
		t.Error("final artifact should exist")
	}
	if s.Exists("2301.12345", KindRaw) {
		t.Error("raw artifact should not exist")
	}
}

func TestWriteRawLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	if err := s.WriteRaw("2301.12345", []byte("%PDF-1.4")); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "2301.12345.pdf" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected directory contents: %v", names)
	}
}

func TestInvalidIdentifiers(t *testing.T) {
	s := NewStore(t.TempDir())

	for _, id := range []string{"", "  ", "../etc/passwd", "a\\b", "a\x00b",
		"2301.00001?x=1", "2301.00001#frag", "2301 00001", "2301%2F00001", "2301.00001\n"} {
		if _, err := s.Path(id, KindRaw); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("Path(%q): expected ErrInvalidIdentifier, got %v", id, err)
		}
		if s.Exists(id, KindFinal) {
			t.Errorf("Exists(%q) should be false", id)
		}
	}
}

func TestOldStyleIdentifierStoredFlat(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	if err := s.WriteFinal("hep-th/9901001", "text"); err != nil {
		t.Fatalf("WriteFinal: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "hep-th_s9901001.md")); err != nil {
		t.Errorf("expected flat file: %v", err)
	}
	if !s.Exists("hep-th/9901001", KindFinal) {
		t.Error("expected artifact to exist")
	}
}

func TestSlashAndUnderscoreIDsDoNotCollide(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	slash, err := s.Path("hep-th/9901001", KindFinal)
	if err != nil {
		t.Fatal(err)
	}
	underscore, err := s.Path("hep-th_9901001", KindFinal)
	if err != nil {
		t.Fatal(err)
	}
	if slash == underscore {
		t.Fatalf("both ids map to %s", slash)
	}

	if err := s.WriteFinal("hep-th/9901001", "text"); err != nil {
		t.Fatal(err)
	}
	if s.Exists("hep-th_9901001", KindFinal) {
		t.Error("hep-th_9901001 should not see the artifact of hep-th/9901001")
	}
	if err := s.WriteFinal("hep-th_9901001", "other"); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ListFinal()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "hep-th/9901001" || ids[1] != "hep-th_9901001" {
		t.Errorf("ListFinal = %v", ids)
	}
	if text, _ := s.ReadFinal("hep-th/9901001"); text != "text" {
		t.Errorf("ReadFinal(hep-th/9901001) = %q", text)
	}
}

func TestEncodeDecodeID(t *testing.T) {
	tests := []struct {
		id, stem string
	}{
		{"2301.00001", "2301.00001"},
		{"2301.00001v2", "2301.00001v2"},
		{"hep-th/9901001", "hep-th_s9901001"},
		{"hep-th_9901001", "hep-th__9901001"},
		{"math.CO/0601001v2", "math.CO_s0601001v2"},
		{"a_/b", "a___sb"},
	}
	for _, tt := range tests {
		if got := EncodeID(tt.id); got != tt.stem {
			t.Errorf("EncodeID(%q) = %q, want %q", tt.id, got, tt.stem)
		}
		if got, ok := DecodeID(tt.stem); !ok || got != tt.id {
			t.Errorf("DecodeID(%q) = %q, %v, want %q", tt.stem, got, ok, tt.id)
		}
	}

	for _, stem := range []string{"dangling_", "bad_x"} {
		if _, ok := DecodeID(stem); ok {
			t.Errorf("DecodeID(%q) should fail", stem)
		}
	}
}

func TestListFinalSkipsForeignNames(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := s.WriteFinal("2301.00001", "text"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes_x.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ListFinal()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "2301.00001" {
		t.Errorf("ListFinal = %v", ids)
	}
}

func TestListFinalAndURI(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	for _, id := range []string{"2301.00002", "2301.00001"} {
		if err := s.WriteFinal(id, "text"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.WriteRaw("2301.00003", []byte("pdf")); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ListFinal()
	if err != nil {
		t.Fatalf("ListFinal: %v", err)
	}
	if len(ids) != 2 || ids[0] != "2301.00001" || ids[1] != "2301.00002" {
		t.Errorf("ListFinal = %v", ids)
	}

	uri := s.URI("2301.00001")
	if !strings.HasPrefix(uri, "file://") || !strings.HasSuffix(uri, "2301.00001.md") {
		t.Errorf("URI = %q", uri)
	}
}

func TestListFinalMissingRoot(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"))
	ids, err := s.ListFinal()
	if err != nil {
		t.Fatalf("ListFinal: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty list, got %v", ids)
	}
}
