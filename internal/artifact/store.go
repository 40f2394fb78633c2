// Package artifact maps paper identifiers to their files on disk: the raw
// PDF fetched from upstream and the converted markdown text.
//
// The existence of the converted text is the ground truth for a finished
// conversion; in-memory job state only caches recent activity.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// Kind selects which artifact of a paper a path refers to.
type Kind int

const (
	KindRaw Kind = iota
	KindFinal
)

func (k Kind) ext() string {
	if k == KindRaw {
		return ".pdf"
	}
	return ".md"
}

func (k Kind) String() string {
	if k == KindRaw {
		return "raw"
	}
	return "final"
}

var (
	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrStorageUnavailable is returned when the storage root cannot be created or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrIO wraps read and write failures of individual artifacts.
	ErrIO = errors.New("artifact io error")
	// ErrInvalidIdentifier is returned for identifiers that cannot be mapped to a file name.
	ErrInvalidIdentifier = errors.New("invalid paper identifier")
)

// Store is a directory of paper artifacts.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the storage directory.
func (s *Store) Root() string {
	return s.root
}

// ValidateID rejects identifiers that would escape the storage root or
// cannot be represented as a file name.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	case strings.Contains(id, ".."),
		strings.ContainsAny(id, "\\\x00?#%"),
		strings.IndexFunc(id, unicode.IsSpace) >= 0,
		strings.IndexFunc(id, unicode.IsControl) >= 0:
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

var stemEncoder = strings.NewReplacer("_", "__", "/", "_s")

// EncodeID maps an identifier to a flat file stem. Old-style arXiv ids
// contain a slash (hep-th/9901001); '_' is escaped as "__" and '/' as "_s"
// so distinct ids never share a stem.
func EncodeID(id string) string {
	return stemEncoder.Replace(id)
}

// DecodeID reverses EncodeID. It reports false for stems EncodeID never produces.
func DecodeID(stem string) (string, bool) {
	if !strings.Contains(stem, "_") {
		return stem, true
	}
	var b strings.Builder
	b.Grow(len(stem))
	for i := 0; i < len(stem); i++ {
		c := stem[i]
		if c != '_' {
			b.WriteByte(c)
			continue
		}
		if i+1 == len(stem) {
			return "", false
		}
		i++
		switch stem[i] {
		case '_':
			b.WriteByte('_')
		case 's':
			b.WriteByte('/')
		default:
			return "", false
		}
	}
	return b.String(), true
}

func (s *Store) location(id string, kind Kind) string {
	return filepath.Join(s.root, EncodeID(id)+kind.ext())
}

// Path returns the location of an artifact, creating the storage root if needed.
func (s *Store) Path(id string, kind Kind) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	if err := s.ensureRoot(); err != nil {
		return "", err
	}
	return s.location(id, kind), nil
}

func (s *Store) ensureRoot() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStorageUnavailable, s.root, err)
	}
	probe, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s is not writable: %v", ErrStorageUnavailable, s.root, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// Exists reports whether the artifact is present. It has no side effects.
func (s *Store) Exists(id string, kind Kind) bool {
	if ValidateID(id) != nil {
		return false
	}
	info, err := os.Stat(s.location(id, kind))
	return err == nil && info.Mode().IsRegular()
}

// ReadFinal returns the converted text of a paper.
func (s *Store) ReadFinal(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.location(id, KindFinal))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("%w: read %s: %v", ErrIO, id, err)
	}
	return string(data), nil
}

// WriteRaw stores the fetched payload, replacing any previous copy.
func (s *Store) WriteRaw(id string, data []byte) error {
	return s.write(id, KindRaw, data)
}

// WriteFinal stores the converted text, replacing any previous copy.
func (s *Store) WriteFinal(id string, text string) error {
	return s.write(id, KindFinal, []byte(text))
}

// write goes through a temp file and rename so readers never see a partial artifact.
func (s *Store) write(id string, kind Kind, data []byte) error {
	path, err := s.Path(id, kind)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-"+EncodeID(id)+"-*")
	if err != nil {
		return fmt.Errorf("%w: write %s %s: %v", ErrIO, kind, id, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s %s: %v", ErrIO, kind, id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s %s: %v", ErrIO, kind, id, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s %s: %v", ErrIO, kind, id, err)
	}
	return nil
}

// URI returns the file:// resource reference of a paper's converted text.
func (s *Store) URI(id string) string {
	abs, err := filepath.Abs(s.location(id, KindFinal))
	if err != nil {
		abs = s.location(id, KindFinal)
	}
	return "file://" + filepath.ToSlash(abs)
}

// ListFinal returns the identifiers that have converted text, sorted.
// Identifiers are decoded from file names; names that EncodeID could not
// have produced are skipped.
func (s *Store) ListFinal() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", ErrIO, s.root, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != KindFinal.ext() {
			continue
		}
		id, ok := DecodeID(strings.TrimSuffix(name, KindFinal.ext()))
		if !ok || ValidateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
