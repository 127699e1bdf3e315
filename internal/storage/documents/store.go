// Package documents persists rendered signatures in a flat directory so they
// can be downloaded later. Files are keyed by their derived filename only;
// a second signature for the same display name replaces the first.
package documents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/email-signature/internal/signature"
)

// ErrNotFound is returned when no document exists under a name.
var ErrNotFound = errors.New("document not found")

// ErrInvalidName is returned for names that are not plain document filenames.
var ErrInvalidName = errors.New("invalid document name")

var namePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{M}\p{N}_-]*\.html$`)

// Store implements signature.DocumentStore on the local filesystem.
type Store struct {
	dir string
}

// New creates dir if needed and returns a Store.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("documents directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create documents directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// ValidName reports whether name is a bare document filename.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && strings.ToLower(name) == name && filepath.Base(name) == name
}

// Save writes the document atomically; the last writer wins.
func (s *Store) Save(_ context.Context, doc signature.Document) error {
	if !ValidName(doc.Filename) {
		return fmt.Errorf("%w: %q", ErrInvalidName, doc.Filename)
	}
	tmp, err := os.CreateTemp(s.dir, ".sig-*")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.WriteString(doc.HTML); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close document: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, doc.Filename)); err != nil {
		return fmt.Errorf("move document into place: %w", err)
	}
	return nil
}

// Open returns the stored document for reading. The caller closes the file.
func (s *Store) Open(name string) (*os.File, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}
	// #nosec G304 -- name is validated as a bare filename above.
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open document: %w", err)
	}
	return f, nil
}
