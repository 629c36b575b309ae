// Package imagestore persists uploaded plate snapshots to a local directory,
// shared by the Cloud and the Gate (spec.md §6's "images/in/{PLATE}_{epoch}.jpg"
// layout). No library in the retrieval pack wraps local blob storage, so this
// stays on os/io/path/filepath directly rather than reaching for a pack
// dependency that does not fit.
package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
)

// Kind is either "in" or "out", matching the two upload endpoints.
type Kind string

const (
	KindIn  Kind = "in"
	KindOut Kind = "out"
)

// Store roots all image reads/writes under Root.
type Store struct {
	Root string
}

func New(root string) *Store {
	return &Store{Root: root}
}

// Save writes data under {root}/{kind}/{PLATE}_{epochUnix}.jpg and returns
// the path relative to Root (the value the API returns to callers).
func (s *Store) Save(kind Kind, plate string, epochUnix int64, data []byte) (string, error) {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	dir := filepath.Join(s.Root, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap("image_save", "fs", apperr.Internal, err)
	}
	name := fmt.Sprintf("%s_%d.jpg", plate, epochUnix)
	full := filepath.Join(dir, name)
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", apperr.Wrap("image_save", "fs", apperr.Internal, err)
	}
	return filepath.Join(string(kind), name), nil
}

// Resolve turns a stored path (possibly prefixed "local:") into an absolute
// filesystem path under Root, refusing any attempt to escape it.
func (s *Store) Resolve(path string) (string, error) {
	path = strings.TrimPrefix(path, "local:")
	path = strings.TrimPrefix(path, "/")
	clean := filepath.Clean(filepath.Join(s.Root, path))
	if !strings.HasPrefix(clean, filepath.Clean(s.Root)+string(filepath.Separator)) && clean != filepath.Clean(s.Root) {
		return "", apperr.New("image_resolve", "path", apperr.BadInput, "path escapes image root")
	}
	if _, err := os.Stat(clean); err != nil {
		return "", apperr.New("image_resolve", "path", apperr.NotFound, "image not found")
	}
	return clean, nil
}
