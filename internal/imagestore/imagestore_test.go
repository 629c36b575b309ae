package imagestore

import (
	"os"
	"testing"

	"github.com/meomeohuhu/ParkingDistributed/internal/apperr"
)

func TestSaveThenResolveRoundTrips(t *testing.T) {
	t.Parallel()
	store := New(t.TempDir())
	path, err := store.Save(KindIn, " abc-123 ", 1700000000, []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if path != "in/ABC-123_1700000000.jpg" {
		t.Fatalf("unexpected stored path %q", path)
	}

	full, err := store.Resolve("local:" + path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("read resolved file: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected file contents %q", data)
	}
}

func TestResolveRejectsPathEscape(t *testing.T) {
	t.Parallel()
	store := New(t.TempDir())
	_, err := store.Resolve("../../etc/passwd")
	if apperr.CodeOf(err) != apperr.BadInput {
		t.Fatalf("expected BadInput for a path escape attempt, got %v", err)
	}
}

func TestResolveMissingFileIsNotFound(t *testing.T) {
	t.Parallel()
	store := New(t.TempDir())
	_, err := store.Resolve("in/GHOST_1.jpg")
	if apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound for a missing file, got %v", err)
	}
}
