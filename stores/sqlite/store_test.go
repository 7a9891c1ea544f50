package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"visual-projects/core"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "blobs.db"))
}

func TestPut_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	version, err := store.Put(ctx, "projects/demo/info.json", []byte(`{"a":1}`), "")
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	rec, err := store.Get(ctx, "projects/demo/info.json")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(rec.Content) != `{"a":1}` {
		t.Errorf("Get() content = %s, want {\"a\":1}", rec.Content)
	}
	if rec.Version != version {
		t.Errorf("Get() version = %q, want %q", rec.Version, version)
	}
}

func TestPut_CASUpdateAndStaleToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v1, err := store.Put(ctx, "projects/demo/info.json", []byte("one"), "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	v2, err := store.Put(ctx, "projects/demo/info.json", []byte("two"), v1)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if v2 == v1 {
		t.Error("update did not mint a new version token")
	}

	_, err = store.Put(ctx, "projects/demo/info.json", []byte("three"), v1)
	if !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("Put() with stale token error = %v, want ErrVersionConflict", err)
	}
}

func TestPut_CreateOverExistingConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "projects/demo/info.json", []byte("one"), ""); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err := store.Put(ctx, "projects/demo/info.json", []byte("two"), "")
	if !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("blind create over existing blob error = %v, want ErrVersionConflict", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "projects/missing/info.json")
	if !errors.Is(err, core.ErrBlobNotFound) {
		t.Errorf("Get() error = %v, want ErrBlobNotFound", err)
	}
}

func TestList_SynthesizesDirectories(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	paths := []string{
		"projects/alpha/info.json",
		"projects/alpha/annotation_2.json",
		"projects/beta/info.json",
	}
	for _, p := range paths {
		if _, err := store.Put(ctx, p, []byte("{}"), ""); err != nil {
			t.Fatalf("Put(%s) failed: %v", p, err)
		}
	}

	entries, err := store.List(ctx, "projects")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Kind != core.BlobKindDir {
			t.Errorf("entry %s kind = %s, want dir", e.Name, e.Kind)
		}
	}

	files, err := store.List(ctx, "projects/alpha")
	if err != nil {
		t.Fatalf("List(projects/alpha) failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List(projects/alpha) returned %d entries, want 2", len(files))
	}
	if files[0].Name != "annotation_2.json" || files[1].Name != "info.json" {
		t.Errorf("List(projects/alpha) names = [%s %s], want sorted [annotation_2.json info.json]", files[0].Name, files[1].Name)
	}
}

func TestList_UnderscoreKeysMatchLiterally(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Keys differing only at a _/- position must not bleed into each
	// other's listings through the LIKE wildcard.
	paths := []string{
		"projects/plan_b/info.json",
		"projects/plan-b/info.json",
		"projects/plan-b/annotation_9.json",
	}
	for _, p := range paths {
		if _, err := store.Put(ctx, p, []byte("{}"), ""); err != nil {
			t.Fatalf("Put(%s) failed: %v", p, err)
		}
	}

	entries, err := store.List(ctx, "projects/plan_b")
	if err != nil {
		t.Fatalf("List(projects/plan_b) failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List(projects/plan_b) returned %d entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Name != "info.json" || entries[0].Kind != core.BlobKindFile {
		t.Errorf("entry = %+v, want file info.json", entries[0])
	}
	if entries[0].Path != "projects/plan_b/info.json" {
		t.Errorf("entry path = %q, must live under the listed prefix", entries[0].Path)
	}

	_, err = store.List(ctx, "projects/plan_c")
	if !errors.Is(err, core.ErrBlobNotFound) {
		t.Errorf("List(projects/plan_c) error = %v, want ErrBlobNotFound", err)
	}
}

func TestList_MissingPrefix(t *testing.T) {
	store := newTestStore(t)

	_, err := store.List(context.Background(), "projects")
	if !errors.Is(err, core.ErrBlobNotFound) {
		t.Errorf("List() error = %v, want ErrBlobNotFound", err)
	}
}
