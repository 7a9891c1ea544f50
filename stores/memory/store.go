package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"visual-projects/core"
)

type (
	blob struct {
		content []byte
		version string
	}

	// memStore keeps versioned blobs in a map. A fresh ULID is minted as
	// the version token on every successful write.
	memStore struct {
		mu    sync.RWMutex
		blobs map[string]blob
	}
)

// NewStore creates a new in-memory blob store.
func NewStore() *memStore {
	return &memStore{blobs: make(map[string]blob)}
}

func (s *memStore) Get(ctx context.Context, path string) (*core.BlobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBlobNotFound, path)
	}
	content := make([]byte, len(b.content))
	copy(content, b.content)
	return &core.BlobRecord{Path: path, Content: content, Version: b.version}, nil
}

func (s *memStore) List(ctx context.Context, prefix string) ([]core.BlobEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := strings.TrimSuffix(prefix, "/") + "/"
	seen := make(map[string]core.BlobKind)
	for path := range s.blobs {
		if !strings.HasPrefix(path, dir) {
			continue
		}
		rest := strings.TrimPrefix(path, dir)
		if name, _, nested := strings.Cut(rest, "/"); nested {
			seen[name] = core.BlobKindDir
		} else {
			seen[name] = core.BlobKindFile
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrBlobNotFound, prefix)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]core.BlobEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, core.BlobEntry{
			Name: name,
			Path: dir + name,
			Kind: seen[name],
		})
	}
	return entries, nil
}

func (s *memStore) Put(ctx context.Context, path string, content []byte, expectedVersion string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.blobs[path]
	switch {
	case expectedVersion == "" && exists:
		return "", fmt.Errorf("%w: %s already exists", core.ErrVersionConflict, path)
	case expectedVersion != "" && !exists:
		return "", fmt.Errorf("%w: %s has no version to match", core.ErrVersionConflict, path)
	case expectedVersion != "" && expectedVersion != current.version:
		return "", fmt.Errorf("%w: %s", core.ErrVersionConflict, path)
	}

	stored := make([]byte, len(content))
	copy(stored, content)
	version := ulid.Make().String()
	s.blobs[path] = blob{content: stored, version: version}
	logrus.WithFields(logrus.Fields{"path": path, "version": version}).Debug("Blob written")
	return version, nil
}
