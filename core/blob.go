package core

import (
	"context"
	"errors"
)

// Store failure kinds. Every backend maps its transport errors onto this
// closed set at the call site; anything that does not match one of these is
// an unknown store failure.
var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrForbidden       = errors.New("forbidden")
)

type (
	BlobKind string

	// BlobRecord is a single stored object together with its current
	// version token.
	BlobRecord struct {
		Path    string
		Content []byte
		Version string
	}

	// BlobEntry is one listing result under a path prefix.
	BlobEntry struct {
		Name string
		Path string
		Kind BlobKind
	}

	// BlobStore is the remote versioned file store the persistence layer is
	// built on. Put performs a compare-and-swap: with a non-empty
	// expectedVersion the write succeeds only if the token still matches the
	// blob's current one, and with an empty expectedVersion the blob must
	// not exist yet. Either way a failed precondition is ErrVersionConflict.
	// No batch or multi-path atomic operation exists.
	BlobStore interface {
		Get(ctx context.Context, path string) (*BlobRecord, error)
		List(ctx context.Context, prefix string) ([]BlobEntry, error)
		Put(ctx context.Context, path string, content []byte, expectedVersion string) (string, error)
	}
)

const (
	BlobKindFile BlobKind = "file"
	BlobKindDir  BlobKind = "dir"
)

type writeLabelKey struct{}

// WithWriteLabel attaches a human-readable label to writes made under ctx.
// Backends that record write metadata, such as commit messages, may use it;
// the others ignore it.
func WithWriteLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, writeLabelKey{}, label)
}

// WriteLabel returns the label attached by WithWriteLabel, or "".
func WriteLabel(ctx context.Context) string {
	label, _ := ctx.Value(writeLabelKey{}).(string)
	return label
}
