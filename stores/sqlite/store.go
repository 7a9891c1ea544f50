package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"visual-projects/core"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-backed blob store. Each row carries an
// opaque version token; compare-and-swap is a conditional UPDATE on it.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	blobTableStmt := `
	CREATE TABLE IF NOT EXISTS blobs (
		path TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		version TEXT NOT NULL
	);`
	if _, err = db.Exec(blobTableStmt); err != nil {
		log.Fatalf("failed to create blobs table: %v", err)
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) Get(ctx context.Context, path string) (*core.BlobRecord, error) {
	rec := core.BlobRecord{Path: path}
	err := s.db.QueryRowContext(ctx, "SELECT content, version FROM blobs WHERE path = ?", path).Scan(&rec.Content, &rec.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrBlobNotFound, path)
		}
		logrus.WithError(err).WithField("path", path).Error("Failed to read blob")
		return nil, err
	}
	return &rec, nil
}

func (s *sqliteStore) List(ctx context.Context, prefix string) ([]core.BlobEntry, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	// _ and % are LIKE wildcards and underscores are routine in keys, so the
	// prefix is escaped to match literally.
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM blobs WHERE path LIKE ? ESCAPE '\' ORDER BY path`, escapeLike(dir)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Stored paths are flat; immediate children are synthesized, with any
	// deeper path contributing a directory entry.
	seen := make(map[string]core.BlobKind)
	var names []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		rest := strings.TrimPrefix(path, dir)
		name, _, nested := strings.Cut(rest, "/")
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
		if nested {
			seen[name] = core.BlobKindDir
		} else {
			seen[name] = core.BlobKindFile
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrBlobNotFound, prefix)
	}

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

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (s *sqliteStore) Put(ctx context.Context, path string, content []byte, expectedVersion string) (string, error) {
	version := ulid.Make().String()
	log := logrus.WithFields(logrus.Fields{"path": path, "version": version})

	if expectedVersion == "" {
		_, err := s.db.ExecContext(ctx, "INSERT INTO blobs (path, content, version) VALUES (?, ?, ?)", path, content, version)
		if err != nil {
			// A primary key violation means another writer created the
			// blob between our read and this insert.
			if strings.Contains(err.Error(), "UNIQUE") {
				return "", fmt.Errorf("%w: %s already exists", core.ErrVersionConflict, path)
			}
			log.WithError(err).Error("Failed to insert blob")
			return "", err
		}
		log.Debug("Blob created")
		return version, nil
	}

	res, err := s.db.ExecContext(ctx, "UPDATE blobs SET content = ?, version = ? WHERE path = ? AND version = ?", content, version, path, expectedVersion)
	if err != nil {
		log.WithError(err).Error("Failed to update blob")
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", fmt.Errorf("%w: %s", core.ErrVersionConflict, path)
	}
	log.Debug("Blob updated")
	return version, nil
}
