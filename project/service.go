package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"visual-projects/core"
)

// AnnotationPolicy decides what happens to an annotation entry whose id is
// missing, non-numeric or not a positive integer.
type AnnotationPolicy int

const (
	// AnnotationPolicySkip drops malformed entries, counts them and keeps
	// saving.
	AnnotationPolicySkip AnnotationPolicy = iota
	// AnnotationPolicyStrict aborts the save on the first malformed entry.
	AnnotationPolicyStrict
)

var (
	// ErrNameRequired is returned when a save request carries no name at all.
	ErrNameRequired = errors.New("project name is required")
	// ErrAnnotationID rejects annotations under the strict policy.
	ErrAnnotationID = errors.New("annotation id must be a positive integer")
	// ErrNotFound is returned when a project's info blob does not exist.
	ErrNotFound = errors.New("project not found")
)

var annotationFile = regexp.MustCompile(`^annotation_(\d+)\.json$`)

const (
	defaultBasePath    = "projects"
	defaultCallTimeout = 30 * time.Second
)

type (
	Config struct {
		// BasePath is the directory all projects live under.
		BasePath string
		// Policy selects the malformed-annotation behavior on save.
		Policy AnnotationPolicy
		// CallTimeout bounds each individual store call.
		CallTimeout time.Duration
	}

	// Service maps logical projects onto a tree of independently versioned
	// blobs, <base>/<key>/info.json plus one annotation_<id>.json per
	// annotation, and reassembles them on read.
	Service struct {
		store       core.BlobStore
		basePath    string
		policy      AnnotationPolicy
		callTimeout time.Duration
	}

	SaveResult struct {
		Key                string
		SkippedAnnotations int
	}

	projectInfo struct {
		DisplayName string `json:"displayName"`
		Description string `json:"description"`
		ImageData   string `json:"imageData"`
	}
)

// NewService creates a project persistence service on top of a blob store.
// Zero-value Config fields fall back to defaults.
func NewService(store core.BlobStore, cfg Config) *Service {
	if cfg.BasePath == "" {
		cfg.BasePath = defaultBasePath
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Service{
		store:       store,
		basePath:    cfg.BasePath,
		policy:      cfg.Policy,
		callTimeout: cfg.CallTimeout,
	}
}

// Save persists one project as a sequence of independent compare-and-swap
// upserts: the info blob first, then each annotation in input order. There is
// no cross-blob transaction; when a write fails the blobs already written
// stay in the store, and re-invoking Save with the same payload is safe
// because every write targets a deterministic path and fully replaces its
// content.
func (s *Service) Save(ctx context.Context, name, description, imageData string, annotations []json.RawMessage) (*SaveResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrNameRequired
	}
	key, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{"project": key, "annotations": len(annotations)})

	displayName := strings.TrimSpace(name)
	ctx = core.WithWriteLabel(ctx, displayName)

	info, err := json.Marshal(projectInfo{
		DisplayName: displayName,
		Description: description,
		ImageData:   imageData,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal project info: %w", err)
	}

	projectPath := s.basePath + "/" + key
	if _, err := s.upsert(ctx, projectPath+"/info.json", info); err != nil {
		log.WithError(err).Error("Failed to save project info")
		return nil, err
	}

	skipped := 0
	for i, ann := range annotations {
		id, ok := annotationID(ann)
		if !ok {
			if s.policy == AnnotationPolicyStrict {
				return nil, fmt.Errorf("annotation %d: %w", i, ErrAnnotationID)
			}
			skipped++
			continue
		}
		path := fmt.Sprintf("%s/annotation_%d.json", projectPath, id)
		if _, err := s.upsert(ctx, path, ann); err != nil {
			log.WithError(err).WithField("annotation_id", id).Error("Failed to save annotation")
			return nil, err
		}
	}
	if skipped > 0 {
		log.Warnf("Skipped %d annotations without a usable id", skipped)
	}

	log.Info("Project saved")
	return &SaveResult{Key: key, SkippedAnnotations: skipped}, nil
}

// Load reassembles a project from its info blob and every annotation blob
// under its directory. The info blob is the authoritative existence check;
// annotations come back in whatever order the store lists them.
func (s *Service) Load(ctx context.Context, name string) (*core.Project, error) {
	key, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	projectPath := s.basePath + "/" + key
	log := logrus.WithField("project", key)

	rec, err := s.get(ctx, projectPath+"/info.json")
	if err != nil {
		if errors.Is(err, core.ErrBlobNotFound) {
			log.Warn("Project not found")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	var info projectInfo
	if err := json.Unmarshal(rec.Content, &info); err != nil {
		return nil, fmt.Errorf("decode project info %s: %w", key, err)
	}

	entries, err := s.list(ctx, projectPath)
	if err != nil {
		// The info blob exists, so a listing failure here is an
		// inconsistent store, not an empty project.
		return nil, fmt.Errorf("list project directory %s: %w", key, err)
	}

	annotations := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		if entry.Kind != core.BlobKindFile || !annotationFile.MatchString(entry.Name) {
			continue
		}
		blob, err := s.get(ctx, entry.Path)
		if err != nil {
			return nil, fmt.Errorf("read annotation %s: %w", entry.Name, err)
		}
		annotations = append(annotations, json.RawMessage(blob.Content))
	}

	log.WithField("annotations", len(annotations)).Debug("Project loaded")
	return &core.Project{
		DisplayName: info.DisplayName,
		Key:         key,
		Description: info.Description,
		ImageData:   info.ImageData,
		Annotations: annotations,
	}, nil
}

// List enumerates stored projects. A missing base directory is the valid
// "no projects yet" state and yields an empty slice, not an error.
func (s *Service) List(ctx context.Context) ([]core.ProjectSummary, error) {
	entries, err := s.list(ctx, s.basePath)
	if err != nil {
		if errors.Is(err, core.ErrBlobNotFound) {
			return []core.ProjectSummary{}, nil
		}
		return nil, err
	}

	summaries := make([]core.ProjectSummary, 0, len(entries))
	for _, entry := range entries {
		if entry.Kind != core.BlobKindDir {
			continue
		}
		summaries = append(summaries, core.ProjectSummary{
			DisplayName: strings.ReplaceAll(entry.Name, "_", " "),
			Key:         entry.Name,
		})
	}
	return summaries, nil
}

// upsert is the read-then-compare-and-swap write for a single blob: exactly
// one read and, when the token still matches, exactly one write. A missing
// blob on the read is the expected create path. A concurrent writer who got
// there first surfaces as core.ErrVersionConflict; no retry happens here.
func (s *Service) upsert(ctx context.Context, path string, content []byte) (string, error) {
	version := ""
	rec, err := s.get(ctx, path)
	switch {
	case err == nil:
		version = rec.Version
	case errors.Is(err, core.ErrBlobNotFound):
	default:
		return "", err
	}

	putCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.store.Put(putCtx, path, content, version)
}

func (s *Service) get(ctx context.Context, path string) (*core.BlobRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.store.Get(ctx, path)
}

func (s *Service) list(ctx context.Context, prefix string) ([]core.BlobEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.store.List(ctx, prefix)
}

// annotationID extracts the numeric id an annotation is stored under. Only a
// positive integer JSON number qualifies; anything else marks the entry as
// malformed.
func annotationID(raw json.RawMessage) (int64, bool) {
	var probe struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, false
	}
	id, err := probe.ID.Int64()
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
