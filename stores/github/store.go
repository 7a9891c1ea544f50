package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"visual-projects/core"
)

type ghStore struct {
	client *gh.Client
	owner  string
	repo   string
	branch string
}

// NewStore creates a blob store backed by the contents API of a GitHub
// repository. A blob's version token is its git blob SHA, which the contents
// API checks on every update, giving compare-and-swap for free.
func NewStore(ctx context.Context, token, owner, repo, branch string) *ghStore {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &ghStore{
		client: gh.NewClient(tc),
		owner:  owner,
		repo:   repo,
		branch: branch,
	}
}

func (s *ghStore) Get(ctx context.Context, path string) (*core.BlobRecord, error) {
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path, &gh.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		return nil, classify(resp, err, path)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory, not a blob", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", path, err)
	}
	return &core.BlobRecord{Path: path, Content: []byte(content), Version: file.GetSHA()}, nil
}

func (s *ghStore) List(ctx context.Context, prefix string) ([]core.BlobEntry, error) {
	_, dir, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, prefix, &gh.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		return nil, classify(resp, err, prefix)
	}
	entries := make([]core.BlobEntry, 0, len(dir))
	for _, item := range dir {
		kind := core.BlobKindFile
		if item.GetType() == "dir" {
			kind = core.BlobKindDir
		}
		entries = append(entries, core.BlobEntry{
			Name: item.GetName(),
			Path: item.GetPath(),
			Kind: kind,
		})
	}
	return entries, nil
}

func (s *ghStore) Put(ctx context.Context, path string, content []byte, expectedVersion string) (string, error) {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(commitMessage(path, core.WriteLabel(ctx))),
		Content: content,
		Branch:  gh.String(s.branch),
	}

	var written *gh.RepositoryContentResponse
	var resp *gh.Response
	var err error
	if expectedVersion == "" {
		written, resp, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, path, opts)
	} else {
		opts.SHA = gh.String(expectedVersion)
		written, resp, err = s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, path, opts)
	}
	if err != nil {
		return "", classifyWrite(resp, err, path)
	}

	sha := written.GetContent().GetSHA()
	logrus.WithFields(logrus.Fields{"path": path, "sha": sha}).Debug("Blob committed")
	return sha, nil
}

// classify maps a contents-API read failure onto the closed store error set.
func classify(resp *gh.Response, err error, path string) error {
	switch status(resp, err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrBlobNotFound, path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", core.ErrForbidden, err)
	}
	return err
}

// A write rejected with 409 (the branch moved) or 422 (sha mismatch) means
// the blob changed between our read and this write.
func classifyWrite(resp *gh.Response, err error, path string) error {
	switch status(resp, err) {
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", core.ErrVersionConflict, path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", core.ErrForbidden, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrBlobNotFound, path)
	}
	return err
}

func status(resp *gh.Response, err error) int {
	if resp != nil {
		return resp.StatusCode
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

var annotationPath = regexp.MustCompile(`/annotation_(\d+)\.json$`)

// commitMessage builds the commit text for a write, preferring the display
// name the caller attached as the write label and falling back to the
// project key in the path.
func commitMessage(path, label string) string {
	project := label
	if project == "" {
		parts := strings.Split(path, "/")
		project = path
		if len(parts) >= 2 {
			project = parts[len(parts)-2]
		}
	}
	if m := annotationPath.FindStringSubmatch(path); m != nil {
		return fmt.Sprintf("Annotation %s in %q", m[1], project)
	}
	return fmt.Sprintf("Save project: %s", project)
}
