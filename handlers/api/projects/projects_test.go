package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"visual-projects/core"
	"visual-projects/project"
	"visual-projects/stores/memory"
)

func newTestRouter(store core.BlobStore) *chi.Mux {
	svc := project.NewService(store, project.Config{})
	r := chi.NewRouter()
	r.Get("/api/projects", HandleListProjects(svc))
	r.Get("/api/projects/get", HandleGetProject(svc))
	r.Post("/api/projects/save", HandleSaveProject(svc, 0))
	return r
}

func doRequest(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleSaveProject_Success(t *testing.T) {
	router := newTestRouter(memory.NewStore())

	rec := doRequest(t, router, http.MethodPost, "/api/projects/save",
		`{"name":"Demo","description":"d","imageData":"abc","annotations":[{"id":1,"text":"x"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Success bool   `json:"success"`
		Key     string `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.Key != "demo" {
		t.Errorf("response = %+v, want success true key demo", resp)
	}
}

func TestHandleSaveProject_MissingName(t *testing.T) {
	router := newTestRouter(memory.NewStore())

	rec := doRequest(t, router, http.MethodPost, "/api/projects/save", `{"description":"d"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("body %s does not carry an error field", rec.Body)
	}
}

func TestHandleSaveProject_InvalidJSON(t *testing.T) {
	router := newTestRouter(memory.NewStore())

	rec := doRequest(t, router, http.MethodPost, "/api/projects/save", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSaveProject_ReportsSkippedAnnotations(t *testing.T) {
	router := newTestRouter(memory.NewStore())

	rec := doRequest(t, router, http.MethodPost, "/api/projects/save",
		`{"name":"Demo","annotations":[{"id":1,"text":"a"},{"id":"bad","text":"b"},{"id":2,"text":"c"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		SkippedAnnotations int `json:"skippedAnnotations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SkippedAnnotations != 1 {
		t.Errorf("skippedAnnotations = %d, want 1", resp.SkippedAnnotations)
	}
}

func TestHandleGetProject_RoundTrip(t *testing.T) {
	router := newTestRouter(memory.NewStore())

	rec := doRequest(t, router, http.MethodPost, "/api/projects/save",
		`{"name":"Demo","description":"d","imageData":"abc","annotations":[{"id":1,"text":"x"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/projects/get?name=Demo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		DisplayName string            `json:"displayName"`
		Description string            `json:"description"`
		ImageData   string            `json:"imageData"`
		Annotations []json.RawMessage `json:"annotations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DisplayName != "Demo" || resp.Description != "d" || resp.ImageData != "abc" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Annotations) != 1 {
		t.Errorf("annotations = %d, want 1", len(resp.Annotations))
	}
}

func TestHandleGetProject_MissingName(t *testing.T) {
	router := newTestRouter(memory.NewStore())

	rec := doRequest(t, router, http.MethodGet, "/api/projects/get", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGetProject_NotFound(t *testing.T) {
	router := newTestRouter(memory.NewStore())

	rec := doRequest(t, router, http.MethodGet, "/api/projects/get?name=does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListProjects_Empty(t *testing.T) {
	router := newTestRouter(memory.NewStore())

	rec := doRequest(t, router, http.MethodGet, "/api/projects", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Projects []core.ProjectSummary `json:"projects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Projects == nil || len(resp.Projects) != 0 {
		t.Errorf("projects = %v, want empty non-null array", resp.Projects)
	}
}

// conflictStore rejects every conditional write, as if another writer always
// wins the race.
type conflictStore struct {
	core.BlobStore
}

func (c *conflictStore) Put(ctx context.Context, path string, content []byte, expectedVersion string) (string, error) {
	return "", fmt.Errorf("%w: %s", core.ErrVersionConflict, path)
}

func TestHandleSaveProject_Conflict(t *testing.T) {
	router := newTestRouter(&conflictStore{BlobStore: memory.NewStore()})

	rec := doRequest(t, router, http.MethodPost, "/api/projects/save", `{"name":"Demo"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409, body %s", rec.Code, rec.Body)
	}
}

// forbiddenStore simulates a store credential without write scope.
type forbiddenStore struct {
	core.BlobStore
}

func (f *forbiddenStore) Put(ctx context.Context, path string, content []byte, expectedVersion string) (string, error) {
	return "", fmt.Errorf("%w: 403 from store", core.ErrForbidden)
}

func TestHandleSaveProject_ForbiddenCredential(t *testing.T) {
	router := newTestRouter(&forbiddenStore{BlobStore: memory.NewStore()})

	rec := doRequest(t, router, http.MethodPost, "/api/projects/save", `{"name":"Demo"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "write-scope") {
		t.Errorf("body %s should mention the missing write scope", rec.Body)
	}
}
