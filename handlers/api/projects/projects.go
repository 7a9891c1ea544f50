package projects

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"visual-projects/core"
	"visual-projects/project"
)

type (
	saveRequest struct {
		Name        string            `json:"name"`
		Description string            `json:"description"`
		ImageData   string            `json:"imageData"`
		Annotations []json.RawMessage `json:"annotations"`
	}

	saveResponse struct {
		Success            bool   `json:"success"`
		Key                string `json:"key"`
		SkippedAnnotations int    `json:"skippedAnnotations,omitempty"`
	}

	listResponse struct {
		Projects []core.ProjectSummary `json:"projects"`
	}
)

func HandleListProjects(svc *project.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := svc.List(r.Context())
		if err != nil {
			logrus.WithError(err).Error("Failed to list projects")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to list projects"})
			return
		}
		render.JSON(w, r, listResponse{Projects: summaries})
	}
}

func HandleGetProject(svc *project.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Project name is required"})
			return
		}

		loaded, err := svc.Load(r.Context(), name)
		if err != nil {
			writeError(w, r, err, "Failed to load project", logrus.Fields{"name": name})
			return
		}
		render.JSON(w, r, loaded)
	}
}

func HandleSaveProject(svc *project.Service, conflictRetries int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Request body must be valid JSON"})
			return
		}
		defer r.Body.Close()

		result, err := svc.SaveWithRetry(r.Context(), req.Name, req.Description, req.ImageData, req.Annotations, conflictRetries)
		if err != nil {
			writeError(w, r, err, "Failed to save project", logrus.Fields{"name": req.Name})
			return
		}

		render.JSON(w, r, saveResponse{
			Success:            true,
			Key:                result.Key,
			SkippedAnnotations: result.SkippedAnnotations,
		})
	}
}

// writeError is the single point where the persistence error taxonomy turns
// into an HTTP status and a client-safe message. Validation failures and
// not-found are expected conditions and never logged as errors.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string, fields logrus.Fields) {
	switch {
	case errors.Is(err, project.ErrNameRequired),
		errors.Is(err, project.ErrInvalidName),
		errors.Is(err, project.ErrAnnotationID):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
	case errors.Is(err, project.ErrNotFound):
		logrus.WithFields(fields).Warn("Project not found")
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "Project not found"})
	case errors.Is(err, core.ErrVersionConflict):
		logrus.WithFields(fields).WithError(err).Warn("Concurrent write lost the version race")
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, map[string]string{"error": "Project was modified concurrently, reload and retry"})
	case errors.Is(err, core.ErrForbidden):
		logrus.WithFields(fields).WithError(err).Error("Store credential rejected")
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "Store credential rejected: a write-scope token is required"})
	default:
		logrus.WithFields(fields).WithError(err).Error(fallback)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": fallback})
	}
}
