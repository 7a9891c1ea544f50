package core

import "encoding/json"

type (
	// Project is a logical entity reassembled from several stored blobs:
	// one info blob plus one blob per annotation. Annotation payloads are
	// opaque to this layer and forwarded verbatim.
	Project struct {
		DisplayName string            `json:"displayName"`
		Key         string            `json:"key"`
		Description string            `json:"description"`
		ImageData   string            `json:"imageData"`
		Annotations []json.RawMessage `json:"annotations"`
	}

	// ProjectSummary is the listing view of a project.
	ProjectSummary struct {
		DisplayName string `json:"displayName"`
		Key         string `json:"key"`
	}
)
