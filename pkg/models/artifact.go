package models

import "time"

// Artifact is an opaque byte string addressed by its SHA-256 hash. Artifacts
// are created once per content and never mutated.
type Artifact struct {
	Hash      string    `json:"hash"`
	MimeType  string    `json:"mime_type,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
