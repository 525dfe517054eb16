package models

import (
	"encoding/json"
	"time"
)

// DefaultFormat is stored when a project is created without a format.
// Clients treat format as a JSON-encoded string, so the default is the
// string "{}" rather than an empty object.
var DefaultFormat = json.RawMessage(`"{}"`)

// StatField names a counter inside ProjectStats.
type StatField string

const (
	StatUploads StatField = "uploads"
	StatErrors  StatField = "errors"
)

// Valid reports whether f is a known counter.
func (f StatField) Valid() bool {
	return f == StatUploads || f == StatErrors
}

// Project represents a tenant in stash.
// Each project has a secret API key that guards uploads and event appends.
// Uploaded files and the event log live outside the record itself.
type Project struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	APIKey    string          `json:"apiKey" db:"api_key"`
	Format    json.RawMessage `json:"format" db:"format"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	Stats     ProjectStats    `json:"stats"`
}

// ProjectStats counts upload outcomes. Only the upload path changes it.
type ProjectStats struct {
	Uploads int64 `json:"uploads" db:"uploads"`
	Errors  int64 `json:"errors" db:"errors"`
}

// CreateProjectRequest is the payload for creating a new project.
// Name is checked by the store so that blank names map to a validation error.
type CreateProjectRequest struct {
	Name   string          `json:"name"`
	Format json.RawMessage `json:"format"`
}

// UpdateFormatRequest replaces a project's format blob wholesale.
type UpdateFormatRequest struct {
	Format json.RawMessage `json:"format"`
}
