package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"stash/models"

	"github.com/google/uuid"
)

var (
	// ErrValidation is returned when a required field is missing or malformed.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a project ID is not in the store.
	ErrNotFound = errors.New("project not found")
)

// ProjectStore owns the project ID -> Project mapping.
// Every mutation is an atomic read-modify-write against the durable state.
type ProjectStore interface {
	CreateProject(ctx context.Context, name string, format json.RawMessage) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateFormat(ctx context.Context, id string, format json.RawMessage) error
	DeleteProject(ctx context.Context, id string) error
	IncrementStat(ctx context.Context, id string, field models.StatField, delta int64) error
}

// EventLog is an append-only, per-project sequence of event records.
// Appends never check that the project exists.
type EventLog interface {
	AppendEvent(ctx context.Context, projectID, eventType string, data json.RawMessage) (*models.EventRecord, error)
	ListEvents(ctx context.Context, projectID string) ([]models.EventRecord, error)
	QueryEvents(ctx context.Context, projectID string, q models.EventQuery) ([]models.EventRecord, int64, error)
}

// Store is everything the HTTP layer needs from a backend.
type Store interface {
	ProjectStore
	EventLog
	Close()
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*DB)(nil)
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Helper functions

func generateAPIKey() string {
	return "sk_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: project name is required", ErrValidation)
	}
	return name, nil
}

func normalizeFormat(format json.RawMessage) json.RawMessage {
	if len(format) == 0 {
		return models.DefaultFormat
	}
	return format
}

// normalizeData turns an absent payload into JSON null so records always
// serialize with a data field.
func normalizeData(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}
	return data
}

// validateProjectID rejects IDs that could escape the data directory when
// used as a file name. It does not check that the project exists.
func validateProjectID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: invalid project id %q", ErrValidation, id)
	}
	return nil
}

func clampStat(value, delta int64) int64 {
	if value+delta < 0 {
		return 0
	}
	return value + delta
}
