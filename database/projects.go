package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stash/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const projectColumns = `id::text, name, api_key, format, created_at, uploads, errors`

var statColumns = map[models.StatField]string{
	models.StatUploads: "uploads",
	models.StatErrors:  "errors",
}

func (db *DB) CreateProject(ctx context.Context, name string, format json.RawMessage) (*models.Project, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		ID:        uuid.New().String(),
		Name:      name,
		APIKey:    generateAPIKey(),
		Format:    normalizeFormat(format),
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO projects (id, name, api_key, format, created_at, uploads, errors)
		VALUES ($1, $2, $3, $4, $5, 0, 0)
	`

	_, err = db.Pool.Exec(ctx, query, project.ID, project.Name, project.APIKey, string(project.Format), project.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	db.log.Info("Created project", "name", project.Name, "project_id", project.ID)
	return project, nil
}

func (db *DB) ListProjects(ctx context.Context) ([]models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		ORDER BY created_at, id
	`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	return scanProjects(rows)
}

func (db *DB) GetProject(ctx context.Context, id string) (*models.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE id = $1
	`

	project, err := scanProject(db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return project, nil
}

func (db *DB) UpdateFormat(ctx context.Context, id string, format json.RawMessage) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if len(format) == 0 {
		format = json.RawMessage("null")
	}

	result, err := db.Pool.Exec(ctx, `UPDATE projects SET format = $2 WHERE id = $1`, id, string(format))
	if err != nil {
		return fmt.Errorf("failed to update project format: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	db.log.Debug("Updated project format", "project_id", id)
	return nil
}

// DeleteProject is a no-op for unknown IDs. Events and uploads are kept.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}

	result, err := db.Pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	if result.RowsAffected() > 0 {
		db.log.Info("Deleted project", "project_id", id)
	}
	return nil
}

func (db *DB) IncrementStat(ctx context.Context, id string, field models.StatField, delta int64) error {
	column, ok := statColumns[field]
	if !ok {
		return fmt.Errorf("%w: unknown stat %q", ErrValidation, field)
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	// SAFETY: column comes from statColumns, never from input.
	query := fmt.Sprintf(`UPDATE projects SET %[1]s = GREATEST(%[1]s + $2, 0) WHERE id = $1`, column)

	result, err := db.Pool.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("failed to update project stats: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Helper functions

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var project models.Project
	var format []byte
	err := row.Scan(
		&project.ID,
		&project.Name,
		&project.APIKey,
		&format,
		&project.CreatedAt,
		&project.Stats.Uploads,
		&project.Stats.Errors,
	)
	if err != nil {
		return nil, err
	}
	project.Format = json.RawMessage(format)
	return &project, nil
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanProjects(rows rowsScanner) ([]models.Project, error) {
	projects := []models.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *project)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	return projects, nil
}
