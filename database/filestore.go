package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"stash/logger"
	"stash/models"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	projectsFile = "projects.json"
	dataFileMode = 0o750
)

// projectIndex is the on-disk shape of projects.json: an object keyed by project ID.
type projectIndex map[string]*models.Project

// FileStore keeps projects in one JSON document and each project's event log
// in its own JSON document, all under a single data directory.
//
// Every operation re-reads the document it touches, applies one change and
// writes the whole document back through a temp file + rename. Writers to the
// index are serialized by mu plus an flock on projects.json.lock (other
// processes sharing the directory); writers to an event log are serialized
// per project.
type FileStore struct {
	dataDir   string
	indexPath string

	mu        sync.Mutex
	indexLock *flock.Flock
	logLocks  *keyedMutex

	now func() time.Time
	log logger.Logger
}

// OpenFileStore prepares dataDir and creates an empty index if none exists.
func OpenFileStore(ctx context.Context, dataDir string, log logger.Logger) (*FileStore, error) {
	if log == nil {
		log = logger.FromContext(ctx)
	}
	if err := os.MkdirAll(dataDir, dataFileMode); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	indexPath := filepath.Join(dataDir, projectsFile)
	s := &FileStore{
		dataDir:   dataDir,
		indexPath: indexPath,
		indexLock: flock.New(indexPath + ".lock"),
		logLocks:  newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}

	err := s.withIndex(ctx, func(idx projectIndex, found bool) (bool, error) {
		return !found, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("File store ready", "data_dir", dataDir)
	return s, nil
}

// withIndex runs fn against the current index while holding the index lock.
// If fn reports changed, the index is written back before the lock is released.
func (s *FileStore) withIndex(ctx context.Context, fn func(idx projectIndex, found bool) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(ctx, s.indexLock)
	if err != nil {
		return err
	}
	defer unlock()

	idx := projectIndex{}
	found, err := readJSON(s.indexPath, &idx)
	if err != nil {
		return err
	}
	if idx == nil {
		idx = projectIndex{}
	}

	changed, err := fn(idx, found)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return writeJSONAtomic(s.indexPath, idx)
}

func (s *FileStore) CreateProject(ctx context.Context, name string, format json.RawMessage) (*models.Project, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	var created models.Project
	err = s.withIndex(ctx, func(idx projectIndex, _ bool) (bool, error) {
		id := uuid.New().String()
		for idx[id] != nil {
			id = uuid.New().String()
		}

		project := &models.Project{
			ID:        id,
			Name:      name,
			APIKey:    generateAPIKey(),
			Format:    normalizeFormat(format),
			CreatedAt: s.now(),
		}
		idx[id] = project
		created = *project
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.log.Info("Created project", "name", created.Name, "project_id", created.ID)
	return &created, nil
}

func (s *FileStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	projects := []models.Project{}
	err := s.withIndex(ctx, func(idx projectIndex, _ bool) (bool, error) {
		for _, p := range idx {
			if p != nil {
				projects = append(projects, *p)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	sort.Slice(projects, func(i, j int) bool {
		if projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].ID < projects[j].ID
		}
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *FileStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var project *models.Project
	err := s.withIndex(ctx, func(idx projectIndex, _ bool) (bool, error) {
		if p := idx[id]; p != nil {
			cp := *p
			project = &cp
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if project == nil {
		return nil, ErrNotFound
	}
	return project, nil
}

func (s *FileStore) UpdateFormat(ctx context.Context, id string, format json.RawMessage) error {
	if len(format) == 0 {
		format = json.RawMessage("null")
	}
	err := s.withIndex(ctx, func(idx projectIndex, _ bool) (bool, error) {
		p := idx[id]
		if p == nil {
			return false, ErrNotFound
		}
		p.Format = format
		return true, nil
	})
	if err != nil {
		return err
	}

	s.log.Debug("Updated project format", "project_id", id)
	return nil
}

// DeleteProject removes the record only. Uploaded files and the event log
// stay on disk.
func (s *FileStore) DeleteProject(ctx context.Context, id string) error {
	deleted := false
	err := s.withIndex(ctx, func(idx projectIndex, _ bool) (bool, error) {
		if idx[id] == nil {
			return false, nil
		}
		delete(idx, id)
		deleted = true
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	if deleted {
		s.log.Info("Deleted project", "project_id", id)
	}
	return nil
}

func (s *FileStore) IncrementStat(ctx context.Context, id string, field models.StatField, delta int64) error {
	if !field.Valid() {
		return fmt.Errorf("%w: unknown stat %q", ErrValidation, field)
	}
	return s.withIndex(ctx, func(idx projectIndex, _ bool) (bool, error) {
		p := idx[id]
		if p == nil {
			return false, ErrNotFound
		}
		switch field {
		case models.StatUploads:
			p.Stats.Uploads = clampStat(p.Stats.Uploads, delta)
		case models.StatErrors:
			p.Stats.Errors = clampStat(p.Stats.Errors, delta)
		}
		return true, nil
	})
}

// Close releases the index lock file handle.
func (s *FileStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.indexLock.Close()
	s.log.Info("File store closed")
}
