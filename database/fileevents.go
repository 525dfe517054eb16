package database

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"stash/models"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

func (s *FileStore) eventLogPath(projectID string) string {
	return filepath.Join(s.dataDir, projectID+"_data.json")
}

// withEventLog serializes access to one project's log, in-process through
// logLocks and across processes through an flock beside the log file.
func (s *FileStore) withEventLog(ctx context.Context, projectID string, fn func(path string) error) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}

	release := s.logLocks.Lock(projectID)
	defer release()

	path := s.eventLogPath(projectID)
	fl := flock.New(path + ".lock")
	defer fl.Close()

	unlock, err := lockFile(ctx, fl)
	if err != nil {
		return err
	}
	defer unlock()

	return fn(path)
}

// AppendEvent adds one record to the end of the project's log. The project
// itself is not looked up, so logs can exist for unknown or deleted IDs.
func (s *FileStore) AppendEvent(ctx context.Context, projectID, eventType string, data json.RawMessage) (*models.EventRecord, error) {
	entry := models.EventRecord{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data:      normalizeData(data),
		Timestamp: s.now(),
	}

	err := s.withEventLog(ctx, projectID, func(path string) error {
		events := []models.EventRecord{}
		if _, err := readJSON(path, &events); err != nil {
			return err
		}
		events = append(events, entry)
		return writeJSONAtomic(path, events)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	s.log.Debug("Appended event", "project_id", projectID, "type", eventType, "event_id", entry.ID)
	return &entry, nil
}

func (s *FileStore) ListEvents(ctx context.Context, projectID string) ([]models.EventRecord, error) {
	events := []models.EventRecord{}
	err := s.withEventLog(ctx, projectID, func(path string) error {
		_, err := readJSON(path, &events)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if events == nil {
		events = []models.EventRecord{}
	}
	return events, nil
}

// QueryEvents filters the log in memory; total counts every match before
// pagination.
func (s *FileStore) QueryEvents(ctx context.Context, projectID string, q models.EventQuery) ([]models.EventRecord, int64, error) {
	filter, err := newEventFilter(q)
	if err != nil {
		return nil, 0, err
	}

	all, err := s.ListEvents(ctx, projectID)
	if err != nil {
		return nil, 0, err
	}

	matched := []models.EventRecord{}
	for _, e := range all {
		if filter.match(e) {
			matched = append(matched, e)
		}
	}

	total := int64(len(matched))
	if filter.offset >= len(matched) {
		return []models.EventRecord{}, total, nil
	}
	end := filter.offset + filter.limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.offset:end], total, nil
}
