package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stash/models"

	"github.com/google/uuid"
)

// AppendEvent inserts one record. There is no foreign key to projects, so
// logs for unknown or deleted projects are accepted.
func (db *DB) AppendEvent(ctx context.Context, projectID, eventType string, data json.RawMessage) (*models.EventRecord, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}

	entry := &models.EventRecord{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data:      normalizeData(data),
		Timestamp: time.Now().UTC(),
	}

	query := fmt.Sprintf(`
		INSERT INTO events (%s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5)
	`, columnID, columnProjectID, columnType, columnData, columnTimestamp)

	_, err := db.Pool.Exec(ctx, query, entry.ID, projectID, entry.Type, string(entry.Data), entry.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	db.log.Debug("Appended event", "project_id", projectID, "type", eventType, "event_id", entry.ID)
	return entry, nil
}

// ListEvents returns the whole log in append order.
func (db *DB) ListEvents(ctx context.Context, projectID string) ([]models.EventRecord, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s::text, %s, %s, %s
		FROM events
		WHERE %s = $1
		ORDER BY %s
	`, columnID, columnType, columnData, columnTimestamp, columnProjectID, columnSeq)

	rows, err := db.Pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []models.EventRecord{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// QueryEvents filters by type and time range and paginates in append order.
// Uses COUNT(*) OVER() to get the total in the same round-trip.
func (db *DB) QueryEvents(ctx context.Context, projectID string, q models.EventQuery) ([]models.EventRecord, int64, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, 0, err
	}
	filter, err := newEventFilter(q)
	if err != nil {
		return nil, 0, err
	}

	qb := NewQueryBuilder()
	qb.AddCondition(columnProjectID, projectID)
	if filter.eventType != "" {
		qb.AddCondition(columnType, filter.eventType)
	}
	qb.AddTimeRange(columnTimestamp, filter.since, filter.until)

	// SAFETY: All user input is parameterized via $N placeholders.
	query := fmt.Sprintf(`
		SELECT
			%s::text, %s, %s, %s,
			COUNT(*) OVER() as total_count
		FROM events
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, columnID, columnType, columnData, columnTimestamp,
		qb.WhereClause(), columnSeq, qb.NextArgNum(), qb.NextArgNum()+1)

	args := append(qb.Args(), filter.limit, filter.offset)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.EventRecord{}
	var total int64
	for rows.Next() {
		var e models.EventRecord
		var data []byte
		if err := rows.Scan(&e.ID, &e.Type, &data, &e.Timestamp, &total); err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Data = json.RawMessage(data)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating events: %w", err)
	}

	return events, total, nil
}

func scanEvent(row rowScanner) (*models.EventRecord, error) {
	var e models.EventRecord
	var data []byte
	if err := row.Scan(&e.ID, &e.Type, &data, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Data = json.RawMessage(data)
	return &e, nil
}
