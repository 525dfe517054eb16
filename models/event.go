package models

import (
	"encoding/json"
	"time"
)

// EventRecord is one immutable entry in a project's event log.
// Type is a caller-chosen tag such as "profile", "comment" or "like".
type EventRecord struct {
	ID        string          `json:"id" db:"id"`
	Type      string          `json:"type" db:"type"`
	Data      json.RawMessage `json:"data" db:"data"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

type AppendEventRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type AppendEventResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

type EventsResponse struct {
	Events []EventRecord `json:"events"`
	Total  int           `json:"total"`
}

// EventQuery narrows a read of the event log.
// Since/Until are RFC3339 and inclusive. Results stay in append order.
type EventQuery struct {
	Type   string `form:"type"`
	Since  string `form:"since"`
	Until  string `form:"until"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}
