package database

import (
	"fmt"
	"strings"
	"time"

	"stash/models"
)

const (
	columnID        = "id"
	columnProjectID = "project_id"
	columnType      = "type"
	columnData      = "data"
	columnTimestamp = "timestamp"
	columnSeq       = "seq"
)

// QueryBuilder helps build WHERE clauses safely
type QueryBuilder struct {
	conditions []string
	args       []interface{}
	argCount   int
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		conditions: []string{},
		args:       []interface{}{},
		argCount:   1,
	}
}

func (qb *QueryBuilder) AddCondition(column string, value interface{}) {
	qb.conditions = append(qb.conditions, fmt.Sprintf("%s = $%d", column, qb.argCount))
	qb.args = append(qb.args, value)
	qb.argCount++
}

func (qb *QueryBuilder) AddTimeRange(column string, start, end *time.Time) {
	if start != nil {
		qb.conditions = append(qb.conditions, fmt.Sprintf("%s >= $%d", column, qb.argCount))
		qb.args = append(qb.args, *start)
		qb.argCount++
	}

	if end != nil {
		qb.conditions = append(qb.conditions, fmt.Sprintf("%s <= $%d", column, qb.argCount))
		qb.args = append(qb.args, *end)
		qb.argCount++
	}
}

func (qb *QueryBuilder) WhereClause() string {
	if len(qb.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(qb.conditions, " AND ")
}

func (qb *QueryBuilder) Args() []interface{} {
	return qb.args
}

func (qb *QueryBuilder) NextArgNum() int {
	return qb.argCount
}

// eventFilter is a validated EventQuery shared by both backends.
type eventFilter struct {
	eventType string
	since     *time.Time
	until     *time.Time
	limit     int
	offset    int
}

func newEventFilter(q models.EventQuery) (eventFilter, error) {
	f := eventFilter{
		eventType: q.Type,
		limit:     validateLimit(q.Limit, defaultLimit, maxLimit),
		offset:    validateOffset(q.Offset),
	}

	if q.Since != "" {
		since, err := parseRFC3339(q.Since)
		if err != nil {
			return eventFilter{}, fmt.Errorf("%w: invalid since: %v", ErrValidation, err)
		}
		f.since = &since
	}

	if q.Until != "" {
		until, err := parseRFC3339(q.Until)
		if err != nil {
			return eventFilter{}, fmt.Errorf("%w: invalid until: %v", ErrValidation, err)
		}
		f.until = &until
	}

	return f, nil
}

func (f eventFilter) match(e models.EventRecord) bool {
	if f.eventType != "" && e.Type != f.eventType {
		return false
	}
	if f.since != nil && e.Timestamp.Before(*f.since) {
		return false
	}
	if f.until != nil && e.Timestamp.After(*f.until) {
		return false
	}
	return true
}

// Helper functions

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func validateLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func validateOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
