package store

import (
	"database/sql"
	"fmt"
	"time"

	"fleetctl/internal/logging"
)

// EventRow is the raw persisted shape of stigmergy_events. Higher
// layers (internal/events) build and parse the envelope; the store only
// persists bytes and enforces uniqueness.
type EventRow struct {
	ID          int64
	EventType   string
	Timestamp   string
	Subject     string
	Source      string
	DataJSON    string
	ContentHash string
}

// InsertEvent performs the one and only write path into stigmergy_events:
// INSERT OR IGNORE keyed on content_hash. Returns the new row id, or 0
// when the insert was ignored because content_hash already exists.
func (s *Store) InsertEvent(row EventRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO stigmergy_events (event_type, timestamp, subject, source, data_json, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.EventType, row.Timestamp, row.Subject, row.Source, row.DataJSON, row.ContentHash,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert event rows affected: %w", err)
	}
	if n == 0 {
		logging.EventsDebug("event dedup hit: type=%s hash=%s", row.EventType, row.ContentHash)
		return 0, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert event last id: %w", err)
	}
	return id, nil
}

// EventsSince returns events with id > afterID, ordered by id, for the
// coordinator/audit read paths.
func (s *Store) EventsSince(afterID int64, limit int) ([]EventRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.Query(
		`SELECT id, event_type, timestamp, subject, source, data_json, content_hash
		 FROM stigmergy_events WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("events since %d: %w", afterID, err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// EventsInWindow returns events with timestamp >= since (UTC ISO-8601),
// optionally filtered by an event_type LIKE prefix. Used by the
// coordinator's sliding window read and the coverage auditor.
func (s *Store) EventsInWindow(since time.Time, typePrefix string) ([]EventRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, event_type, timestamp, subject, source, data_json, content_hash
	      FROM stigmergy_events WHERE timestamp >= ?`
	args := []interface{}{since.UTC().Format(time.RFC3339Nano)}
	if typePrefix != "" {
		q += ` AND event_type LIKE ?`
		args = append(args, typePrefix+"%")
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("events in window: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// EventsByTypePrefix returns every event whose type starts with prefix,
// most recent first, capped at limit.
func (s *Store) EventsByTypePrefix(prefix string, limit int) ([]EventRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(
		`SELECT id, event_type, timestamp, subject, source, data_json, content_hash
		 FROM stigmergy_events WHERE event_type LIKE ? ORDER BY id DESC LIMIT ?`,
		prefix+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("events by type prefix %s: %w", prefix, err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// EventCount returns the total row count, used by stigmergy_freshness
// and the defense supervisor's D4 ratio.
func (s *Store) EventCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM stigmergy_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// LatestEventTime returns the timestamp of the most recent event, or the
// zero time if the table is empty.
func (s *Store) LatestEventTime() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ts sql.NullString
	err := s.db.QueryRow(`SELECT timestamp FROM stigmergy_events ORDER BY id DESC LIMIT 1`).Scan(&ts)
	if err == sql.ErrNoRows || !ts.Valid {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest event time: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, ts.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse latest event time: %w", err)
	}
	return t, nil
}

func scanEventRows(rows *sql.Rows) ([]EventRow, error) {
	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.EventType, &r.Timestamp, &r.Subject, &r.Source, &r.DataJSON, &r.ContentHash); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
