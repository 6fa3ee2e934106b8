package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RouteRow is the raw persisted shape of compute_route.
type RouteRow struct {
	Port       string
	DaemonName string
	TaskType   string
	ModelID    string
	Provider   string
	Priority   int
	UpdatedAt  string
	UpdatedBy  string
	Reason     string
}

// UpsertRoute writes or replaces a (port, daemon_name, task_type) route,
// backing C4's set_route.
func (s *Store) UpsertRoute(r RouteRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.UpdatedAt == "" {
		r.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(
		`INSERT INTO compute_route (port, daemon_name, task_type, model_id, provider, priority, updated_at, updated_by, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(port, daemon_name, task_type) DO UPDATE SET
		   model_id = excluded.model_id,
		   provider = excluded.provider,
		   priority = excluded.priority,
		   updated_at = excluded.updated_at,
		   updated_by = excluded.updated_by,
		   reason = excluded.reason`,
		r.Port, r.DaemonName, r.TaskType, r.ModelID, r.Provider, r.Priority, r.UpdatedAt, r.UpdatedBy, r.Reason,
	)
	if err != nil {
		return fmt.Errorf("upsert route: %w", err)
	}
	return nil
}

// GetRouteExact looks up the (port, daemon_name, task_type) triple with
// no fallback. Returns (nil, nil) if absent — the default-task fallback
// lives in internal/routes, not here.
func (s *Store) GetRouteExact(port, daemon, taskType string) (*RouteRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		`SELECT port, daemon_name, task_type, model_id, provider, priority, updated_at, updated_by, reason
		 FROM compute_route WHERE port = ? AND daemon_name = ? AND task_type = ?`,
		port, daemon, taskType,
	)
	var r RouteRow
	if err := row.Scan(&r.Port, &r.DaemonName, &r.TaskType, &r.ModelID, &r.Provider, &r.Priority, &r.UpdatedAt, &r.UpdatedBy, &r.Reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get route exact: %w", err)
	}
	return &r, nil
}

// AllRoutes returns every route row, used by watchdog/audit to report
// current routing state.
func (s *Store) AllRoutes() ([]RouteRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT port, daemon_name, task_type, model_id, provider, priority, updated_at, updated_by, reason FROM compute_route`,
	)
	if err != nil {
		return nil, fmt.Errorf("all routes: %w", err)
	}
	defer rows.Close()
	var out []RouteRow
	for rows.Next() {
		var r RouteRow
		if err := rows.Scan(&r.Port, &r.DaemonName, &r.TaskType, &r.ModelID, &r.Provider, &r.Priority, &r.UpdatedAt, &r.UpdatedBy, &r.Reason); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
