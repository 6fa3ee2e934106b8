// Package routes implements C4: the compute-route table. A daemon that
// does not know its model cannot start — get_route either returns a
// record, falls back to the "default" task, or raises a typed
// NoRouteError. It never silently fabricates a default.
package routes

import (
	"errors"
	"fmt"

	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// DefaultTaskType is the fallback task_type get_route retries before
// failing.
const DefaultTaskType = "default"

// ErrNoRoute is the sentinel NoRouteError wraps.
var ErrNoRoute = errors.New("no route")

// NoRouteError names the (port, daemon, task_type) triple that produced
// no route, including the default-task fallback.
type NoRouteError struct {
	Port, Daemon, TaskType string
}

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route for port=%s daemon=%s task_type=%s (default fallback also absent)", e.Port, e.Daemon, e.TaskType)
}

func (e *NoRouteError) Is(target error) bool { return target == ErrNoRoute }

// Route is the resolved (model_id, provider) plus provenance a daemon
// needs to start.
type Route struct {
	ModelID   string
	Provider  string
	Priority  int
	UpdatedBy string
	Reason    string
	TaskType  string // the task_type the route actually matched
}

// Table is C4, bound to the shared store.
type Table struct {
	store *store.Store
}

// New builds a route Table over st.
func New(st *store.Store) *Table {
	return &Table{store: st}
}

// GetRoute resolves (port, daemon, task_type): exact match first; if
// absent and task_type != "default", retries with "default"; otherwise
// raises NoRouteError.
func (t *Table) GetRoute(port, daemon, taskType string) (*Route, error) {
	if taskType == "" {
		taskType = DefaultTaskType
	}

	row, err := t.store.GetRouteExact(port, daemon, taskType)
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	if row != nil {
		return routeFromRow(row), nil
	}

	if taskType != DefaultTaskType {
		row, err = t.store.GetRouteExact(port, daemon, DefaultTaskType)
		if err != nil {
			return nil, fmt.Errorf("get route default fallback: %w", err)
		}
		if row != nil {
			logging.RoutesDebug("route fallback to default task for port=%s daemon=%s (task_type=%s had none)", port, daemon, taskType)
			return routeFromRow(row), nil
		}
	}

	logging.RoutesWarn("no route for port=%s daemon=%s task_type=%s", port, daemon, taskType)
	return nil, &NoRouteError{Port: port, Daemon: daemon, TaskType: taskType}
}

// SetRoute writes or replaces a route (set_route).
func (t *Table) SetRoute(port, daemon, modelID, provider, taskType, updatedBy, reason string, priority int) error {
	if taskType == "" {
		taskType = DefaultTaskType
	}
	if err := t.store.UpsertRoute(store.RouteRow{
		Port: port, DaemonName: daemon, TaskType: taskType,
		ModelID: modelID, Provider: provider, Priority: priority,
		UpdatedBy: updatedBy, Reason: reason,
	}); err != nil {
		return fmt.Errorf("set route: %w", err)
	}
	logging.Routes("route set: port=%s daemon=%s task_type=%s model=%s provider=%s", port, daemon, taskType, modelID, provider)
	return nil
}

// SeedBaseline installs one "default" route per port for a daemon, used
// at migration/bootstrap time so a freshly provisioned fleet never hits
// NoRouteError on first boot.
func (t *Table) SeedBaseline(port, daemon, modelID, provider string) error {
	return t.SetRoute(port, daemon, modelID, provider, DefaultTaskType, "bootstrap", "baseline seed", 0)
}

func routeFromRow(r *store.RouteRow) *Route {
	return &Route{
		ModelID:   r.ModelID,
		Provider:  r.Provider,
		Priority:  r.Priority,
		UpdatedBy: r.UpdatedBy,
		Reason:    r.Reason,
		TaskType:  r.TaskType,
	}
}
