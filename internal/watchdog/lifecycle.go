package watchdog

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"fleetctl/internal/events"
	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// liveEventWindow is the window within which at least one stigmergy
// event from a daemon counts as its event-based alive signal.
const liveEventWindow = 10 * time.Minute

// DaemonSpec is one entry of the lifecycle supervisor's declarative
// fleet layout: name, script path, arguments, port, and whether it
// requires a local model server.
type DaemonSpec struct {
	Name                string
	Script              string
	Args                []string
	Port                string
	RequiresModelServer bool
}

// ModelServerProbe reports whether the local model server prerequisite
// is satisfied. Tests and callers without a model server wire a stub
// that always returns true.
type ModelServerProbe func() bool

// DaemonStatus is one fleet member's outcome from a single Check pass.
type DaemonStatus struct {
	Name         string `json:"name"`
	Alive        bool   `json:"alive"`
	AliveByPID   bool   `json:"alive_by_pid"`
	AliveByEvent bool   `json:"alive_by_event"`
	Restarted    bool   `json:"restarted"`
	Reason       string `json:"reason,omitempty"`
}

// LifecycleReport is the summary a single Check pass produces and
// writes as one watchdog event.
type LifecycleReport struct {
	CheckedCount   int            `json:"checked_count"`
	AliveCount     int            `json:"alive_count"`
	RestartedCount int            `json:"restarted_count"`
	Statuses       []DaemonStatus `json:"statuses"`
}

// LifecycleSupervisor is the restart-capable half of C8. It is the only
// component permitted to spawn or restart a daemon process; that
// separation from the defense supervisor is load-bearing.
type LifecycleSupervisor struct {
	store     *store.Store
	writer    *events.Writer
	registry  *events.ModelRegistry
	ns, gen   string
	statePath string
	fleet     []DaemonSpec
	probe     ModelServerProbe

	mu sync.Mutex
}

// NewLifecycleSupervisor builds a supervisor over fleet, persisting state
// at statePath. probe may be nil, meaning every prerequisite is always
// satisfied.
func NewLifecycleSupervisor(st *store.Store, w *events.Writer, registry *events.ModelRegistry, ns, gen, statePath string, fleet []DaemonSpec, probe ModelServerProbe) *LifecycleSupervisor {
	if probe == nil {
		probe = func() bool { return true }
	}
	return &LifecycleSupervisor{
		store: st, writer: w, registry: registry,
		ns: ns, gen: gen, statePath: statePath,
		fleet: fleet, probe: probe,
	}
}

// StatePath returns the fleet-state file this supervisor owns, so other
// components (the defense supervisor, the scheduler) can read it without
// duplicating the path.
func (l *LifecycleSupervisor) StatePath() string {
	return l.statePath
}

// Check runs one pass of the lifecycle algorithm over every daemon in
// the fleet spec, restarting any that are neither PID-alive nor
// recently-event-alive, and emits one summary watchdog event.
func (l *LifecycleSupervisor) Check() (LifecycleReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := loadFleetState(l.statePath)

	var recentEvents []store.EventRow
	if l.store != nil {
		rows, err := l.store.EventsInWindow(time.Now().Add(-liveEventWindow), "")
		if err != nil {
			logging.WatchdogWarn("lifecycle check: read recent events: %v", err)
		} else {
			recentEvents = rows
		}
	}

	report := LifecycleReport{CheckedCount: len(l.fleet)}
	for _, spec := range l.fleet {
		status := l.checkOne(state, spec, recentEvents)
		if status.Alive {
			report.AliveCount++
		}
		if status.Restarted {
			report.RestartedCount++
		}
		report.Statuses = append(report.Statuses, status)
	}

	state.LastUpdate = time.Now().UTC().Format(time.RFC3339Nano)
	saveFleetState(l.statePath, state)

	if err := l.emitReport(report); err != nil {
		logging.WatchdogError("lifecycle check: emit report: %v", err)
	}
	logging.Watchdog("lifecycle check: checked=%d alive=%d restarted=%d", report.CheckedCount, report.AliveCount, report.RestartedCount)
	return report, nil
}

func (l *LifecycleSupervisor) checkOne(state *FleetState, spec DaemonSpec, recentEvents []store.EventRow) DaemonStatus {
	existing, known := state.Daemons[spec.Name]

	aliveByPID := known && pidAlive(existing.PID)
	aliveByEvent := hasRecentEventFrom(recentEvents, spec)
	alive := aliveByPID || aliveByEvent

	status := DaemonStatus{Name: spec.Name, Alive: alive, AliveByPID: aliveByPID, AliveByEvent: aliveByEvent}
	if alive {
		return status
	}

	if spec.RequiresModelServer && !l.probe() {
		status.Reason = "model_server_unavailable"
		return status
	}

	pid, err := l.restart(spec)
	if err != nil {
		status.Reason = fmt.Sprintf("restart_failed: %v", err)
		logging.WatchdogError("restart %s failed: %v", spec.Name, err)
		return status
	}

	state.Daemons[spec.Name] = DaemonState{
		PID:          pid,
		Script:       spec.Script,
		Port:         spec.Port,
		Started:      time.Now().UTC().Format(time.RFC3339Nano),
		StartedBy:    "lifecycle_supervisor",
		RestartCount: existing.RestartCount + 1,
	}
	status.Restarted = true
	status.Reason = "restarted"
	return status
}

func (l *LifecycleSupervisor) restart(spec DaemonSpec) (int, error) {
	cmd := exec.Command(spec.Script, spec.Args...)
	setupProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", spec.Script, err)
	}
	go cmd.Wait() // release resources without blocking the supervisor
	return cmd.Process.Pid, nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return alive
}

// hasRecentEventFrom checks whether any event's source tag
// ("port/daemon_name", per events.deriveSource) matches spec.
func hasRecentEventFrom(rows []store.EventRow, spec DaemonSpec) bool {
	suffix := "/" + spec.Name
	for _, r := range rows {
		if r.Source == spec.Name || strings.HasSuffix(r.Source, suffix) {
			return true
		}
	}
	return false
}

func (l *LifecycleSupervisor) emitReport(report LifecycleReport) error {
	sig := l.registry.BuildSignalMetadata("P7", "watchdog", "lifecycle_supervisor", events.Observations{})
	data := map[string]interface{}{
		"checked_count":   report.CheckedCount,
		"alive_count":     report.AliveCount,
		"restarted_count": report.RestartedCount,
		"statuses":        report.Statuses,
	}
	eventType := fmt.Sprintf("%s.gen%s.watchdog.lifecycle", l.ns, l.gen)
	_, err := l.writer.WriteEvent(eventType, "lifecycle_supervisor", data, &sig)
	return err
}
