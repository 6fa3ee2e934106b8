package watchdog

import (
	"fmt"
	"strings"
	"time"

	"fleetctl/internal/coordinator"
	"fleetctl/internal/events"
	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// Anomaly is one D1-D7 finding from a single defense pass.
type Anomaly struct {
	Code      string `json:"code"`
	Signal    string `json:"signal"`
	Count     int    `json:"count"`
	Severity  string `json:"severity"` // INFO | WARN | CRITICAL
	Deduction int    `json:"deduction"`
}

// DefenseReport is one defense pass's full result.
type DefenseReport struct {
	Score         int       `json:"score"`
	Grade         string    `json:"grade"`
	Trend         string    `json:"trend"`
	Anomalies     []Anomaly `json:"anomalies"`
	EventsChecked int       `json:"events_checked"`
	LastEventID   int64     `json:"last_event_id"`
}

// DefenseSupervisor is the observe-only half of C8: it never restarts a
// daemon, only scores and reports. That separation from the lifecycle
// supervisor is load-bearing.
type DefenseSupervisor struct {
	store     *store.Store
	writer    *events.Writer
	registry  *events.ModelRegistry
	ns, gen   string
	statePath string
}

// NewDefenseSupervisor builds a defense pass over st, persisting its
// watermark and score history at statePath.
func NewDefenseSupervisor(st *store.Store, w *events.Writer, registry *events.ModelRegistry, ns, gen, statePath string) *DefenseSupervisor {
	return &DefenseSupervisor{store: st, writer: w, registry: registry, ns: ns, gen: gen, statePath: statePath}
}

// Run reads every event since the persisted watermark, computes the
// seven anomaly classes, scores, writes a summary event plus one event
// per non-INFO anomaly, and persists the updated watermark/history.
func (d *DefenseSupervisor) Run(fleetStatePath string) (DefenseReport, error) {
	state := loadDefenseState(d.statePath)

	rows, err := d.store.EventsSince(state.LastEventID, 0)
	if err != nil {
		return DefenseReport{}, fmt.Errorf("defense run: read events since %d: %w", state.LastEventID, err)
	}

	fleet := loadFleetState(fleetStatePath)

	anomalies := []Anomaly{
		classifyD1(rows),
		classifyD2(rows),
		classifyD3(rows),
		classifyD4(rows),
		classifyD5(fleet),
		classifyD6(rows),
		classifyD7(fleet, rows),
	}

	deduction := 0
	for _, a := range anomalies {
		deduction += a.Deduction
	}
	score := 100 - deduction
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	state.pushScore(score)
	trend := scoreTrend(state.ScoreHistory)

	if len(rows) > 0 {
		state.LastEventID = rows[len(rows)-1].ID
	}
	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	saveDefenseState(d.statePath, state)

	report := DefenseReport{
		Score:         score,
		Grade:         defenseGrade(score),
		Trend:         trend,
		Anomalies:     anomalies,
		EventsChecked: len(rows),
		LastEventID:   state.LastEventID,
	}

	if err := d.emitSummary(report); err != nil {
		logging.WatchdogError("defense run: emit summary: %v", err)
	}
	for _, a := range anomalies {
		if a.Severity == "INFO" {
			continue
		}
		if err := d.emitAnomaly(a); err != nil {
			logging.WatchdogError("defense run: emit anomaly %s: %v", a.Code, err)
		}
	}

	logging.Watchdog("defense run: score=%d grade=%s trend=%s checked=%d", score, report.Grade, trend, len(rows))
	return report, nil
}

func defenseGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// scoreTrend compares the last three scores: all-increasing →
// "improving", all-decreasing → "degrading", else "stable".
func scoreTrend(history []int) string {
	if len(history) < 3 {
		return "stable"
	}
	last3 := history[len(history)-3:]
	increasing := last3[0] < last3[1] && last3[1] < last3[2]
	decreasing := last3[0] > last3[1] && last3[1] > last3[2]
	switch {
	case increasing:
		return "improving"
	case decreasing:
		return "degrading"
	default:
		return "stable"
	}
}

func severityFor(count, warnAt, critAt int) string {
	switch {
	case count > critAt:
		return "CRITICAL"
	case count > warnAt:
		return "WARN"
	default:
		return "INFO"
	}
}

func deductionFor(severity string, amount int) int {
	if severity == "INFO" {
		return 0
	}
	return amount
}

// classifyD1 counts gate_block events (>10 WARN, >20 CRIT, deduction 15).
func classifyD1(rows []store.EventRow) Anomaly {
	n := countEventTypeContains(rows, "gate_block")
	sev := severityFor(n, 10, 20)
	return Anomaly{Code: "D1", Signal: "gate_block_events", Count: n, Severity: sev, Deduction: deductionFor(sev, 15)}
}

// classifyD2 counts tamper_alert events (D2: >3 WARN, >6 CRIT, deduction 20).
func classifyD2(rows []store.EventRow) Anomaly {
	n := countEventTypeContains(rows, "tamper_alert")
	sev := severityFor(n, 3, 6)
	return Anomaly{Code: "D2", Signal: "tamper_alert_events", Count: n, Severity: sev, Deduction: deductionFor(sev, 20)}
}

// classifyD3 counts perceive/hunt events minus yield/emit events — PREY8
// and HIVE8 sessions that opened but never closed (D3: >5 WARN, >10 CRIT,
// deduction 10).
func classifyD3(rows []store.EventRow) Anomaly {
	opens := countEventTypeSuffix(rows, ".perceive") + countEventTypeSuffix(rows, ".hunt")
	closes := countEventTypeSuffix(rows, ".yield") + countEventTypeSuffix(rows, ".emit")
	orphans := opens - closes
	if orphans < 0 {
		orphans = 0
	}
	sev := severityFor(orphans, 5, 10)
	return Anomaly{Code: "D3", Signal: "session_orphans", Count: orphans, Severity: sev, Deduction: deductionFor(sev, 10)}
}

// classifyD4 is the signal-carrying fraction of total volume (D4: <1%
// WARN, <0.5% CRIT when total>50, deduction 15). Below the 50-event
// floor there isn't enough volume to judge, so it reports INFO.
func classifyD4(rows []store.EventRow) Anomaly {
	total := len(rows)
	if total <= 50 {
		return Anomaly{Code: "D4", Signal: "signal_event_ratio", Count: 0, Severity: "INFO", Deduction: 0}
	}
	signal := 0
	for _, r := range rows {
		if coordinator.HasSignal(r.DataJSON) {
			signal++
		}
	}
	pct := float64(signal) / float64(total) * 100
	sev := "INFO"
	switch {
	case pct < 0.5:
		sev = "CRITICAL"
	case pct < 1:
		sev = "WARN"
	}
	return Anomaly{Code: "D4", Signal: "signal_event_ratio", Count: signal, Severity: sev, Deduction: deductionFor(sev, 15)}
}

// classifyD5 counts daemons with >=5 restarts recorded in fleet state
// (D5: >=1 WARN, >=3 CRIT, deduction 15).
func classifyD5(fleet *FleetState) Anomaly {
	n := 0
	for _, d := range fleet.Daemons {
		if d.RestartCount >= 5 {
			n++
		}
	}
	sev := "INFO"
	switch {
	case n >= 3:
		sev = "CRITICAL"
	case n >= 1:
		sev = "WARN"
	}
	return Anomaly{Code: "D5", Signal: "high_restart_daemons", Count: n, Severity: sev, Deduction: deductionFor(sev, 15)}
}

// classifyD6 counts events missing signal_metadata or carrying an empty
// data_json (D6: >10 WARN, >30 CRIT, deduction 10).
func classifyD6(rows []store.EventRow) Anomaly {
	n := 0
	for _, r := range rows {
		if strings.TrimSpace(r.DataJSON) == "" || !hasSignalMetadata(r.DataJSON) {
			n++
		}
	}
	sev := severityFor(n, 10, 30)
	return Anomaly{Code: "D6", Signal: "malformed_events", Count: n, Severity: sev, Deduction: deductionFor(sev, 10)}
}

// classifyD7 counts daemons the fleet state considers alive (a recorded
// PID) but with no event at all in the last 30 minutes (D7: >=2 WARN,
// >=4 CRIT, deduction 15).
func classifyD7(fleet *FleetState, rows []store.EventRow) Anomaly {
	cutoff := time.Now().Add(-30 * time.Minute)
	recentByDaemon := make(map[string]bool)
	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		name := r.Source
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		recentByDaemon[name] = true
	}

	n := 0
	for name, d := range fleet.Daemons {
		if pidAlive(d.PID) && !recentByDaemon[name] {
			n++
		}
	}
	sev := "INFO"
	switch {
	case n >= 4:
		sev = "CRITICAL"
	case n >= 2:
		sev = "WARN"
	}
	return Anomaly{Code: "D7", Signal: "silent_alive_daemons", Count: n, Severity: sev, Deduction: deductionFor(sev, 15)}
}

func countEventTypeContains(rows []store.EventRow, needle string) int {
	n := 0
	for _, r := range rows {
		if strings.Contains(r.EventType, needle) {
			n++
		}
	}
	return n
}

func countEventTypeSuffix(rows []store.EventRow, suffix string) int {
	n := 0
	for _, r := range rows {
		if strings.HasSuffix(r.EventType, suffix) {
			n++
		}
	}
	return n
}

func hasSignalMetadata(dataJSON string) bool {
	return strings.Contains(dataJSON, `"signal_metadata"`)
}

func (d *DefenseSupervisor) emitSummary(report DefenseReport) error {
	sig := d.registry.BuildSignalMetadata("P5", "watchdog", "defense_supervisor", events.Observations{})
	data := map[string]interface{}{
		"score":          report.Score,
		"grade":          report.Grade,
		"trend":          report.Trend,
		"anomalies":      report.Anomalies,
		"events_checked": report.EventsChecked,
	}
	eventType := fmt.Sprintf("%s.gen%s.watchdog.defense", d.ns, d.gen)
	_, err := d.writer.WriteEvent(eventType, "defense_supervisor", data, &sig)
	return err
}

func (d *DefenseSupervisor) emitAnomaly(a Anomaly) error {
	sig := d.registry.BuildSignalMetadata("P5", "watchdog", "defense_supervisor", events.Observations{})
	data := map[string]interface{}{
		"code":      a.Code,
		"signal":    a.Signal,
		"count":     a.Count,
		"severity":  a.Severity,
		"deduction": a.Deduction,
	}
	eventType := fmt.Sprintf("%s.gen%s.watchdog.anomaly", d.ns, d.gen)
	_, err := d.writer.WriteEvent(eventType, a.Code, data, &sig)
	return err
}
