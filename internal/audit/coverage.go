// Package audit implements C9's three read-only spell families: the
// coverage auditor (TREMORSENSE), the invariant verifier (WISH), and the
// foresight mapper. All three only read the store and emit one summary
// event per invocation.
package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fleetctl/internal/events"
	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// CoverageReport is one TREMORSENSE pass's result.
type CoverageReport struct {
	WindowHours     int            `json:"window_hours"`
	CoveredMinutes  int            `json:"covered_minutes"`
	DeadMinutes     int            `json:"dead_minutes"`
	UptimePct       float64        `json:"uptime_pct"`
	Grade           string         `json:"grade"`
	DeadZoneCount   int            `json:"dead_zone_count"`
	LongestDeadZone int            `json:"longest_dead_zone"`
	Leaderboard     map[string]int `json:"leaderboard"` // source -> minutes covered
	bucketed        map[int]bool   // internal, minute offset -> covered
}

// CoverageAuditor is C9's TREMORSENSE family.
type CoverageAuditor struct {
	store    *store.Store
	writer   *events.Writer
	registry *events.ModelRegistry
	ns, gen  string
}

// NewCoverageAuditor builds an auditor over st.
func NewCoverageAuditor(st *store.Store, w *events.Writer, registry *events.ModelRegistry, ns, gen string) *CoverageAuditor {
	return &CoverageAuditor{store: st, writer: w, registry: registry, ns: ns, gen: gen}
}

// Run buckets events in the last windowHours by UTC minute, computes
// uptime/grade/dead-zones/leaderboard, and emits one summary event.
func (a *CoverageAuditor) Run(windowHours int) (CoverageReport, error) {
	if windowHours <= 0 {
		report := CoverageReport{WindowHours: windowHours, Grade: "F", UptimePct: 0.0}
		if err := a.emit(report); err != nil {
			logging.AuditError("coverage run: emit: %v", err)
		}
		logging.Audit("coverage run: empty window (window_hours=%d), reporting grade=F uptime_pct=0.0", windowHours)
		return report, nil
	}
	now := time.Now().UTC()
	since := now.Add(-time.Duration(windowHours) * time.Hour)

	rows, err := a.store.EventsInWindow(since, "")
	if err != nil {
		return CoverageReport{}, fmt.Errorf("coverage run: read window: %w", err)
	}

	totalMinutes := windowHours * 60
	bucketed := make(map[int]bool)
	leaderboard := make(map[string]int)
	leaderboardBuckets := make(map[string]map[int]bool)

	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil {
			continue
		}
		offset := int(ts.Sub(since).Minutes())
		if offset < 0 || offset >= totalMinutes {
			continue
		}
		bucketed[offset] = true

		source := r.Source
		if leaderboardBuckets[source] == nil {
			leaderboardBuckets[source] = make(map[int]bool)
		}
		leaderboardBuckets[source][offset] = true
	}
	for source, buckets := range leaderboardBuckets {
		leaderboard[source] = len(buckets)
	}

	covered := len(bucketed)
	dead := totalMinutes - covered
	uptimePct := 0.0
	if totalMinutes > 0 {
		uptimePct = float64(covered) / float64(totalMinutes) * 100
	}

	deadZoneCount, longestDeadZone := deadZones(bucketed, totalMinutes)

	report := CoverageReport{
		WindowHours:     windowHours,
		CoveredMinutes:  covered,
		DeadMinutes:     dead,
		UptimePct:       uptimePct,
		Grade:           coverageGrade(uptimePct),
		DeadZoneCount:   deadZoneCount,
		LongestDeadZone: longestDeadZone,
		Leaderboard:     leaderboard,
		bucketed:        bucketed,
	}

	if err := a.emit(report); err != nil {
		logging.AuditError("coverage run: emit: %v", err)
	}
	logging.Audit("coverage run: uptime=%.2f%% grade=%s dead_zones=%d longest=%d", uptimePct, report.Grade, deadZoneCount, longestDeadZone)
	return report, nil
}

// deadZones walks minute buckets in order and counts contiguous
// uncovered-minute runs, returning (count, longest run).
func deadZones(bucketed map[int]bool, totalMinutes int) (int, int) {
	count, longest, current := 0, 0, 0
	inRun := false
	for m := 0; m < totalMinutes; m++ {
		if bucketed[m] {
			if inRun {
				count++
				if current > longest {
					longest = current
				}
			}
			inRun = false
			current = 0
			continue
		}
		inRun = true
		current++
	}
	if inRun {
		count++
		if current > longest {
			longest = current
		}
	}
	return count, longest
}

func coverageGrade(uptimePct float64) string {
	switch {
	case uptimePct >= 99:
		return "A+"
	case uptimePct >= 95:
		return "A"
	case uptimePct >= 90:
		return "B"
	case uptimePct >= 75:
		return "C"
	case uptimePct >= 50:
		return "D"
	default:
		return "F"
	}
}

// Grid renders the per-minute coverage as an ASCII strip for operator
// display. '#' marks a covered minute, '.' a dead one, rows of 60
// minutes.
func (r CoverageReport) Grid() string {
	totalMinutes := r.WindowHours * 60
	var b strings.Builder
	for m := 0; m < totalMinutes; m++ {
		if r.bucketed[m] {
			b.WriteByte('#')
		} else {
			b.WriteByte('.')
		}
		if (m+1)%60 == 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Leaders returns the coverage leaderboard sorted by minutes covered,
// descending.
func (r CoverageReport) Leaders() []LeaderEntry {
	out := make([]LeaderEntry, 0, len(r.Leaderboard))
	for source, minutes := range r.Leaderboard {
		out = append(out, LeaderEntry{Source: source, MinutesCovered: minutes})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinutesCovered != out[j].MinutesCovered {
			return out[i].MinutesCovered > out[j].MinutesCovered
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// LeaderEntry is one row of the coverage leaderboard.
type LeaderEntry struct {
	Source         string `json:"source"`
	MinutesCovered int    `json:"minutes_covered"`
}

func (a *CoverageAuditor) emit(report CoverageReport) error {
	sig := a.registry.BuildSignalMetadata("P7", "audit", "coverage_auditor", events.Observations{})
	data := map[string]interface{}{
		"window_hours":      report.WindowHours,
		"covered_minutes":   report.CoveredMinutes,
		"dead_minutes":      report.DeadMinutes,
		"uptime_pct":        report.UptimePct,
		"grade":             report.Grade,
		"dead_zone_count":   report.DeadZoneCount,
		"longest_dead_zone": report.LongestDeadZone,
		"leaderboard":       report.Leaderboard,
	}
	eventType := fmt.Sprintf("%s.gen%s.audit.coverage", a.ns, a.gen)
	_, err := a.writer.WriteEvent(eventType, "coverage_auditor", data, &sig)
	return err
}
