package audit

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"fleetctl/internal/events"
	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// leverageRule is one entry of the fixed regex table the foresight
// mapper classifies events with. First regex match wins.
type leverageRule struct {
	pattern *regexp.Regexp
	level   int
}

// defaultLeverageTable is fixed but arbitrary: higher levels
// (paradigm/goal-level events) match first, falling through to
// lower-leverage plumbing. Grounded loosely on Meadows' twelve
// leverage points, carried here purely as classification data.
var defaultLeverageTable = []leverageRule{
	{regexp.MustCompile(`\.wish\b|\.chimera\b`), 1},
	{regexp.MustCompile(`paradigm|mindset`), 2},
	{regexp.MustCompile(`\.coordinator\.cycle`), 3},
	{regexp.MustCompile(`goal|governance`), 4},
	{regexp.MustCompile(`self.?organiz`), 5},
	{regexp.MustCompile(`rules|structure`), 6},
	{regexp.MustCompile(`\.recommendation\b`), 7},
	{regexp.MustCompile(`information.?flow|\.audit\.`), 8},
	{regexp.MustCompile(`feedback|reinforc`), 9},
	{regexp.MustCompile(`\.watchdog\.`), 10},
	{regexp.MustCompile(`buffer|stock`), 11},
	{regexp.MustCompile(`\.ssot_write\.gate_block|tamper_alert`), 12},
	{regexp.MustCompile(`\.(perceive|react|execute|yield|hunt|intervene|verify|emit)\b`), 13},
}

// LevelCount is one bucket of the per-level histogram.
type LevelCount struct {
	Level int `json:"level"`
	Count int `json:"count"`
}

// TransitionEdge is one observed level-to-level step between adjacent
// events in time order.
type TransitionEdge struct {
	From   int `json:"from"`
	To     int `json:"to"`
	Weight int `json:"weight"`
}

// IdentityViolation flags an execute/verify event with no preceding
// react/intervene in the same session.
type IdentityViolation struct {
	SessionID string `json:"session_id"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
}

// ForesightReport is one mapper pass's result.
type ForesightReport struct {
	LevelCounts        []LevelCount        `json:"level_counts"`
	Transitions        []TransitionEdge    `json:"transitions"`
	AttractorBasinPct  float64             `json:"attractor_basin_pct"` // levels 1-3 share
	HighLeveragePct    float64             `json:"high_leverage_pct"`   // levels 8-12 share
	DominantTransition TransitionEdge      `json:"dominant_transition"`
	IdentityViolations []IdentityViolation `json:"identity_violations"`
	EventsClassified   int                 `json:"events_classified"`
}

// ForesightMapper is C9's third family.
type ForesightMapper struct {
	store    *store.Store
	writer   *events.Writer
	registry *events.ModelRegistry
	ns, gen  string
	table    []leverageRule
}

// NewForesightMapper builds a mapper using the fixed default leverage
// table.
func NewForesightMapper(st *store.Store, w *events.Writer, registry *events.ModelRegistry, ns, gen string) *ForesightMapper {
	return &ForesightMapper{store: st, writer: w, registry: registry, ns: ns, gen: gen, table: defaultLeverageTable}
}

// Run classifies every event in the last windowHours, builds the
// histogram and transition weights, and emits one mapping event.
func (m *ForesightMapper) Run(windowHours int) (ForesightReport, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour)
	rows, err := m.store.EventsInWindow(since, "")
	if err != nil {
		return ForesightReport{}, fmt.Errorf("foresight run: read window: %w", err)
	}

	counts := make(map[int]int)
	transitions := make(map[[2]int]int)
	var violations []IdentityViolation
	openedReact := make(map[string]bool) // session_id -> has seen react/intervene

	prevLevel := 0
	haveLevel := false
	for _, r := range rows {
		level := m.classify(r)
		counts[level]++

		if haveLevel {
			key := [2]int{prevLevel, level}
			transitions[key]++
		}
		prevLevel = level
		haveLevel = true

		// The gate engine keys a session by "<alphabet>:<agentID>"
		// (its event Subject); that pairing is the closest available
		// proxy for session identity outside internal/gate's own
		// in-memory session map.
		sessionKey := r.Subject
		switch {
		case strings.HasSuffix(r.EventType, ".react") || strings.HasSuffix(r.EventType, ".intervene"):
			if sessionKey != "" {
				openedReact[sessionKey] = true
			}
		case strings.HasSuffix(r.EventType, ".perceive") || strings.HasSuffix(r.EventType, ".hunt"):
			if sessionKey != "" {
				openedReact[sessionKey] = false
			}
		case strings.HasSuffix(r.EventType, ".execute") || strings.HasSuffix(r.EventType, ".verify"):
			if sessionKey != "" && !openedReact[sessionKey] {
				violations = append(violations, IdentityViolation{SessionID: sessionKey, EventType: r.EventType, Timestamp: r.Timestamp})
			}
		}
	}

	var levelCounts []LevelCount
	total := 0
	basin, highLeverage := 0, 0
	for level, n := range counts {
		levelCounts = append(levelCounts, LevelCount{Level: level, Count: n})
		total += n
		if level >= 1 && level <= 3 {
			basin += n
		}
		if level >= 8 && level <= 12 {
			highLeverage += n
		}
	}
	sort.Slice(levelCounts, func(i, j int) bool { return levelCounts[i].Level < levelCounts[j].Level })

	var transitionList []TransitionEdge
	var dominant TransitionEdge
	for key, weight := range transitions {
		edge := TransitionEdge{From: key[0], To: key[1], Weight: weight}
		transitionList = append(transitionList, edge)
		if weight > dominant.Weight {
			dominant = edge
		}
	}
	sort.Slice(transitionList, func(i, j int) bool {
		if transitionList[i].Weight != transitionList[j].Weight {
			return transitionList[i].Weight > transitionList[j].Weight
		}
		return transitionList[i].From < transitionList[j].From
	})

	report := ForesightReport{
		LevelCounts:        levelCounts,
		Transitions:        transitionList,
		AttractorBasinPct:  pct(basin, total),
		HighLeveragePct:    pct(highLeverage, total),
		DominantTransition: dominant,
		IdentityViolations: violations,
		EventsClassified:   len(rows),
	}

	if err := m.emit(report); err != nil {
		logging.AuditError("foresight run: emit: %v", err)
	}
	logging.Audit("foresight run: classified=%d basin_pct=%.1f high_leverage_pct=%.1f violations=%d",
		len(rows), report.AttractorBasinPct, report.HighLeveragePct, len(violations))
	return report, nil
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// classify applies the first-match-wins regex table, falling back to
// level 6 when nothing matches. The median-of-native-plane fallback is
// elided since no daemon-native-plane table exists in this
// port-and-event-type-only data model.
func (m *ForesightMapper) classify(r store.EventRow) int {
	for _, rule := range m.table {
		if rule.pattern.MatchString(r.EventType) {
			return rule.level
		}
	}
	return 6
}

func (m *ForesightMapper) emit(report ForesightReport) error {
	sig := m.registry.BuildSignalMetadata("P7", "audit", "foresight_mapper", events.Observations{})
	data := map[string]interface{}{
		"level_counts":        report.LevelCounts,
		"attractor_basin_pct": report.AttractorBasinPct,
		"high_leverage_pct":   report.HighLeveragePct,
		"dominant_transition": report.DominantTransition,
		"identity_violations": report.IdentityViolations,
		"events_classified":   report.EventsClassified,
	}
	eventType := fmt.Sprintf("%s.gen%s.audit.foresight", m.ns, m.gen)
	_, err := m.writer.WriteEvent(eventType, "foresight_mapper", data, &sig)
	return err
}
