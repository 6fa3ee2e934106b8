// Package coordinator implements C6: the pheromone-scoring coordinator.
// It reads recent stigmergy events, grades how well-instrumented they
// are, computes per-(port, model, tier) pheromone scores, and writes
// per-port model-selection recommendations back through C2 for daemons
// to consume at the next cycle.
package coordinator

import (
	"encoding/json"

	"fleetctl/internal/store"
)

// SignalAudit is the per-window classification of events into
// has_signal / has_legacy / blind, and the resulting letter grade.
type SignalAudit struct {
	Total       int     `json:"total"`
	SignalCount int     `json:"signal_count"`
	LegacyCount int     `json:"legacy_count"`
	BlindCount  int     `json:"blind_count"`
	SignalPct   float64 `json:"signal_pct"`
	LegacyPct   float64 `json:"legacy_pct"`
	Grade       string  `json:"grade"`
}

// legacyModelPaths are the pre-signal_metadata conventions we still
// grade as legacy signal: data.ai_model, data.model, data.identity.model.
var legacyModelPaths = [][]string{
	{"ai_model"},
	{"model"},
	{"identity", "model"},
}

// classification is one event's bucket.
type classification int

const (
	classBlind classification = iota
	classLegacy
	classSignal
)

func classifyEvent(dataJSON string) classification {
	data := eventData(dataJSON)
	if data == nil {
		return classBlind
	}
	if HasSignal(dataJSON) {
		return classSignal
	}
	for _, path := range legacyModelPaths {
		if hasNonEmptyPath(data, path) {
			return classLegacy
		}
	}
	return classBlind
}

func eventData(dataJSON string) map[string]interface{} {
	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(dataJSON), &envelope); err != nil {
		return nil
	}
	data, _ := envelope["data"].(map[string]interface{})
	return data
}

// HasSignal reports whether an event's envelope carries a non-empty
// signal_metadata.model_id — the fleet's one established definition of
// "this event carries real signal", used both for signal-audit grading
// here and for the watchdog's D4 no-signal-ratio anomaly.
func HasSignal(dataJSON string) bool {
	data := eventData(dataJSON)
	if data == nil {
		return false
	}
	sig, ok := data["signal_metadata"].(map[string]interface{})
	if !ok {
		return false
	}
	modelID, ok := sig["model_id"].(string)
	return ok && modelID != ""
}

func hasNonEmptyPath(m map[string]interface{}, path []string) bool {
	cur := interface{}(m)
	for _, key := range path {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return false
		}
		cur, ok = asMap[key]
		if !ok {
			return false
		}
	}
	switch v := cur.(type) {
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}

// RunSignalAudit classifies every event in rows and computes the grade.
// Grading bands: A >=80% signal, B >=70% signal+legacy, C >=50%,
// D >=30% legacy, else F.
func RunSignalAudit(rows []store.EventRow) SignalAudit {
	audit := SignalAudit{Total: len(rows)}
	for _, r := range rows {
		switch classifyEvent(r.DataJSON) {
		case classSignal:
			audit.SignalCount++
		case classLegacy:
			audit.LegacyCount++
		default:
			audit.BlindCount++
		}
	}
	if audit.Total > 0 {
		audit.SignalPct = 100 * float64(audit.SignalCount) / float64(audit.Total)
		audit.LegacyPct = 100 * float64(audit.LegacyCount) / float64(audit.Total)
	}
	audit.Grade = gradeSignalAudit(audit)
	return audit
}

func gradeSignalAudit(a SignalAudit) string {
	combined := a.SignalPct + a.LegacyPct
	switch {
	case a.SignalPct >= 80:
		return "A"
	case combined >= 70:
		return "B"
	case combined >= 50:
		return "C"
	case a.LegacyPct >= 30:
		return "D"
	default:
		return "F"
	}
}
