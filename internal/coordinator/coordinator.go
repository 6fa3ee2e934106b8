package coordinator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"fleetctl/internal/events"
	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// Coordinator is C6: it reads the recent window of stigmergy events,
// grades instrumentation, scores pheromones per (port, model, tier),
// and writes one recommendation per port back through C2.
type Coordinator struct {
	store    *store.Store
	writer   *events.Writer
	registry *events.ModelRegistry
	ns, gen  string

	windowHours     int
	evaporationRate float64
	minPheromone    float64
	explorationProb float64
	defaultWishConf float64

	rng *rand.Rand
}

// Params configures a Coordinator; zero values fall back to the fixed
// defaults in internal/config.CoordinatorConfig.
type Params struct {
	Namespace             string
	Generation            string
	WindowHours           int
	EvaporationRate       float64
	MinPheromone          float64
	ExplorationProb       float64
	DefaultWishConfidence float64
}

// New builds a Coordinator over st, writing recommendations through w
// using registry for signal_metadata construction.
func New(st *store.Store, w *events.Writer, registry *events.ModelRegistry, p Params) *Coordinator {
	if p.WindowHours <= 0 {
		p.WindowHours = 24
	}
	if p.EvaporationRate <= 0 {
		p.EvaporationRate = 0.10
	}
	if p.MinPheromone <= 0 {
		p.MinPheromone = 0.01
	}
	if p.ExplorationProb <= 0 {
		p.ExplorationProb = 0.10
	}
	if p.DefaultWishConfidence <= 0 {
		p.DefaultWishConfidence = 0.3
	}
	if p.Namespace == "" {
		p.Namespace = "hfo"
	}
	if p.Generation == "" {
		p.Generation = "1"
	}
	return &Coordinator{
		store: st, writer: w, registry: registry,
		ns: p.Namespace, gen: p.Generation,
		windowHours: p.WindowHours, evaporationRate: p.EvaporationRate,
		minPheromone: p.MinPheromone, explorationProb: p.ExplorationProb,
		defaultWishConf: p.DefaultWishConfidence,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CycleResult is what one Run pass produced, returned for callers
// (e.g. cmd/fleetctl) that want to print or test against it directly.
type CycleResult struct {
	Audit            SignalAudit               `json:"signal_audit"`
	Pheromones       []PheromoneEntry          `json:"pheromones"`
	Recommendations  map[string]Recommendation `json:"recommendations"`
	PortsCovered     int                       `json:"ports_covered"`
	QualityDiversity float64                   `json:"quality_diversity"`
	DuplicateDaemons int                       `json:"duplicate_daemon_count"`
	ElapsedMs        int64                     `json:"elapsed_ms"`
}

// allPorts is the fixed P0..P7 universe every cycle recommends over.
var allPorts = []string{"P0", "P1", "P2", "P3", "P4", "P5", "P6", "P7"}

// Run executes one coordination cycle: read the window, grade, score,
// recommend, and emit both a per-recommendation event and a summary
// cycle-health event.
func (c *Coordinator) Run() (CycleResult, error) {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryCoordinator, "coordinator_cycle")
	defer timer.Stop()
	since := start.Add(-time.Duration(c.windowHours) * time.Hour)
	rows, err := c.store.EventsInWindow(since, "")
	if err != nil {
		return CycleResult{}, fmt.Errorf("coordinator cycle read window: %w", err)
	}

	audit := RunSignalAudit(rows)
	params := PheromoneParams{EvaporationRate: c.evaporationRate, MinPheromone: c.minPheromone}
	pheromones := ComputePheromones(rows, params, start)
	recs := Recommend(pheromones, allPorts, c.explorationProb, c.rng)

	portsCovered := 0
	seenCombos := make(map[string]bool)
	daemonHits := make(map[string]int)
	for _, p := range allPorts {
		if len(groupByPort(pheromones, p)) > 0 {
			portsCovered++
		}
	}
	for _, e := range pheromones {
		seenCombos[fmt.Sprintf("%s|%s|%s", e.Port, e.ModelID, e.ModelTier)] = true
	}
	for _, r := range rows {
		if daemon := extractDaemonName(r.DataJSON); daemon != "" {
			daemonHits[daemon]++
		}
	}
	duplicateDaemons := 0
	for _, n := range daemonHits {
		if n > 1 {
			duplicateDaemons++
		}
	}

	for port, rec := range recs {
		if err := c.emitRecommendation(port, rec); err != nil {
			logging.CoordinatorError("emit recommendation for %s: %v", port, err)
		}
	}

	result := CycleResult{
		Audit:            audit,
		Pheromones:       pheromones,
		Recommendations:  recs,
		PortsCovered:     portsCovered,
		QualityDiversity: float64(len(seenCombos)) / 24.0,
		DuplicateDaemons: duplicateDaemons,
		ElapsedMs:        time.Since(start).Milliseconds(),
	}

	if err := c.emitCycleHealth(result); err != nil {
		logging.CoordinatorError("emit cycle health: %v", err)
	}

	logging.Coordinator("cycle complete: grade=%s pheromones=%d ports_covered=%d/%d elapsed=%dms",
		audit.Grade, len(pheromones), portsCovered, len(allPorts), result.ElapsedMs)
	return result, nil
}

func groupByPort(entries []PheromoneEntry, port string) []PheromoneEntry {
	var out []PheromoneEntry
	for _, e := range entries {
		if e.Port == port {
			out = append(out, e)
		}
	}
	return out
}

func extractDaemonName(dataJSON string) string {
	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(dataJSON), &envelope); err != nil {
		return ""
	}
	data, _ := envelope["data"].(map[string]interface{})
	if data == nil {
		return ""
	}
	sig, _ := data["signal_metadata"].(map[string]interface{})
	if sig == nil {
		return ""
	}
	name, _ := sig["daemon_name"].(string)
	return name
}

func (c *Coordinator) emitRecommendation(port string, rec Recommendation) error {
	sig := c.registry.BuildSignalMetadata(port, rec.RecommendedModel, "coordinator", events.Observations{})
	data := map[string]interface{}{
		"port":               rec.Port,
		"recommended_model":  rec.RecommendedModel,
		"recommended_tier":   rec.RecommendedTier,
		"pheromone_strength": rec.PheromoneStrength,
		"reason":             rec.Reason,
		"exploration":        rec.Exploration,
		"signal_count":       rec.SignalCount,
		"alternatives":       rec.Alternatives,
	}
	eventType := fmt.Sprintf("%s.gen%s.coordinator.recommendation", c.ns, c.gen)
	_, err := c.writer.WriteEvent(eventType, port, data, &sig)
	return err
}

func (c *Coordinator) emitCycleHealth(result CycleResult) error {
	sig := c.registry.BuildSignalMetadata("P7", "coordinator", "coordinator", events.Observations{})
	recsByPort := make(map[string]string, len(result.Recommendations))
	for port, rec := range result.Recommendations {
		recsByPort[port] = rec.RecommendedModel
	}
	data := map[string]interface{}{
		"signal_grade":       result.Audit.Grade,
		"signal_pct":         result.Audit.SignalPct,
		"legacy_pct":         result.Audit.LegacyPct,
		"pheromone_count":    len(result.Pheromones),
		"ports_covered":      result.PortsCovered,
		"quality_diversity":  result.QualityDiversity,
		"duplicate_daemons":  result.DuplicateDaemons,
		"recommendations":    recsByPort,
		"elapsed_ms":         result.ElapsedMs,
	}
	eventType := fmt.Sprintf("%s.gen%s.coordinator.cycle", c.ns, c.gen)
	_, err := c.writer.WriteEvent(eventType, "coordinator", data, &sig)
	return err
}

// RouteIntentForText exposes the WISH routing keyword table as a
// Coordinator method so callers don't need to reach into the package
// function directly.
func (c *Coordinator) RouteIntentForText(text string) RouteIntent {
	return RouteWishIntent(text, c.defaultWishConf)
}
