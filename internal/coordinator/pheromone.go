package coordinator

import (
	"encoding/json"
	"math"
	"time"

	"fleetctl/internal/store"
)

// pheromoneKey identifies one (port, model, tier) bucket.
type pheromoneKey struct {
	Port, ModelID, ModelTier string
}

// PheromoneEntry is one aggregated (port, model_id, model_tier) bucket
// and its computed pheromone score.
type PheromoneEntry struct {
	Port         string    `json:"port"`
	ModelID      string    `json:"model_id"`
	ModelTier    string    `json:"model_tier"`
	Count        int       `json:"count"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	AvgQuality   float64   `json:"avg_quality"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	MostRecent   time.Time `json:"most_recent"`
	Pheromone    float64   `json:"pheromone"`
}

// PheromoneParams are the tunable constants governing evaporation and
// the score floor, consolidated into one place rather than scattered
// across call sites.
type PheromoneParams struct {
	EvaporationRate float64 // default 0.10
	MinPheromone    float64 // default 0.01
}

// DefaultPheromoneParams matches config.CoordinatorConfig's defaults.
func DefaultPheromoneParams() PheromoneParams {
	return PheromoneParams{EvaporationRate: 0.10, MinPheromone: 0.01}
}

type signalObservation struct {
	Port      string
	ModelID   string
	ModelTier string
	LatencyMs float64
	Quality   float64
	CostUSD   float64
	Timestamp time.Time
}

// extractSignalObservation pulls the fields pheromone aggregation needs
// out of one event row, returning ok=false for events with no usable
// signal_metadata (only aggregates has_signal events).
func extractSignalObservation(r store.EventRow) (signalObservation, bool) {
	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(r.DataJSON), &envelope); err != nil {
		return signalObservation{}, false
	}
	data, _ := envelope["data"].(map[string]interface{})
	if data == nil {
		return signalObservation{}, false
	}
	sig, ok := data["signal_metadata"].(map[string]interface{})
	if !ok {
		return signalObservation{}, false
	}
	modelID, _ := sig["model_id"].(string)
	port, _ := sig["port"].(string)
	if modelID == "" || port == "" {
		return signalObservation{}, false
	}
	tier, _ := sig["model_tier"].(string)

	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			ts = time.Time{}
		}
	}

	return signalObservation{
		Port:      port,
		ModelID:   modelID,
		ModelTier: tier,
		LatencyMs: numberField(sig, "inference_latency_ms"),
		Quality:   numberField(sig, "quality_score"),
		CostUSD:   numberField(sig, "cost_usd"),
		Timestamp: ts,
	}, true
}

func numberField(m map[string]interface{}, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

// ComputePheromones aggregates events by (port, model_id, model_tier)
// and scores each bucket, sorted descending by pheromone. A single
// event yields count=1, volume=1.0, evaporation≈1.
func ComputePheromones(rows []store.EventRow, params PheromoneParams, now time.Time) []PheromoneEntry {
	agg := make(map[pheromoneKey]*PheromoneEntry)
	order := make([]pheromoneKey, 0)

	for _, r := range rows {
		obs, ok := extractSignalObservation(r)
		if !ok {
			continue
		}
		key := pheromoneKey{Port: obs.Port, ModelID: obs.ModelID, ModelTier: obs.ModelTier}
		e, exists := agg[key]
		if !exists {
			e = &PheromoneEntry{Port: obs.Port, ModelID: obs.ModelID, ModelTier: obs.ModelTier}
			agg[key] = e
			order = append(order, key)
		}
		e.Count++
		e.AvgLatencyMs += obs.LatencyMs
		e.AvgQuality += obs.Quality
		e.TotalCostUSD += obs.CostUSD
		if obs.Timestamp.After(e.MostRecent) {
			e.MostRecent = obs.Timestamp
		}
	}

	out := make([]PheromoneEntry, 0, len(order))
	for _, key := range order {
		e := agg[key]
		if e.Count > 0 {
			e.AvgLatencyMs /= float64(e.Count)
			e.AvgQuality /= float64(e.Count)
		}
		e.Pheromone = scorePheromone(*e, params, now)
		out = append(out, *e)
	}

	sortByPheromoneDesc(out)
	return out
}

// scorePheromone computes the pheromone score:
//
//	pheromone = (avg_quality^2 / (latency_norm * cost_norm^0.5)) * evaporation * volume
func scorePheromone(e PheromoneEntry, params PheromoneParams, now time.Time) float64 {
	ageHours := 0.0
	if !e.MostRecent.IsZero() {
		ageHours = now.Sub(e.MostRecent).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
	}
	evaporation := math.Max(params.MinPheromone, math.Pow(1-params.EvaporationRate, ageHours))
	latencyNorm := math.Max(0.01, e.AvgLatencyMs/1000)
	costNorm := math.Max(0.001, e.TotalCostUSD/math.Max(1, float64(e.Count)))
	volume := math.Min(2.0, 1+math.Log10(math.Max(1, float64(e.Count))))

	return (e.AvgQuality * e.AvgQuality / (latencyNorm * math.Sqrt(costNorm))) * evaporation * volume
}

func sortByPheromoneDesc(entries []PheromoneEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Pheromone > entries[j-1].Pheromone; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
