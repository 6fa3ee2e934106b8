package coordinator

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/events"
	"fleetctl/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *events.Writer, *events.ModelRegistry) {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := events.DefaultModelRegistry()
	writer := events.NewWriter(st, events.WriterOptions{Namespace: "hfo", Generation: "1"})
	c := New(st, writer, registry, Params{Namespace: "hfo", Generation: "1"})
	return c, writer, registry
}

func writeObservation(t *testing.T, w *events.Writer, registry *events.ModelRegistry, port, model string, latencyMs int64, quality float64) {
	t.Helper()
	sig := registry.BuildSignalMetadata(port, model, "TestDaemon", events.Observations{
		LatencyMs:    latencyMs,
		QualityScore: quality,
		Provider:     "ollama",
	})
	_, err := w.WriteEvent("hfo.gen1.p4.execute", port+":"+model, map[string]interface{}{"note": "observation"}, &sig)
	require.NoError(t, err)
}

func TestComputePheromonesHigherQualityLowerLatencyWins(t *testing.T) {
	c, w, registry := newTestCoordinator(t)

	for i := 0; i < 10; i++ {
		writeObservation(t, w, registry, "P4", "gemma3:4b", 500, 0.8)
	}
	for i := 0; i < 2; i++ {
		writeObservation(t, w, registry, "P4", "qwen2.5:14b", 2000, 0.9)
	}

	result, err := c.Run()
	require.NoError(t, err)

	wins := 0
	trials := 200
	for i := 0; i < trials; i++ {
		rec := pickRecommendation("P4", groupByPort(result.Pheromones, "P4"), 0.10, rand.New(rand.NewSource(int64(i))))
		if rec.RecommendedModel == "gemma3:4b" {
			wins++
		}
	}
	ratio := float64(wins) / float64(trials)
	assert.Greater(t, ratio, 0.80, "gemma3:4b should win the large majority of draws")

	rec := result.Recommendations["P4"]
	assert.NotEmpty(t, rec.RecommendedModel)
}

func TestRecommendExplorationRatioNearConfiguredProbability(t *testing.T) {
	entries := []PheromoneEntry{
		{Port: "P4", ModelID: "gemma3:4b", Pheromone: 1.0, Count: 10},
		{Port: "P4", ModelID: "qwen2.5:14b", Pheromone: 0.3, Count: 2},
	}

	explorationHits := 0
	trials := 2000
	for i := 0; i < trials; i++ {
		rng := rand.New(rand.NewSource(int64(i)))
		recs := Recommend(entries, []string{"P4"}, 0.10, rng)
		if recs["P4"].Exploration {
			explorationHits++
		}
	}
	ratio := float64(explorationHits) / float64(trials)
	assert.InDelta(t, 0.10, ratio, 0.03)
}

func TestRecommendFallsBackWhenPortHasNoHistory(t *testing.T) {
	rec := Recommend(nil, []string{"P2"}, 0.10, rand.New(rand.NewSource(1)))
	assert.Equal(t, "P2", rec["P2"].Port)
	assert.Equal(t, "cold-start default", rec["P2"].Reason)
}

func TestRunSignalAuditGradesKnownEventMix(t *testing.T) {
	c, w, registry := newTestCoordinator(t)
	for i := 0; i < 9; i++ {
		writeObservation(t, w, registry, "P0", "gemma3:4b", 100, 0.7)
	}

	rows, err := c.store.EventsInWindow(time.Now().Add(-time.Hour), "")
	require.NoError(t, err)
	audit := RunSignalAudit(rows)
	assert.Equal(t, 9, audit.SignalCount)
	assert.Equal(t, "A", audit.Grade)
}

func TestRouteWishIntentKeywordMatch(t *testing.T) {
	intent := RouteWishIntent("please harden and patch the defense layer", 0.3)
	assert.Equal(t, "P5", intent.PrimaryPort)
	assert.Greater(t, intent.Confidence, 0.0)
}

func TestRouteWishIntentDefaultsWhenNoKeywordMatches(t *testing.T) {
	intent := RouteWishIntent("xyzzy plugh", 0.3)
	assert.Equal(t, DefaultWishPort, intent.PrimaryPort)
	assert.Equal(t, 0.3, intent.Confidence)
}

func TestCycleEmitsRecommendationAndHealthEvents(t *testing.T) {
	c, w, registry := newTestCoordinator(t)
	writeObservation(t, w, registry, "P4", "gemma3:4b", 500, 0.8)

	_, err := c.Run()
	require.NoError(t, err)

	recs, err := c.store.EventsByTypePrefix("hfo.gen1.coordinator.recommendation", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, recs)

	cycles, err := c.store.EventsByTypePrefix("hfo.gen1.coordinator.cycle", 100)
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
}
