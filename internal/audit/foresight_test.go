package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/events"
	"fleetctl/internal/store"
)

func newTestForesight(t *testing.T) (*ForesightMapper, *events.Writer, *events.ModelRegistry) {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	writer := events.NewWriter(st, events.WriterOptions{Namespace: "hfo", Generation: "1"})
	registry := events.DefaultModelRegistry()
	return NewForesightMapper(st, writer, registry, "hfo", "1"), writer, registry
}

func TestForesightRunClassifiesKnownEventTypes(t *testing.T) {
	mapper, writer, registry := newTestForesight(t)
	sig := registry.BuildSignalMetadata("P5", "coordinator", "p5_coordinator", events.Observations{})
	_, err := writer.WriteEvent("hfo.gen1.coordinator.cycle_complete", "p5_coordinator", map[string]interface{}{}, &sig)
	require.NoError(t, err)
	_, err = writer.WriteEvent("hfo.gen1.watchdog.defense", "watchdog", map[string]interface{}{}, &sig)
	require.NoError(t, err)

	report, err := mapper.Run(1)
	require.NoError(t, err)
	assert.Equal(t, 2, report.EventsClassified)

	levels := make(map[int]int)
	for _, lc := range report.LevelCounts {
		levels[lc.Level] = lc.Count
	}
	assert.Equal(t, 1, levels[3], "coordinator.cycle should classify as level 3")
	assert.Equal(t, 1, levels[10], "watchdog.* should classify as level 10")
}

func TestForesightClassifyFallsBackToSix(t *testing.T) {
	mapper, _, _ := newTestForesight(t)
	row := store.EventRow{EventType: "hfo.gen1.totally_unclassifiable_noise"}
	assert.Equal(t, 6, mapper.classify(row))
}

func TestForesightIdentityViolationDetectsOrphanedExecute(t *testing.T) {
	mapper, writer, registry := newTestForesight(t)
	sig := registry.BuildSignalMetadata("P5", "qwen2.5-coder:7b", "p3_breadmaker", events.Observations{})

	// "other_agent" perceives and reacts properly; "lone_agent" jumps
	// straight to execute with no preceding react in its own session.
	_, err := writer.WriteEvent("hfo.gen1.prey8.perceive", "other_agent", map[string]interface{}{}, &sig)
	require.NoError(t, err)
	_, err = writer.WriteEvent("hfo.gen1.prey8.react", "other_agent", map[string]interface{}{}, &sig)
	require.NoError(t, err)
	_, err = writer.WriteEvent("hfo.gen1.prey8.execute", "lone_agent", map[string]interface{}{}, &sig)
	require.NoError(t, err)

	report, err := mapper.Run(1)
	require.NoError(t, err)
	require.Len(t, report.IdentityViolations, 1)
	assert.Equal(t, "lone_agent", report.IdentityViolations[0].SessionID)
}

func TestForesightAttractorBasinPct(t *testing.T) {
	mapper, writer, registry := newTestForesight(t)
	sig := registry.BuildSignalMetadata("P0", "gemma3:4b", "p0_watchtower", events.Observations{})
	_, err := writer.WriteEvent("hfo.gen1.chimera.escalation", "p0_watchtower", map[string]interface{}{}, &sig)
	require.NoError(t, err)

	report, err := mapper.Run(1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.AttractorBasinPct)
}

func TestPctHandlesZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, pct(0, 0))
}
