package watchdog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/events"
	"fleetctl/internal/store"
)

func newTestDefense(t *testing.T) (*DefenseSupervisor, *store.Store, *events.Writer, *events.ModelRegistry) {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	writer := events.NewWriter(st, events.WriterOptions{Namespace: "hfo", Generation: "1"})
	registry := events.DefaultModelRegistry()
	statePath := filepath.Join(t.TempDir(), ".p5_supervisor_state.json")
	return NewDefenseSupervisor(st, writer, registry, "hfo", "1", statePath), st, writer, registry
}

func TestDefenseRunCleanFleetScoresHigh(t *testing.T) {
	sup, _, writer, registry := newTestDefense(t)

	sig := registry.BuildSignalMetadata("P0", "gemma3:4b", "p0_watchtower", events.Observations{QualityScore: 0.9})
	_, err := writer.WriteEvent("hfo.gen1.p0.heartbeat", "p0_watchtower", map[string]interface{}{"cycle": 1}, &sig)
	require.NoError(t, err)

	fleetStatePath := filepath.Join(t.TempDir(), ".fleet_state.json")
	report, err := sup.Run(fleetStatePath)
	require.NoError(t, err)
	assert.Equal(t, 100, report.Score)
	assert.Equal(t, "A", report.Grade)
	for _, a := range report.Anomalies {
		assert.Equal(t, "INFO", a.Severity, "anomaly %s should be INFO on a clean fleet", a.Code)
	}
}

func TestDefenseRunDetectsGateBlocksAndTamperAlerts(t *testing.T) {
	sup, st, _, _ := newTestDefense(t)

	for i := 0; i < 25; i++ {
		_, err := st.InsertEvent(store.EventRow{
			EventType:   "hfo.gen1.prey8.perceive_gate_block",
			Timestamp:   "2026-01-01T00:00:0" + string(rune('0'+i%10)) + "Z",
			Subject:     "agent",
			Source:      "gate.Engine",
			DataJSON:    `{"data":{"reason":"bad"}}`,
			ContentHash: "hash-gate-" + string(rune('a'+i)),
		})
		require.NoError(t, err)
	}
	for i := 0; i < 7; i++ {
		_, err := st.InsertEvent(store.EventRow{
			EventType:   "hfo.gen1.prey8.tamper_alert",
			Timestamp:   "2026-01-01T00:01:0" + string(rune('0'+i%10)) + "Z",
			Subject:     "agent",
			Source:      "gate.Engine",
			DataJSON:    `{"data":{"reason":"nonce mismatch"}}`,
			ContentHash: "hash-tamper-" + string(rune('a'+i)),
		})
		require.NoError(t, err)
	}

	fleetStatePath := filepath.Join(t.TempDir(), ".fleet_state.json")
	report, err := sup.Run(fleetStatePath)
	require.NoError(t, err)

	var d1, d2 Anomaly
	for _, a := range report.Anomalies {
		switch a.Code {
		case "D1":
			d1 = a
		case "D2":
			d2 = a
		}
	}
	assert.Equal(t, "CRITICAL", d1.Severity)
	assert.Equal(t, 15, d1.Deduction)
	assert.Equal(t, "CRITICAL", d2.Severity)
	assert.Equal(t, 20, d2.Deduction)
	assert.Less(t, report.Score, 100)
}

func TestClassifyD4CountsEventsByModelIDNotQualityScore(t *testing.T) {
	var rows []store.EventRow
	for i := 0; i < 60; i++ {
		rows = append(rows, store.EventRow{
			EventType: "hfo.gen1.p0.heartbeat",
			DataJSON:  `{"data":{"signal_metadata":{"model_id":"gemma3:4b"}}}`,
		})
	}
	a := classifyD4(rows)
	assert.Equal(t, 60, a.Count, "events with model_id but no quality_score must still count as signal")
	assert.Equal(t, "INFO", a.Severity)
}

func TestScoreTrend(t *testing.T) {
	assert.Equal(t, "stable", scoreTrend([]int{80, 80}))
	assert.Equal(t, "improving", scoreTrend([]int{60, 70, 80}))
	assert.Equal(t, "degrading", scoreTrend([]int{90, 80, 70}))
	assert.Equal(t, "stable", scoreTrend([]int{80, 90, 85}))
}

func TestDefenseRunPersistsWatermark(t *testing.T) {
	sup, _, writer, registry := newTestDefense(t)
	sig := registry.BuildSignalMetadata("P0", "gemma3:4b", "p0_watchtower", events.Observations{})
	id, err := writer.WriteEvent("hfo.gen1.p0.heartbeat", "p0_watchtower", map[string]interface{}{}, &sig)
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	fleetStatePath := filepath.Join(t.TempDir(), ".fleet_state.json")
	first, err := sup.Run(fleetStatePath)
	require.NoError(t, err)
	assert.Equal(t, id, first.LastEventID)

	second, err := sup.Run(fleetStatePath)
	require.NoError(t, err)
	// Only the first run's own summary event lies past the watermark.
	assert.Equal(t, 1, second.EventsChecked)
}
