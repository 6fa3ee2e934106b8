package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/events"
	"fleetctl/internal/store"
)

func newTestCoverage(t *testing.T) (*CoverageAuditor, *events.Writer, *events.ModelRegistry) {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	writer := events.NewWriter(st, events.WriterOptions{Namespace: "hfo", Generation: "1"})
	registry := events.DefaultModelRegistry()
	return NewCoverageAuditor(st, writer, registry, "hfo", "1"), writer, registry
}

func TestCoverageRunNoEventsScoresZero(t *testing.T) {
	auditor, _, _ := newTestCoverage(t)
	report, err := auditor.Run(1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.UptimePct)
	assert.Equal(t, "F", report.Grade)
	assert.Equal(t, 60, report.DeadMinutes)
}

func TestCoverageRunRecentEventCoversCurrentMinute(t *testing.T) {
	auditor, writer, registry := newTestCoverage(t)
	sig := registry.BuildSignalMetadata("P0", "gemma3:4b", "p0_watchtower", events.Observations{})
	_, err := writer.WriteEvent("hfo.gen1.p0.heartbeat", "p0_watchtower", map[string]interface{}{}, &sig)
	require.NoError(t, err)

	report, err := auditor.Run(1)
	require.NoError(t, err)
	assert.Greater(t, report.CoveredMinutes, 0)
	assert.Contains(t, report.Leaderboard, "P0/p0_watchtower")
}

func TestCoverageRunEmptyWindowReportsZeroUptime(t *testing.T) {
	auditor, _, _ := newTestCoverage(t)

	report, err := auditor.Run(0)
	require.NoError(t, err)
	assert.Equal(t, "F", report.Grade)
	assert.Equal(t, 0.0, report.UptimePct)
	assert.Equal(t, 0, report.CoveredMinutes)
	assert.Equal(t, 0, report.DeadMinutes)

	report, err = auditor.Run(-3)
	require.NoError(t, err)
	assert.Equal(t, "F", report.Grade)
	assert.Equal(t, 0.0, report.UptimePct)
}

func TestDeadZonesWalksContiguousGaps(t *testing.T) {
	bucketed := map[int]bool{0: true, 1: true, 5: true}
	count, longest := deadZones(bucketed, 10)
	// gaps: [2,3,4] and [6,7,8,9]
	assert.Equal(t, 2, count)
	assert.Equal(t, 4, longest)
}

func TestCoverageGradeBands(t *testing.T) {
	assert.Equal(t, "A+", coverageGrade(99.5))
	assert.Equal(t, "A", coverageGrade(96))
	assert.Equal(t, "B", coverageGrade(91))
	assert.Equal(t, "C", coverageGrade(80))
	assert.Equal(t, "D", coverageGrade(60))
	assert.Equal(t, "F", coverageGrade(10))
}

func TestCoverageReportGridLength(t *testing.T) {
	report := CoverageReport{WindowHours: 1, bucketed: map[int]bool{0: true}}
	grid := report.Grid()
	assert.Contains(t, grid, "#")
	assert.Contains(t, grid, ".")
}
