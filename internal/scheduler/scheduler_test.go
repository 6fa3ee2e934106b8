package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/events"
	"fleetctl/internal/store"
)

func newTestScheduler(t *testing.T, p Params) (*Scheduler, *store.Store, *events.Writer) {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	writer := events.NewWriter(st, events.WriterOptions{Namespace: "hfo", Generation: "1"})
	registry := events.DefaultModelRegistry()
	p.Namespace, p.Generation = "hfo", "1"
	return New(st, writer, registry, p), st, writer
}

func TestDueFiresOnceThenWaitsForCadence(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Params{})
	now := time.Now()
	assert.True(t, sched.due("heartbeat", now, 60*time.Second))
	assert.False(t, sched.due("heartbeat", now.Add(30*time.Second), 60*time.Second))
	assert.True(t, sched.due("heartbeat", now.Add(61*time.Second), 60*time.Second))
}

func TestRunHeartbeatWritesEventAndIncrementsCycle(t *testing.T) {
	sched, st, _ := newTestScheduler(t, Params{})
	sched.runHeartbeat(time.Now())
	sched.runHeartbeat(time.Now())

	count, err := st.EventCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, sched.cycle)
}

func TestUptimeOverLastHourWithNoEventsIsZero(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Params{})
	assert.Equal(t, 0.0, sched.uptimeOverLastHour(time.Now()))
}

func TestUptimeOverLastHourCountsRecentEvent(t *testing.T) {
	sched, _, writer := newTestScheduler(t, Params{})
	registry := events.DefaultModelRegistry()
	sig := registry.BuildSignalMetadata("P0", "gemma3:4b", "p0_watchtower", events.Observations{})
	_, err := writer.WriteEvent("hfo.gen1.p0.heartbeat", "p0_watchtower", map[string]interface{}{}, &sig)
	require.NoError(t, err)

	assert.Greater(t, sched.uptimeOverLastHour(time.Now()), 0.0)
}

func TestRunEnrichmentSkipsWithoutOllamaClient(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Params{})
	sched.runEnrichment(context.Background())
}

func TestRunGovernanceSkipsWithoutWishRegistry(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Params{})
	sched.runGovernance()
}

func TestRunAuditSkipsWithoutCollaborators(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Params{})
	sched.runAudit()
}

func TestRunWatchdogSkipsWithoutSupervisors(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Params{})
	sched.runWatchdog()
}

func TestFleetStatePathForDefenseEmptyWithoutLifecycle(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Params{})
	assert.Equal(t, "", sched.fleetStatePathForDefense())
}

func TestRunStopsPromptlyOnContextCancel(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Params{})
	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop within 3s of context deadline")
	}
}
