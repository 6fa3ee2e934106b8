package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/events"
	"fleetctl/internal/store"
)

func newTestWish(t *testing.T) (*WishRegistry, *store.Store, *events.Writer, *events.ModelRegistry, string) {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	writer := events.NewWriter(st, events.WriterOptions{Namespace: "hfo", Generation: "1"})
	registry := events.DefaultModelRegistry()
	path := filepath.Join(t.TempDir(), "wishes.json")
	return NewWishRegistry(st, writer, registry, "hfo", "1", path), st, writer, registry, path
}

func TestWishAuditAllDeniesOnEmptyStore(t *testing.T) {
	reg, _, _, _, _ := newTestWish(t)
	verdicts, err := reg.AuditAll(CheckContext{})
	require.NoError(t, err)
	byName := make(map[string]*Verdict)
	for _, v := range verdicts {
		byName[v.CheckName] = v
	}
	assert.Equal(t, "DENIED", byName["ssot_health"].Status, "no documents ingested yet")
	assert.Equal(t, "DENIED", byName["stigmergy_freshness"].Status, "no events at all")
	assert.Equal(t, 1, byName["ssot_health"].EvaluationCount)
}

func TestWishAuditAllPersistsAcrossInstances(t *testing.T) {
	reg, _, _, _, path := newTestWish(t)
	_, err := reg.AuditAll(CheckContext{})
	require.NoError(t, err)

	reloaded := NewWishRegistry(reg.store, reg.writer, reg.registry, "hfo", "1", path)
	v := reloaded.Verdicts()
	require.NotEmpty(t, v)
	for _, entry := range v {
		if entry.CheckName == "ssot_health" {
			assert.Equal(t, 1, entry.EvaluationCount)
		}
	}
}

func TestWishRevokeSkipsFutureEvaluation(t *testing.T) {
	reg, _, _, _, _ := newTestWish(t)
	_, err := reg.AuditAll(CheckContext{})
	require.NoError(t, err)

	require.NoError(t, reg.Revoke("config_valid"))

	_, err = reg.AuditAll(CheckContext{ConfigErrors: 3})
	require.NoError(t, err)

	for _, v := range reg.Verdicts() {
		if v.CheckName == "config_valid" {
			assert.True(t, v.Revoked)
			assert.Equal(t, 1, v.EvaluationCount, "revoked check must not be re-evaluated")
		}
	}
}

func TestWishRevokeUnknownWishErrors(t *testing.T) {
	reg, _, _, _, _ := newTestWish(t)
	err := reg.Revoke("does_not_exist")
	assert.Error(t, err)
}

func TestCheckConfigValid(t *testing.T) {
	ok, _ := checkConfigValid(nil, CheckContext{ConfigErrors: 0})
	assert.True(t, ok)
	ok, reason := checkConfigValid(nil, CheckContext{ConfigErrors: 2})
	assert.False(t, ok)
	assert.Contains(t, reason, "2")
}

func TestCheckHeartbeatComplianceNoSealedDaemonsPasses(t *testing.T) {
	_, st, _, _, _ := newTestWish(t)
	ok, _ := checkHeartbeatCompliance(st, CheckContext{})
	assert.True(t, ok)
}

func TestCheckMedallionBoundaryMissingDirPasses(t *testing.T) {
	_, st, _, _, _ := newTestWish(t)
	ok, _ := checkMedallionBoundary(st, CheckContext{GoldResourcesDir: "/no/such/dir"})
	assert.True(t, ok)
}

func TestDaemonFromSource(t *testing.T) {
	assert.Equal(t, "p0_watchtower", daemonFromSource("daemons/p0_watchtower"))
	assert.Equal(t, "p0_watchtower", daemonFromSource("p0_watchtower"))
}
