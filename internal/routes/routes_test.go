package routes

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/store"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestSetThenGetRouteRoundTrip(t *testing.T) {
	tbl := newTestTable(t)
	require.NoError(t, tbl.SetRoute("P4", "Singer", "gemma3:4b", "ollama", "default", "operator", "initial", 0))

	r, err := tbl.GetRoute("P4", "Singer", "default")
	require.NoError(t, err)
	assert.Equal(t, "gemma3:4b", r.ModelID)
	assert.Equal(t, "ollama", r.Provider)

	require.NoError(t, tbl.SetRoute("P4", "Singer", "qwen2.5:14b", "ollama", "default", "operator", "updated", 1))
	r, err = tbl.GetRoute("P4", "Singer", "default")
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:14b", r.ModelID, "set_route then get_route returns the last-set record")
}

func TestGetRouteFallsBackToDefaultTask(t *testing.T) {
	tbl := newTestTable(t)
	require.NoError(t, tbl.SetRoute("P4", "Singer", "gemma3:4b", "ollama", "default", "operator", "baseline", 0))

	r, err := tbl.GetRoute("P4", "Singer", "research")
	require.NoError(t, err)
	assert.Equal(t, "gemma3:4b", r.ModelID)
	assert.Equal(t, "default", r.TaskType)
}

func TestGetRouteSucceedsImmediatelyAfterFreshMigrate(t *testing.T) {
	tbl := newTestTable(t)

	for _, port := range store.Ports {
		r, err := tbl.GetRoute(port, "default", "default")
		require.NoError(t, err, "port %s should have a seeded baseline route on a fresh migration", port)
		assert.NotEmpty(t, r.ModelID)
		assert.NotEmpty(t, r.Provider)
	}
}

func TestGetRouteNoSuchPortRaisesNoRouteError(t *testing.T) {
	tbl := newTestTable(t)

	_, err := tbl.GetRoute("P9", "Singer", "default")
	var nre *NoRouteError
	require.ErrorAs(t, err, &nre)
	assert.True(t, errors.Is(err, ErrNoRoute))
	assert.Equal(t, "P9", nre.Port)
}
