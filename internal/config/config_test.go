package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigCadences(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.Scheduler.HeartbeatSeconds)
	assert.Equal(t, 120, cfg.Scheduler.EnrichmentSeconds)
	assert.Equal(t, 300, cfg.Scheduler.EmbedSweepSeconds)
	assert.Equal(t, 900, cfg.Scheduler.ResearchSeconds)
	assert.Equal(t, 1800, cfg.Scheduler.GovernanceSeconds)
	assert.Equal(t, 3600, cfg.Scheduler.AuditSeconds)
	assert.Equal(t, 21600, cfg.Scheduler.WatchdogSeconds)
}

func TestDefaultConfigCoordinatorConstants(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 0.10, cfg.Coordinator.EvaporationRate, 1e-9)
	assert.InDelta(t, 0.01, cfg.Coordinator.MinPheromone, 1e-9)
	assert.InDelta(t, 0.10, cfg.Coordinator.ExplorationProb, 1e-9)
	assert.InDelta(t, 0.3, cfg.Coordinator.DefaultWishConfidence, 1e-9)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Scheduler, cfg.Scheduler)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	content := "name: test-fleet\ngeneration: \"7\"\nstore:\n  path: custom.db\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-fleet", cfg.Name)
	assert.Equal(t, "7", cfg.Generation)
	assert.Equal(t, "custom.db", cfg.Store.Path)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "fleet.yaml")

	cfg := DefaultConfig()
	cfg.Name = "roundtrip-fleet"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip-fleet", loaded.Name)
}

func TestStorePathResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FleetRoot = "/var/fleet"
	cfg.Store.Path = "data/fleet.db"
	assert.Equal(t, "/var/fleet/data/fleet.db", cfg.StorePath())

	cfg.Store.Path = "/abs/fleet.db"
	assert.Equal(t, "/abs/fleet.db", cfg.StorePath())
}
