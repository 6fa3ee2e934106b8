package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrideFleetRoot(t *testing.T) {
	t.Setenv("HFO_ROOT", "/tmp/fleet-root")
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, "/tmp/fleet-root", cfg.FleetRoot)
}

func TestEnvOverrideGeneration(t *testing.T) {
	t.Setenv("HFO_GENERATION", "42")
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, "42", cfg.Generation)
}

func TestEnvOverrideOllamaHost(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://10.0.0.5:11434")
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, "http://10.0.0.5:11434", cfg.LLM.OllamaHost)
}

func TestEnvOverrideAbsentLeavesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	want := cfg.LLM.OllamaHost
	cfg.applyEnvOverrides()
	require.Equal(t, want, cfg.LLM.OllamaHost)
}

func TestLoadAppliesEnvOverridesOverFileValues(t *testing.T) {
	t.Setenv("HFO_GENERATION", "99")
	dir := t.TempDir()
	path := dir + "/fleetctl.yaml"
	require.NoError(t, os.WriteFile(path, []byte("generation: \"7\"\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "99", cfg.Generation)
}
