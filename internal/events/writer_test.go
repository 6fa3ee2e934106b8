package events

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/store"
)

func newTestWriter(t *testing.T) (*Writer, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.OpenRW(dbPath, store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewWriter(st, WriterOptions{Namespace: "hfo", Generation: "1"}), st
}

// Canonical write scenario from scenario 1.
func TestWriteEventCanonicalWriteAndDedup(t *testing.T) {
	w, st := newTestWriter(t)
	sig := &SignalMetadata{Port: "P4", ModelID: "gemma3:4b", DaemonName: "SelfTest", ModelProvider: "ollama"}

	id1, err := w.WriteEvent("hfo.gen1.self_test", "self_test:canonical_write", map[string]interface{}{"test": true}, sig)
	require.NoError(t, err)
	assert.Greater(t, id1, int64(0))

	id2, err := w.WriteEvent("hfo.gen1.self_test", "self_test:canonical_write", map[string]interface{}{"test": true}, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id2, "identical write must dedup to 0")

	rows, err := st.EventsByTypePrefix("hfo.gen1.self_test", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].DataJSON, `"model_id":"gemma3:4b"`)
}

func TestWriteEventMissingSignalMetadata(t *testing.T) {
	w, st := newTestWriter(t)

	id, err := w.WriteEvent("hfo.gen1.daemon.tick", "subj", map[string]interface{}{}, nil)
	assert.Equal(t, int64(0), id)
	assert.ErrorIs(t, err, ErrSignalMetadataMissing)

	rows, err := st.EventsByTypePrefix("hfo.gen1.ssot_write.gate_block", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0].DataJSON, "signal_metadata_missing")
}

func TestWriteEventIncompleteSignalMetadata(t *testing.T) {
	w, _ := newTestWriter(t)

	_, err := w.WriteEvent("hfo.gen1.daemon.tick", "subj", map[string]interface{}{}, &SignalMetadata{Port: "P4"})
	var incomplete *SignalMetadataIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.ElementsMatch(t, []string{"model_id", "daemon_name", "model_provider"}, incomplete.Missing)
	assert.ErrorIs(t, err, ErrSignalMetadataIncomplete)
}

func TestWriteEventEmptyStringFailsLikeMissing(t *testing.T) {
	w, _ := newTestWriter(t)

	_, err := w.WriteEvent("hfo.gen1.daemon.tick", "subj", nil, &SignalMetadata{
		Port: "P4", ModelID: "", DaemonName: "X", ModelProvider: "y",
	})
	var incomplete *SignalMetadataIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"model_id"}, incomplete.Missing)
}

// Gate trigger bypass rejected: scenario 2 — inserting directly
// against the DB, bypassing the Writer, is rejected by the structural
// gate trigger itself.
func TestDirectInsertBypassingWriterIsRejectedByTrigger(t *testing.T) {
	_, st := newTestWriter(t)

	_, err := st.DB().Exec(
		`INSERT INTO stigmergy_events(event_type, timestamp, subject, source, data_json, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"hfo.gen1.bypass.test", "2026-01-01T00:00:00Z", "subj", "test", `{"data":{"foo":"bar"}}`, "deadbeef",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRUCTURAL_GATE")
}

func TestBuildSignalMetadataUnknownModelDefaults(t *testing.T) {
	reg := DefaultModelRegistry()
	sig := reg.BuildSignalMetadata("P4", "some-unreleased-model", "Daemon", Observations{})
	assert.Equal(t, "Unknown", sig.ModelFamily)
	assert.Equal(t, "unknown", sig.ModelProvider)
	assert.Empty(t, sig.MissingFields())
}

func TestBuildSignalMetadataKnownModel(t *testing.T) {
	reg := DefaultModelRegistry()
	sig := reg.BuildSignalMetadata("P4", "gemma3:4b", "SelfTest", Observations{TokensIn: 1000, TokensOut: 500})
	assert.Equal(t, "ollama", sig.ModelProvider)
	assert.Equal(t, "Gemma3", sig.ModelFamily)
	assert.Equal(t, "small", sig.ModelTier)
}
