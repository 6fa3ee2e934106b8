package gate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetctl/internal/events"
	"fleetctl/internal/store"
)

func newTestEngine(t *testing.T, alphabet Alphabet) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.OpenRW(filepath.Join(t.TempDir(), "test.db"), store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	writer := events.NewWriter(st, events.WriterOptions{Namespace: "hfo", Generation: "1"})
	registry := events.DefaultModelRegistry()
	return New(alphabet, writer, registry, DefaultAgentRegistry(), t.TempDir(), "hfo", "1"), st
}

// Full PREY8 loop scenario, scenario 3.
func TestPREY8FullLoop(t *testing.T) {
	eng, st := newTestEngine(t, PREY8)
	agent := "p4_red_regnant"

	r1, err := eng.Step1(agent, "obs", "mem", "stig")
	require.NoError(t, err)
	assert.Equal(t, "OK", r1.Status)
	nonce := r1.Nonce
	require.NotEmpty(t, nonce)

	r2, err := eng.Step2(agent, nonce, "shared", "intent", 9, "justify", "plan")
	require.NoError(t, err)
	assert.Equal(t, "OK", r2.Status)
	reactToken := r2.Token
	require.NotEmpty(t, reactToken)

	r3, err := eng.Step3(agent, reactToken, "given", "when", "then", "artifacts", "red")
	require.NoError(t, err)
	assert.Equal(t, "OK", r3.Status)
	executeToken := r3.Token
	require.NotEmpty(t, executeToken)

	r4, err := eng.Step4(agent, executeToken, "pytest", "all passed", "PASSED")
	require.NoError(t, err)
	assert.Equal(t, "OK", r4.Status)
	assert.Equal(t, "step4_done", r4.Phase)

	sess, ok := eng.Session(agent)
	require.True(t, ok)
	assert.Len(t, sess.Chain, 4)

	rows, err := st.EventsByTypePrefix("hfo.gen1.prey8", 20)
	require.NoError(t, err)
	// perceive, react, execute, yield = 4 non-block events.
	var named int
	for _, r := range rows {
		if r.EventType == "hfo.gen1.prey8.perceive" || r.EventType == "hfo.gen1.prey8.react" ||
			r.EventType == "hfo.gen1.prey8.execute" || r.EventType == "hfo.gen1.prey8.yield" {
			named++
			assert.Contains(t, r.DataJSON, "signal_metadata")
		}
	}
	assert.Equal(t, 4, named)
}

func TestPREY8TamperedNonceBlocked(t *testing.T) {
	eng, _ := newTestEngine(t, PREY8)
	agent := "p4_red_regnant"

	_, err := eng.Step1(agent, "obs", "mem", "stig")
	require.NoError(t, err)

	r, err := eng.Step2(agent, "wrong-nonce", "shared", "intent", 5, "justify", "plan")
	require.Error(t, err)
	assert.Equal(t, "ERROR", r.Status)
	assert.Contains(t, r.Reason, "Tamper Alert: nonce mismatch")

	sess, ok := eng.Session(agent)
	require.True(t, ok)
	assert.Equal(t, PhaseStep1Done, sess.Phase, "tamper never advances the phase")
}

func TestPREY8YieldFailedDoesNotAdvance(t *testing.T) {
	eng, _ := newTestEngine(t, PREY8)
	agent := "p4_red_regnant"

	r1, _ := eng.Step1(agent, "obs", "mem", "stig")
	r2, _ := eng.Step2(agent, r1.Nonce, "shared", "intent", 5, "justify", "plan")
	r3, _ := eng.Step3(agent, r2.Token, "given", "when", "then", "artifacts", "check")

	r4, err := eng.Step4(agent, r3.Token, "pytest", "1 failed", "FAILED")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", r4.Status)

	sess, _ := eng.Session(agent)
	assert.Equal(t, PhaseStep3Done, sess.Phase, "failed yield keeps the session at step3 for re-execute")

	// A second react is allowed after the failure.
	r2b, err := eng.Step2(agent, r1.Nonce, "shared2", "intent2", 6, "justify2", "plan2")
	require.NoError(t, err)
	assert.Equal(t, "OK", r2b.Status)
}

func TestPREY8UnauthorizedAgentBlocked(t *testing.T) {
	eng, _ := newTestEngine(t, PREY8)
	r, err := eng.Step1("totally-unknown-caller", "obs", "mem", "stig")
	require.Error(t, err)
	assert.Equal(t, "ERROR", r.Status)
}

func TestPREY8NewSessionAfterYieldHasFreshChain(t *testing.T) {
	eng, _ := newTestEngine(t, PREY8)
	agent := "p4_red_regnant"

	r1, _ := eng.Step1(agent, "obs", "mem", "stig")
	r2, _ := eng.Step2(agent, r1.Nonce, "shared", "intent", 5, "justify", "plan")
	r3, _ := eng.Step3(agent, r2.Token, "given", "when", "then", "artifacts", "check")
	_, err := eng.Step4(agent, r3.Token, "pytest", "all passed", "PASSED")
	require.NoError(t, err)

	r1b, err := eng.Step1(agent, "obs2", "mem2", "stig2")
	require.NoError(t, err)
	assert.NotEqual(t, r1.SessionID, r1b.SessionID)

	sess, _ := eng.Session(agent)
	assert.Len(t, sess.Chain, 1, "a new session's chain starts fresh from genesis")
}

func TestHIVE8MirrorsSameSkeleton(t *testing.T) {
	eng, _ := newTestEngine(t, HIVE8)
	agent := "swarm_worker_1"

	r1, err := eng.Step1(agent, "obs", "mem", "stig")
	require.NoError(t, err)
	r2, err := eng.Step2(agent, r1.Nonce, "shared", "intent", 5, "justify", "plan")
	require.NoError(t, err)
	r3, err := eng.Step3(agent, r2.Token, "given", "when", "then", "artifacts", "check")
	require.NoError(t, err)
	r4, err := eng.Step4(agent, r3.Token, "go test", "ok", "PASSED")
	require.NoError(t, err)
	assert.Equal(t, "OK", r4.Status)
}
