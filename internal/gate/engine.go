package gate

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"fleetctl/internal/events"
	"fleetctl/internal/logging"
)

// Engine is the generic eight-tile engine shared by both alphabets
// rather than reimplemented separately. One Engine instance serves
// one alphabet; a process wanting both PREY8 and HIVE8 sessions runs two
// Engines over the same Writer/ModelRegistry.
type Engine struct {
	alphabet Alphabet
	writer   *events.Writer
	registry *events.ModelRegistry
	agents   *AgentRegistry
	stateDir string
	ns, gen  string

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds an Engine for alphabet, writing events through writer with
// signal_metadata from registry, authorizing callers via agents (nil
// uses DefaultAgentRegistry), and persisting session state under
// stateDir (empty disables persistence, e.g. in tests).
func New(alphabet Alphabet, writer *events.Writer, registry *events.ModelRegistry, agents *AgentRegistry, stateDir, ns, gen string) *Engine {
	if agents == nil {
		agents = DefaultAgentRegistry()
	}
	if ns == "" {
		ns = "hfo"
	}
	if gen == "" {
		gen = "1"
	}
	return &Engine{
		alphabet: alphabet, writer: writer, registry: registry, agents: agents,
		stateDir: stateDir, ns: ns, gen: gen, sessions: make(map[string]*Session),
	}
}

// Step1 is perceive (PREY8) / hunt (HIVE8).
func (e *Engine) Step1(agentID, observations, memoryRefs, stigmergyDigest string) (Result, error) {
	info, ok := e.agents.Authorize(agentID)
	if !ok {
		return e.blocked(agentID, e.alphabet.Tile1, "agent not authorized")
	}
	if !info.AllowsTile(e.alphabet.Tile1) {
		return e.blocked(agentID, e.alphabet.Tile1, fmt.Sprintf("agent %s not permitted for tile %s", agentID, e.alphabet.Tile1))
	}
	if observations == "" || memoryRefs == "" || stigmergyDigest == "" {
		return e.blocked(agentID, e.alphabet.Tile1, "observations, memory_refs, and stigmergy_digest must all be non-empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.currentSessionLocked(agentID)
	if sess != nil && sess.Phase != PhaseIdle && sess.Phase != PhaseStep4Done {
		return e.blocked(agentID, e.alphabet.Tile1, fmt.Sprintf("phase %s does not permit %s", sess.Phase, e.alphabet.Tile1))
	}

	sessionID := uuid.NewString()
	nonce := uuid.NewString()
	newSess := &Session{SessionID: sessionID, AgentID: agentID, Alphabet: e.alphabet.Name, Phase: PhaseStep1Done, PerceiveNonce: nonce}

	data := map[string]interface{}{
		"session_id":       sessionID,
		"nonce":            nonce,
		"observations":     observations,
		"memory_refs":      memoryRefs,
		"stigmergy_digest": stigmergyDigest,
	}
	if _, err := newSess.appendChain(nonce, data); err != nil {
		return Result{}, fmt.Errorf("append chain: %w", err)
	}

	e.sessions[agentID] = newSess
	persistSession(e.stateDir, e.alphabet.Name, newSess)
	e.writeEvent(e.alphabet.Tile1, agentID, info, data)

	logging.Gate("%s: %s -> nonce=%s session=%s", e.alphabet.Tile1, agentID, nonce, sessionID)
	return Result{
		Status: "OK", SessionID: sessionID, Nonce: nonce, Phase: newSess.Phase.String(),
		Instruction: fmt.Sprintf("you MUST call %s with nonce=%s", e.alphabet.Tile2, nonce),
	}, nil
}

// Step2 is react (PREY8) / intervene (HIVE8).
func (e *Engine) Step2(agentID, nonce, sharedDataRefs, navigationIntent string, meadowsLevel int, meadowsJustification, sequentialPlan string) (Result, error) {
	info, ok := e.agents.Authorize(agentID)
	if !ok {
		return e.blocked(agentID, e.alphabet.Tile2, "agent not authorized")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.currentSessionLocked(agentID)
	if sess == nil {
		return e.blocked(agentID, e.alphabet.Tile2, fmt.Sprintf("no active session; call %s first", e.alphabet.Tile1))
	}
	if nonce != sess.PerceiveNonce {
		return e.tamper(agentID, "nonce")
	}
	if sess.Phase != PhaseStep1Done && sess.Phase != PhaseStep3Done {
		return e.blocked(agentID, e.alphabet.Tile2, fmt.Sprintf("phase %s does not permit %s", sess.Phase, e.alphabet.Tile2))
	}
	if agentID == "" || nonce == "" || sharedDataRefs == "" || navigationIntent == "" || meadowsJustification == "" || sequentialPlan == "" {
		return e.blocked(agentID, e.alphabet.Tile2, "all six fields must be non-empty")
	}
	if meadowsLevel < 1 || meadowsLevel > 12 {
		return e.blocked(agentID, e.alphabet.Tile2, "meadows_level must be in 1..12")
	}

	token := uuid.NewString()
	data := map[string]interface{}{
		"token":                 token,
		"shared_data_refs":      sharedDataRefs,
		"navigation_intent":     navigationIntent,
		"meadows_level":         meadowsLevel,
		"meadows_justification": meadowsJustification,
		"sequential_plan":       sequentialPlan,
	}
	if _, err := sess.appendChain(token, data); err != nil {
		return Result{}, fmt.Errorf("append chain: %w", err)
	}
	sess.ReactTokens = append(sess.ReactTokens, token)
	sess.Phase = PhaseStep2Done
	persistSession(e.stateDir, e.alphabet.Name, sess)
	e.writeEvent(e.alphabet.Tile2, agentID, info, data)

	logging.Gate("%s: %s -> token=%s", e.alphabet.Tile2, agentID, token)
	return Result{
		Status: "OK", SessionID: sess.SessionID, Token: token, Phase: sess.Phase.String(),
		Instruction: fmt.Sprintf("you MUST call %s with token=%s", e.alphabet.Tile3, token),
	}, nil
}

// Step3 is execute (PREY8) / verify (HIVE8).
func (e *Engine) Step3(agentID, reactToken, sbeGiven, sbeWhen, sbeThen, artifacts, adversarialCheck string) (Result, error) {
	info, ok := e.agents.Authorize(agentID)
	if !ok {
		return e.blocked(agentID, e.alphabet.Tile3, "agent not authorized")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.currentSessionLocked(agentID)
	if sess == nil {
		return e.blocked(agentID, e.alphabet.Tile3, fmt.Sprintf("no active session; call %s first", e.alphabet.Tile1))
	}
	if !sess.hasReactToken(reactToken) {
		return e.tamper(agentID, e.alphabet.Tile2+"_token")
	}
	if sess.Phase != PhaseStep2Done {
		return e.blocked(agentID, e.alphabet.Tile3, fmt.Sprintf("phase %s does not permit %s", sess.Phase, e.alphabet.Tile3))
	}
	if sbeGiven == "" || sbeWhen == "" || sbeThen == "" || artifacts == "" || adversarialCheck == "" {
		return e.blocked(agentID, e.alphabet.Tile3, "sbe_given, sbe_when, sbe_then, artifacts, and the adversarial check must all be non-empty")
	}

	token := uuid.NewString()
	data := map[string]interface{}{
		"token":              token,
		"sbe_given":          sbeGiven,
		"sbe_when":           sbeWhen,
		"sbe_then":           sbeThen,
		"artifacts":          artifacts,
		"adversarial_check":  adversarialCheck,
	}
	if _, err := sess.appendChain(token, data); err != nil {
		return Result{}, fmt.Errorf("append chain: %w", err)
	}
	sess.ExecuteTokens = append(sess.ExecuteTokens, token)
	sess.Phase = PhaseStep3Done
	persistSession(e.stateDir, e.alphabet.Name, sess)
	e.writeEvent(e.alphabet.Tile3, agentID, info, data)

	logging.Gate("%s: %s -> token=%s", e.alphabet.Tile3, agentID, token)
	return Result{
		Status: "OK", SessionID: sess.SessionID, Token: token, Phase: sess.Phase.String(),
		Instruction: fmt.Sprintf("you MUST call %s with token=%s", e.alphabet.Tile4, token),
	}, nil
}

// Step4 is yield (PREY8) / emit (HIVE8). FAILED leaves phase
// at step3 (re-intervene/re-execute required) without advancing the
// chain; PASSED advances the chain and closes the session out to
// PhaseStep4Done, from which the next Step1 call starts a fresh session.
func (e *Engine) Step4(agentID, executeToken, testCommand, testOutput, status string) (Result, error) {
	info, ok := e.agents.Authorize(agentID)
	if !ok {
		return e.blocked(agentID, e.alphabet.Tile4, "agent not authorized")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.currentSessionLocked(agentID)
	if sess == nil {
		return e.blocked(agentID, e.alphabet.Tile4, fmt.Sprintf("no active session; call %s first", e.alphabet.Tile1))
	}
	if !sess.hasExecuteToken(executeToken) {
		return e.tamper(agentID, e.alphabet.Tile3+"_token")
	}
	if sess.Phase != PhaseStep3Done {
		return e.blocked(agentID, e.alphabet.Tile4, fmt.Sprintf("phase %s does not permit %s", sess.Phase, e.alphabet.Tile4))
	}
	if status != "PASSED" && status != "FAILED" {
		return e.blocked(agentID, e.alphabet.Tile4, "status must be PASSED or FAILED")
	}

	data := map[string]interface{}{
		"test_command": testCommand,
		"test_output":  testOutput,
		"status":       status,
		"nonce":        sess.PerceiveNonce,
	}

	if status == "FAILED" {
		persistSession(e.stateDir, e.alphabet.Name, sess)
		e.writeEvent(e.alphabet.Tile4, agentID, info, data)
		logging.GateWarn("%s FAILED for %s; re-%s/%s required", e.alphabet.Tile4, agentID, e.alphabet.Tile2, e.alphabet.Tile3)
		return Result{
			Status: "FAILED", SessionID: sess.SessionID, Phase: sess.Phase.String(),
			Instruction: fmt.Sprintf("tests failed; call %s then %s again", e.alphabet.Tile2, e.alphabet.Tile3),
		}, nil
	}

	if _, err := sess.appendChain(executeToken, data); err != nil {
		return Result{}, fmt.Errorf("append chain: %w", err)
	}
	sess.Phase = PhaseStep4Done
	persistSession(e.stateDir, e.alphabet.Name, sess)
	e.writeEvent(e.alphabet.Tile4, agentID, info, data)

	logging.Gate("%s PASSED for %s; session %s complete", e.alphabet.Tile4, agentID, sess.SessionID)
	return Result{Status: "OK", SessionID: sess.SessionID, Phase: sess.Phase.String()}, nil
}

// Session returns the in-memory session for agentID, loading it from
// disk first if the process has not seen this agent yet. The in-memory
// map is authoritative within a process; disk is best-effort backup.
func (e *Engine) Session(agentID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess := e.currentSessionLocked(agentID)
	if sess == nil {
		return nil, false
	}
	return sess, true
}

func (e *Engine) currentSessionLocked(agentID string) *Session {
	if sess, ok := e.sessions[agentID]; ok {
		return sess
	}
	if sess, ok := loadSession(e.stateDir, e.alphabet.Name, agentID); ok {
		e.sessions[agentID] = sess
		return sess
	}
	return nil
}

// writeEvent pushes one gate event through C2, attaching synthetic
// signal_metadata so audits work uniformly even though gate event
// types are exempt from the DB-level trigger.
func (e *Engine) writeEvent(tile, agentID string, info AgentInfo, data map[string]interface{}) {
	port := "P0"
	if len(info.Ports) > 0 {
		port = info.Ports[0]
	}
	sig := e.registry.BuildSignalMetadata(port, e.alphabet.Name, agentID, events.Observations{})
	eventType := e.alphabet.EventType(e.ns, e.gen, tile)
	subject := fmt.Sprintf("%s:%s", e.alphabet.Name, agentID)
	if _, err := e.writer.WriteEvent(eventType, subject, data, &sig); err != nil {
		logging.GateError("write %s event for %s: %v", tile, agentID, err)
	}
}

// blocked records a fail-closed gate rejection: a check whose failure
// blocks the downstream action and emits a visible event.
func (e *Engine) blocked(agentID, tile, reason string) (Result, error) {
	logging.GateWarn("gate blocked agent=%s tile=%s reason=%s", agentID, tile, reason)
	info, _ := e.agents.Authorize(agentID)
	e.writeEvent(tile+"_gate_block", agentID, info, map[string]interface{}{"reason": reason})
	return Result{Status: "ERROR", Reason: reason}, &GateBlockedError{AgentID: agentID, Reason: reason}
}

// tamper records a nonce/token mismatch without rolling back the
// session: the chain is never rolled back, the session is simply
// blocked from advancing.
func (e *Engine) tamper(agentID, name string) (Result, error) {
	reason := fmt.Sprintf("Tamper Alert: %s mismatch", name)
	logging.GateWarn("%s for agent=%s", reason, agentID)
	info, _ := e.agents.Authorize(agentID)
	e.writeEvent("tamper_alert", agentID, info, map[string]interface{}{"reason": reason})
	return Result{Status: "ERROR", Reason: reason}, &GateBlockedError{AgentID: agentID, Reason: reason}
}
