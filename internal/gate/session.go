package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"fleetctl/internal/logging"
)

// Genesis is the fixed parent hash every session's chain starts from:
// a hash chain where each hash is SHA-256 over (parent_hash, nonce,
// serialized data).
const Genesis = "GATE-GENESIS-0000000000000000000000000000000000000000000000000000000000000000"

// ChainEntry is one append-only link (Session state).
type ChainEntry struct {
	Step int    `json:"step"`
	Hash string `json:"hash"`
}

// Session is the per-agent gated-session state.
type Session struct {
	SessionID     string       `json:"session_id"`
	AgentID       string       `json:"agent_id"`
	Alphabet      string       `json:"alphabet"`
	Phase         Phase        `json:"phase"`
	PerceiveNonce string       `json:"perceive_nonce"`
	ReactTokens   []string     `json:"react_tokens"`
	ExecuteTokens []string     `json:"execute_tokens"`
	Chain         []ChainEntry `json:"chain"`
}

// appendChain computes the next link's hash from the current tail
// (or Genesis for step 0) and records it: chain[k].hash ==
// SHA-256(chain[k-1].hash || nonce_k || canonical_json(data_k)).
func (s *Session) appendChain(nonce string, data map[string]interface{}) (string, error) {
	parent := Genesis
	if len(s.Chain) > 0 {
		parent = s.Chain[len(s.Chain)-1].Hash
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize chain data: %w", err)
	}
	sum := sha256.Sum256([]byte(parent + "|" + nonce + "|" + string(raw)))
	hash := hex.EncodeToString(sum[:])
	s.Chain = append(s.Chain, ChainEntry{Step: len(s.Chain), Hash: hash})
	return hash, nil
}

func (s *Session) hasReactToken(token string) bool {
	for _, t := range s.ReactTokens {
		if t == token {
			return true
		}
	}
	return false
}

func (s *Session) hasExecuteToken(token string) bool {
	for _, t := range s.ExecuteTokens {
		if t == token {
			return true
		}
	}
	return false
}

var unsafeAgentChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// safeAgentFile returns the filesystem-safe form of an agent_id used to
// key its session state file (".prey8_session_<agent>.json").
func safeAgentFile(agentID string) string {
	return unsafeAgentChars.ReplaceAllString(agentID, "_")
}

// sessionPath resolves the state file for an agent under a given
// alphabet (prey8/hive8), e.g. "<root>/.prey8_session_p4_red_regnant.json".
func sessionPath(stateDir, alphabetName, agentID string) string {
	return fmt.Sprintf("%s/.%s_session_%s.json", stateDir, alphabetName, safeAgentFile(agentID))
}

// persistSession writes session state to disk as plain JSON with
// best-effort atomic replacement, never fatal on failure.
func persistSession(stateDir, alphabetName string, s *Session) {
	if stateDir == "" {
		return
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		logging.GateWarn("marshal session for %s: %v", s.AgentID, err)
		return
	}
	path := sessionPath(stateDir, alphabetName, s.AgentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.GateWarn("write session tmp file for %s: %v", s.AgentID, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.GateWarn("rename session file for %s: %v", s.AgentID, err)
	}
}

// loadSession reads a session back from disk; absence or decode errors
// are tolerated, returning (nil, false) in either case.
func loadSession(stateDir, alphabetName, agentID string) (*Session, bool) {
	if stateDir == "" {
		return nil, false
	}
	raw, err := os.ReadFile(sessionPath(stateDir, alphabetName, agentID))
	if err != nil {
		return nil, false
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}
