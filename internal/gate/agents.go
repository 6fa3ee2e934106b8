package gate

import (
	"regexp"
	"sync"
)

// AgentInfo is one row of the static agent registry.
type AgentInfo struct {
	AgentID      string
	DisplayName  string
	Ports        []string
	AllowedGates []string // empty = all tiles allowed
}

// dynamicAgentPattern matches the three auto-registration shapes:
// P<digit>..., swarm_..., agent_.... Everything else that isn't in the
// static table is GATE_BLOCKED — deny by default.
var dynamicAgentPattern = regexp.MustCompile(`(?i)^(p\d|swarm_|agent_)`)

// AgentRegistry is C5's static table plus the dynamic-agent fallback.
type AgentRegistry struct {
	mu     sync.RWMutex
	static map[string]AgentInfo
}

// DefaultAgentRegistry seeds a handful of well-known agents; anything
// matching the dynamic pattern is auto-registered with broad
// permissions at lookup time.
func DefaultAgentRegistry() *AgentRegistry {
	r := &AgentRegistry{static: make(map[string]AgentInfo)}
	for _, a := range []AgentInfo{
		{AgentID: "p4_red_regnant", DisplayName: "Red Regnant", Ports: []string{"P4"}},
		{AgentID: "p0_watchtower", DisplayName: "Watchtower", Ports: []string{"P0"}},
		{AgentID: "p7_navigator", DisplayName: "Navigator", Ports: []string{"P7"}},
		{AgentID: "operator", DisplayName: "Operator", Ports: []string{"P0", "P1", "P2", "P3", "P4", "P5", "P6", "P7"}},
	} {
		r.static[a.AgentID] = a
	}
	return r
}

// Register adds or replaces a static agent entry.
func (r *AgentRegistry) Register(a AgentInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[a.AgentID] = a
}

// Authorize reports whether agentID may participate in gated sessions
// and, if so, its registry info. Static entries win; otherwise the
// dynamic pattern auto-registers with broad permissions; otherwise the
// agent is denied (fail-closed).
func (r *AgentRegistry) Authorize(agentID string) (AgentInfo, bool) {
	r.mu.RLock()
	if info, ok := r.static[agentID]; ok {
		r.mu.RUnlock()
		return info, true
	}
	r.mu.RUnlock()

	if dynamicAgentPattern.MatchString(agentID) {
		return AgentInfo{AgentID: agentID, DisplayName: agentID}, true
	}
	return AgentInfo{}, false
}

// AllowsTile reports whether info permits the named tile. An empty
// AllowedGates list means all tiles are permitted.
func (info AgentInfo) AllowsTile(tile string) bool {
	if len(info.AllowedGates) == 0 {
		return true
	}
	for _, g := range info.AllowedGates {
		if g == tile {
			return true
		}
	}
	return false
}
