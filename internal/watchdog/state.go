package watchdog

import (
	"encoding/json"
	"os"

	"fleetctl/internal/logging"
)

// DaemonState is one entry of the lifecycle supervisor's persisted fleet
// state, held in .fleet_state.json.
type DaemonState struct {
	PID          int    `json:"pid"`
	Script       string `json:"script"`
	Port         string `json:"port"`
	Started      string `json:"started"`
	StartedBy    string `json:"started_by"`
	RestartCount int    `json:"restart_count"`
}

// FleetState is the full persisted shape of .fleet_state.json.
type FleetState struct {
	Daemons    map[string]DaemonState `json:"daemons"`
	LastUpdate string                 `json:"last_update"`
}

func newFleetState() *FleetState {
	return &FleetState{Daemons: make(map[string]DaemonState)}
}

// loadFleetState reads state from path, tolerating absence or a decode
// failure by returning a fresh empty state (mirrors internal/gate's
// session-file tolerance).
func loadFleetState(path string) *FleetState {
	raw, err := os.ReadFile(path)
	if err != nil {
		return newFleetState()
	}
	var s FleetState
	if err := json.Unmarshal(raw, &s); err != nil {
		logging.WatchdogWarn("decode fleet state %s: %v", path, err)
		return newFleetState()
	}
	if s.Daemons == nil {
		s.Daemons = make(map[string]DaemonState)
	}
	return &s
}

// saveFleetState writes state atomically (write-tmp, rename), best
// effort — a failed write is logged, never fatal to the check loop.
func saveFleetState(path string, s *FleetState) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		logging.WatchdogWarn("marshal fleet state: %v", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.WatchdogWarn("write fleet state tmp %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.WatchdogWarn("rename fleet state to %s: %v", path, err)
	}
}

// DefenseState is the defense supervisor's persisted watermark plus
// score trend history: last_event_id, a rolling score_history capped at
// maxScoreHistory entries (its last entry is the latest score), and
// updated_at.
type DefenseState struct {
	LastEventID  int64  `json:"last_event_id"`
	ScoreHistory []int  `json:"score_history"`
	UpdatedAt    string `json:"updated_at"`
}

const maxScoreHistory = 50

func newDefenseState() *DefenseState {
	return &DefenseState{}
}

func loadDefenseState(path string) *DefenseState {
	raw, err := os.ReadFile(path)
	if err != nil {
		return newDefenseState()
	}
	var s DefenseState
	if err := json.Unmarshal(raw, &s); err != nil {
		logging.WatchdogWarn("decode defense state %s: %v", path, err)
		return newDefenseState()
	}
	return &s
}

func saveDefenseState(path string, s *DefenseState) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		logging.WatchdogWarn("marshal defense state: %v", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.WatchdogWarn("write defense state tmp %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.WatchdogWarn("rename defense state to %s: %v", path, err)
	}
}

func (s *DefenseState) pushScore(score int) {
	s.ScoreHistory = append(s.ScoreHistory, score)
	if len(s.ScoreHistory) > maxScoreHistory {
		s.ScoreHistory = s.ScoreHistory[len(s.ScoreHistory)-maxScoreHistory:]
	}
}
