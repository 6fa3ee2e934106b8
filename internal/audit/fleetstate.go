package audit

import (
	"encoding/json"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// wishFleetState is a read-only mirror of watchdog's .fleet_state.json
// shape. The invariant verifier only ever reads this file; restart
// authority stays exclusively with internal/watchdog.
type wishFleetState struct {
	Daemons map[string]wishDaemonState `json:"daemons"`
}

type wishDaemonState struct {
	PID int `json:"pid"`
}

func loadFleetStateForWish(path string) wishFleetState {
	out := wishFleetState{Daemons: make(map[string]wishDaemonState)}
	raw, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	if out.Daemons == nil {
		out.Daemons = make(map[string]wishDaemonState)
	}
	return out
}

func pidAliveForWish(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return alive
}
