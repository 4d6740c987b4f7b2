package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/metahuman-os/cortex/internal/identity"
	"github.com/metahuman-os/cortex/internal/util"
)

// Heartbeat is the liveness signal at state/daemon/heartbeat.json. It is
// observability only, never a correctness mechanism: nothing decides
// anything based on its contents.
type Heartbeat struct {
	TS    time.Time `json:"ts"`
	State State     `json:"state"`
	Cycle uint64    `json:"cycle"`
}

func (o *Orchestrator) writeHeartbeat() {
	hb := Heartbeat{TS: time.Now().UTC(), State: o.State(), Cycle: o.cycle}
	if err := util.AtomicWriteJSON(HeartbeatFile(o.paths()), &hb); err != nil {
		o.logf("Warning: failed to write heartbeat: %v", err)
	}
}

// ReadHeartbeat loads the last written heartbeat for a profile, or
// (nil, nil) when the daemon has never run.
func ReadHeartbeat(paths identity.ProfilePaths) (*Heartbeat, error) {
	data, err := os.ReadFile(HeartbeatFile(paths))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("parsing heartbeat: %w", err)
	}
	return &hb, nil
}
