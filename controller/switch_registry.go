package controller

import (
	"sort"
	"sync"

	"github.com/scylladb/go-set/u64set"

	"qoerouting/southbound"
)

// SwitchRegistry is the live-switch set. It has its own lock so the
// telemetry loop can list switches while the controller holds its mutex.
type SwitchRegistry struct {
	mu       sync.RWMutex
	live     *u64set.Set
	switches map[uint64]southbound.Switch
}

func NewSwitchRegistry() *SwitchRegistry {
	return &SwitchRegistry{
		live:     u64set.New(),
		switches: make(map[uint64]southbound.Switch),
	}
}

// Add records the switch and reports whether its control channel is new:
// either the dpid was not live or it reconnected on another channel.
func (r *SwitchRegistry) Add(sw southbound.Switch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	dpid := sw.DPID()
	changed := !r.live.Has(dpid) || r.switches[dpid] != sw
	r.live.Add(dpid)
	r.switches[dpid] = sw
	return changed
}

// Remove drops the switch and returns how many remain live. When sw is not
// nil the entry is only dropped if it is still that channel; a stale close
// from a replaced channel is ignored.
func (r *SwitchRegistry) Remove(dpid uint64, sw southbound.Switch) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live.Has(dpid) {
		return r.live.Size(), false
	}
	if sw != nil && r.switches[dpid] != sw {
		return r.live.Size(), false
	}
	r.live.Remove(dpid)
	delete(r.switches, dpid)
	return r.live.Size(), true
}

func (r *SwitchRegistry) Get(dpid uint64) (southbound.Switch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sw, ok := r.switches[dpid]
	return sw, ok
}

func (r *SwitchRegistry) Has(dpid uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live.Has(dpid)
}

func (r *SwitchRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live.Size()
}

// Switches returns the live switches ordered by DPID.
func (r *SwitchRegistry) Switches() []southbound.Switch {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dpids := r.live.List()
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })
	out := make([]southbound.Switch, 0, len(dpids))
	for _, dpid := range dpids {
		out = append(out, r.switches[dpid])
	}
	return out
}
