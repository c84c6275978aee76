package common

import "sync"

const DefaultCapacityMbps = 500.0

type switchPair struct {
	a, b uint64
}

func orderedPair(a, b uint64) switchPair {
	if a > b {
		a, b = b, a
	}
	return switchPair{a: a, b: b}
}

// CapacityTable holds per-link capacity for switch-to-switch links. Entries
// are undirected; anything not listed gets the default.
type CapacityTable struct {
	defaultMbps float64
	links       map[switchPair]float64
	mu          sync.RWMutex
}

func NewCapacityTable(defaultMbps float64) *CapacityTable {
	if defaultMbps <= 0 {
		defaultMbps = DefaultCapacityMbps
	}
	return &CapacityTable{
		defaultMbps: defaultMbps,
		links:       make(map[switchPair]float64),
	}
}

func (c *CapacityTable) Set(a, b uint64, mbps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links[orderedPair(a, b)] = mbps
}

func (c *CapacityTable) Lookup(src, dst Node) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if src.IsSwitch() && dst.IsSwitch() {
		if v, ok := c.links[orderedPair(src.DPID, dst.DPID)]; ok {
			return v
		}
	}
	return c.defaultMbps
}
