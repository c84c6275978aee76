package common

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Node is either a switch (DPID) or a host (MAC). The zero value is invalid.
type Node struct {
	DPID uint64
	MAC  string
}

func SwitchNode(dpid uint64) Node {
	return Node{DPID: dpid}
}

func HostNode(mac string) Node {
	return Node{MAC: strings.ToLower(mac)}
}

func (n Node) IsHost() bool {
	return n.MAC != ""
}

func (n Node) IsSwitch() bool {
	return n.MAC == "" && n.DPID != 0
}

func (n Node) String() string {
	if n.IsHost() {
		return n.MAC
	}
	return fmt.Sprintf("s%d", n.DPID)
}

// nodeLess orders switches by DPID first, then hosts by MAC.
func nodeLess(a, b Node) bool {
	if a.IsHost() != b.IsHost() {
		return !a.IsHost()
	}
	if a.IsHost() {
		return a.MAC < b.MAC
	}
	return a.DPID < b.DPID
}

func SortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodeLess(nodes[i], nodes[j]) })
}

type MetricField int

const (
	MetricBandwidth MetricField = iota
	MetricDelay
	MetricLoss
)

func (f MetricField) String() string {
	switch f {
	case MetricBandwidth:
		return "bandwidth"
	case MetricDelay:
		return "delay"
	case MetricLoss:
		return "loss"
	default:
		return "unknown"
	}
}

// Link is one direction of an edge. Port is the egress port on Src; for a
// host-to-switch direction it is 0.
type Link struct {
	Src           Node
	Dst           Node
	Port          uint32
	BandwidthMbps float64
	DelayMs       float64
	LossPct       float64
	CapacityMbps  float64

	// one-way propagation estimate from discovery, seconds
	DiscoveryLatency float64
	HasLatency       bool
}

func (l *Link) metric(field MetricField) float64 {
	switch field {
	case MetricBandwidth:
		return l.BandwidthMbps
	case MetricDelay:
		return l.DelayMs
	case MetricLoss:
		return l.LossPct
	}
	return 0
}

type TopologyStore struct {
	nodes      map[Node]struct{}
	links      map[Node]map[Node]*Link
	capacities *CapacityTable
	misses     atomic.Uint64
	mutex      sync.RWMutex
}

func NewTopologyStore(capacities *CapacityTable) *TopologyStore {
	if capacities == nil {
		capacities = NewCapacityTable(DefaultCapacityMbps)
	}
	return &TopologyStore{
		nodes:      make(map[Node]struct{}),
		links:      make(map[Node]map[Node]*Link),
		capacities: capacities,
	}
}

func (t *TopologyStore) AddNode(n Node) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.nodes[n] = struct{}{}
}

func (t *TopologyStore) HasNode(n Node) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	_, ok := t.nodes[n]
	return ok
}

// AddLink adds or refreshes the src->dst direction only. Metrics of an
// existing link are kept.
func (t *TopologyStore) AddLink(src, dst Node, port uint32) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.addLinkLocked(src, dst, port)
}

// AddBidirectionalLink creates both directions under a single write lock.
func (t *TopologyStore) AddBidirectionalLink(a, b Node, portAB, portBA uint32) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.addLinkLocked(a, b, portAB)
	t.addLinkLocked(b, a, portBA)
}

func (t *TopologyStore) addLinkLocked(src, dst Node, port uint32) {
	t.nodes[src] = struct{}{}
	t.nodes[dst] = struct{}{}
	if _, exists := t.links[src]; !exists {
		t.links[src] = make(map[Node]*Link)
	}
	if l, exists := t.links[src][dst]; exists {
		l.Port = port
		return
	}
	t.links[src][dst] = &Link{
		Src:          src,
		Dst:          dst,
		Port:         port,
		CapacityMbps: t.capacities.Lookup(src, dst),
	}
}

func (t *TopologyStore) RemoveBidirectionalLink(a, b Node) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if out, ok := t.links[a]; ok {
		delete(out, b)
	}
	if out, ok := t.links[b]; ok {
		delete(out, a)
	}
}

// RemoveNode drops the node and every link touching it.
func (t *TopologyStore) RemoveNode(n Node) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.nodes, n)
	delete(t.links, n)
	for _, out := range t.links {
		delete(out, n)
	}
}

// SetMetric is a no-op on an unknown link; the miss is counted.
func (t *TopologyStore) SetMetric(src, dst Node, field MetricField, value float64) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	l := t.linkLocked(src, dst)
	if l == nil {
		t.misses.Add(1)
		log.Debugf("SetMetric: miss, src=%s dst=%s field=%s", src, dst, field)
		return false
	}
	switch field {
	case MetricBandwidth:
		l.BandwidthMbps = value
	case MetricDelay:
		l.DelayMs = value
	case MetricLoss:
		l.LossPct = value
	}
	return true
}

func (t *TopologyStore) GetMetric(src, dst Node, field MetricField) (float64, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	l := t.linkLocked(src, dst)
	if l == nil {
		return 0, false
	}
	return l.metric(field), true
}

func (t *TopologyStore) SetDiscoveryLatency(src, dst Node, seconds float64) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	l := t.linkLocked(src, dst)
	if l == nil {
		t.misses.Add(1)
		return false
	}
	l.DiscoveryLatency = seconds
	l.HasLatency = true
	return true
}

func (t *TopologyStore) Port(src, dst Node) (uint32, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	l := t.linkLocked(src, dst)
	if l == nil {
		return 0, false
	}
	return l.Port, true
}

// GetLink returns a copy of the src->dst link.
func (t *TopologyStore) GetLink(src, dst Node) (Link, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	l := t.linkLocked(src, dst)
	if l == nil {
		return Link{}, false
	}
	return *l, true
}

func (t *TopologyStore) linkLocked(src, dst Node) *Link {
	if out, ok := t.links[src]; ok {
		return out[dst]
	}
	return nil
}

// Neighbors returns the link targets of n in sorted order.
func (t *TopologyStore) Neighbors(n Node) []Node {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	result := make([]Node, 0, len(t.links[n]))
	for dst := range t.links[n] {
		result = append(result, dst)
	}
	SortNodes(result)
	return result
}

// Adjacency is a sorted copy of the graph, used by the path enumerator.
func (t *TopologyStore) Adjacency() ([]Node, map[Node][]Node) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	nodes := make([]Node, 0, len(t.nodes))
	for n := range t.nodes {
		nodes = append(nodes, n)
	}
	SortNodes(nodes)

	adj := make(map[Node][]Node, len(t.links))
	for src, out := range t.links {
		targets := make([]Node, 0, len(out))
		for dst := range out {
			targets = append(targets, dst)
		}
		SortNodes(targets)
		adj[src] = targets
	}
	return nodes, adj
}

// SwitchLinks returns copies of every switch-to-switch link.
func (t *TopologyStore) SwitchLinks() []Link {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var result []Link
	for src, out := range t.links {
		if !src.IsSwitch() {
			continue
		}
		for dst, l := range out {
			if dst.IsSwitch() {
				result = append(result, *l)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Src != result[j].Src {
			return nodeLess(result[i].Src, result[j].Src)
		}
		return nodeLess(result[i].Dst, result[j].Dst)
	})
	return result
}

// PathFeatures builds [bw..., delay..., loss...] over the switch-to-switch
// links of the path under one read lock. A missing link contributes zeros.
func (t *TopologyStore) PathFeatures(p Path) []float64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var bw, delay, loss []float64
	for i := 0; i+1 < len(p.Nodes); i++ {
		src, dst := p.Nodes[i], p.Nodes[i+1]
		if !src.IsSwitch() || !dst.IsSwitch() {
			continue
		}
		var b, d, l float64
		if link := t.linkLocked(src, dst); link != nil {
			b, d, l = link.BandwidthMbps, link.DelayMs, link.LossPct
		}
		bw = append(bw, b)
		delay = append(delay, d)
		loss = append(loss, l)
	}

	features := make([]float64, 0, len(bw)*3)
	features = append(features, bw...)
	features = append(features, delay...)
	features = append(features, loss...)
	return features
}

func (t *TopologyStore) Clear() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.nodes = make(map[Node]struct{})
	t.links = make(map[Node]map[Node]*Link)
	log.Infof("TopologyStore.Clear: graph reset")
}

func (t *TopologyStore) NodeCount() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.nodes)
}

func (t *TopologyStore) LinkCount() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	count := 0
	for _, out := range t.links {
		count += len(out)
	}
	return count
}

func (t *TopologyStore) Misses() uint64 {
	return t.misses.Load()
}
