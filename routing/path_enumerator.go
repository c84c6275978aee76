package routing

import (
	"sync"
	"sync/atomic"

	"qoerouting/common"
	msc "qoerouting/path_scheduling/common"
	ks "qoerouting/path_scheduling/k_shortest"

	log "github.com/sirupsen/logrus"
)

const DefaultMaxCandidates = 3

type pairKey struct {
	src, dst common.Node
}

// PathEnumerator returns candidate paths per host pair and caches them until
// Invalidate is called.
type PathEnumerator struct {
	store         *common.TopologyStore
	calculator    msc.PathCalculator
	maxCandidates int

	mu    sync.Mutex
	cache map[pairKey][]common.Path

	computations atomic.Uint64
}

func NewPathEnumerator(store *common.TopologyStore, calculator msc.PathCalculator, maxCandidates int) *PathEnumerator {
	if calculator == nil {
		calculator = ks.NewCalculator()
	}
	return &PathEnumerator{
		store:         store,
		calculator:    calculator,
		maxCandidates: maxCandidates,
		cache:         make(map[pairKey][]common.Path),
	}
}

// Candidates returns the cached candidate set for the pair, computing it on
// first use. The returned slice is shared; callers must not modify it.
func (pe *PathEnumerator) Candidates(src, dst common.Node) []common.Path {
	key := pairKey{src: src, dst: dst}

	pe.mu.Lock()
	defer pe.mu.Unlock()

	if paths, ok := pe.cache[key]; ok {
		return paths
	}

	paths := pe.compute(src, dst)
	pe.cache[key] = paths
	return paths
}

func (pe *PathEnumerator) compute(src, dst common.Node) []common.Path {
	pe.computations.Add(1)

	nodes, adj := pe.store.Adjacency()
	index := make(map[common.Node]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}
	sourceIdx, srcExists := index[src]
	destIdx, destExists := index[dst]
	if !srcExists || !destExists {
		log.Debugf("PathEnumerator.compute: src=%s dst=%s not in graph (srcExists=%v, destExists=%v)",
			src, dst, srcExists, destExists)
		return nil
	}

	network := msc.NewNetwork(len(nodes))
	for i, n := range nodes {
		network.Nodes[i].Transit = n.IsSwitch()
	}
	for from, targets := range adj {
		for _, to := range targets {
			network.Links[index[from]][index[to]] = 1
		}
	}

	raw := pe.calculator.ComputePaths(&network, msc.Flow{Source: sourceIdx, Destination: destIdx}, pe.maxCandidates)

	paths := make([]common.Path, 0, len(raw))
	for _, p := range raw {
		path := common.Path{Nodes: make([]common.Node, len(p.Nodes))}
		for i, idx := range p.Nodes {
			path.Nodes[i] = nodes[idx]
		}
		paths = append(paths, path)
	}

	log.Infof("PathEnumerator.compute: src=%s, dst=%s, candidates=%d", src, dst, len(paths))
	for i, p := range paths {
		log.Debugf("PathEnumerator.compute: path[%d] links=%d nodes=%s", i, p.LinkCount(), p)
	}
	return paths
}

// Invalidate drops every cached candidate set.
func (pe *PathEnumerator) Invalidate() {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	if len(pe.cache) > 0 {
		log.Debugf("PathEnumerator.Invalidate: dropping %d cached pairs", len(pe.cache))
	}
	pe.cache = make(map[pairKey][]common.Path)
}

func (pe *PathEnumerator) CachedPairs() int {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return len(pe.cache)
}

// Computations counts cache misses that reached the calculator.
func (pe *PathEnumerator) Computations() uint64 {
	return pe.computations.Load()
}
