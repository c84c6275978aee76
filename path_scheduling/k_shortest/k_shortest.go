package k_shortest

import (
	"qoerouting/path_scheduling/common"

	log "github.com/sirupsen/logrus"
)

type (
	Network = common.Network
	Node    = common.Node
	Flow    = common.Flow
	Path    = common.Path
)

// Calculator is the hop-count Yen enumerator used for candidate paths.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

func (c *Calculator) ComputePaths(network *common.Network, flow common.Flow, k int) []common.Path {
	net := network.Copy()
	paths := KShortest(net, flow, k)
	log.Debugf("Calculator.ComputePaths: source=%d, dest=%d, k=%d, found=%d",
		flow.Source, flow.Destination, k, len(paths))
	return paths
}

// shortest paths through Dijkstra; non-transit nodes other than the source
// are never relaxed through.
func Dijkstra(net Network, source int) [][]Path {
	n := len(net.Nodes)
	var results [][]Path = make([][]Path, n)

	results[source] = []Path{{Nodes: []int{source}, Latency: 0}}

	var latencies []int = make([]int, n) // latencies from source to every node
	for i := 0; i < n; i++ {
		latencies[i] = net.Links[source][i]
	}

	var visited []bool = make([]bool, n) // already have shortest paths
	visited[source] = true

	var predecessors [][]int = make([][]int, n)
	for i := 0; i < n; i++ {
		predecessors[i] = []int{source}
	}
	predecessors[source] = []int{-1}

	for count := 0; count < n-1; count++ {
		minNode := -1
		for i := 0; i < n; i++ {
			if visited[i] || latencies[i] < 0 { // latency < 0 means unreachable
				continue
			}
			if minNode < 0 || latencies[i] < latencies[minNode] {
				minNode = i
			}
		}
		if minNode == -1 {
			break
		}
		visited[minNode] = true
		results[minNode] = findPaths(minNode, source, predecessors, latencies[minNode])

		if !net.Nodes[minNode].Transit {
			continue
		}
		for i := 0; i < n; i++ {
			if visited[i] || net.Links[minNode][i] < 0 {
				continue
			}
			if latencies[i] < 0 || latencies[i] > latencies[minNode]+net.Links[minNode][i] {
				latencies[i] = latencies[minNode] + net.Links[minNode][i]
				predecessors[i] = []int{minNode}
			} else if latencies[i] == latencies[minNode]+net.Links[minNode][i] {
				predecessors[i] = append(predecessors[i], minNode)
			}
		}
	}

	return results
}

func findPaths(node int, source int, predecessors [][]int, latency int) []Path {
	var paths []Path
	stack := []int{node}

	var find func()
	find = func() {
		top := stack[len(stack)-1]
		if top == source {
			nodes := make([]int, 0, len(stack))
			for i := len(stack) - 1; i >= 0; i-- {
				nodes = append(nodes, stack[i])
			}
			paths = append(paths, Path{Nodes: nodes, Latency: latency})
			return
		}
		for _, predecessor := range predecessors[top] {
			stack = append(stack, predecessor)
			find()
			stack = stack[:len(stack)-1]
		}
	}
	find()

	return paths
}

// KShortest runs Yen's algorithm. The network is modified during the run and
// restored before returning. k <= 0 enumerates every simple path.
func KShortest(net Network, flow Flow, k int) []Path {
	var A []Path
	var B pathHeap

	if flow.Source == flow.Destination {
		return A
	}
	shortest := Dijkstra(net, flow.Source)[flow.Destination]
	if len(shortest) == 0 { // unreachable
		return A
	}
	A = append(A, minPath(shortest))
	for k <= 0 || len(A) < k {
		prevPath := A[len(A)-1].Nodes
		// The spur node ranges from the first node to the next to last node in the previous path.
		for i := 0; i < len(prevPath)-1; i++ {
			spurNode := prevPath[i]
			rootPath := prevPath[:i+1]
			deletedLinks := make(map[[2]int]int) // tail, head -> cost
			// Remove the links that are part of previous paths sharing the same root.
			for j := 0; j < len(A); j++ {
				if len(A[j].Nodes) > i+1 && sliceEqual(A[j].Nodes[:i+1], rootPath) {
					edge := [2]int{A[j].Nodes[i], A[j].Nodes[i+1]}
					if _, exist := deletedLinks[edge]; !exist {
						deletedLinks[edge] = net.Links[edge[0]][edge[1]]
						net.Links[edge[0]][edge[1]] = -1
					}
				}
			}
			// Make the root nodes except the spur node unreachable.
			for j := 0; j < len(rootPath)-1; j++ {
				for head := 0; head < len(net.Nodes); head++ {
					edge := [2]int{head, rootPath[j]}
					if _, exist := deletedLinks[edge]; !exist {
						deletedLinks[edge] = net.Links[head][rootPath[j]]
						net.Links[head][rootPath[j]] = -1
					}
				}
			}
			spurPaths := Dijkstra(net, spurNode)[flow.Destination]
			for edge, cost := range deletedLinks {
				net.Links[edge[0]][edge[1]] = cost
			}
			if len(spurPaths) == 0 {
				continue
			}
			spurPath := minPath(spurPaths).Nodes
			totalPath := make([]int, 0, len(rootPath)+len(spurPath)-1)
			totalPath = append(totalPath, rootPath[:len(rootPath)-1]...)
			totalPath = append(totalPath, spurPath...)
			var latency int
			for j := 0; j < len(totalPath)-1; j++ {
				latency += net.Links[totalPath[j]][totalPath[j+1]]
			}
			candidate := Path{Nodes: totalPath, Latency: latency}
			if !B.contain(candidate) && !containsPath(A, candidate) {
				B.insert(candidate)
			}
		}
		if len(B) == 0 {
			break
		}
		// minHeap guarantees that B[0] has the lowest cost
		A = append(A, B[0])
		B.pop()
	}
	return A
}

func sliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsPath(paths []Path, p Path) bool {
	for _, q := range paths {
		if sliceEqual(q.Nodes, p.Nodes) {
			return true
		}
	}
	return false
}

// minHeap for Path
type pathHeap []Path

func (h pathHeap) shiftDown(start, end int) {
	dad := start
	son := dad*2 + 1
	for son <= end {
		if son+1 <= end && pathLess(h[son+1], h[son]) {
			son++
		}
		if !pathLess(h[son], h[dad]) {
			break
		}
		h[dad], h[son] = h[son], h[dad]
		dad = son
		son = dad*2 + 1
	}
}

func (h pathHeap) shiftUp(start int) {
	son := start
	dad := (son - 1) / 2
	for son > 0 {
		if !pathLess(h[son], h[dad]) {
			break
		}
		h[dad], h[son] = h[son], h[dad]
		son = dad
		dad = (son - 1) / 2
	}
}

func (h *pathHeap) insert(p Path) {
	*h = append(*h, p)
	h.shiftUp(len(*h) - 1)
}

func (h *pathHeap) pop() {
	(*h)[0] = (*h)[len(*h)-1]
	*h = (*h)[:len(*h)-1]
	h.shiftDown(0, len(*h)-1)
}

func (h pathHeap) contain(p Path) bool {
	return containsPath(h, p)
}

// whether p1 < p2: cost, then length, then node indices
func pathLess(p1, p2 Path) bool {
	if p1.Latency != p2.Latency {
		return p1.Latency < p2.Latency
	}
	if len(p1.Nodes) != len(p2.Nodes) {
		return len(p1.Nodes) < len(p2.Nodes)
	}
	for i := range p1.Nodes {
		if p1.Nodes[i] != p2.Nodes[i] {
			return p1.Nodes[i] < p2.Nodes[i]
		}
	}
	return false
}

func minPath(paths []Path) Path {
	var min Path
	if len(paths) == 0 {
		return min
	}
	min = paths[0]
	for i := 1; i < len(paths); i++ {
		if pathLess(paths[i], min) {
			min = paths[i]
		}
	}
	return min
}
