package common

// Network is an index-based snapshot of the topology. Links[i][j] is the hop
// cost from i to j, -1 means there is no link.
type Network struct {
	Nodes []Node  `json:"nodes"`
	Links [][]int `json:"links"`
}

// Node marks whether a path may pass through it. Hosts are only ever
// endpoints.
type Node struct {
	Transit bool `json:"transit"`
}

// Flow represents a traffic flow between source and destination
type Flow struct {
	Source      int `json:"source"`
	Destination int `json:"destination"`
}

// Path represents a routing path with node indices
type Path struct {
	Nodes   []int `json:"nodes"`   // nodes on a route
	Latency int   `json:"latency"` // total cost of a route, hop count for unit links
}

// PathCalculator computes up to k simple paths for a flow, cheapest first.
// k <= 0 means no cap.
type PathCalculator interface {
	ComputePaths(network *Network, flow Flow, k int) []Path
}

func NewNetwork(n int) Network {
	net := Network{
		Nodes: make([]Node, n),
		Links: make([][]int, n),
	}
	for i := range net.Links {
		net.Links[i] = make([]int, n)
		for j := range net.Links[i] {
			net.Links[i][j] = -1
		}
	}
	return net
}

func (n Network) Copy() Network {
	copied := Network{
		Nodes: make([]Node, len(n.Nodes)),
		Links: make([][]int, len(n.Links)),
	}
	copy(copied.Nodes, n.Nodes)
	for i := range n.Links {
		copied.Links[i] = make([]int, len(n.Links[i]))
		copy(copied.Links[i], n.Links[i])
	}
	return copied
}
