package common

import "strings"

// Path runs host, switch..., host.
type Path struct {
	Nodes []Node
}

// LinkCount is the number of switch-to-switch links on the path.
func (p Path) LinkCount() int {
	if len(p.Nodes) < 3 {
		return 0
	}
	return len(p.Nodes) - 3
}

func (p Path) Hops() int {
	if len(p.Nodes) == 0 {
		return 0
	}
	return len(p.Nodes) - 1
}

// Next returns the node after n on the path.
func (p Path) Next(n Node) (Node, bool) {
	for i := 0; i+1 < len(p.Nodes); i++ {
		if p.Nodes[i] == n {
			return p.Nodes[i+1], true
		}
	}
	return Node{}, false
}

// Reverse returns the same hops walked from the other end.
func (p Path) Reverse() Path {
	out := Path{Nodes: make([]Node, len(p.Nodes))}
	for i, n := range p.Nodes {
		out.Nodes[len(p.Nodes)-1-i] = n
	}
	return out
}

func (p Path) Strings() []string {
	out := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.String()
	}
	return out
}

func (p Path) String() string {
	return strings.Join(p.Strings(), "->")
}

func (p Path) Equal(o Path) bool {
	if len(p.Nodes) != len(o.Nodes) {
		return false
	}
	for i := range p.Nodes {
		if p.Nodes[i] != o.Nodes[i] {
			return false
		}
	}
	return true
}
