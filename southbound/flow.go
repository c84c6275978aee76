package southbound

import (
	"fmt"

	"github.com/digitalocean/go-openvswitch/ovs"
)

const (
	PriorityTableMiss = 0
	PriorityPath      = 1

	// CookiePath tags every path rule so they can be removed in one delete
	// without touching the table-miss rule.
	CookiePath uint64 = 2

	controllerMaxLen = 65535
)

// FlowRule is an exact-match forwarding rule or the table-miss rule.
type FlowRule struct {
	Priority     int    `json:"priority"`
	Cookie       uint64 `json:"cookie"`
	InPort       uint32 `json:"in_port,omitempty"`
	EthDst       string `json:"eth_dst,omitempty"`
	OutPort      uint32 `json:"out_port,omitempty"`
	ToController bool   `json:"to_controller,omitempty"`
}

func TableMissRule() FlowRule {
	return FlowRule{Priority: PriorityTableMiss, ToController: true}
}

func PathRule(inPort uint32, ethDst string, outPort uint32) FlowRule {
	return FlowRule{
		Priority: PriorityPath,
		Cookie:   CookiePath,
		InPort:   inPort,
		EthDst:   ethDst,
		OutPort:  outPort,
	}
}

// Flow converts the rule into an ovs flow for ofctl-style rendering.
func (r FlowRule) Flow() *ovs.Flow {
	flow := &ovs.Flow{
		Priority: r.Priority,
		InPort:   int(r.InPort),
		Cookie:   r.Cookie,
	}
	if r.EthDst != "" {
		flow.Matches = []ovs.Match{ovs.DataLinkDestination(r.EthDst)}
	}
	switch {
	case r.ToController:
		flow.Actions = []ovs.Action{controllerAction{maxLen: controllerMaxLen}}
	case r.OutPort == PortFlood:
		flow.Actions = []ovs.Action{ovs.Flood()}
	default:
		flow.Actions = []ovs.Action{ovs.Output(int(r.OutPort))}
	}
	return flow
}

// Ofctl renders the rule in ovs-ofctl add-flow syntax.
func (r FlowRule) Ofctl() (string, error) {
	text, err := r.Flow().MarshalText()
	if err != nil {
		return "", fmt.Errorf("failed to render flow rule: %w", err)
	}
	return string(text), nil
}

// DeleteMatch renders an ofctl del-flows match for every rule carrying the
// cookie.
func DeleteMatch(cookie uint64) (string, error) {
	match := &ovs.MatchFlow{
		Cookie:     cookie,
		CookieMask: ^uint64(0),
		Table:      ovs.AnyTable,
	}
	text, err := match.MarshalText()
	if err != nil {
		return "", fmt.Errorf("failed to render delete match: %w", err)
	}
	return string(text), nil
}

// controllerAction sends the packet to the controller; ovs has no builtin
// constructor for it.
type controllerAction struct {
	maxLen int
}

func (a controllerAction) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("CONTROLLER:%d", a.maxLen)), nil
}

func (a controllerAction) GoString() string {
	return fmt.Sprintf("southbound.controllerAction{maxLen: %d}", a.maxLen)
}
