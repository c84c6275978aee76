package southbound

import "time"

// PortFlood is the OpenFlow flood pseudo-port.
const PortFlood uint32 = 0xfffffffb

// Switch is the control channel to one connected switch.
type Switch interface {
	DPID() uint64
	InstallFlow(rule FlowRule) error
	DeleteFlows(cookie uint64) error
	SendProbe(sentAt time.Time) error
	RequestPortStats() error
	RequestFlowStats() error
	PacketOut(inPort, outPort uint32, data []byte) error
}
