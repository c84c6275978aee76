package southbound

import "time"

type EventKind int

const (
	EventSwitchConnected EventKind = iota
	EventSwitchDisconnected
	EventLinkAdd
	EventLinkDelete
	EventHostAdd
	EventLinkLatency
	EventPacketIn
	EventPortStats
	EventFlowStats
	EventProbeReply
)

func (k EventKind) String() string {
	switch k {
	case EventSwitchConnected:
		return "SwitchConnected"
	case EventSwitchDisconnected:
		return "SwitchDisconnected"
	case EventLinkAdd:
		return "LinkAdd"
	case EventLinkDelete:
		return "LinkDelete"
	case EventHostAdd:
		return "HostAdd"
	case EventLinkLatency:
		return "LinkLatency"
	case EventPacketIn:
		return "PacketIn"
	case EventPortStats:
		return "PortStats"
	case EventFlowStats:
		return "FlowStats"
	case EventProbeReply:
		return "ProbeReply"
	default:
		return "Unknown"
	}
}

// LinkInfo describes a switch-to-switch link as reported by discovery.
type LinkInfo struct {
	SrcDPID uint64 `json:"src_dpid"`
	SrcPort uint32 `json:"src_port"`
	DstDPID uint64 `json:"dst_dpid"`
	DstPort uint32 `json:"dst_port"`
}

type HostInfo struct {
	MAC  string `json:"mac"`
	DPID uint64 `json:"dpid"`
	Port uint32 `json:"port"`
}

// LatencyInfo is discovery's one-way propagation estimate for src->dst.
type LatencyInfo struct {
	SrcDPID uint64  `json:"src_dpid"`
	DstDPID uint64  `json:"dst_dpid"`
	Seconds float64 `json:"seconds"`
}

type PacketIn struct {
	InPort uint32 `json:"in_port"`
	Data   []byte `json:"data"`
}

type PortStat struct {
	PortNo       uint32 `json:"port_no"`
	TxBytes      uint64 `json:"tx_bytes"`
	RxBytes      uint64 `json:"rx_bytes"`
	TxPackets    uint64 `json:"tx_packets"`
	RxPackets    uint64 `json:"rx_packets"`
	DurationSec  uint32 `json:"duration_sec"`
	DurationNsec uint32 `json:"duration_nsec"`
}

type FlowStat struct {
	Priority    int    `json:"priority"`
	Cookie      uint64 `json:"cookie"`
	InPort      uint32 `json:"in_port"`
	OutPort     uint32 `json:"out_port"`
	PacketCount uint64 `json:"packet_count"`
	ByteCount   uint64 `json:"byte_count"`
}

type ProbeReply struct {
	SentAt     time.Time
	ReceivedAt time.Time
}

// Event is the single inbound message type. Kind selects which payload is
// set; DPID is the reporting switch where one applies.
type Event struct {
	Kind   EventKind
	DPID   uint64
	Switch Switch

	Link      *LinkInfo
	Host      *HostInfo
	Latency   *LatencyInfo
	Packet    *PacketIn
	PortStats []PortStat
	FlowStats []FlowStat
	Probe     *ProbeReply
}
