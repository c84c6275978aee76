package connection

import (
	"encoding/json"
	"fmt"
	"time"

	"qoerouting/southbound"
)

// Message types carried over a switch stream, one JSON envelope per line.
const (
	TypeHello            = "hello"
	TypePacketIn         = "packet_in"
	TypePortStats        = "port_stats"
	TypeFlowStats        = "flow_stats"
	TypeEchoReply        = "echo_reply"
	TypeLinkAdd          = "link_add"
	TypeLinkDelete       = "link_delete"
	TypeHostAdd          = "host_add"
	TypeLinkLatency      = "link_latency"
	TypeFlowAdd          = "flow_add"
	TypeFlowDelete       = "flow_delete"
	TypeEchoRequest      = "echo_request"
	TypePortStatsRequest = "port_stats_request"
	TypeFlowStatsRequest = "flow_stats_request"
	TypePacketOut        = "packet_out"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Hello struct {
	DPID uint64 `json:"dpid"`
}

type Echo struct {
	SentAtNanos int64 `json:"sent_at_ns"`
}

type FlowAdd struct {
	Rule  southbound.FlowRule `json:"rule"`
	Ofctl string              `json:"ofctl"`
}

type FlowDelete struct {
	Cookie uint64 `json:"cookie"`
	Ofctl  string `json:"ofctl"`
}

type PacketOut struct {
	InPort  uint32 `json:"in_port"`
	OutPort uint32 `json:"out_port"`
	Data    []byte `json:"data"`
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	line, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return append(line, '\n'), nil
}

// decodeEvent turns one inbound line from switch dpid into an event.
func decodeEvent(dpid uint64, line []byte, now time.Time) (*southbound.Event, error) {
	env, err := decodeEnvelope(line)
	if err != nil {
		return nil, err
	}

	ev := &southbound.Event{DPID: dpid}
	switch env.Type {
	case TypePacketIn:
		ev.Kind = southbound.EventPacketIn
		ev.Packet = &southbound.PacketIn{}
		err = json.Unmarshal(env.Payload, ev.Packet)
	case TypePortStats:
		ev.Kind = southbound.EventPortStats
		err = json.Unmarshal(env.Payload, &ev.PortStats)
	case TypeFlowStats:
		ev.Kind = southbound.EventFlowStats
		err = json.Unmarshal(env.Payload, &ev.FlowStats)
	case TypeEchoReply:
		var echo Echo
		if err = json.Unmarshal(env.Payload, &echo); err == nil {
			if echo.SentAtNanos <= 0 {
				return nil, fmt.Errorf("echo reply without timestamp")
			}
			ev.Kind = southbound.EventProbeReply
			ev.Probe = &southbound.ProbeReply{SentAt: time.Unix(0, echo.SentAtNanos), ReceivedAt: now}
		}
	case TypeLinkAdd, TypeLinkDelete:
		ev.Kind = southbound.EventLinkAdd
		if env.Type == TypeLinkDelete {
			ev.Kind = southbound.EventLinkDelete
		}
		ev.Link = &southbound.LinkInfo{}
		err = json.Unmarshal(env.Payload, ev.Link)
	case TypeHostAdd:
		ev.Kind = southbound.EventHostAdd
		ev.Host = &southbound.HostInfo{}
		err = json.Unmarshal(env.Payload, ev.Host)
	case TypeLinkLatency:
		ev.Kind = southbound.EventLinkLatency
		ev.Latency = &southbound.LatencyInfo{}
		err = json.Unmarshal(env.Payload, ev.Latency)
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
	}
	return ev, nil
}

func decodeEnvelope(line []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &env, nil
}

func unmarshalPayload(env *Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s without payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", env.Type, err)
	}
	return nil
}
