package connection

import (
	"fmt"
	"io"
	"sync"
	"time"

	"qoerouting/southbound"
)

// StreamSwitch writes controller commands to one switch stream.
type StreamSwitch struct {
	dpid uint64

	mu sync.Mutex
	w  io.Writer
}

func newStreamSwitch(dpid uint64, w io.Writer) *StreamSwitch {
	return &StreamSwitch{dpid: dpid, w: w}
}

func (sw *StreamSwitch) DPID() uint64 {
	return sw.dpid
}

func (sw *StreamSwitch) InstallFlow(rule southbound.FlowRule) error {
	text, err := rule.Ofctl()
	if err != nil {
		return err
	}
	return sw.send(TypeFlowAdd, FlowAdd{Rule: rule, Ofctl: text})
}

func (sw *StreamSwitch) DeleteFlows(cookie uint64) error {
	match, err := southbound.DeleteMatch(cookie)
	if err != nil {
		return err
	}
	return sw.send(TypeFlowDelete, FlowDelete{Cookie: cookie, Ofctl: match})
}

func (sw *StreamSwitch) SendProbe(sentAt time.Time) error {
	return sw.send(TypeEchoRequest, Echo{SentAtNanos: sentAt.UnixNano()})
}

func (sw *StreamSwitch) RequestPortStats() error {
	return sw.send(TypePortStatsRequest, nil)
}

func (sw *StreamSwitch) RequestFlowStats() error {
	return sw.send(TypeFlowStatsRequest, nil)
}

func (sw *StreamSwitch) PacketOut(inPort, outPort uint32, data []byte) error {
	return sw.send(TypePacketOut, PacketOut{InPort: inPort, OutPort: outPort, Data: data})
}

func (sw *StreamSwitch) send(msgType string, payload interface{}) error {
	line, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := sw.w.Write(line); err != nil {
		return fmt.Errorf("dpid=%d: failed to send %s: %w", sw.dpid, msgType, err)
	}
	return nil
}
