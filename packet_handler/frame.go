package packet

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame is the part of a packet-in payload the controller routes on.
type Frame struct {
	Src       net.HardwareAddr
	Dst       net.HardwareAddr
	EtherType layers.EthernetType
}

func (f *Frame) IsLLDP() bool {
	return f.EtherType == layers.EthernetTypeLinkLayerDiscovery
}

func (f *Frame) IsIPv4() bool {
	return f.EtherType == layers.EthernetTypeIPv4
}

func (f *Frame) IsIPv6() bool {
	return f.EtherType == layers.EthernetTypeIPv6
}

// Routable reports whether the frame should go through path selection.
// LLDP belongs to discovery and IPv6 neighbour chatter is not routed.
func (f *Frame) Routable() bool {
	return !f.IsLLDP() && !f.IsIPv6()
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s->%s type=%s", f.Src, f.Dst, f.EtherType)
}

// DecodeFrame parses the Ethernet header of a raw packet.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 14 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return nil, fmt.Errorf("failed to decode ethernet header: %w", errLayer.Error())
		}
		return nil, fmt.Errorf("no ethernet layer")
	}
	return &Frame{
		Src:       eth.SrcMAC,
		Dst:       eth.DstMAC,
		EtherType: eth.EthernetType,
	}, nil
}
