package controller

import (
	"net"

	log "github.com/sirupsen/logrus"

	"qoerouting/common"
	packet "qoerouting/packet_handler"
	"qoerouting/southbound"
)

func (c *Controller) handleSwitchConnected(ev *southbound.Event) {
	if ev.Switch == nil {
		log.Warnf("Controller.handleSwitchConnected: dpid=%d without control channel", ev.DPID)
		return
	}
	dpid := ev.Switch.DPID()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		c.startSessionLocked()
	}

	if changed := c.switches.Add(ev.Switch); changed {
		if err := ev.Switch.InstallFlow(southbound.TableMissRule()); err != nil {
			log.Warnf("Controller.handleSwitchConnected: table-miss dpid=%d, err=%v", dpid, err)
		}
	}
	c.store.AddNode(common.SwitchNode(dpid))
	c.invalidateLocked()
	c.metrics.SetConnectedSwitches(c.switches.Len())

	log.Infof("Controller.handleSwitchConnected: dpid=%d, live=%d", dpid, c.switches.Len())
}

func (c *Controller) handleSwitchDisconnected(ev *southbound.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining, ok := c.switches.Remove(ev.DPID, ev.Switch)
	if !ok {
		log.Debugf("Controller.handleSwitchDisconnected: dpid=%d not live on this channel, ignored", ev.DPID)
		return
	}
	c.store.RemoveNode(common.SwitchNode(ev.DPID))
	c.invalidateLocked()
	c.metrics.SetConnectedSwitches(remaining)

	log.Infof("Controller.handleSwitchDisconnected: dpid=%d, live=%d", ev.DPID, remaining)
	if remaining == 0 {
		c.teardownLocked()
	}
}

func (c *Controller) handleLinkAdd(ev *southbound.Event) {
	l := ev.Link
	if l == nil || l.SrcDPID == 0 || l.DstDPID == 0 || l.SrcDPID == l.DstDPID {
		log.Warnf("Controller.handleLinkAdd: malformed link %+v", l)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.AddBidirectionalLink(common.SwitchNode(l.SrcDPID), common.SwitchNode(l.DstDPID), l.SrcPort, l.DstPort)
	c.invalidateLocked()
	log.Debugf("Controller.handleLinkAdd: s%d:%d <-> s%d:%d", l.SrcDPID, l.SrcPort, l.DstDPID, l.DstPort)
}

func (c *Controller) handleLinkDelete(ev *southbound.Event) {
	l := ev.Link
	if l == nil {
		log.Warnf("Controller.handleLinkDelete: missing link payload")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.RemoveBidirectionalLink(common.SwitchNode(l.SrcDPID), common.SwitchNode(l.DstDPID))
	c.invalidateLocked()
	log.Debugf("Controller.handleLinkDelete: s%d <-> s%d", l.SrcDPID, l.DstDPID)
}

func (c *Controller) handleHostAdd(ev *southbound.Event) {
	h := ev.Host
	if h == nil || h.DPID == 0 {
		log.Warnf("Controller.handleHostAdd: malformed host %+v", h)
		return
	}
	if _, err := net.ParseMAC(h.MAC); err != nil {
		log.Warnf("Controller.handleHostAdd: invalid mac %q, err=%v", h.MAC, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.AddBidirectionalLink(common.HostNode(h.MAC), common.SwitchNode(h.DPID), 0, h.Port)
	c.invalidateLocked()
	log.Debugf("Controller.handleHostAdd: %s at s%d:%d", h.MAC, h.DPID, h.Port)
}

func (c *Controller) handleLinkLatency(ev *southbound.Event) {
	l := ev.Latency
	if l == nil || l.Seconds < 0 {
		log.Warnf("Controller.handleLinkLatency: malformed latency %+v", l)
		return
	}
	if !c.store.SetDiscoveryLatency(common.SwitchNode(l.SrcDPID), common.SwitchNode(l.DstDPID), l.Seconds) {
		log.Debugf("Controller.handleLinkLatency: unknown link s%d->s%d", l.SrcDPID, l.DstDPID)
	}
}

func (c *Controller) handlePortStats(ev *southbound.Event) {
	c.telemetry.HandlePortStats(ev.DPID, ev.PortStats)
}

func (c *Controller) handleFlowStats(ev *southbound.Event) {
	c.telemetry.HandleFlowStats(ev.DPID, ev.FlowStats)
}

func (c *Controller) handleProbeReply(ev *southbound.Event) {
	c.telemetry.HandleProbeReply(ev.DPID, ev.Probe)
}

func (c *Controller) handlePacketIn(ev *southbound.Event) {
	if ev.Packet == nil {
		log.Warnf("Controller.handlePacketIn: dpid=%d without packet", ev.DPID)
		return
	}
	frame, err := packet.DecodeFrame(ev.Packet.Data)
	if err != nil {
		log.Warnf("Controller.handlePacketIn: dpid=%d, err=%v", ev.DPID, err)
		return
	}
	if !frame.Routable() {
		return
	}
	sw, err := c.switchFor(ev)
	if err != nil {
		log.Warnf("Controller.handlePacketIn: %v", err)
		return
	}

	src := common.HostNode(frame.Src.String())
	dst := common.HostNode(frame.Dst.String())
	inPort := ev.Packet.InPort

	c.mu.Lock()
	// only IPv4 from or to the probe host advances; its ARP is routed
	if c.state == StateBootstrap && frame.IsIPv4() && c.isAdvanceSignal(src, dst) {
		c.advanceLocked()
		c.mu.Unlock()
		return
	}
	outPort := c.outPortLocked(ev.DPID, src, dst)
	c.mu.Unlock()

	if outPort != southbound.PortFlood {
		rule := southbound.PathRule(inPort, dst.MAC, outPort)
		if err := sw.InstallFlow(rule); err != nil {
			log.Warnf("Controller.handlePacketIn: install dpid=%d, err=%v", ev.DPID, err)
		}
	}
	if err := sw.PacketOut(inPort, outPort, ev.Packet.Data); err != nil {
		log.Warnf("Controller.handlePacketIn: packet-out dpid=%d, err=%v", ev.DPID, err)
	}
}
