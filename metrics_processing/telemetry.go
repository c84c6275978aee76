package metrics_processing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"qoerouting/common"
	"qoerouting/metrics_processing/collector"
	"qoerouting/metrics_processing/exporter"
	"qoerouting/southbound"
)

var (
	DefaultPeriod        = time.Second
	DefaultProbeInterval = 50 * time.Millisecond
)

// SwitchLister exposes the connected switches without the controller lock.
type SwitchLister interface {
	Switches() []southbound.Switch
}

type Config struct {
	Period        time.Duration
	ProbeInterval time.Duration
}

type portKey struct {
	dpid uint64
	port uint32
}

type flowKey struct {
	priority int
	inPort   uint32
	outPort  uint32
}

// Collector probes every switch once per period and turns the replies into
// per-link bandwidth, delay and loss in the store.
type Collector struct {
	store    *common.TopologyStore
	switches SwitchLister
	metrics  *exporter.Metrics

	period  time.Duration
	limiter *rate.Limiter

	rtt   *xsync.Map[uint64, float64]
	ports *xsync.Map[portKey, collector.PortWindow]
	flows *xsync.Map[uint64, map[flowKey]southbound.FlowStat]

	reportedMisses atomic.Uint64
}

func NewCollector(store *common.TopologyStore, switches SwitchLister, metrics *exporter.Metrics, cfg Config) *Collector {
	if cfg.Period <= 0 {
		log.Warnf("NewCollector: invalid period %v, using %v", cfg.Period, DefaultPeriod)
		cfg.Period = DefaultPeriod
	}
	if cfg.ProbeInterval < 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	return &Collector{
		store:    store,
		switches: switches,
		metrics:  metrics,
		period:   cfg.Period,
		limiter:  rate.NewLimiter(rate.Every(cfg.ProbeInterval), 1),
		rtt:      xsync.NewMap[uint64, float64](),
		ports:    xsync.NewMap[portKey, collector.PortWindow](),
		flows:    xsync.NewMap[uint64, map[flowKey]southbound.FlowStat](),
	}
}

// Run loops until ctx is cancelled. Every cycle sends probes and counter
// requests, waits one period for replies, then recomputes link metrics.
func (c *Collector) Run(ctx context.Context) {
	log.Infof("Collector.Run: started, period=%v", c.period)
	defer log.Infof("Collector.Run: stopped")

	timer := time.NewTimer(c.period)
	defer timer.Stop()

	for {
		if !c.requestAll(ctx) {
			return
		}

		timer.Reset(c.period)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.UpdateLinkMetrics()
	}
}

func (c *Collector) requestAll(ctx context.Context) bool {
	switches := c.switches.Switches()
	for _, sw := range switches {
		if err := c.limiter.Wait(ctx); err != nil {
			return false
		}
		if err := sw.SendProbe(time.Now()); err != nil {
			log.Warnf("Collector.requestAll: probe dpid=%d, err=%v", sw.DPID(), err)
		}
	}
	for _, sw := range switches {
		if err := c.limiter.Wait(ctx); err != nil {
			return false
		}
		if err := sw.RequestPortStats(); err != nil {
			log.Warnf("Collector.requestAll: port stats dpid=%d, err=%v", sw.DPID(), err)
		}
		if err := sw.RequestFlowStats(); err != nil {
			log.Warnf("Collector.requestAll: flow stats dpid=%d, err=%v", sw.DPID(), err)
		}
	}
	return true
}

func (c *Collector) HandleProbeReply(dpid uint64, reply *southbound.ProbeReply) {
	if reply == nil {
		return
	}
	rtt := reply.ReceivedAt.Sub(reply.SentAt).Seconds()
	if rtt < 0 {
		log.Warnf("Collector.HandleProbeReply: dpid=%d, negative rtt=%v", dpid, rtt)
		return
	}
	c.rtt.Store(dpid, rtt)
}

func (c *Collector) HandlePortStats(dpid uint64, stats []southbound.PortStat) {
	for _, s := range stats {
		key := portKey{dpid: dpid, port: s.PortNo}
		w, _ := c.ports.Load(key)
		w.Push(collector.SampleFromPortStat(s))
		c.ports.Store(key, w)
	}
}

// HandleFlowStats updates the counters of every (priority, in_port,
// out_port) entry in the reply. Entries absent from the reply keep their
// last value until Reset, so paths whose rules were deleted during
// bootstrap still report loss.
func (c *Collector) HandleFlowStats(dpid uint64, flows []southbound.FlowStat) {
	reply := make(map[flowKey]southbound.FlowStat, len(flows))
	for _, f := range flows {
		key := flowKey{priority: f.Priority, inPort: f.InPort, outPort: f.OutPort}
		agg, ok := reply[key]
		if !ok {
			agg = southbound.FlowStat{Priority: f.Priority, Cookie: f.Cookie, InPort: f.InPort, OutPort: f.OutPort}
		}
		agg.PacketCount += f.PacketCount
		agg.ByteCount += f.ByteCount
		reply[key] = agg
	}

	previous, _ := c.flows.Load(dpid)
	merged := make(map[flowKey]southbound.FlowStat, len(previous)+len(reply))
	for key, f := range previous {
		merged[key] = f
	}
	for key, f := range reply {
		merged[key] = f
	}
	c.flows.Store(dpid, merged)
}

func (c *Collector) flowList(dpid uint64) ([]southbound.FlowStat, bool) {
	entries, ok := c.flows.Load(dpid)
	if !ok {
		return nil, false
	}
	out := make([]southbound.FlowStat, 0, len(entries))
	for _, f := range entries {
		out = append(out, f)
	}
	return out, true
}

// UpdateLinkMetrics recomputes every switch link from the latest replies.
func (c *Collector) UpdateLinkMetrics() {
	links := c.store.SwitchLinks()
	for _, l := range links {
		bw := c.bandwidth(l)
		delay := c.delay(l)
		loss := c.loss(l)

		c.store.SetMetric(l.Src, l.Dst, common.MetricBandwidth, bw)
		c.store.SetMetric(l.Src, l.Dst, common.MetricDelay, delay)
		c.store.SetMetric(l.Src, l.Dst, common.MetricLoss, loss)
		c.metrics.SetLink(l.Src.String(), l.Dst.String(), bw, delay, loss)

		log.Debugf("Collector.UpdateLinkMetrics: %s->%s bw=%.2f delay=%.3f loss=%.2f",
			l.Src, l.Dst, bw, delay, loss)
	}

	misses := c.store.Misses()
	if prev := c.reportedMisses.Swap(misses); misses > prev {
		c.metrics.AddMetricMisses(misses - prev)
	}
}

func (c *Collector) bandwidth(l common.Link) float64 {
	w, ok := c.ports.Load(portKey{dpid: l.Src.DPID, port: l.Port})
	if !ok {
		return collector.FreeBandwidth(l.CapacityMbps, 0)
	}
	return collector.FreeBandwidth(l.CapacityMbps, w.Throughput())
}

func (c *Collector) delay(l common.Link) float64 {
	reverse, ok := c.store.GetLink(l.Dst, l.Src)
	if !ok || !l.HasLatency || !reverse.HasLatency {
		return 0
	}
	srcRTT, ok := c.rtt.Load(l.Src.DPID)
	if !ok {
		return 0
	}
	dstRTT, ok := c.rtt.Load(l.Dst.DPID)
	if !ok {
		return 0
	}
	return collector.Delay(l.DiscoveryLatency, reverse.DiscoveryLatency, srcRTT, dstRTT)
}

func (c *Collector) loss(l common.Link) float64 {
	reverse, ok := c.store.GetLink(l.Dst, l.Src)
	if !ok {
		return 0
	}
	srcFlows, ok := c.flowList(l.Src.DPID)
	if !ok {
		return 0
	}
	dstFlows, _ := c.flowList(l.Dst.DPID)
	return collector.LossPercent(
		collector.EgressPackets(srcFlows, l.Port),
		collector.IngressPackets(dstFlows, reverse.Port),
	)
}

// Reset forgets every sample; called at session teardown.
func (c *Collector) Reset() {
	c.rtt.Clear()
	c.ports.Clear()
	c.flows.Clear()
	c.metrics.ResetLinks()
}

func (c *Collector) RTT(dpid uint64) (float64, bool) {
	return c.rtt.Load(dpid)
}
