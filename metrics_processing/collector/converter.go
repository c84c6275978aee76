package collector

import (
	"math"

	"qoerouting/southbound"
)

// PortSample is one cumulative tx+rx byte reading with the switch-reported
// port uptime.
type PortSample struct {
	Bytes    uint64
	Duration float64
}

func SampleFromPortStat(s southbound.PortStat) PortSample {
	return PortSample{
		Bytes:    s.TxBytes + s.RxBytes,
		Duration: float64(s.DurationSec) + float64(s.DurationNsec)/1e9,
	}
}

// PortWindow keeps the two most recent samples of one port.
type PortWindow struct {
	samples [2]PortSample
	n       int
}

func (w *PortWindow) Push(s PortSample) {
	w.samples[0] = w.samples[1]
	w.samples[1] = s
	if w.n < 2 {
		w.n++
	}
}

func (w *PortWindow) Len() int {
	return w.n
}

// Throughput in bytes per second. With a single sample the previous one is
// taken as zero bytes at zero duration.
func (w *PortWindow) Throughput() float64 {
	if w.n == 0 {
		return 0
	}
	prev := PortSample{}
	if w.n == 2 {
		prev = w.samples[0]
	}
	return Throughput(prev, w.samples[1])
}

func Throughput(prev, cur PortSample) float64 {
	dt := cur.Duration - prev.Duration
	if dt <= 0 {
		return 0
	}
	if cur.Bytes < prev.Bytes {
		return 0
	}
	return float64(cur.Bytes-prev.Bytes) / dt
}

// FreeBandwidth converts a throughput in bytes/s into the spare capacity in
// Mbps, floored at zero.
func FreeBandwidth(capacityMbps, bytesPerSec float64) float64 {
	return math.Max(capacityMbps-bytesPerSec*8/1e6, 0)
}

// LossPercent of tx packets missing at rx, clamped to [0, 100].
func LossPercent(tx, rx uint64) float64 {
	if tx == 0 {
		return 0
	}
	loss := (float64(tx) - float64(rx)) / float64(tx) * 100
	return math.Min(math.Max(loss, 0), 100)
}

// Delay in ms from the discovery latencies of both directions and the
// endpoint echo RTTs, all in seconds. Callers filter out missing samples;
// a zero reading is used as is.
func Delay(fwd, reply, srcRTT, dstRTT float64) float64 {
	return math.Max(0, ((fwd+reply)-(srcRTT+dstRTT))/2) * 1000
}

// EgressPackets sums priority-1 flows on a switch that leave through port.
func EgressPackets(flows []southbound.FlowStat, port uint32) uint64 {
	var total uint64
	for _, f := range flows {
		if f.Priority == southbound.PriorityPath && f.OutPort == port {
			total += f.PacketCount
		}
	}
	return total
}

// IngressPackets sums priority-1 flows on a switch that enter through port.
func IngressPackets(flows []southbound.FlowStat, port uint32) uint64 {
	var total uint64
	for _, f := range flows {
		if f.Priority == southbound.PriorityPath && f.InPort == port {
			total += f.PacketCount
		}
	}
	return total
}
