package controller

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qoerouting/common"
	"qoerouting/metrics_processing"
	"qoerouting/routing"
	"qoerouting/scoring"
	"qoerouting/southbound"
)

const (
	macH1 = "00:00:00:00:00:01"
	macH2 = "00:00:00:00:00:02"
	macH3 = "00:00:00:00:00:03"
	macH4 = "00:00:00:00:00:04"
)

type packetOut struct {
	inPort, outPort uint32
}

type fakeSwitch struct {
	dpid uint64

	mu         sync.Mutex
	installed  []southbound.FlowRule
	deleted    []uint64
	packetOuts []packetOut
}

func (f *fakeSwitch) DPID() uint64 { return f.dpid }

func (f *fakeSwitch) InstallFlow(rule southbound.FlowRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, rule)
	return nil
}

func (f *fakeSwitch) DeleteFlows(cookie uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, cookie)
	return nil
}

func (f *fakeSwitch) SendProbe(time.Time) error { return nil }
func (f *fakeSwitch) RequestPortStats() error   { return nil }
func (f *fakeSwitch) RequestFlowStats() error   { return nil }

func (f *fakeSwitch) PacketOut(inPort, outPort uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packetOuts = append(f.packetOuts, packetOut{inPort: inPort, outPort: outPort})
	return nil
}

func (f *fakeSwitch) Installed() []southbound.FlowRule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]southbound.FlowRule(nil), f.installed...)
}

func (f *fakeSwitch) Deleted() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.deleted...)
}

func (f *fakeSwitch) PacketOuts() []packetOut {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]packetOut(nil), f.packetOuts...)
}

type fakeSink struct {
	mu      sync.Mutex
	reports []*common.SessionReport
}

func (s *fakeSink) SaveSession(_ context.Context, report *common.SessionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

func (s *fakeSink) Reports() []*common.SessionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*common.SessionReport(nil), s.reports...)
}

type fakeStatus struct {
	mu      sync.Mutex
	serving []bool
}

func (s *fakeStatus) SetServing(serving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serving = append(s.serving, serving)
}

type testEnv struct {
	ctrl       *Controller
	store      *common.TopologyStore
	enumerator *routing.PathEnumerator
	scorers    *scoring.Registry
	sink       *fakeSink
	status     *fakeStatus
	switches   map[uint64]*fakeSwitch
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := common.NewTopologyStore(common.NewCapacityTable(500))
	enumerator := routing.NewPathEnumerator(store, nil, routing.DefaultMaxCandidates)
	scorers := scoring.NewRegistry()
	sink := &fakeSink{}
	status := &fakeStatus{}

	cfg := DefaultConfig()
	cfg.Telemetry = metrics_processing.Config{Period: time.Hour, ProbeInterval: 0}
	cfg.SinkTimeout = time.Second

	ctrl := New(cfg, store, enumerator, scorers, WithSinks(sink), WithStatusReporter(status))
	t.Cleanup(ctrl.Close)

	return &testEnv{
		ctrl:       ctrl,
		store:      store,
		enumerator: enumerator,
		scorers:    scorers,
		sink:       sink,
		status:     status,
		switches:   make(map[uint64]*fakeSwitch),
	}
}

func (e *testEnv) connect(dpids ...uint64) {
	for _, dpid := range dpids {
		sw, ok := e.switches[dpid]
		if !ok {
			sw = &fakeSwitch{dpid: dpid}
			e.switches[dpid] = sw
		}
		e.ctrl.Dispatch(&southbound.Event{Kind: southbound.EventSwitchConnected, DPID: dpid, Switch: sw})
	}
}

func (e *testEnv) link(a uint64, aPort uint32, b uint64, bPort uint32) {
	e.ctrl.Dispatch(&southbound.Event{
		Kind: southbound.EventLinkAdd,
		DPID: a,
		Link: &southbound.LinkInfo{SrcDPID: a, SrcPort: aPort, DstDPID: b, DstPort: bPort},
	})
}

func (e *testEnv) host(mac string, dpid uint64, port uint32) {
	e.ctrl.Dispatch(&southbound.Event{
		Kind: southbound.EventHostAdd,
		DPID: dpid,
		Host: &southbound.HostInfo{MAC: mac, DPID: dpid, Port: port},
	})
}

func (e *testEnv) packetIn(dpid uint64, inPort uint32, src, dst string) {
	e.ctrl.Dispatch(&southbound.Event{
		Kind:   southbound.EventPacketIn,
		DPID:   dpid,
		Switch: e.switches[dpid],
		Packet: &southbound.PacketIn{InPort: inPort, Data: ethernetFrame(src, dst, 0x0800)},
	})
}

func ethernetFrame(src, dst string, etherType uint16) []byte {
	srcMAC, _ := net.ParseMAC(src)
	dstMAC, _ := net.ParseMAC(dst)
	frame := make([]byte, 60)
	copy(frame[0:6], dstMAC)
	copy(frame[6:12], srcMAC)
	frame[12] = byte(etherType >> 8)
	frame[13] = byte(etherType)
	return frame
}

// buildDiamond wires h1 - s1 = {s2 | s4 | s5-s6} = s3 - h2 with the probe
// host on s2, giving the measured pair three candidates.
func (e *testEnv) buildDiamond() {
	e.connect(1, 2, 3, 4, 5, 6)
	e.link(1, 2, 2, 1)
	e.link(2, 2, 3, 1)
	e.link(1, 3, 4, 1)
	e.link(4, 2, 3, 2)
	e.link(1, 4, 5, 1)
	e.link(5, 2, 6, 1)
	e.link(6, 2, 3, 3)
	e.host(macH1, 1, 1)
	e.host(macH2, 3, 4)
	e.host(macH3, 2, 3)
}

func (e *testEnv) measuredCandidates() []common.Path {
	return e.enumerator.Candidates(common.HostNode(macH1), common.HostNode(macH2))
}

func TestInitialStateIsTeardown(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, StateTeardown, env.ctrl.State())
	assert.Empty(t, env.ctrl.SessionID())
	assert.Equal(t, 0, env.ctrl.Experiment())
}

func TestConnectStartsSessionAndInstallsTableMiss(t *testing.T) {
	env := newTestEnv(t)
	env.connect(1)

	assert.Equal(t, StateBootstrap, env.ctrl.State())
	assert.NotEmpty(t, env.ctrl.SessionID())
	assert.Equal(t, 1, env.ctrl.Experiment())
	assert.True(t, env.store.HasNode(common.SwitchNode(1)))

	installed := env.switches[1].Installed()
	require.Len(t, installed, 1)
	assert.Equal(t, southbound.TableMissRule(), installed[0])

	// a reconnect of a live switch does not reinstall the rule
	env.connect(1)
	assert.Len(t, env.switches[1].Installed(), 1)
	assert.Equal(t, 1, env.ctrl.Experiment())
}

func TestBootstrapAdvancesToActive(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	require.Len(t, env.measuredCandidates(), 3)

	for i := 1; i <= 3; i++ {
		env.packetIn(2, 3, macH3, macH1)
		assert.Equal(t, i, env.ctrl.BootstrapIndex())
		if i < 3 {
			assert.Equal(t, StateBootstrap, env.ctrl.State())
		}
	}
	assert.Equal(t, StateActive, env.ctrl.State())

	// the advance packet itself is not forwarded
	assert.Empty(t, env.switches[2].PacketOuts())
	for _, sw := range env.switches {
		assert.Equal(t, []uint64{southbound.CookiePath, southbound.CookiePath, southbound.CookiePath}, sw.Deleted())
	}
}

func TestBootstrapUsesIndexedCandidate(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	candidates := env.measuredCandidates()
	require.Len(t, candidates, 3)

	env.packetIn(1, 1, macH1, macH2)
	chosen, ok := env.ctrl.ChosenPath(macH1, macH2)
	require.True(t, ok)
	assert.True(t, candidates[0].Equal(chosen))

	env.packetIn(2, 3, macH3, macH1)
	_, ok = env.ctrl.ChosenPath(macH1, macH2)
	assert.False(t, ok, "advance drops the chosen-path cache")

	env.packetIn(1, 1, macH1, macH2)
	chosen, ok = env.ctrl.ChosenPath(macH1, macH2)
	require.True(t, ok)
	assert.True(t, env.measuredCandidates()[1].Equal(chosen))
}

func TestPacketInInstallsRuleThenPacketOut(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()

	env.packetIn(1, 1, macH1, macH2)

	chosen, ok := env.ctrl.ChosenPath(macH1, macH2)
	require.True(t, ok)
	next, ok := chosen.Next(common.SwitchNode(1))
	require.True(t, ok)
	port, ok := env.store.Port(common.SwitchNode(1), next)
	require.True(t, ok)

	installed := env.switches[1].Installed()
	require.Len(t, installed, 2)
	assert.Equal(t, southbound.PathRule(1, macH2, port), installed[1])
	assert.Equal(t, []packetOut{{inPort: 1, outPort: port}}, env.switches[1].PacketOuts())
	assert.Equal(t, port, env.ctrl.OutPort(1, macH1, macH2))
}

func TestFloodCases(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()

	t.Run("unknown destination", func(t *testing.T) {
		env.packetIn(1, 1, macH1, macH4)
		outs := env.switches[1].PacketOuts()
		require.NotEmpty(t, outs)
		assert.Equal(t, southbound.PortFlood, outs[len(outs)-1].outPort)
		assert.Len(t, env.switches[1].Installed(), 1, "only the table-miss rule")
	})

	t.Run("unknown source", func(t *testing.T) {
		assert.Equal(t, southbound.PortFlood, env.ctrl.OutPort(1, macH4, macH2))
	})

	t.Run("switch off path", func(t *testing.T) {
		chosenPort := env.ctrl.OutPort(1, macH1, macH2)
		require.NotEqual(t, southbound.PortFlood, chosenPort)
		chosen, ok := env.ctrl.ChosenPath(macH1, macH2)
		require.True(t, ok)
		for dpid := uint64(2); dpid <= 6; dpid++ {
			if _, on := chosen.Next(common.SwitchNode(dpid)); !on {
				assert.Equal(t, southbound.PortFlood, env.ctrl.OutPort(dpid, macH1, macH2))
			}
		}
	})
}

func TestNonRoutableFramesIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()

	env.ctrl.Dispatch(&southbound.Event{
		Kind:   southbound.EventPacketIn,
		DPID:   1,
		Switch: env.switches[1],
		Packet: &southbound.PacketIn{InPort: 1, Data: ethernetFrame(macH1, macH2, 0x88cc)},
	})
	env.ctrl.Dispatch(&southbound.Event{
		Kind:   southbound.EventPacketIn,
		DPID:   1,
		Switch: env.switches[1],
		Packet: &southbound.PacketIn{InPort: 1, Data: []byte{0x01}},
	})
	assert.Empty(t, env.switches[1].PacketOuts())
}

func TestActiveChoosesFirstArgmax(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	for i := 0; i < 3; i++ {
		env.packetIn(2, 3, macH3, macH1)
	}
	require.Equal(t, StateActive, env.ctrl.State())

	require.NoError(t, env.scorers.Register(2, scoring.ScorerFunc(func([]float64) (float64, error) { return 1, nil })))
	require.NoError(t, env.scorers.Register(3, scoring.ScorerFunc(func([]float64) (float64, error) { return 5, nil })))

	env.packetIn(1, 1, macH1, macH2)
	chosen, ok := env.ctrl.ChosenPath(macH1, macH2)
	require.True(t, ok)
	assert.Equal(t, 3, chosen.LinkCount())
}

func TestActiveTieGoesToFirstCandidate(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	for i := 0; i < 3; i++ {
		env.packetIn(2, 3, macH3, macH1)
	}
	same := scoring.ScorerFunc(func([]float64) (float64, error) { return 7, nil })
	require.NoError(t, env.scorers.Register(2, same))
	require.NoError(t, env.scorers.Register(3, same))

	env.packetIn(1, 1, macH1, macH2)
	chosen, ok := env.ctrl.ChosenPath(macH1, macH2)
	require.True(t, ok)
	assert.True(t, env.measuredCandidates()[0].Equal(chosen))
}

func TestActiveFallsBackWithoutScorers(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	for i := 0; i < 3; i++ {
		env.packetIn(2, 3, macH3, macH1)
	}

	env.packetIn(1, 1, macH1, macH2)
	chosen, ok := env.ctrl.ChosenPath(macH1, macH2)
	require.True(t, ok)
	assert.True(t, env.measuredCandidates()[0].Equal(chosen))
}

func TestChosenPathIsCached(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()

	env.packetIn(1, 1, macH1, macH2)
	before := env.enumerator.Computations()
	first, _ := env.ctrl.ChosenPath(macH1, macH2)

	env.packetIn(1, 1, macH1, macH2)
	second, _ := env.ctrl.ChosenPath(macH1, macH2)
	assert.True(t, first.Equal(second))
	assert.Equal(t, before, env.enumerator.Computations())
}

func TestTopologyChangeInvalidates(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()

	env.packetIn(1, 1, macH1, macH2)
	_, ok := env.ctrl.ChosenPath(macH1, macH2)
	require.True(t, ok)

	env.ctrl.Dispatch(&southbound.Event{
		Kind: southbound.EventLinkDelete,
		DPID: 5,
		Link: &southbound.LinkInfo{SrcDPID: 5, DstDPID: 6},
	})
	_, ok = env.ctrl.ChosenPath(macH1, macH2)
	assert.False(t, ok)
	assert.Len(t, env.measuredCandidates(), 2)
}

func TestLinkLatencyDoesNotInvalidate(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	env.packetIn(1, 1, macH1, macH2)

	env.ctrl.Dispatch(&southbound.Event{
		Kind:    southbound.EventLinkLatency,
		DPID:    1,
		Latency: &southbound.LatencyInfo{SrcDPID: 1, DstDPID: 2, Seconds: 0.004},
	})
	_, ok := env.ctrl.ChosenPath(macH1, macH2)
	assert.True(t, ok)

	link, ok := env.store.GetLink(common.SwitchNode(1), common.SwitchNode(2))
	require.True(t, ok)
	assert.True(t, link.HasLatency)
}

func TestInvalidHostIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.connect(1)
	env.host("not-a-mac", 1, 1)
	assert.Equal(t, 1, env.store.NodeCount())
}

func TestTeardownEmitsReportAndResets(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	env.packetIn(2, 3, macH3, macH1)
	env.packetIn(1, 1, macH1, macH2)
	sessionID := env.ctrl.SessionID()

	for dpid := uint64(1); dpid <= 6; dpid++ {
		env.ctrl.Dispatch(&southbound.Event{Kind: southbound.EventSwitchDisconnected, DPID: dpid})
	}

	assert.Equal(t, StateTeardown, env.ctrl.State())
	assert.Equal(t, 0, env.ctrl.BootstrapIndex())
	assert.Empty(t, env.ctrl.SessionID())
	assert.Equal(t, 0, env.store.NodeCount())
	assert.Equal(t, 0, env.ctrl.Switches().Len())

	env.ctrl.Close()
	reports := env.sink.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, sessionID, reports[0].SessionID)
	assert.Equal(t, 1, reports[0].Experiment)
	require.Len(t, reports[0].Paths, 1)
	assert.Equal(t, phaseBootstrap, reports[0].Paths[0].Phase)

	env.status.mu.Lock()
	assert.Equal(t, []bool{true, false}, env.status.serving)
	env.status.mu.Unlock()

	// next connect starts a fresh session
	env.connect(1)
	assert.Equal(t, StateBootstrap, env.ctrl.State())
	assert.Equal(t, 2, env.ctrl.Experiment())
	assert.NotEqual(t, sessionID, env.ctrl.SessionID())
}

func TestActiveScoresAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	for i := 0; i < 3; i++ {
		env.packetIn(2, 3, macH3, macH1)
	}
	require.NoError(t, env.scorers.Register(2, scoring.NewLinearScorer([]float64{1, 1, 0, 0, 0, 0}, 0)))

	env.packetIn(1, 1, macH1, macH2)
	for dpid := uint64(1); dpid <= 6; dpid++ {
		env.ctrl.Dispatch(&southbound.Event{Kind: southbound.EventSwitchDisconnected, DPID: dpid})
	}
	env.ctrl.Close()

	reports := env.sink.Reports()
	require.Len(t, reports, 1)
	require.Len(t, reports[0].Metrics, 2)
	for _, m := range reports[0].Metrics {
		assert.Equal(t, "2 Link Path", m.Label)
		assert.Len(t, m.Features, 6)
	}
	require.Len(t, reports[0].Paths, 1)
	assert.Equal(t, phaseActive, reports[0].Paths[0].Phase)
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	env := newTestEnv(t)
	events := make(chan *southbound.Event, 4)
	sw := &fakeSwitch{dpid: 9}
	events <- &southbound.Event{Kind: southbound.EventSwitchConnected, DPID: 9, Switch: sw}
	close(events)

	done := make(chan struct{})
	go func() {
		env.ctrl.Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, env.ctrl.Switches().Has(9))
}

func TestSwitchRegistry(t *testing.T) {
	r := NewSwitchRegistry()
	assert.True(t, r.Add(&fakeSwitch{dpid: 3}))
	assert.True(t, r.Add(&fakeSwitch{dpid: 1}))
	assert.False(t, r.Add(&fakeSwitch{dpid: 3}))
	assert.Equal(t, 2, r.Len())

	list := r.Switches()
	require.Len(t, list, 2)
	assert.Equal(t, uint64(1), list[0].DPID())
	assert.Equal(t, uint64(3), list[1].DPID())

	remaining, ok := r.Remove(3, nil)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	_, ok = r.Remove(3, nil)
	assert.False(t, ok)
	assert.False(t, r.Has(3))
	_, ok = r.Get(1)
	assert.True(t, ok)

	t.Run("reconnect on a new channel", func(t *testing.T) {
		old, fresh := &fakeSwitch{dpid: 7}, &fakeSwitch{dpid: 7}
		assert.True(t, r.Add(old))
		assert.True(t, r.Add(fresh), "new channel for a live dpid")
		assert.False(t, r.Add(fresh))

		_, ok := r.Remove(7, old)
		assert.False(t, ok, "stale channel close is ignored")
		sw, ok := r.Get(7)
		require.True(t, ok)
		assert.Same(t, fresh, sw)

		_, ok = r.Remove(7, fresh)
		assert.True(t, ok)
		assert.False(t, r.Has(7))
	})
}

func TestStaleDisconnectAfterReconnect(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()
	old := env.switches[1]
	fresh := &fakeSwitch{dpid: 1}

	env.ctrl.Dispatch(&southbound.Event{Kind: southbound.EventSwitchConnected, DPID: 1, Switch: fresh})
	require.Len(t, fresh.Installed(), 1)
	assert.Equal(t, southbound.TableMissRule(), fresh.Installed()[0])

	env.ctrl.Dispatch(&southbound.Event{Kind: southbound.EventSwitchDisconnected, DPID: 1, Switch: old})
	assert.Equal(t, StateBootstrap, env.ctrl.State())
	assert.Equal(t, 6, env.ctrl.Switches().Len())
	assert.True(t, env.store.HasNode(common.SwitchNode(1)))
	sw, ok := env.ctrl.Switches().Get(1)
	require.True(t, ok)
	assert.Same(t, fresh, sw)

	env.ctrl.Dispatch(&southbound.Event{Kind: southbound.EventSwitchDisconnected, DPID: 1, Switch: fresh})
	assert.Equal(t, 5, env.ctrl.Switches().Len())
	assert.False(t, env.store.HasNode(common.SwitchNode(1)))
}

func TestBootstrapReplyDirectionReversesForwardPath(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()

	for i := 0; i < 2; i++ {
		env.packetIn(1, 1, macH1, macH2)
		env.packetIn(3, 4, macH2, macH1)

		forward, ok := env.ctrl.ChosenPath(macH1, macH2)
		require.True(t, ok)
		back, ok := env.ctrl.ChosenPath(macH2, macH1)
		require.True(t, ok)
		assert.True(t, env.measuredCandidates()[i].Equal(forward))
		assert.Equal(t, forward.Reverse().Nodes, back.Nodes)

		env.packetIn(2, 3, macH3, macH1)
	}
}

func TestProbeHostARPDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	env.buildDiamond()

	env.ctrl.Dispatch(&southbound.Event{
		Kind:   southbound.EventPacketIn,
		DPID:   2,
		Switch: env.switches[2],
		Packet: &southbound.PacketIn{InPort: 3, Data: ethernetFrame(macH3, "ff:ff:ff:ff:ff:ff", 0x0806)},
	})
	assert.Equal(t, 0, env.ctrl.BootstrapIndex())
	assert.Equal(t, StateBootstrap, env.ctrl.State())
	assert.Equal(t, []packetOut{{inPort: 3, outPort: southbound.PortFlood}}, env.switches[2].PacketOuts())
	assert.Empty(t, env.switches[1].Deleted())

	env.packetIn(2, 3, macH3, macH1)
	assert.Equal(t, 1, env.ctrl.BootstrapIndex())
}
