package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"

	"qoerouting/common"
	"qoerouting/metrics_processing"
	"qoerouting/metrics_processing/collector"
	"qoerouting/metrics_processing/exporter"
	"qoerouting/routing"
	"qoerouting/scoring"
	"qoerouting/southbound"
)

const (
	DefaultMeasureSrc = "00:00:00:00:00:01"
	DefaultMeasureDst = "00:00:00:00:00:02"
	DefaultProbeHost  = "00:00:00:00:00:03"
)

// RecordSink receives the session report at teardown.
type RecordSink interface {
	SaveSession(ctx context.Context, report *common.SessionReport) error
}

// StatusReporter is told whether a session is being served.
type StatusReporter interface {
	SetServing(serving bool)
}

type Config struct {
	MeasureSrc string
	MeasureDst string
	ProbeHost  string

	Telemetry metrics_processing.Config

	SinkTimeout time.Duration
	SinkRetries uint

	// CollectHost attaches a host snapshot to every session report.
	CollectHost bool
}

func DefaultConfig() Config {
	return Config{
		MeasureSrc: DefaultMeasureSrc,
		MeasureDst: DefaultMeasureDst,
		ProbeHost:  DefaultProbeHost,
		Telemetry: metrics_processing.Config{
			Period:        metrics_processing.DefaultPeriod,
			ProbeInterval: metrics_processing.DefaultProbeInterval,
		},
		SinkTimeout: 10 * time.Second,
		SinkRetries: 3,
	}
}

type pairKey struct {
	src, dst common.Node
}

type handlerFunc func(ev *southbound.Event)

// Controller is the path-selection state machine. Events are dispatched
// from a single goroutine; telemetry runs beside it per session.
type Controller struct {
	cfg        Config
	store      *common.TopologyStore
	enumerator *routing.PathEnumerator
	scorers    *scoring.Registry
	telemetry  *metrics_processing.Collector
	switches   *SwitchRegistry
	sinks      []RecordSink
	pool       *ants.Pool
	metrics    *exporter.Metrics
	status     StatusReporter

	measureSrc common.Node
	measureDst common.Node
	probeHost  common.Node

	handlers map[southbound.EventKind]handlerFunc

	mu             sync.Mutex
	baseCtx        context.Context
	state          State
	bootstrapIndex int
	chosen         map[pairKey]common.Path
	session        *session
	experiment     int

	telemetryCancel context.CancelFunc
	telemetryDone   chan struct{}

	emitWG sync.WaitGroup
}

type Option func(*Controller)

func WithSinks(sinks ...RecordSink) Option {
	return func(c *Controller) { c.sinks = append(c.sinks, sinks...) }
}

func WithPool(pool *ants.Pool) Option {
	return func(c *Controller) { c.pool = pool }
}

func WithMetrics(m *exporter.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithStatusReporter(r StatusReporter) Option {
	return func(c *Controller) { c.status = r }
}

func New(cfg Config, store *common.TopologyStore, enumerator *routing.PathEnumerator, scorers *scoring.Registry, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.MeasureSrc == "" {
		cfg.MeasureSrc = def.MeasureSrc
	}
	if cfg.MeasureDst == "" {
		cfg.MeasureDst = def.MeasureDst
	}
	if cfg.ProbeHost == "" {
		cfg.ProbeHost = def.ProbeHost
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}

	c := &Controller{
		cfg:        cfg,
		store:      store,
		enumerator: enumerator,
		scorers:    scorers,
		switches:   NewSwitchRegistry(),
		measureSrc: common.HostNode(cfg.MeasureSrc),
		measureDst: common.HostNode(cfg.MeasureDst),
		probeHost:  common.HostNode(cfg.ProbeHost),
		baseCtx:    context.Background(),
		state:      StateTeardown,
		chosen:     make(map[pairKey]common.Path),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.telemetry = metrics_processing.NewCollector(store, c.switches, c.metrics, cfg.Telemetry)

	c.handlers = map[southbound.EventKind]handlerFunc{
		southbound.EventSwitchConnected:    c.handleSwitchConnected,
		southbound.EventSwitchDisconnected: c.handleSwitchDisconnected,
		southbound.EventLinkAdd:            c.handleLinkAdd,
		southbound.EventLinkDelete:         c.handleLinkDelete,
		southbound.EventHostAdd:            c.handleHostAdd,
		southbound.EventLinkLatency:        c.handleLinkLatency,
		southbound.EventPacketIn:           c.handlePacketIn,
		southbound.EventPortStats:          c.handlePortStats,
		southbound.EventFlowStats:          c.handleFlowStats,
		southbound.EventProbeReply:         c.handleProbeReply,
	}
	return c
}

// Run dispatches events until ctx is cancelled or the channel closes.
func (c *Controller) Run(ctx context.Context, events <-chan *southbound.Event) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	log.Infof("Controller.Run: started, measure=%s->%s, probe=%s", c.measureSrc, c.measureDst, c.probeHost)
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			log.Infof("Controller.Run: context done")
			return
		case ev, ok := <-events:
			if !ok {
				log.Infof("Controller.Run: event channel closed")
				return
			}
			c.Dispatch(ev)
		}
	}
}

func (c *Controller) Dispatch(ev *southbound.Event) {
	if ev == nil {
		return
	}
	handler, ok := c.handlers[ev.Kind]
	if !ok {
		log.Warnf("Controller.Dispatch: no handler for kind=%s", ev.Kind)
		return
	}
	handler(ev)
}

// Close stops telemetry and waits for pending report emissions.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopTelemetryLocked()
	c.mu.Unlock()
	c.emitWG.Wait()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) BootstrapIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrapIndex
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

func (c *Controller) Experiment() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.experiment
}

// ChosenPath returns the cached decision for the pair, if any.
func (c *Controller) ChosenPath(src, dst string) (common.Path, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.chosen[pairKey{src: common.HostNode(src), dst: common.HostNode(dst)}]
	return p, ok
}

func (c *Controller) Switches() *SwitchRegistry {
	return c.switches
}

func (c *Controller) Telemetry() *metrics_processing.Collector {
	return c.telemetry
}

// startSessionLocked opens a new session on the first connect after
// startup or teardown.
func (c *Controller) startSessionLocked() {
	c.experiment++
	c.session = newSession(c.experiment)
	c.state = StateBootstrap
	c.bootstrapIndex = 0
	c.metrics.SetBootstrapIndex(0)

	ctx, cancel := context.WithCancel(c.baseCtx)
	done := make(chan struct{})
	c.telemetryCancel = cancel
	c.telemetryDone = done
	go func() {
		defer close(done)
		c.telemetry.Run(ctx)
	}()

	if c.status != nil {
		c.status.SetServing(true)
	}
	log.Infof("Controller.startSession: session=%s, experiment=%d", c.session.id, c.experiment)
}

func (c *Controller) stopTelemetryLocked() {
	if c.telemetryCancel == nil {
		return
	}
	c.telemetryCancel()
	<-c.telemetryDone
	c.telemetryCancel = nil
	c.telemetryDone = nil
}

// invalidateLocked drops candidate and chosen-path caches after any
// topology change.
func (c *Controller) invalidateLocked() {
	c.enumerator.Invalidate()
	if len(c.chosen) > 0 {
		c.chosen = make(map[pairKey]common.Path)
	}
}

// teardownLocked ends the session: telemetry is stopped before anything is
// cleared, the report goes out asynchronously, then all state is reset.
func (c *Controller) teardownLocked() {
	c.stopTelemetryLocked()

	if c.session != nil {
		var host *common.HostSnapshot
		if c.cfg.CollectHost {
			snapshot, err := collector.CollectHostSnapshot()
			if err != nil {
				log.Warnf("Controller.teardown: host snapshot failed, err=%v", err)
			} else {
				host = snapshot
			}
		}
		c.emit(c.session.report(time.Now(), host))
	}

	c.store.Clear()
	c.invalidateLocked()
	c.telemetry.Reset()

	c.bootstrapIndex = 0
	c.state = StateTeardown
	c.session = nil

	c.metrics.IncSessions()
	c.metrics.SetBootstrapIndex(0)
	c.metrics.SetConnectedSwitches(0)
	if c.status != nil {
		c.status.SetServing(false)
	}
	log.Infof("Controller.teardown: session closed, experiment=%d", c.experiment)
}

func (c *Controller) emit(report *common.SessionReport) {
	log.Infof("Controller.emit: session=%s, metrics=%d, paths=%d, sinks=%d",
		report.SessionID, len(report.Metrics), len(report.Paths), len(c.sinks))

	ctx := context.WithoutCancel(c.baseCtx)
	for _, sink := range c.sinks {
		task := func() {
			defer c.emitWG.Done()
			c.saveWithRetry(ctx, sink, report)
		}
		c.emitWG.Add(1)
		if c.pool == nil {
			go task()
			continue
		}
		if err := c.pool.Submit(task); err != nil {
			log.Warnf("Controller.emit: pool submit failed, running inline goroutine, err=%v", err)
			go task()
		}
	}
}

func (c *Controller) saveWithRetry(ctx context.Context, sink RecordSink, report *common.SessionReport) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SinkTimeout)
	defer cancel()

	tries := c.cfg.SinkRetries
	if tries == 0 {
		tries = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, sink.SaveSession(ctx, report)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(tries))
	if err != nil {
		log.Warnf("Controller.saveWithRetry: sink=%T, session=%s, err=%v", sink, report.SessionID, err)
	}
}

func (c *Controller) isAdvanceSignal(src, dst common.Node) bool {
	return src == c.probeHost || dst == c.probeHost
}

func (c *Controller) isMeasuredPair(src, dst common.Node) bool {
	return (src == c.measureSrc && dst == c.measureDst) || (src == c.measureDst && dst == c.measureSrc)
}

// advanceLocked moves bootstrap to the next candidate of the measured pair.
func (c *Controller) advanceLocked() {
	for _, sw := range c.switches.Switches() {
		if err := sw.DeleteFlows(southbound.CookiePath); err != nil {
			log.Warnf("Controller.advance: delete flows dpid=%d, err=%v", sw.DPID(), err)
		}
	}
	c.bootstrapIndex++
	c.invalidateLocked()
	c.metrics.SetBootstrapIndex(c.bootstrapIndex)

	count := len(c.enumerator.Candidates(c.measureSrc, c.measureDst))
	log.Infof("Controller.advance: bootstrap_index=%d, candidates=%d", c.bootstrapIndex, count)
	if count > 0 && c.bootstrapIndex >= count {
		c.state = StateActive
		log.Infof("Controller.advance: every candidate exercised, state=%s", c.state)
	}
}

// choosePathLocked returns the path for the pair, deciding and caching it
// on first use.
func (c *Controller) choosePathLocked(src, dst common.Node) (common.Path, bool) {
	key := pairKey{src: src, dst: dst}
	if p, ok := c.chosen[key]; ok {
		return p, true
	}

	candidates := c.enumerator.Candidates(src, dst)
	if len(candidates) == 0 {
		return common.Path{}, false
	}

	now := time.Now()
	var (
		path  common.Path
		phase string
		score float64
	)
	switch c.state {
	case StateActive:
		scored := routing.ScoreCandidates(c.store, c.scorers, candidates)
		if c.session != nil {
			c.session.recordScores(src, dst, scored, now)
		}
		if best, ok := routing.FirstArgmax(scored); ok {
			path, phase, score = best.Path, phaseActive, best.Score
		} else {
			log.Warnf("Controller.choosePath: no scorable candidate for %s->%s, using shortest", src, dst)
			path, phase = candidates[0], phaseFallback
		}
	default:
		// the reply direction of the measured pair walks the forward
		// candidate backwards so both directions share the same links
		reverse := src == c.measureDst && dst == c.measureSrc
		pool := candidates
		if reverse {
			if forward := c.enumerator.Candidates(c.measureSrc, c.measureDst); len(forward) > 0 {
				pool = forward
			} else {
				reverse = false
			}
		}
		idx := c.bootstrapIndex
		if idx >= len(pool) {
			idx = len(pool) - 1
		}
		if !c.isMeasuredPair(src, dst) {
			log.Debugf("Controller.choosePath: %s->%s not measured, candidate[%d]", src, dst, idx)
		}
		path, phase = pool[idx], phaseBootstrap
		if reverse {
			path = path.Reverse()
		}
	}

	c.chosen[key] = path
	if c.session != nil {
		c.session.recordPath(src, dst, path, phase, score, now)
	}
	c.metrics.IncPathSelection(path.LinkCount())
	log.Infof("Controller.choosePath: %s->%s state=%s phase=%s links=%d path=%s",
		src, dst, c.state, phase, path.LinkCount(), path)
	return path, true
}

// OutPort resolves the egress port on dpid for traffic src->dst, or the
// flood port when the decision cannot be made.
func (c *Controller) OutPort(dpid uint64, src, dst string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outPortLocked(dpid, common.HostNode(src), common.HostNode(dst))
}

func (c *Controller) outPortLocked(dpid uint64, src, dst common.Node) uint32 {
	if !c.store.HasNode(dst) {
		log.Debugf("Controller.outPort: unknown destination %s, flooding", dst)
		return southbound.PortFlood
	}
	if !c.store.HasNode(src) {
		log.Debugf("Controller.outPort: unknown source %s, flooding", src)
		return southbound.PortFlood
	}
	path, ok := c.choosePathLocked(src, dst)
	if !ok {
		log.Debugf("Controller.outPort: no candidates %s->%s, flooding", src, dst)
		return southbound.PortFlood
	}
	current := common.SwitchNode(dpid)
	next, ok := path.Next(current)
	if !ok {
		log.Debugf("Controller.outPort: s%d not on path %s, flooding", dpid, path)
		return southbound.PortFlood
	}
	port, ok := c.store.Port(current, next)
	if !ok {
		log.Warnf("Controller.outPort: no port for %s->%s, flooding", current, next)
		return southbound.PortFlood
	}
	return port
}

func (c *Controller) switchFor(ev *southbound.Event) (southbound.Switch, error) {
	if ev.Switch != nil {
		return ev.Switch, nil
	}
	sw, ok := c.switches.Get(ev.DPID)
	if !ok {
		return nil, fmt.Errorf("switch dpid=%d not connected", ev.DPID)
	}
	return sw, nil
}
