package exporter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Metrics holds every controller series. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	linkBandwidth     *prometheus.GaugeVec
	linkDelay         *prometheus.GaugeVec
	linkLoss          *prometheus.GaugeVec
	bootstrapIndex    prometheus.Gauge
	connectedSwitches prometheus.Gauge
	pathSelections    *prometheus.CounterVec
	sessions          prometheus.Counter
	metricMisses      prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		linkBandwidth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qoe_link_bandwidth_mbps",
				Help: "Free bandwidth of the directed switch link in Mbps",
			},
			[]string{
				"src",
				"dst",
			}),
		linkDelay: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qoe_link_delay_ms",
				Help: "One-way delay estimate of the directed switch link in ms",
			},
			[]string{
				"src",
				"dst",
			}),
		linkLoss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qoe_link_loss_pct",
				Help: "Packet loss percentage of the directed switch link",
			},
			[]string{
				"src",
				"dst",
			}),
		bootstrapIndex: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qoe_bootstrap_index",
				Help: "Candidate index currently exercised during bootstrap",
			}),
		connectedSwitches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qoe_connected_switches",
				Help: "The number of switches with a live control channel",
			}),
		pathSelections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qoe_path_selections_total",
				Help: "Paths chosen for host pairs, by switch link count",
			},
			[]string{
				"links",
			}),
		sessions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qoe_sessions_total",
				Help: "Completed controller sessions",
			}),
		metricMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qoe_metric_misses_total",
				Help: "Metric writes for links absent from the topology",
			}),
	}
	m.registry.MustRegister(
		m.linkBandwidth,
		m.linkDelay,
		m.linkLoss,
		m.bootstrapIndex,
		m.connectedSwitches,
		m.pathSelections,
		m.sessions,
		m.metricMisses,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetLink(src, dst string, bandwidthMbps, delayMs, lossPct float64) {
	if m == nil {
		return
	}
	m.linkBandwidth.WithLabelValues(src, dst).Set(bandwidthMbps)
	m.linkDelay.WithLabelValues(src, dst).Set(delayMs)
	m.linkLoss.WithLabelValues(src, dst).Set(lossPct)
}

// ResetLinks drops every link series, used when the topology is cleared.
func (m *Metrics) ResetLinks() {
	if m == nil {
		return
	}
	m.linkBandwidth.Reset()
	m.linkDelay.Reset()
	m.linkLoss.Reset()
}

func (m *Metrics) SetBootstrapIndex(i int) {
	if m == nil {
		return
	}
	m.bootstrapIndex.Set(float64(i))
}

func (m *Metrics) SetConnectedSwitches(n int) {
	if m == nil {
		return
	}
	m.connectedSwitches.Set(float64(n))
}

func (m *Metrics) IncPathSelection(links int) {
	if m == nil {
		return
	}
	m.pathSelections.WithLabelValues(strconv.Itoa(links)).Inc()
}

func (m *Metrics) IncSessions() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) AddMetricMisses(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.metricMisses.Add(float64(n))
}

// Serve exposes the registry on /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Metrics.Serve: shutdown err=%v", err)
		}
	}()

	log.Infof("Metrics.Serve: listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
