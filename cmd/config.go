package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"qoerouting/common"
	"qoerouting/controller"
	"qoerouting/etcd"
	"qoerouting/metrics_processing"
	"qoerouting/routing"
	"qoerouting/scoring"
)

// ControllerConfig mirrors qoe_controller.toml.
type ControllerConfig struct {
	Controller ControllerSection `toml:"controller"`
	Telemetry  TelemetrySection  `toml:"telemetry"`
	Capacity   CapacitySection   `toml:"capacity"`
	Scorers    []ScorerSection   `toml:"scorers"`
	Storage    StorageSection    `toml:"storage"`
	Etcd       EtcdSection       `toml:"etcd"`
	Metrics    ListenSection     `toml:"metrics"`
	Health     ListenSection     `toml:"health"`
	Pool       PoolSection       `toml:"pool"`
}

type ControllerSection struct {
	ListenAddr    string `toml:"listen_addr"`
	MeasureSrc    string `toml:"measure_src"`
	MeasureDst    string `toml:"measure_dst"`
	ProbeHost     string `toml:"probe_host"`
	MaxCandidates int    `toml:"max_candidates"`
	EventBuffer   int    `toml:"event_buffer"`
	LogLevel      string `toml:"log_level"`
	CollectHost   bool   `toml:"collect_host"`
}

type TelemetrySection struct {
	PeriodMs        int `toml:"period_ms"`
	ProbeIntervalMs int `toml:"probe_interval_ms"`
}

type LinkCapacity struct {
	Src  uint64  `toml:"src"`
	Dst  uint64  `toml:"dst"`
	Mbps float64 `toml:"mbps"`
}

type CapacitySection struct {
	DefaultMbps float64        `toml:"default_mbps"`
	Links       []LinkCapacity `toml:"links"`
}

type ScorerSection struct {
	Links   int       `toml:"links"`
	Weights []float64 `toml:"weights"`
	Bias    float64   `toml:"bias"`
}

type StorageSection struct {
	DataDir       string `toml:"data_dir"`
	SinkTimeoutMs int    `toml:"sink_timeout_ms"`
	SinkRetries   uint   `toml:"sink_retries"`
}

type EtcdSection struct {
	Enabled          bool     `toml:"enabled"`
	Endpoints        []string `toml:"endpoints"`
	DialTimeoutMs    int      `toml:"dial_timeout_ms"`
	RequestTimeoutMs int      `toml:"request_timeout_ms"`
	MaxRetries       uint     `toml:"max_retries"`
	WatchScorers     bool     `toml:"watch_scorers"`
}

type ListenSection struct {
	ListenAddr string `toml:"listen_addr"`
}

type PoolSection struct {
	MaxWorkers int `toml:"max_workers"`
}

func loadConfig(path string) (*ControllerConfig, error) {
	var config ControllerConfig
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warningf("loadConfig: unknown keys in %s: %v", path, undecoded)
	}
	if !md.IsDefined("telemetry", "probe_interval_ms") {
		config.Telemetry.ProbeIntervalMs = int(metrics_processing.DefaultProbeInterval / time.Millisecond)
	}
	applyDefaults(&config)
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &config, nil
}

func applyDefaults(config *ControllerConfig) {
	c := &config.Controller
	if c.ListenAddr == "" {
		log.Warningf("controller.listen_addr not specified, using :6653")
		c.ListenAddr = ":6653"
	}
	if c.MeasureSrc == "" {
		c.MeasureSrc = controller.DefaultMeasureSrc
	}
	if c.MeasureDst == "" {
		c.MeasureDst = controller.DefaultMeasureDst
	}
	if c.ProbeHost == "" {
		c.ProbeHost = controller.DefaultProbeHost
	}
	if c.MaxCandidates <= 0 {
		log.Warningf("controller.max_candidates not specified, using %d", routing.DefaultMaxCandidates)
		c.MaxCandidates = routing.DefaultMaxCandidates
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 1024
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if config.Telemetry.PeriodMs <= 0 {
		log.Warningf("telemetry.period_ms not specified, using %v", metrics_processing.DefaultPeriod)
		config.Telemetry.PeriodMs = int(metrics_processing.DefaultPeriod / time.Millisecond)
	}
	if config.Telemetry.ProbeIntervalMs < 0 {
		config.Telemetry.ProbeIntervalMs = int(metrics_processing.DefaultProbeInterval / time.Millisecond)
	}
	if config.Capacity.DefaultMbps <= 0 {
		log.Warningf("capacity.default_mbps not specified, using %v", common.DefaultCapacityMbps)
		config.Capacity.DefaultMbps = common.DefaultCapacityMbps
	}
	if config.Storage.DataDir == "" {
		log.Warningf("storage.data_dir not specified, using ./data")
		config.Storage.DataDir = "./data"
	}
	if config.Storage.SinkTimeoutMs <= 0 {
		config.Storage.SinkTimeoutMs = 10000
	}
	if config.Storage.SinkRetries == 0 {
		config.Storage.SinkRetries = 3
	}

	def := etcd.DefaultEtcdConfig()
	if len(config.Etcd.Endpoints) == 0 {
		config.Etcd.Endpoints = def.Endpoints
	}
	if config.Etcd.DialTimeoutMs <= 0 {
		config.Etcd.DialTimeoutMs = int(def.DialTimeout / time.Millisecond)
	}
	if config.Etcd.RequestTimeoutMs <= 0 {
		config.Etcd.RequestTimeoutMs = int(def.RequestTimeout / time.Millisecond)
	}
	if config.Etcd.MaxRetries == 0 {
		config.Etcd.MaxRetries = def.MaxRetries
	}

	if config.Metrics.ListenAddr == "" {
		log.Warningf("metrics.listen_addr not specified, using :9108")
		config.Metrics.ListenAddr = ":9108"
	}
	if config.Health.ListenAddr == "" {
		log.Warningf("health.listen_addr not specified, using :50051")
		config.Health.ListenAddr = ":50051"
	}
	if config.Pool.MaxWorkers <= 0 {
		config.Pool.MaxWorkers = 8
	}
}

func (config *ControllerConfig) validate() error {
	if _, err := log.ParseLevel(config.Controller.LogLevel); err != nil {
		return fmt.Errorf("controller.log_level: %w", err)
	}
	for i, s := range config.Scorers {
		if err := scoring.NewLinearScorer(s.Weights, s.Bias).Validate(s.Links); err != nil {
			return fmt.Errorf("scorers[%d]: %w", i, err)
		}
	}
	for i, l := range config.Capacity.Links {
		if l.Src == 0 || l.Dst == 0 || l.Mbps <= 0 {
			return fmt.Errorf("capacity.links[%d]: src, dst and mbps must be positive", i)
		}
	}
	return nil
}

func (config *ControllerConfig) controllerConfig() controller.Config {
	return controller.Config{
		MeasureSrc: config.Controller.MeasureSrc,
		MeasureDst: config.Controller.MeasureDst,
		ProbeHost:  config.Controller.ProbeHost,
		Telemetry: metrics_processing.Config{
			Period:        time.Duration(config.Telemetry.PeriodMs) * time.Millisecond,
			ProbeInterval: time.Duration(config.Telemetry.ProbeIntervalMs) * time.Millisecond,
		},
		SinkTimeout: time.Duration(config.Storage.SinkTimeoutMs) * time.Millisecond,
		SinkRetries: config.Storage.SinkRetries,
		CollectHost: config.Controller.CollectHost,
	}
}

func (config *ControllerConfig) etcdConfig() etcd.EtcdConfig {
	cfg := etcd.DefaultEtcdConfig()
	cfg.Endpoints = config.Etcd.Endpoints
	cfg.DialTimeout = time.Duration(config.Etcd.DialTimeoutMs) * time.Millisecond
	cfg.RequestTimeout = time.Duration(config.Etcd.RequestTimeoutMs) * time.Millisecond
	cfg.MaxRetries = config.Etcd.MaxRetries
	return cfg
}

func (config *ControllerConfig) capacityTable() *common.CapacityTable {
	table := common.NewCapacityTable(config.Capacity.DefaultMbps)
	for _, l := range config.Capacity.Links {
		table.Set(l.Src, l.Dst, l.Mbps)
	}
	return table
}

func (config *ControllerConfig) scorerRegistry() (*scoring.Registry, error) {
	registry := scoring.NewRegistry()
	for _, s := range config.Scorers {
		if err := registry.Register(s.Links, scoring.NewLinearScorer(s.Weights, s.Bias)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
