package main

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"qoerouting/common"
	"qoerouting/controller"
	"qoerouting/etcd"
	"qoerouting/health"
	"qoerouting/metrics_processing/exporter"
	"qoerouting/metrics_processing/storage"
	"qoerouting/routing"
	"qoerouting/southbound"
	"qoerouting/southbound/connection"
)

func initLogging(logDir, level string) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Warningf("initLogging: create %s failed, err=%v", logDir, err)
	}
	logFile := filepath.Join(logDir, "qoe_controller.log")

	fileLogger := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100, // MB
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.Infof("Logging initialized: file=%s, level=%s, stdout=enabled", logFile, lvl)
}

func main() {
	configPath := pflag.String("config", "qoe_controller.toml", "path to the controller config file")
	logDir := pflag.String("log-dir", "./logs", "directory for rotated log files")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading configuration failed, err:%v", err)
	}
	initLogging(*logDir, cfg.Controller.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := common.NewTopologyStore(cfg.capacityTable())
	scorers, err := cfg.scorerRegistry()
	if err != nil {
		log.Fatalf("building scorer registry failed, err:%v", err)
	}
	enumerator := routing.NewPathEnumerator(store, nil, cfg.Controller.MaxCandidates)

	pool, err := common.NewPool(common.PoolConfig{MaxWorkers: cfg.Pool.MaxWorkers})
	if err != nil {
		log.Fatalf("creating worker pool failed, err:%v", err)
	}
	defer pool.Release()

	fileManager, err := storage.NewFileManager(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("creating session storage failed, err:%v", err)
	}
	defer fileManager.Close()
	sinks := []controller.RecordSink{fileManager}

	var wg sync.WaitGroup

	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg.etcdConfig())
		if err != nil {
			log.Fatalf("connecting etcd failed, err:%v", err)
		}
		defer client.Close()
		sinks = append(sinks, etcd.NewRecordPublisher(client, client, cfg.etcdConfig()))

		if cfg.Etcd.WatchScorers {
			watcher := etcd.NewScorerWatcher(client, client, scorers)
			if err := watcher.Load(ctx); err != nil {
				log.Warningf("loading scorers from etcd failed, err:%v", err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Errorf("scorer watcher stopped, err:%v", err)
				}
			}()
		}
	}

	metrics := exporter.NewMetrics()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
			log.Errorf("metrics endpoint stopped, addr:%v, err:%v", cfg.Metrics.ListenAddr, err)
		}
	}()

	healthServer := health.NewServer()
	healthListener, err := net.Listen("tcp", cfg.Health.ListenAddr)
	if err != nil {
		log.Fatalf("listening health failed, addr:%v, err:%v", cfg.Health.ListenAddr, err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := healthServer.Serve(ctx, healthListener); err != nil {
			log.Errorf("health server stopped, err:%v", err)
		}
	}()

	ctrl := controller.New(cfg.controllerConfig(), store, enumerator, scorers,
		controller.WithSinks(sinks...),
		controller.WithPool(pool),
		controller.WithMetrics(metrics),
		controller.WithStatusReporter(healthServer),
	)

	events := make(chan *southbound.Event, cfg.Controller.EventBuffer)
	southboundServer := connection.NewServer(events, connection.DefaultSmuxConfig())
	listener, err := net.Listen("tcp", cfg.Controller.ListenAddr)
	if err != nil {
		log.Fatalf("listening tcp failed, addr:%v, err:%v", cfg.Controller.ListenAddr, err)
	}
	log.Infof("listening tcp success, addr:%v", cfg.Controller.ListenAddr)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := southboundServer.Serve(ctx, listener); err != nil {
			log.Errorf("southbound server stopped, err:%v", err)
		}
	}()

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		ctrl.Run(ctx, events)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	log.Infof("qoe controller init success")

	<-signalChan
	log.Infof("received signal, shutting down")
	cancel()
	southboundServer.Close()
	<-ctrlDone
	wg.Wait()
	log.Infof("qoe controller stopped")
}
