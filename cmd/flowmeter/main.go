// Command flowmeter is the entrypoint: it wires configuration into one
// pipeline per worker (capture -> header parser -> fragment cache -> flow
// cache -> IPFIX exporter) and drains them on shutdown, per
// SPEC_FULL.md §2.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/netweaver/flowmeter/pkg/analytics"
	"github.com/netweaver/flowmeter/pkg/capture"
	"github.com/netweaver/flowmeter/pkg/config"
	"github.com/netweaver/flowmeter/pkg/ctt"
	"github.com/netweaver/flowmeter/pkg/descriptor"
	"github.com/netweaver/flowmeter/pkg/flowcache"
	"github.com/netweaver/flowmeter/pkg/fragcache"
	"github.com/netweaver/flowmeter/pkg/headerparser"
	"github.com/netweaver/flowmeter/pkg/ipfix"
	"github.com/netweaver/flowmeter/pkg/plugin"
	"github.com/netweaver/flowmeter/pkg/plugins"
	"github.com/netweaver/flowmeter/pkg/telemetry"
)

// worker owns one input source, one parser, one fragment cache, one flow
// cache, and one exporter — no state is shared with any other worker.
type worker struct {
	id        int
	source    *capture.Source
	parser    *headerparser.Parser
	fragCache *fragcache.Cache
	flowCache *flowcache.Cache
	exporter  *ipfix.Exporter
	ctt       ctt.Client
	archive   *analytics.Archive
	telemetry *telemetry.Tree
	logger    *zap.Logger

	packetsIn atomic.Uint64
}

func newWorker(id int, cfg config.Config, reg *plugin.Registry, ctlClient ctt.Client, archive *analytics.Archive, tel *telemetry.Tree, logger *zap.Logger) (*worker, error) {
	var src *capture.Source
	var err error
	if cfg.Input.PcapFile != "" {
		src, err = capture.OpenOffline(cfg.Input.PcapFile)
	} else {
		src, err = capture.OpenLive(cfg.Input.Interface, 65535)
	}
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}

	w := &worker{
		id:        id,
		source:    src,
		parser:    headerparser.New(),
		ctt:       ctlClient,
		archive:   archive,
		telemetry: tel,
		logger:    logger.With(zap.Int("worker", id)),
	}

	w.fragCache = fragcache.New(fragcache.Config{
		BucketCount: cfg.FragmentCache.BucketCount,
		RingSize:    cfg.FragmentCache.RingSize,
		Timeout:     time.Duration(cfg.FragmentCache.TimeoutSec) * time.Second,
	})

	w.exporter = ipfix.New(ipfix.Config{
		Protocol:        cfg.Export.Protocol,
		Collector:       cfg.Export.Collector,
		MTU:             cfg.Export.MTU,
		TemplateRefresh: time.Duration(cfg.Export.TemplateRefreshSec) * time.Second,
		FlushInterval:   time.Duration(cfg.Export.FlushIntervalMs) * time.Millisecond,
	}, reg.Instantiate(), w.logger)

	pluginInstances := reg.Instantiate()
	w.flowCache = flowcache.New(flowcache.Config{
		BucketBits:      cfg.FlowCache.BucketBits,
		BucketSize:      cfg.FlowCache.BucketSize,
		ActiveTimeout:   time.Duration(cfg.FlowCache.ActiveTimeoutSec) * time.Second,
		InactiveTimeout: time.Duration(cfg.FlowCache.InactiveTimeoutSec) * time.Second,
	}, pluginInstances, w.onExport)

	return w, nil
}

// onExport is the flow cache's ExportFunc: ship the flow to IPFIX,
// archive it for later querying, notify CTT, and return. Never blocks the
// cache on a slow collector beyond the exporter's own buffering.
func (w *worker) onExport(f *flowcache.Flow, reason flowcache.ExportReason) {
	err := w.exporter.Export(f)
	if err != nil {
		w.logger.Debug("export failed", zap.Error(err), zap.Uint64("flow_hash", f.FlowHash))
	} else if w.archive != nil {
		record := analytics.Record{
			Time:         time.UnixMicro(f.TimeLast),
			SrcIP:        net.IP(f.Key.SrcIP.Bytes()).String(),
			DstIP:        net.IP(f.Key.DstIP.Bytes()).String(),
			SrcPort:      f.Key.SrcPort,
			DstPort:      f.Key.DstPort,
			Proto:        f.Key.Proto,
			SrcBytes:     f.SrcBytes,
			DstBytes:     f.DstBytes,
			SrcPackets:   f.SrcPackets,
			DstPackets:   f.DstPackets,
			DurationUs:   f.TimeLast - f.TimeFirst,
			ExportReason: reason.String(),
		}
		if err := w.archive.InsertRecords([]analytics.Record{record}); err != nil {
			w.logger.Debug("analytics insert failed", zap.Error(err), zap.Uint64("flow_hash", f.FlowHash))
		}
	}
	w.ctt.ExportRecord(f.FlowHash, reason.String())
}

// run drains the capture source until ctx is cancelled, feeding every
// packet through parse -> fragment reassembly gate -> flow cache.
func (w *worker) run(ctx context.Context) {
	defer w.source.Close()
	defer w.exporter.Close()

	var pkt descriptor.Packet
	sweepTicker := time.NewTicker(time.Second)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flowCache.FlushAll()
			return
		case <-sweepTicker.C:
			w.flowCache.ExportExpired(time.Now().UnixMicro())
			w.exporter.Tick(time.Now())
			continue
		default:
		}

		data, wireLen, tsSec, tsUsec, err := w.source.ReadPacket()
		if err != nil {
			// Offline sources hit EOF; live sources rarely error here.
			return
		}
		w.packetsIn.Add(1)

		if err := w.parser.Parse(data, wireLen, tsSec, tsUsec, w.source.Datalink(), &pkt); err != nil {
			continue
		}
		if w.telemetry != nil {
			w.telemetry.ObserveQueue(w.id, pkt.PacketLenWire)
			if pkt.VLANID != 0 {
				w.telemetry.ObserveVLAN(pkt.VLANID, pkt.PacketLenWire)
			}
		}
		if pkt.IPVersion == descriptor.IPUnknown {
			continue
		}

		// Fills in L4 ports from the first fragment's cached record when
		// pkt is a non-first fragment; every packet still reaches the
		// flow cache so its bytes count toward the flow.
		w.fragCache.CachePacket(&pkt)
		w.flowCache.Put(&pkt)
	}
}

func newLogger() (*zap.Logger, error) {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.EncoderConfig.TimeKey = "timestamp"
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return loggerConfig.Build()
}

func main() {
	configFile := flag.String("config", "configs/flowmeter.yaml", "Path to configuration file")
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	reg := plugin.NewRegistry()
	plugins.RegisterAll(reg)

	var ctlClient ctt.Client = ctt.NullClient{}
	if cfg.CTT.Enabled {
		ctlClient = ctt.NewAMQPClient(ctt.Config{
			URL:        cfg.CTT.URL,
			Exchange:   cfg.CTT.Exchange,
			RoutingKey: cfg.CTT.RoutingKey,
		}, logger)
	}

	var archive *analytics.Archive
	if cfg.Analytics.Enabled {
		ctx := context.Background()
		archive, err = analytics.New(ctx, analytics.Config{
			Host:     cfg.Analytics.Host,
			Port:     cfg.Analytics.Port,
			Database: cfg.Analytics.Database,
			User:     cfg.Analytics.User,
			Password: cfg.Analytics.Password,
			PoolSize: cfg.Analytics.PoolSize,
		})
		if err != nil {
			logger.Warn("analytics archive unavailable, continuing without it", zap.Error(err))
			archive = nil
		}
	}

	tel := telemetry.New(prometheus.DefaultRegisterer)
	if cfg.Monitoring.Enabled && cfg.Monitoring.PrometheusPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
			logger.Info("prometheus exporter listening", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn("prometheus server stopped", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	workers := make([]*worker, 0, cfg.Input.Workers)
	for i := 0; i < cfg.Input.Workers; i++ {
		w, err := newWorker(i, cfg, reg, ctlClient, archive, tel, logger)
		if err != nil {
			logger.Fatal("failed to start worker", zap.Int("worker", i), zap.Error(err))
		}
		workers = append(workers, w)
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down, draining workers")
	cancel()
	wg.Wait()

	ctlClient.Close()
	if archive != nil {
		archive.Close()
	}
	logger.Info("flowmeter stopped")
}
