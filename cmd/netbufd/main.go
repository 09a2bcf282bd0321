package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"netbuf/alloc"
	"netbuf/api/grpcserver"
	"netbuf/config"
	"netbuf/infra/journal"
	"netbuf/infra/kafka"
	"netbuf/infra/reportstore"
	"netbuf/internal/assert"
	"netbuf/jobs/broadcaster"
	"netbuf/service"
	"netbuf/tracker"
	"netbuf/workq"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

func parseFlags() config.Config {
	var (
		cfg     config.Config
		brokers string
	)
	flag.BoolVar(&cfg.Tracker.Enabled, "track", true, "track buffer lifecycles")
	flag.BoolVar(&cfg.Tracker.KeepFreed, "track.keep-freed", true, "keep freed records to name the first free site")
	flag.IntVar(&cfg.Tracker.Shards, "track.shards", 16, "tracker shards")
	flag.IntVar(&cfg.Alloc.Headroom, "alloc.headroom", 64, "headroom reserved for received frames")
	flag.Int64Var(&cfg.Alloc.BudgetBytes, "alloc.budget", 64<<20, "buffer storage budget in bytes, 0 for unlimited")
	flag.BoolVar(&cfg.Alloc.Poison, "alloc.poison", true, "poison released storage")
	flag.IntVar(&cfg.Queues.MaxQueues, "queues.max", 8, "live work queue limit")
	flag.StringVar(&cfg.Journal.Dir, "journal.dir", "", "lifecycle journal directory, empty to disable")
	flag.StringVar(&cfg.ReportDir, "report.dir", "./reports", "leak report store, empty to disable")
	flag.DurationVar(&cfg.ReportInterval, "report.interval", 30*time.Second, "report persistence interval")
	flag.StringVar(&cfg.GRPCAddr, "grpc.addr", ":50061", "diagnostics gRPC listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics.addr", ":9161", "prometheus listen address, empty to disable")
	flag.BoolVar(&cfg.Strict, "strict", false, "panic on misuse instead of logging it")
	flag.StringVar(&brokers, "kafka.brokers", "", "comma separated brokers for report publishing")
	flag.StringVar(&cfg.Kafka.Topic, "kafka.topic", "netbuf.leaks", "report topic")
	flag.StringVar(&cfg.Kafka.Client, "kafka.client", "sarama", "sarama or kafka-go")
	flag.IntVar(&cfg.Pipeline.Devices, "rx.devices", 2, "loopback devices")
	flag.IntVar(&cfg.Pipeline.Producers, "rx.producers", 4, "loopback producers")
	flag.IntVar(&cfg.Pipeline.FrameSize, "rx.frame", 512, "loopback frame size")
	flag.DurationVar(&cfg.Pipeline.Interval, "rx.interval", time.Millisecond, "delay between frames per producer")
	flag.Parse()

	if brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	return cfg.WithDefaults()
}

func main() {
	cfg := parseFlags()
	defer glog.Flush()
	if err := run(cfg); err != nil {
		glog.Exitf("netbufd: %v", err)
	}
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	assert.SetStrict(cfg.Strict)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cfg.Tracker.Registerer = reg
	cfg.Alloc.Registerer = reg
	cfg.Queues.Registerer = reg

	// ---------------- Journal ----------------

	var jrn *journal.Journal
	if cfg.Journal.Dir != "" {
		var err error
		if jrn, err = journal.Open(cfg.Journal); err != nil {
			return err
		}
		defer jrn.Close()
		cfg.Tracker.Sink = jrn
	}

	// ---------------- Buffer layer ----------------

	tr := tracker.New(cfg.Tracker)
	// runs before the journal's deferred Close, so queued events are
	// flushed into an open journal on every return path
	defer func() {
		if err := tr.Close(); err != nil {
			glog.Errorf("[tracker] close: %v", err)
		}
	}()
	cfg.Alloc.Tracker = tr
	a := alloc.New(cfg.Alloc)
	cfg.Queues.Allocator = a
	group := workq.NewGroup(cfg.Queues)

	// ---------------- Reports ----------------

	var store *reportstore.Store
	if cfg.ReportDir != "" {
		var err error
		if store, err = reportstore.Open(cfg.ReportDir); err != nil {
			return err
		}
		defer store.Close()
	}
	diag := service.NewDiagnostics(service.Options{
		Tracker:   tr,
		Allocator: a,
		Group:     group,
		Store:     store,
		Journal:   jrn,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	var jobs []<-chan struct{}
	if store != nil {
		jobs = append(jobs, diag.StartReportJob(bg, cfg.ReportInterval))
	}

	var bc *broadcaster.Broadcaster
	if cfg.Kafka.Enabled() {
		pub, err := newPublisher(cfg.Kafka)
		if err != nil {
			return err
		}
		host, _ := os.Hostname()
		if bc, err = broadcaster.New(store, pub, broadcaster.Config{Interval: cfg.Kafka.Interval, Host: host}); err != nil {
			_ = pub.Close()
			return err
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			bc.Run(bg)
		}()
		jobs = append(jobs, done)
	}

	// ---------------- gRPC / metrics ----------------

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPCAddr)
	}
	grpcSrv := grpc.NewServer()
	grpcserver.Register(grpcSrv, diag)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			glog.Errorf("[gRPC] serve: %v", err)
		}
	}()
	glog.Infof("[netbufd] diagnostics on %s", lis.Addr())

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Errorf("[metrics] serve: %v", err)
			}
		}()
	}

	// ---------------- RX pipeline ----------------

	p, err := newPipeline(cfg.Pipeline, group)
	if err != nil {
		_ = group.DeinitAll(context.Background())
		return err
	}
	prodErr := make(chan error, 1)
	go func() { prodErr <- p.run(ctx) }()

	select {
	case <-ctx.Done():
		glog.Infof("[netbufd] shutting down")
	case err := <-prodErr:
		glog.Errorf("[netbufd] producers stopped: %v", err)
		stop()
	}
	return shutdown(p, prodErr, group, diag, store, bc, grpcSrv, metricsSrv, cancelBG, jobs)
}

// shutdown stops the producers before tearing down the queues, so the
// final report lists only buffers that were genuinely leaked.
func shutdown(
	p *pipeline,
	prodErr <-chan error,
	group *workq.Group,
	diag *service.Diagnostics,
	store *reportstore.Store,
	bc *broadcaster.Broadcaster,
	grpcSrv *grpc.Server,
	metricsSrv *http.Server,
	cancelBG context.CancelFunc,
	jobs []<-chan struct{},
) error {
	select {
	case <-prodErr:
	case <-time.After(5 * time.Second):
		glog.Warningf("[netbufd] producers did not stop in time")
	}

	tctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	teardownErr := group.DeinitAll(tctx)
	p.summary()

	// periodic jobs stop before the final persist and publish
	cancelBG()
	for _, done := range jobs {
		<-done
	}

	report := diag.Snapshot()
	glog.Infof("[netbufd] final report:\n%s", report)
	if store != nil {
		if seq, err := diag.Persist(); err != nil {
			glog.Errorf("[netbufd] persist final report: %v", err)
		} else {
			glog.Infof("[netbufd] final report stored as %d", seq)
		}
	}
	if bc != nil {
		if _, err := bc.PublishPending(tctx); err != nil {
			glog.Warningf("[broadcaster] final publish: %v", err)
		}
	}

	if bc != nil {
		_ = bc.Close()
	}
	grpcSrv.GracefulStop()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(tctx)
	}
	return teardownErr
}

func newPublisher(cfg config.Kafka) (broadcaster.Publisher, error) {
	if cfg.Client == "kafka-go" {
		p, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Brokers, Topic: cfg.Topic})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := broadcaster.NewSaramaPublisher(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	return p, nil
}
