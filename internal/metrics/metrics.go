// Package metrics exposes the validator node's health statistics as
// Prometheus gauges/counters and structured logrus events, grounded on the
// teacher's core/system_health_logging.go HealthLogger -- same registry +
// gauge + JSON-log + HTTP-server shape, re-pointed from ledger/coin/network
// fields at quorum consistency, dispatcher queue occupancy, and faulty
// computor count (§B: dispatcher/quorum counters -- votes consistent/total,
// queue depth, faulty count), served by StartServer's own /metrics
// endpoint on a net/http ServeMux, separate from the chi status endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"validator-node/internal/types"
)

// Snapshot captures one poll of the node's health statistics.
type Snapshot struct {
	Tick             types.Tick `json:"tick"`
	VotesConsistent  int        `json:"votes_consistent"`
	VotesTotal       int        `json:"votes_total"`
	FaultyComputors  int        `json:"faulty_computors"`
	QueueLength      int        `json:"queue_length"`
	QueueCapacity    int        `json:"queue_capacity"`
	MemAlloc         uint64     `json:"mem_alloc"`
	NumGoroutines    int        `json:"goroutines"`
	Timestamp        int64      `json:"timestamp"`
}

// Source supplies the values Recorder polls each interval. internal/node's
// NodeState implements it by reading the quorum engine and dispatcher it
// already owns.
type Source interface {
	CurrentTick() types.Tick
	QuorumStats() (consistent, total int)
	FaultyCount() int
	QueueDepth() (length, capacity int)
}

// Recorder is the validator node's equivalent of HealthLogger: a Prometheus
// registry plus a logrus sink, polled on an interval and served over HTTP.
type Recorder struct {
	source Source
	log    *logrus.Logger

	registry            *prometheus.Registry
	tickGauge           prometheus.Gauge
	votesConsistentGauge prometheus.Gauge
	votesTotalGauge      prometheus.Gauge
	faultyGauge          prometheus.Gauge
	queueLengthGauge     prometheus.Gauge
	queueCapacityGauge   prometheus.Gauge
	memAllocGauge        prometheus.Gauge
	goroutinesGauge      prometheus.Gauge
	errorCounter         prometheus.Counter
}

// New builds a Recorder polling source and logging through log (the
// process-wide logrus.Logger if nil).
func New(source Source, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	reg := prometheus.NewRegistry()

	r := &Recorder{source: source, log: log, registry: reg}

	r.tickGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_current_tick",
		Help: "Current tick being processed by this node",
	})
	r.votesConsistentGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_quorum_votes_consistent",
		Help: "Number of computors whose vote matches the quorum's computed target",
	})
	r.votesTotalGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_quorum_votes_total",
		Help: "Number of votes received for the current tick",
	})
	r.faultyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_faulty_computors",
		Help: "Number of computors marked faulty this epoch",
	})
	r.queueLengthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_dispatcher_queue_length",
		Help: "Current length of the dispatcher request queue",
	})
	r.queueCapacityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_dispatcher_queue_capacity",
		Help: "Configured capacity of the dispatcher request queue",
	})
	r.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_mem_alloc_bytes",
		Help: "Current memory allocation in bytes",
	})
	r.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "validator_goroutines",
		Help: "Number of running goroutines",
	})
	r.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "validator_log_errors_total",
		Help: "Total number of error events logged",
	})

	reg.MustRegister(
		r.tickGauge,
		r.votesConsistentGauge,
		r.votesTotalGauge,
		r.faultyGauge,
		r.queueLengthGauge,
		r.queueCapacityGauge,
		r.memAllocGauge,
		r.goroutinesGauge,
		r.errorCounter,
	)

	return r
}

// LogEvent records an arbitrary message, counting it as an error if level
// warrants it.
func (r *Recorder) LogEvent(level logrus.Level, msg string) {
	if level <= logrus.ErrorLevel {
		r.errorCounter.Inc()
	}
	r.log.Log(level, msg)
}

// Poll gathers one Snapshot from source and the runtime, updating every
// gauge.
func (r *Recorder) Poll() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	consistent, total := r.source.QuorumStats()
	length, capacity := r.source.QueueDepth()

	snap := Snapshot{
		Tick:            r.source.CurrentTick(),
		VotesConsistent: consistent,
		VotesTotal:      total,
		FaultyComputors: r.source.FaultyCount(),
		QueueLength:     length,
		QueueCapacity:   capacity,
		MemAlloc:        mem.Alloc,
		NumGoroutines:   runtime.NumGoroutine(),
		Timestamp:       time.Now().Unix(),
	}

	r.tickGauge.Set(float64(snap.Tick))
	r.votesConsistentGauge.Set(float64(snap.VotesConsistent))
	r.votesTotalGauge.Set(float64(snap.VotesTotal))
	r.faultyGauge.Set(float64(snap.FaultyComputors))
	r.queueLengthGauge.Set(float64(snap.QueueLength))
	r.queueCapacityGauge.Set(float64(snap.QueueCapacity))
	r.memAllocGauge.Set(float64(snap.MemAlloc))
	r.goroutinesGauge.Set(float64(snap.NumGoroutines))

	return snap
}

// Run polls on interval until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Poll()
		case <-ctx.Done():
			return
		}
	}
}

// StartServer exposes /metrics on addr, returning the *http.Server so the
// caller manages its shutdown alongside the rest of the node.
func (r *Recorder) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv
}

// Shutdown gracefully stops a server started by StartServer.
func (r *Recorder) Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
