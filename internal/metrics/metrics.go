// Package metrics exposes the storage engine's operational metrics on a
// Prometheus /metrics endpoint (SPEC_FULL.md's domain stack: "counters/
// gauges for per-command invocation counts, pending-map depth, storage
// size, and chain-forward latency"). It never replaces the response
// sentinels of spec §7 — it's additive instrumentation, consumed by
// whatever scrapes cmd/storage-server.
//
// The registration shape — a Registry owning its collectors, a
// background sampler ticking on an interval, a dedicated
// http.Server wrapping promhttp.Handler — follows
// orbas1-Synnergy/synnergy-network/core/system_health_logging.go's
// HealthLogger, the one repository in the retrieved corpus that
// actually wires up prometheus/client_golang in source rather than
// merely listing it in a go.mod manifest.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns this process's Prometheus collectors and the handful of
// Observe/Set methods internal/block, internal/chain and the sampler
// below call into. A Registry is safe for concurrent use — every
// exported method eventually reaches a prometheus collector, which is
// itself safe for concurrent use.
type Registry struct {
	reg *prometheus.Registry

	commandTotal    *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	pendingDepth    *prometheus.GaugeVec
	storageSize     *prometheus.GaugeVec
	forwardLatency  prometheus.Histogram
}

// New builds a Registry with all collectors registered against a fresh
// prometheus.Registry (not the global DefaultRegisterer, so tests can
// build as many Registry values as they like without collision).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jiffy_command_total",
			Help: "Total command_request calls handled, by command name and outcome.",
		}, []string{"command", "status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jiffy_command_duration_seconds",
			Help:    "command_request latency in seconds, by command name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		pendingDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jiffy_pending_depth",
			Help: "Current size of a block slot's chain pending map (always 0 at the tail).",
		}, []string{"slot"}),
		storageSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jiffy_storage_size_bytes",
			Help: "Current storage size of a block slot's partition, in bytes.",
		}, []string{"slot"}),
		forwardLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jiffy_chain_forward_latency_seconds",
			Help:    "Time a head replica's Request spends forwarding and waiting on the rest of the chain.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		r.commandTotal,
		r.commandDuration,
		r.pendingDepth,
		r.storageSize,
		r.forwardLatency,
	)
	return r
}

// ObserveCommand implements internal/block.Recorder.
func (r *Registry) ObserveCommand(name string, dur time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.commandTotal.WithLabelValues(name, status).Inc()
	r.commandDuration.WithLabelValues(name).Observe(dur.Seconds())
}

// ObserveForward implements internal/chain.Recorder.
func (r *Registry) ObserveForward(dur time.Duration) {
	r.forwardLatency.Observe(dur.Seconds())
}

// SetPendingDepth records a block slot's current pending-map size.
func (r *Registry) SetPendingDepth(slot int, n int) {
	r.pendingDepth.WithLabelValues(strconv.Itoa(slot)).Set(float64(n))
}

// SetStorageSize records a block slot's current partition storage size.
func (r *Registry) SetStorageSize(slot int, n int64) {
	r.storageSize.WithLabelValues(strconv.Itoa(slot)).Set(float64(n))
}

// Handler returns the promhttp handler serving this Registry's
// collectors, meant to be mounted at "/metrics".
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SlotSource is the slice of internal/block.Server the sampler needs:
// enough to iterate every slot and read its current pending depth and
// storage size without depending on the block package directly (kept
// as a narrow interface here so metrics stays a leaf package).
type SlotSource interface {
	NumSlots() int
	SlotStats(idx int) (pendingDepth int, storageSize int64, bound bool)
}

// Sampler periodically polls a SlotSource and records gauge values,
// mirroring HealthLogger.RunMetricsCollector's ticker-driven snapshot
// loop.
type Sampler struct {
	registry *Registry
	source   SlotSource
	interval time.Duration
}

// NewSampler builds a Sampler. interval is clamped to at least one
// second to keep a misconfigured caller from busy-polling every slot.
func NewSampler(registry *Registry, source SlotSource, interval time.Duration) *Sampler {
	if interval < time.Second {
		interval = time.Second
	}
	return &Sampler{registry: registry, source: source, interval: interval}
}

// Run samples every slot once per interval until ctx is canceled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sampleOnce()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sampler) sampleOnce() {
	for i := 0; i < s.source.NumSlots(); i++ {
		pending, size, bound := s.source.SlotStats(i)
		if !bound {
			continue
		}
		s.registry.SetPendingDepth(i, pending)
		s.registry.SetStorageSize(i, size)
	}
}

// Serve starts an HTTP server exposing r's collectors at "/metrics" on
// addr, returning the *http.Server so the caller manages its lifecycle
// (graceful shutdown alongside the command/chain/management listeners).
func Serve(addr string, r *Registry) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	return srv, errCh
}
