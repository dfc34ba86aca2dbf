// Package metrics exposes the operational surface a single-file engine
// needs once it is embedded in a long-running service: cache hit rate,
// checkpoint duration, WAL size, and reader lag. None of this is on the
// data path (§10 of SPEC_FULL.md) — every hot function in the pager, WAL,
// and B+Tree stays silent. Values reach this package only through
// decentdb.DB: CheckpointDB records each pass, GC counts reclaimed pages,
// and SyncMetrics pushes cache and WAL snapshots.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the metrics one decentdb handle reports. A caller
// embedding decentdb in a service registers Registry.Registerer() (or
// passes its own *prometheus.Registry into New) alongside its other
// collectors.
type Registry struct {
	reg *prometheus.Registry

	CacheHits       prometheus.Gauge
	CacheMisses     prometheus.Gauge
	CacheEvictions  prometheus.Gauge
	WalSizeBytes    prometheus.Gauge
	ActiveReaders   prometheus.Gauge
	ReaderLagPages  prometheus.Gauge
	CheckpointTotal prometheus.Counter
	CheckpointFail  prometheus.Counter
	CheckpointSecs  prometheus.Histogram
	GCReclaimed     prometheus.Counter
}

// New builds a Registry backed by reg. Passing nil creates a private
// *prometheus.Registry the caller can still scrape via Gatherer().
func New(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		CacheHits: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "decentdb",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Pager buffer pool hits since open (synced from Cache.Stats).",
		}),
		CacheMisses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "decentdb",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Pager buffer pool misses requiring a page read since open (synced from Cache.Stats).",
		}),
		CacheEvictions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "decentdb",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Pager buffer pool entries evicted under pressure since open (synced from Cache.Stats).",
		}),
		WalSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "decentdb",
			Subsystem: "wal",
			Name:      "size_bytes",
			Help:      "Current size of the write-ahead log file.",
		}),
		ActiveReaders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "decentdb",
			Subsystem: "wal",
			Name:      "active_readers",
			Help:      "Number of currently registered read snapshots.",
		}),
		ReaderLagPages: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "decentdb",
			Subsystem: "wal",
			Name:      "reader_lag_pages",
			Help:      "WAL bytes written since the oldest active reader's snapshot, in whole pages.",
		}),
		CheckpointTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "decentdb",
			Subsystem: "checkpoint",
			Name:      "runs_total",
			Help:      "Checkpoint passes completed.",
		}),
		CheckpointFail: f.NewCounter(prometheus.CounterOpts{
			Namespace: "decentdb",
			Subsystem: "checkpoint",
			Name:      "failures_total",
			Help:      "Checkpoint passes that returned an error.",
		}),
		CheckpointSecs: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "decentdb",
			Subsystem: "checkpoint",
			Name:      "duration_seconds",
			Help:      "Wall-clock time spent applying WAL pages to the main file.",
			Buckets:   prometheus.DefBuckets,
		}),
		GCReclaimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "decentdb",
			Subsystem: "gc",
			Name:      "reclaimed_pages_total",
			Help:      "Orphaned pages returned to the freelist by garbage collection.",
		}),
	}
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Registerer exposes the underlying registry so a caller can add its own
// collectors alongside decentdb's.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// ObserveCheckpoint records one checkpoint pass's outcome and duration.
func (r *Registry) ObserveCheckpoint(d time.Duration, err error) {
	r.CheckpointTotal.Inc()
	r.CheckpointSecs.Observe(d.Seconds())
	if err != nil {
		r.CheckpointFail.Inc()
	}
}

// SyncCacheStats overwrites the cache gauges with a fresh snapshot. The
// pager tracks hits/misses/evictions as plain counters with no Prometheus
// dependency of its own; the caller (decentdb.DB) pulls a snapshot on
// whatever cadence it likes (e.g. after each checkpoint) and pushes it
// here rather than this package reaching into the pager directly.
func (r *Registry) SyncCacheStats(hits, misses, evictions uint64) {
	r.CacheHits.Set(float64(hits))
	r.CacheMisses.Set(float64(misses))
	r.CacheEvictions.Set(float64(evictions))
}

// SyncWalStats overwrites the WAL-related gauges with a fresh snapshot.
func (r *Registry) SyncWalStats(sizeBytes int64, activeReaders int, readerLagPages int64) {
	r.WalSizeBytes.Set(float64(sizeBytes))
	r.ActiveReaders.Set(float64(activeReaders))
	r.ReaderLagPages.Set(float64(readerLagPages))
}
