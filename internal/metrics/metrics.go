// Package metrics exposes a Pool's runtime state as Prometheus metrics,
// following the teacher's internal/database/metrics.go pattern: atomic
// counters fed by call sites (here through axql.Hooks, one set per
// Collector), surfaced through a prometheus.Collector built around
// prometheus.NewDesc/MustNewConstMetric.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/axql/axql"
)

// Collector reports pool gauges (size, idle, in-use, waiters) and
// counters (statement cache hits/misses, transaction rollbacks) for one
// Pool. It implements axql.Hooks so it can be passed directly as
// PoolConfig.Hooks.
type Collector struct {
	pool *axql.Pool

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	txRollbacks atomic.Uint64

	sizeDesc        *prometheus.Desc
	idleDesc        *prometheus.Desc
	inUseDesc       *prometheus.Desc
	waitersDesc     *prometheus.Desc
	cacheHitsDesc   *prometheus.Desc
	cacheMissesDesc *prometheus.Desc
	txRollbackDesc  *prometheus.Desc
}

// NewCollector builds a Collector bound to pool. Register it with a
// prometheus.Registry and attach it to the same pool with Pool.SetHooks,
// since the pool has to exist before its Collector can be built.
func NewCollector(pool *axql.Pool) *Collector {
	return &Collector{
		pool: pool,
		sizeDesc: prometheus.NewDesc(
			"axql_pool_size", "Total physical connections currently open, idle plus borrowed.", nil, nil),
		idleDesc: prometheus.NewDesc(
			"axql_pool_idle", "Idle connections available for immediate reuse.", nil, nil),
		inUseDesc: prometheus.NewDesc(
			"axql_pool_in_use", "Connections currently borrowed by a caller.", nil, nil),
		waitersDesc: prometheus.NewDesc(
			"axql_pool_waiters", "Goroutines currently blocked in Acquire.", nil, nil),
		cacheHitsDesc: prometheus.NewDesc(
			"axql_stmt_cache_hits_total", "Statement cache lookups that found a prepared handle.", nil, nil),
		cacheMissesDesc: prometheus.NewDesc(
			"axql_stmt_cache_misses_total", "Statement cache lookups that had to prepare a new handle.", nil, nil),
		txRollbackDesc: prometheus.NewDesc(
			"axql_tx_rollback_total", "Transactions and savepoints rolled back.", nil, nil),
	}
}

func (c *Collector) CacheHit()   { c.cacheHits.Add(1) }
func (c *Collector) CacheMiss()  { c.cacheMisses.Add(1) }
func (c *Collector) TxRollback() { c.txRollbacks.Add(1) }

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sizeDesc
	ch <- c.idleDesc
	ch <- c.inUseDesc
	ch <- c.waitersDesc
	ch <- c.cacheHitsDesc
	ch <- c.cacheMissesDesc
	ch <- c.txRollbackDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stats()

	ch <- prometheus.MustNewConstMetric(c.sizeDesc, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stats.Idle))
	ch <- prometheus.MustNewConstMetric(c.inUseDesc, prometheus.GaugeValue, float64(stats.InUse))
	ch <- prometheus.MustNewConstMetric(c.waitersDesc, prometheus.GaugeValue, float64(stats.Waiters))

	ch <- prometheus.MustNewConstMetric(c.cacheHitsDesc, prometheus.CounterValue, float64(c.cacheHits.Load()))
	ch <- prometheus.MustNewConstMetric(c.cacheMissesDesc, prometheus.CounterValue, float64(c.cacheMisses.Load()))
	ch <- prometheus.MustNewConstMetric(c.txRollbackDesc, prometheus.CounterValue, float64(c.txRollbacks.Load()))
}

// Serve registers collector with its own prometheus.Registry and serves
// it on addr at /metrics in a background goroutine, in the style of the
// teacher's pprof server (internal/api/pprof.go): started once at
// process startup, logging failures rather than propagating them since
// nothing synchronously depends on the listener succeeding.
func Serve(addr string, collector *Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		log.Info().Str("addr", addr).Msg("starting axql metrics server")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("axql metrics server failed")
		}
	}()
}
