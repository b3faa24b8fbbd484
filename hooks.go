package axql

// Hooks receives point events from a Pool's connections for external
// instrumentation (see internal/metrics), mirroring the teacher's
// pattern of incrementing a package-level atomic counter from inside
// internal/database call sites and exposing it through a
// prometheus.Collector.
type Hooks interface {
	CacheHit()
	CacheMiss()
	TxRollback()
}
