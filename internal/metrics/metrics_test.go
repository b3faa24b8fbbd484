package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/axql/axql"
	"github.com/axql/axql/driver"
)

func TestCollector_CollectReportsHookCounters(t *testing.T) {
	pool := axql.NewPool(axql.PoolConfig{
		Dialect: "sqlite",
		Options: driver.Options{DataSource: ":memory:"},
		MaxSize: 1,
	})
	defer pool.Close()

	c := NewCollector(pool)
	c.CacheHit()
	c.CacheHit()
	c.CacheMiss()
	c.TxRollback()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if g := m.GetGauge(); g != nil {
				values[f.GetName()] = g.GetValue()
			}
			if cnt := m.GetCounter(); cnt != nil {
				values[f.GetName()] = cnt.GetValue()
			}
		}
	}

	require.Equal(t, float64(2), values["axql_stmt_cache_hits_total"])
	require.Equal(t, float64(1), values["axql_stmt_cache_misses_total"])
	require.Equal(t, float64(1), values["axql_tx_rollback_total"])
	require.Contains(t, values, "axql_pool_size")
}
