package main

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/axql/axql"
	"github.com/axql/axql/internal/dsn"
	"github.com/axql/axql/internal/metrics"
)

func runPoolCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Connection pool operations",
	}
	cmd.AddCommand(runPoolSmokeCommand())
	return cmd
}

func runPoolSmokeCommand() *cobra.Command {
	var (
		dsnFlag       string
		minSize       int
		maxSize       int
		readers       int
		hotLoopers    int
		timeout       time.Duration
		metricsAddr   string
		maxLifetime   time.Duration
		testOnAcquire bool
		fair          bool
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Drive a pool under concurrent load and report final stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := dsn.Resolve(dsnFlag, dsn.Explicit{})
			if err != nil {
				return err
			}

			pool := axql.NewPool(axql.PoolConfig{
				Dialect:                string(target.Dialect),
				Options:                target.Options,
				MinSize:                minSize,
				MaxSize:                maxSize,
				StatementCacheCapacity: target.StatementCacheCapacity,
				MaxLifetime:            maxLifetime,
				TestOnAcquire:          testOnAcquire,
				Unfair:                 !fair,
			})
			defer pool.Close()

			if metricsAddr != "" {
				collector := metrics.NewCollector(pool)
				pool.SetHooks(collector)
				metrics.Serve(metricsAddr, collector)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var wg sync.WaitGroup
			runSmokeReaders(ctx, &wg, pool, readers)
			runSmokeHotLoopers(ctx, &wg, pool, hotLoopers)
			wg.Wait()

			stats := pool.Stats()
			cmd.Printf("pool smoke complete: size=%d idle=%d in_use=%d waiters=%d\n",
				stats.Size, stats.Idle, stats.InUse, stats.Waiters)
			return nil
		},
	}

	cmd.Flags().StringVar(&dsnFlag, "dsn", "sqlite::memory:", "Connection target")
	cmd.Flags().IntVar(&minSize, "min-size", 5, "Minimum pool size")
	cmd.Flags().IntVar(&maxSize, "max-size", 10, "Maximum pool size")
	cmd.Flags().IntVar(&readers, "readers", 20, "Concurrent reader tasks")
	cmd.Flags().IntVar(&hotLoopers, "hot-loopers", 5, "Concurrent acquire/release-loop tasks")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall smoke test duration")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address for the run")
	cmd.Flags().DurationVar(&maxLifetime, "max-lifetime", 0, "Retire a connection on release once it has been open this long (0 disables)")
	cmd.Flags().BoolVar(&testOnAcquire, "test-on-acquire", false, "Ping an idle connection before handing it out, discarding it on failure")
	cmd.Flags().BoolVar(&fair, "fair", true, "FIFO waiter ordering; false allows barging")

	return cmd
}

// runSmokeReaders repeatedly fetches rows through the pool for the whole
// run, each fetch borrowing a connection until its stream is closed: the
// steady-state workload a real pool sees.
func runSmokeReaders(ctx context.Context, wg *sync.WaitGroup, pool *axql.Pool, n int) {
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				func() {
					stream, err := pool.Fetch(ctx, "SELECT 1")
					if err != nil {
						return
					}
					defer stream.Close(ctx)
					for {
						ok, err := stream.Next(ctx)
						if err != nil || !ok {
							return
						}
						var n int
						_ = stream.Scan(&n)
					}
				}()
			}
		}()
	}
}

// runSmokeHotLoopers repeatedly acquire and immediately release a
// connection, exercising the pool's fast idle-reuse path and its
// fairness against the longer-lived reader tasks above.
func runSmokeHotLoopers(ctx context.Context, wg *sync.WaitGroup, pool *axql.Pool, n int) {
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				conn, err := pool.Acquire(ctx)
				if err != nil {
					continue
				}
				pool.Release(conn)
			}
		}()
	}
}
