package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/axql/axql/internal/config"
	"github.com/axql/axql/internal/metrics"
)

// runServeCommand loads a TOML config file end to end the way a real
// service embedding axql would: resolve config, configure logging, open
// a pool, optionally start the metrics endpoint, then idle until
// interrupted. Mirrors cmd/qui's top-level serve flow (config load ->
// logger setup -> dependency wiring -> block on signal).
func runServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open a pool from a config file and hold it open until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.ConfigureLogging(); err != nil {
				return err
			}

			pool, err := cfg.OpenPool(nil)
			if err != nil {
				return err
			}
			defer pool.Close()

			if addr, enabled := cfg.MetricsAddr(); enabled {
				collector := metrics.NewCollector(pool)
				pool.SetHooks(collector)
				metrics.Serve(addr, collector)
			}

			log.Info().Msg("axqlctl serve ready, waiting for interrupt")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			log.Info().Msg("axqlctl serve shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a TOML config file (AXQL_* env vars and defaults apply if omitted)")
	return cmd
}
