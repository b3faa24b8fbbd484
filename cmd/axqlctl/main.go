// Command axqlctl is a small operator CLI for exercising and
// introspecting an axql pool, in the style of the teacher's cmd/qui
// subcommand tree (see db_command.go).
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	root := &cobra.Command{
		Use:   "axqlctl",
		Short: "Operate and inspect axql connection pools",
	}

	root.AddCommand(runPoolCommand())
	root.AddCommand(runDSNCommand())
	root.AddCommand(runVersionCommand())
	root.AddCommand(runServeCommand())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("axqlctl failed")
		os.Exit(1)
	}
}
