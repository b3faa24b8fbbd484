package main

import (
	"github.com/spf13/cobra"

	"github.com/axql/axql/internal/buildinfo"
)

func runVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print axqlctl build metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(buildinfo.String())
			return nil
		},
	}
}
