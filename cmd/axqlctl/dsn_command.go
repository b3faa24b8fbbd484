package main

import (
	"github.com/spf13/cobra"

	"github.com/axql/axql/internal/dsn"
)

func runDSNCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dsn",
		Short: "Connection target inspection",
	}
	cmd.AddCommand(runDSNShowCommand())
	return cmd
}

func runDSNShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <uri>",
		Short: "Resolve a DSN (URI, explicit fields, environment) and print it redacted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var uri string
			if len(args) == 1 {
				uri = args[0]
			}

			target, err := dsn.Resolve(uri, dsn.Explicit{})
			if err != nil {
				return err
			}

			cmd.Printf("dialect:                  %s\n", target.Dialect)
			cmd.Printf("resolved:                 %s\n", target.Redacted())
			cmd.Printf("statement cache capacity: %d\n", target.StatementCacheCapacity)
			return nil
		},
	}
	return cmd
}
