package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, app, pool, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := app.Migrations().Apply(ctx); err != nil {
				return err
			}
			cmd.Println("schema applied")
			return nil
		},
	}
}
