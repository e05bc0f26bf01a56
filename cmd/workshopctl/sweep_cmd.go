package main

import (
	"github.com/spf13/cobra"

	"github.com/repairhq/workshop/modules/repairs/services"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one escalation sweep pass and report what it did",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, app, pool, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			sweeper := app.Service(services.SweepService{}).(*services.SweepService)
			stats, err := sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("scanned=%d follow_ups=%d escalations=%d advanced=%d failures=%d\n",
				stats.Scanned, stats.FollowUps, stats.Escalations, stats.Advanced, stats.Failures)
			return nil
		},
	}
}
