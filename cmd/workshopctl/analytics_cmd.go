package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/repairhq/workshop/modules/repairs/presentation/mappers"
	"github.com/repairhq/workshop/modules/repairs/services"
)

func newAnalyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Print completion and cancellation rates and per-state dwell times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, app, pool, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			analytics := app.Service(services.AnalyticsService{}).(*services.AnalyticsService)
			overview, err := analytics.Overview(ctx)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(mappers.OverviewToViewModel(overview), "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}
}
