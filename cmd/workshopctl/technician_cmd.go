package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/repairhq/workshop/modules/repairs/services"
)

func newTechnicianCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "technician",
		Short: "Manage the technician assignment pool",
	}
	cmd.AddCommand(newTechnicianAddCmd())
	cmd.AddCommand(newTechnicianListCmd())
	return cmd
}

func newTechnicianAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Add an active technician",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, app, pool, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			technicians := app.Service(services.TechnicianService{}).(*services.TechnicianService)
			created, err := technicians.Create(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			cmd.Printf("%s %s\n", created.ID(), created.Name())
			return nil
		},
	}
}

func newTechnicianListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active technicians",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, app, pool, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			technicians := app.Service(services.TechnicianService{}).(*services.TechnicianService)
			active, err := technicians.ListActive(ctx)
			if err != nil {
				return err
			}
			for _, t := range active {
				cmd.Printf("%s %s\n", t.ID(), t.Name())
			}
			return nil
		},
	}
}
