package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/repairhq/workshop/modules"
	"github.com/repairhq/workshop/pkg/application"
	"github.com/repairhq/workshop/pkg/composables"
	"github.com/repairhq/workshop/pkg/configuration"
	"github.com/repairhq/workshop/pkg/eventbus"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "workshopctl",
		Short:         "Workshop repair service operations tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newAnalyticsCmd())
	cmd.AddCommand(newTechnicianCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// openApp connects the pool and loads the built-in modules. The
// returned context carries the pool for repository transactions.
func openApp(ctx context.Context) (context.Context, application.Application, *pgxpool.Pool, error) {
	conf := configuration.Use()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(conf.Logger()),
	})
	if err := modules.Load(app, modules.BuiltInModules...); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("load modules: %w", err)
	}
	return composables.WithPool(ctx, pool), app, pool, nil
}
