package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kinship/internal/clock"
	"github.com/smallbiznis/kinship/internal/config"
	"github.com/smallbiznis/kinship/internal/migration"
	"github.com/smallbiznis/kinship/internal/observability"
	"github.com/smallbiznis/kinship/internal/server"
	"github.com/smallbiznis/kinship/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kinship",
		Short:         "Social graph and subscription lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				fx.Provide(config.Load),
				observability.Module,
				fx.Provide(RegisterSnowflake),
				fx.Provide(config.NewBillingCatalogHolder),
				db.Module,
				migration.Module,
				clock.Module,
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				fx.NopLogger,
				fx.Provide(config.Load),
				observability.Module,
				db.Module,
				migration.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			return app.Stop(ctx)
		},
	}
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}
