package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Tasting/internal/adapters/store/sqlstore"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "End idle sessions once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		ended, err := newLifecycle(store, cfg).Sweep(ctx)
		if err != nil {
			return err
		}
		log.Info().Str("module", "main").Int("ended", ended).Msg("sweep finished")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Driver == "memory" {
			return fmt.Errorf("migrate needs store.driver postgres or sqlite")
		}
		// Open applies the schema.
		s, err := sqlstore.Open(context.Background(), cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return err
		}
		log.Info().Str("module", "main").Str("driver", cfg.Store.Driver).Msg("schema applied")
		return s.Close()
	},
}
