package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Tasting/internal/adapters/store/memstore"
	"github.com/dkeye/Tasting/internal/adapters/store/sqlstore"
	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/config"
)

func openStore(ctx context.Context, cfg config.StoreConfig) (app.Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Str("module", "main").Msg("using in-memory store, data is lost on restart")
		return memstore.New(), nil
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		s, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newLifecycle(store app.Store, cfg *config.Config) *app.Lifecycle {
	return app.NewLifecycle(store, cfg.Session.IdleAfter)
}
