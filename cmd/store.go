package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/wahldaten/poll-pipeline/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "pollsync.db"
		}
		st, err := store.NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return st, st.Migrate(ctx)
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		return st, st.Migrate(ctx)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
