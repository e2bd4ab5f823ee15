// Package app assembles the fact store stack shared by the server and the
// report CLI.
package app

import (
	"context"
	"fmt"

	"github.com/radiusdt/vector-analytics/internal/config"
	"github.com/radiusdt/vector-analytics/internal/database"
	"github.com/radiusdt/vector-analytics/internal/metrics"
	"github.com/radiusdt/vector-analytics/internal/storage"
	"go.uber.org/zap"
)

// FactStack is an opened fact store with everything that must be closed
// alongside it.
type FactStack struct {
	// Store is bounded by the configured fetch timeout.
	Store    storage.FactStore
	Reloader *storage.Reloader
	Checks   map[string]func(context.Context) error

	closers []func()
}

// Close stops reloads and closes every backend connection.
func (f *FactStack) Close(ctx context.Context) {
	if f.Reloader != nil {
		f.Reloader.Stop(ctx)
	}
	for i := len(f.closers) - 1; i >= 0; i-- {
		f.closers[i]()
	}
}

// OpenFactStore connects the configured backend. With Materialize set the
// backend is copied into a memory snapshot before OpenFactStore returns;
// schedule starts periodic reloads when true.
func OpenFactStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, schedule bool) (*FactStack, error) {
	stack := &FactStack{Checks: map[string]func(context.Context) error{}}

	var source storage.FactStore
	switch cfg.FactStore.Backend {
	case config.BackendPostgres:
		db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		stack.closers = append(stack.closers, db.Close)
		stack.Checks["postgres"] = db.Health
		source = storage.NewPostgresStore(db.Pool, cfg.FactStore.VersionToken)

	case config.BackendClickHouse:
		db, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		stack.closers = append(stack.closers, func() { _ = db.Close() })
		stack.Checks["clickhouse"] = db.Health
		source = storage.NewClickHouseStore(db.Conn, cfg.FactStore.VersionToken)

	case config.BackendSQLite:
		db, err := database.NewSQLiteDB(ctx, cfg.SQLite, logger)
		if err != nil {
			return nil, err
		}
		stack.closers = append(stack.closers, func() { _ = db.Close() })
		stack.Checks["sqlite"] = db.Health
		source = storage.NewSQLiteStore(db.DB, cfg.FactStore.VersionToken)

	case config.BackendMemory:
		// Nothing to load from; the store stays empty until a dataset
		// is swapped in, and queries report data unavailable.
		mem := storage.NewMemoryStore()
		stack.Store = bound(mem, cfg, m)
		return stack, nil

	default:
		return nil, fmt.Errorf("unknown fact store backend %q", cfg.FactStore.Backend)
	}

	if !cfg.FactStore.Materialize {
		stack.Store = bound(source, cfg, m)
		return stack, nil
	}

	mem := storage.NewMemoryStore()
	var obs storage.ReloadObserver
	if m != nil {
		obs = m
	}
	stack.Reloader = storage.NewReloader(source, mem, cfg.FactStore.ReloadTimeout, logger, obs)
	if _, err := stack.Reloader.Reload(ctx); err != nil {
		stack.Close(ctx)
		return nil, err
	}
	if schedule && cfg.FactStore.ReloadSchedule != "" {
		if err := stack.Reloader.Start(cfg.FactStore.ReloadSchedule); err != nil {
			stack.Close(ctx)
			return nil, err
		}
	}
	stack.Store = bound(mem, cfg, m)
	return stack, nil
}

func bound(store storage.FactStore, cfg *config.Config, m *metrics.Metrics) storage.FactStore {
	var obs storage.Observer
	if m != nil {
		obs = m
	}
	return storage.Bounded(store, cfg.Query.FetchTimeout, obs)
}
