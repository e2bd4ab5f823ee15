package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/radiusdt/vector-analytics/internal/config"
	"github.com/radiusdt/vector-analytics/internal/storage"
	"go.uber.org/zap"
)

func sqliteConfig(t *testing.T, materialize bool) *config.Config {
	t.Helper()
	return &config.Config{
		FactStore: config.FactStoreConfig{
			Backend:       config.BackendSQLite,
			Materialize:   materialize,
			ReloadTimeout: 5 * time.Second,
			VersionToken:  "seed-1",
		},
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "facts.db")},
		Query:  config.QueryConfig{FetchTimeout: time.Second},
	}
}

func TestOpenFactStore_SQLiteMaterialized(t *testing.T) {
	ctx := context.Background()
	stack, err := OpenFactStore(ctx, sqliteConfig(t, true), zap.NewNop(), nil, false)
	if err != nil {
		t.Fatalf("OpenFactStore: %v", err)
	}
	defer stack.Close(ctx)

	if stack.Reloader == nil {
		t.Fatal("materialized stack has no reloader")
	}
	if err := stack.Checks["sqlite"](ctx); err != nil {
		t.Fatalf("sqlite health: %v", err)
	}

	snap, err := stack.Store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()
	// The memory generation replaces the configured backend token.
	if tok := snap.Version().Token; tok == "" || tok == "seed-1" {
		t.Fatalf("snapshot token = %q, want a generation token", tok)
	}
}

func TestOpenFactStore_SQLiteLive(t *testing.T) {
	ctx := context.Background()
	stack, err := OpenFactStore(ctx, sqliteConfig(t, false), zap.NewNop(), nil, false)
	if err != nil {
		t.Fatalf("OpenFactStore: %v", err)
	}
	defer stack.Close(ctx)

	snap, err := stack.Store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()
	if tok := snap.Version().Token; tok != "seed-1" {
		t.Fatalf("snapshot token = %q, want seed-1", tok)
	}
	orders, err := snap.QueryOrders(ctx, storage.Filter{})
	if err != nil || len(orders) != 0 {
		t.Fatalf("QueryOrders = %d, %v; want empty", len(orders), err)
	}
}

func TestOpenFactStore_MemoryStartsEmpty(t *testing.T) {
	cfg := &config.Config{
		FactStore: config.FactStoreConfig{Backend: config.BackendMemory, Materialize: true},
		Query:     config.QueryConfig{FetchTimeout: time.Second},
	}
	stack, err := OpenFactStore(context.Background(), cfg, zap.NewNop(), nil, false)
	if err != nil {
		t.Fatalf("OpenFactStore: %v", err)
	}
	if _, err := stack.Store.Snapshot(context.Background()); !errors.Is(err, storage.ErrDataUnavailable) {
		t.Fatalf("Snapshot = %v, want ErrDataUnavailable", err)
	}
}

func TestOpenFactStore_UnknownBackend(t *testing.T) {
	cfg := &config.Config{FactStore: config.FactStoreConfig{Backend: "mongo"}}
	if _, err := OpenFactStore(context.Background(), cfg, zap.NewNop(), nil, false); err == nil {
		t.Fatal("OpenFactStore accepted an unknown backend")
	}
}
