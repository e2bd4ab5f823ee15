package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// switchStore serves from a MemoryStore until broken is set.
type switchStore struct {
	mem    *MemoryStore
	broken bool
}

func (s *switchStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.broken {
		return nil, Unavailable("snapshot", errors.New("source down"))
	}
	return s.mem.Snapshot(ctx)
}

type reloadRecorder struct {
	versions []Version
	errs     []error
}

func (r *reloadRecorder) ObserveReload(v Version, _ time.Duration, err error) {
	r.versions = append(r.versions, v)
	r.errs = append(r.errs, err)
}

func TestReloader_SwapsFullDataset(t *testing.T) {
	source := &switchStore{mem: NewMemoryStoreFrom(sampleDataset())}
	target := NewMemoryStore()
	obs := &reloadRecorder{}
	r := NewReloader(source, target, time.Second, zap.NewNop(), obs)

	v, err := r.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	cur, ok := target.Version()
	if !ok || cur.Token != v.Token {
		t.Fatalf("target version = %q, want %q", cur.Token, v.Token)
	}

	snap, _ := target.Snapshot(context.Background())
	items, _ := snap.QueryOrderItems(context.Background(), Filter{})
	if len(items) != 2 {
		t.Fatalf("reloaded items = %d, want 2", len(items))
	}
	if len(obs.errs) != 1 || obs.errs[0] != nil {
		t.Fatalf("observer errs = %v, want [nil]", obs.errs)
	}
}

func TestReloader_FailureKeepsCurrentGeneration(t *testing.T) {
	source := &switchStore{mem: NewMemoryStoreFrom(sampleDataset())}
	target := NewMemoryStore()
	obs := &reloadRecorder{}
	r := NewReloader(source, target, time.Second, zap.NewNop(), obs)

	var swaps [][2]string
	r.OnSwap(func(prev, next Version) { swaps = append(swaps, [2]string{prev.Token, next.Token}) })

	good, err := r.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}

	source.broken = true
	if _, err := r.Reload(context.Background()); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Reload on broken source = %v, want ErrDataUnavailable", err)
	}

	cur, _ := target.Version()
	if cur.Token != good.Token {
		t.Fatalf("target version = %q after failed reload, want %q", cur.Token, good.Token)
	}
	if len(obs.errs) != 2 || obs.errs[1] == nil {
		t.Fatalf("observer errs = %v, want failure recorded", obs.errs)
	}
	if len(swaps) != 1 || swaps[0][0] != "" || swaps[0][1] != good.Token {
		t.Fatalf("swap hooks = %v, want one initial swap to %s", swaps, good.Token)
	}
}

func TestReloader_InvalidSchedule(t *testing.T) {
	r := NewReloader(&switchStore{mem: NewMemoryStore()}, NewMemoryStore(), 0, zap.NewNop(), nil)
	if err := r.Start("not a cron spec"); err == nil {
		t.Fatal("Start accepted an invalid schedule")
	}
	// Stop with no running schedule returns immediately.
	r.Stop(context.Background())
}
