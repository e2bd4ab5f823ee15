package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReloadObserver is notified after every reload attempt.
type ReloadObserver interface {
	ObserveReload(v Version, d time.Duration, err error)
}

// Reloader materializes a source store into a MemoryStore. A reload
// builds the complete new dataset before swapping it in; a failed reload
// leaves the current generation serving.
type Reloader struct {
	source  FactStore
	target  *MemoryStore
	timeout time.Duration
	logger  *zap.Logger
	obs     ReloadObserver
	cron    *cron.Cron

	mu     sync.Mutex
	onSwap []func(prev, next Version)
}

// NewReloader creates a reloader from source into target. timeout bounds
// a single reload; zero means no bound beyond the caller's context.
func NewReloader(source FactStore, target *MemoryStore, timeout time.Duration, logger *zap.Logger, obs ReloadObserver) *Reloader {
	return &Reloader{
		source:  source,
		target:  target,
		timeout: timeout,
		logger:  logger,
		obs:     obs,
	}
}

// OnSwap registers fn to run after each successful swap. prev is the zero
// Version on the first load.
func (r *Reloader) OnSwap(fn func(prev, next Version)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSwap = append(r.onSwap, fn)
}

// Reload reads the full source dataset and swaps it in.
func (r *Reloader) Reload(ctx context.Context) (Version, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	ds, err := LoadDataset(ctx, r.source)
	if err != nil {
		err = fmt.Errorf("failed to reload dataset: %w", err)
		if r.obs != nil {
			r.obs.ObserveReload(Version{}, time.Since(start), err)
		}
		return Version{}, err
	}

	prev, _ := r.target.Version()
	v := r.target.Swap(ds)
	if r.obs != nil {
		r.obs.ObserveReload(v, time.Since(start), nil)
	}
	r.mu.Lock()
	hooks := append(([]func(prev, next Version))(nil), r.onSwap...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(prev, v)
	}
	r.logger.Info("fact snapshot swapped",
		zap.String("version", v.Token),
		zap.Int("customers", len(ds.Customers)),
		zap.Int("orders", len(ds.Orders)),
		zap.Int("order_items", len(ds.OrderItems)),
		zap.Int("sessions", len(ds.Sessions)),
		zap.Int("products", len(ds.Products)),
		zap.Duration("duration", time.Since(start)),
	)
	return v, nil
}

// Start schedules Reload on a cron spec such as "@every 15m".
func (r *Reloader) Start(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := r.Reload(context.Background()); err != nil {
			r.logger.Error("scheduled reload failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", spec, err)
	}
	r.cron = c
	r.cron.Start()
	r.logger.Info("snapshot reload scheduled", zap.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for a running reload to finish or
// ctx to expire.
func (r *Reloader) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}
