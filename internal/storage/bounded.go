package storage

import (
	"context"
	"time"

	"github.com/radiusdt/vector-analytics/internal/models"
)

// Observer receives the outcome of every bounded fact store call.
type Observer interface {
	ObserveFactQuery(collection string, d time.Duration, err error)
}

// Bounded decorates store so that every call runs under timeout and every
// failure is reported as ErrDataUnavailable. Nothing is retried.
func Bounded(store FactStore, timeout time.Duration, obs Observer) FactStore {
	return &boundedStore{store: store, timeout: timeout, obs: obs}
}

type boundedStore struct {
	store   FactStore
	timeout time.Duration
	obs     Observer
}

func (b *boundedStore) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := b.call(ctx, "snapshot", func(ctx context.Context) error {
		var err error
		snap, err = b.store.Snapshot(ctx)
		return err
	})
	if err != nil {
		if snap != nil {
			_ = snap.Close()
		}
		return nil, err
	}
	return &boundedSnapshot{inner: snap, parent: b}, nil
}

func (b *boundedStore) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	if err == nil {
		// A backend may hand back partial rows after the deadline.
		err = ctx.Err()
	}
	if b.obs != nil {
		b.obs.ObserveFactQuery(op, time.Since(start), err)
	}
	if err != nil {
		return Unavailable(op, err)
	}
	return nil
}

type boundedSnapshot struct {
	inner  Snapshot
	parent *boundedStore
}

func (s *boundedSnapshot) Version() Version { return s.inner.Version() }

func (s *boundedSnapshot) Close() error { return s.inner.Close() }

func (s *boundedSnapshot) QueryCustomers(ctx context.Context, f Filter) (out []models.Customer, err error) {
	err = s.parent.call(ctx, "customers", func(ctx context.Context) error {
		out, err = s.inner.QueryCustomers(ctx, f)
		return err
	})
	return out, err
}

func (s *boundedSnapshot) QueryOrders(ctx context.Context, f Filter) (out []models.Order, err error) {
	err = s.parent.call(ctx, "orders", func(ctx context.Context) error {
		out, err = s.inner.QueryOrders(ctx, f)
		return err
	})
	return out, err
}

func (s *boundedSnapshot) QueryOrderItems(ctx context.Context, f Filter) (out []models.OrderItem, err error) {
	err = s.parent.call(ctx, "order_items", func(ctx context.Context) error {
		out, err = s.inner.QueryOrderItems(ctx, f)
		return err
	})
	return out, err
}

func (s *boundedSnapshot) QuerySessions(ctx context.Context, f Filter) (out []models.Session, err error) {
	err = s.parent.call(ctx, "sessions", func(ctx context.Context) error {
		out, err = s.inner.QuerySessions(ctx, f)
		return err
	})
	return out, err
}

func (s *boundedSnapshot) QueryProducts(ctx context.Context, f Filter) (out []models.Product, err error) {
	err = s.parent.call(ctx, "products", func(ctx context.Context) error {
		out, err = s.inner.QueryProducts(ctx, f)
		return err
	})
	return out, err
}
