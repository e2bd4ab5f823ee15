package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/radiusdt/vector-analytics/internal/models"
)

// ErrDataUnavailable is matched by every fact store failure: unreachable
// backend, timeout, cancellation or an unloaded snapshot. Callers may retry.
var ErrDataUnavailable = errors.New("fact store unavailable")

// DataUnavailableError carries the failing operation and its cause.
type DataUnavailableError struct {
	Op  string
	Err error
}

func (e *DataUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrDataUnavailable, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrDataUnavailable, e.Op, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// Unavailable wraps err as a DataUnavailableError unless it already is one.
func Unavailable(op string, err error) error {
	var due *DataUnavailableError
	if errors.As(err, &due) {
		return err
	}
	return &DataUnavailableError{Op: op, Err: err}
}

// Version identifies the generation of data a snapshot reads from.
type Version struct {
	// Token is empty for live backends that are not generation-tracked.
	Token    string    `json:"token,omitempty"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Filter constrains fact queries. The zero value matches everything.
type Filter struct {
	From     time.Time // inclusive instant, zero = unbounded
	To       time.Time // exclusive instant, zero = unbounded
	Category string
	Channel  string
	Status   models.OrderStatus
}

// Contains reports whether t falls within [From, To).
func (f Filter) Contains(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.Before(f.To) {
		return false
	}
	return true
}

// FactStore opens snapshot-consistent read views over the fact tables.
type FactStore interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot is one logical, consistent read view. Every read of a single
// query goes through the same Snapshot. Implementations are safe for
// concurrent use.
type Snapshot interface {
	Version() Version

	QueryCustomers(ctx context.Context, f Filter) ([]models.Customer, error)
	QueryOrders(ctx context.Context, f Filter) ([]models.Order, error)
	QueryOrderItems(ctx context.Context, f Filter) ([]models.OrderItem, error)
	QuerySessions(ctx context.Context, f Filter) ([]models.Session, error)
	QueryProducts(ctx context.Context, f Filter) ([]models.Product, error)

	Close() error
}

// Dataset is a full, immutable copy of the fact tables.
type Dataset struct {
	Customers  []models.Customer
	Orders     []models.Order
	OrderItems []models.OrderItem
	Sessions   []models.Session
	Products   []models.Product
}

// LoadDataset reads every fact table of store from one snapshot.
func LoadDataset(ctx context.Context, store FactStore) (*Dataset, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	var (
		ds  Dataset
		all Filter
	)
	if ds.Customers, err = snap.QueryCustomers(ctx, all); err != nil {
		return nil, fmt.Errorf("failed to load customers: %w", err)
	}
	if ds.Orders, err = snap.QueryOrders(ctx, all); err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	if ds.OrderItems, err = snap.QueryOrderItems(ctx, all); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	if ds.Sessions, err = snap.QuerySessions(ctx, all); err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	if ds.Products, err = snap.QueryProducts(ctx, all); err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	return &ds, nil
}
