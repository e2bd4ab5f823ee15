package storage

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/vector-analytics/internal/models"
)

// MemoryStore serves snapshots from an immutable in-memory generation.
// Swap installs a new generation atomically; open snapshots keep reading
// the generation they started on.
type MemoryStore struct {
	current atomic.Pointer[generation]
	seq     atomic.Uint64
	now     func() time.Time
}

type generation struct {
	data    *Dataset
	version Version
	orders  map[string]models.Order // order_id -> order
}

// NewMemoryStore creates an empty store. Snapshot fails with
// ErrDataUnavailable until the first Swap.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// NewMemoryStoreFrom creates a store already holding ds.
func NewMemoryStoreFrom(ds *Dataset) *MemoryStore {
	s := NewMemoryStore()
	s.Swap(ds)
	return s
}

// Swap installs ds as the current generation and returns its version.
// The dataset is copied and put in canonical order; the caller keeps
// ownership of ds.
func (s *MemoryStore) Swap(ds *Dataset) Version {
	gen := &generation{
		data: canonicalize(ds),
		version: Version{
			Token:    fmt.Sprintf("g%d-%s", s.seq.Add(1), uuid.NewString()[:8]),
			LoadedAt: s.now().UTC(),
		},
	}
	gen.orders = make(map[string]models.Order, len(gen.data.Orders))
	for _, o := range gen.data.Orders {
		gen.orders[o.ID] = o
	}
	s.current.Store(gen)
	return gen.version
}

// Version returns the current generation's version, if any.
func (s *MemoryStore) Version() (Version, bool) {
	gen := s.current.Load()
	if gen == nil {
		return Version{}, false
	}
	return gen.version, true
}

func (s *MemoryStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("snapshot", err)
	}
	gen := s.current.Load()
	if gen == nil {
		return nil, &DataUnavailableError{Op: "snapshot", Err: fmt.Errorf("no dataset loaded")}
	}
	return &memorySnapshot{gen: gen}, nil
}

func canonicalize(ds *Dataset) *Dataset {
	if ds == nil {
		return &Dataset{}
	}
	out := &Dataset{
		Customers:  append([]models.Customer(nil), ds.Customers...),
		Orders:     append([]models.Order(nil), ds.Orders...),
		OrderItems: append([]models.OrderItem(nil), ds.OrderItems...),
		Sessions:   append([]models.Session(nil), ds.Sessions...),
		Products:   append([]models.Product(nil), ds.Products...),
	}
	sort.SliceStable(out.Customers, func(i, j int) bool {
		return out.Customers[i].ID < out.Customers[j].ID
	})
	sort.SliceStable(out.Orders, func(i, j int) bool {
		a, b := out.Orders[i], out.Orders[j]
		if !a.PlacedAt.Equal(b.PlacedAt) {
			return a.PlacedAt.Before(b.PlacedAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(out.OrderItems, func(i, j int) bool {
		a, b := out.OrderItems[i], out.OrderItems[j]
		if a.OrderID != b.OrderID {
			return a.OrderID < b.OrderID
		}
		return a.ProductID < b.ProductID
	})
	sort.SliceStable(out.Sessions, func(i, j int) bool {
		a, b := out.Sessions[i], out.Sessions[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(out.Products, func(i, j int) bool {
		return out.Products[i].ID < out.Products[j].ID
	})
	return out
}

// =============================================
// Snapshot
// =============================================

type memorySnapshot struct {
	gen *generation
}

func (m *memorySnapshot) Version() Version { return m.gen.version }

func (m *memorySnapshot) Close() error { return nil }

func (m *memorySnapshot) QueryCustomers(ctx context.Context, f Filter) ([]models.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("customers", err)
	}
	result := make([]models.Customer, 0, len(m.gen.data.Customers))
	for _, c := range m.gen.data.Customers {
		if !f.Contains(c.SignupDate) {
			continue
		}
		if f.Channel != "" && c.AcquisitionChannel != f.Channel {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (m *memorySnapshot) QueryOrders(ctx context.Context, f Filter) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("orders", err)
	}
	result := make([]models.Order, 0, len(m.gen.data.Orders))
	for _, o := range m.gen.data.Orders {
		if !f.Contains(o.PlacedAt) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		result = append(result, o)
	}
	return result, nil
}

func (m *memorySnapshot) QueryOrderItems(ctx context.Context, f Filter) ([]models.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("order_items", err)
	}
	dated := !f.From.IsZero() || !f.To.IsZero()
	result := make([]models.OrderItem, 0, len(m.gen.data.OrderItems))
	for _, it := range m.gen.data.OrderItems {
		if f.Category != "" && it.Category != f.Category {
			continue
		}
		if dated || f.Status != "" {
			o, ok := m.gen.orders[it.OrderID]
			if !ok || !f.Contains(o.PlacedAt) {
				continue
			}
			if f.Status != "" && o.Status != f.Status {
				continue
			}
		}
		result = append(result, it)
	}
	return result, nil
}

func (m *memorySnapshot) QuerySessions(ctx context.Context, f Filter) ([]models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("sessions", err)
	}
	result := make([]models.Session, 0, len(m.gen.data.Sessions))
	for _, s := range m.gen.data.Sessions {
		if !f.Contains(s.StartedAt) {
			continue
		}
		if f.Channel != "" && s.TrafficSource != f.Channel {
			continue
		}
		result = append(result, s)
	}
	return result, nil
}

func (m *memorySnapshot) QueryProducts(ctx context.Context, f Filter) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("products", err)
	}
	result := make([]models.Product, 0, len(m.gen.data.Products))
	for _, p := range m.gen.data.Products {
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		result = append(result, p)
	}
	return result, nil
}
