package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleDataset() *Dataset {
	return &Dataset{
		Customers: []models.Customer{
			{ID: "c2", SignupDate: day("2024-01-05"), AcquisitionChannel: "paid"},
			{ID: "c1", SignupDate: day("2023-12-01"), AcquisitionChannel: "organic"},
		},
		Orders: []models.Order{
			{ID: "o2", CustomerID: "c2", PlacedAt: day("2024-01-06"), TotalAmount: decimal.NewFromInt(40), Status: models.OrderCancelled},
			{ID: "o1", CustomerID: "c1", PlacedAt: day("2024-01-02"), TotalAmount: decimal.NewFromInt(120), Status: models.OrderCompleted},
		},
		OrderItems: []models.OrderItem{
			{OrderID: "o2", ProductID: "p1", Category: "books", Quantity: 1, UnitPrice: decimal.NewFromInt(40)},
			{OrderID: "o1", ProductID: "p2", Category: "toys", Quantity: 2, UnitPrice: decimal.NewFromInt(60)},
		},
		Sessions: []models.Session{
			{ID: "s1", StartedAt: day("2024-01-02"), TrafficSource: "organic"},
		},
		Products: []models.Product{
			{ID: "p2", Name: "Kite", Category: "toys"},
			{ID: "p1", Name: "Atlas", Category: "books"},
		},
	}
}

func TestMemoryStore_EmptyIsUnavailable(t *testing.T) {
	s := NewMemoryStore()
	if _, ok := s.Version(); ok {
		t.Fatal("Version() ok on empty store, want false")
	}
	_, err := s.Snapshot(context.Background())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Snapshot() error = %v, want ErrDataUnavailable", err)
	}
}

func TestMemoryStore_SwapTokens(t *testing.T) {
	s := NewMemoryStore()
	v1 := s.Swap(sampleDataset())
	v2 := s.Swap(sampleDataset())

	pattern := regexp.MustCompile(`^g\d+-[0-9a-f]{8}$`)
	for _, v := range []Version{v1, v2} {
		if !pattern.MatchString(v.Token) {
			t.Fatalf("token %q does not match %s", v.Token, pattern)
		}
	}
	if v1.Token == v2.Token {
		t.Fatalf("tokens not distinct: %q", v1.Token)
	}
	cur, ok := s.Version()
	if !ok || cur.Token != v2.Token {
		t.Fatalf("Version() = %q, want %q", cur.Token, v2.Token)
	}
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStoreFrom(sampleDataset())

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer snap.Close()
	before := snap.Version()

	s.Swap(&Dataset{})

	orders, err := snap.QueryOrders(ctx, Filter{})
	if err != nil {
		t.Fatalf("QueryOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("open snapshot sees %d orders after swap, want 2", len(orders))
	}
	if snap.Version() != before {
		t.Fatalf("snapshot version changed to %+v", snap.Version())
	}

	fresh, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	defer fresh.Close()
	if orders, _ := fresh.QueryOrders(ctx, Filter{}); len(orders) != 0 {
		t.Fatalf("new snapshot sees %d orders, want 0", len(orders))
	}
}

func TestMemoryStore_SwapCopiesDataset(t *testing.T) {
	ds := sampleDataset()
	s := NewMemoryStoreFrom(ds)
	ds.Orders[0].ID = "mutated"

	snap, _ := s.Snapshot(context.Background())
	orders, _ := snap.QueryOrders(context.Background(), Filter{})
	for _, o := range orders {
		if o.ID == "mutated" {
			t.Fatal("caller mutation leaked into the stored generation")
		}
	}
}

func TestMemorySnapshot_Filters(t *testing.T) {
	ctx := context.Background()
	snap, err := NewMemoryStoreFrom(sampleDataset()).Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	orders, _ := snap.QueryOrders(ctx, Filter{})
	if orders[0].ID != "o1" || orders[1].ID != "o2" {
		t.Fatalf("orders not in placed_at order: %s, %s", orders[0].ID, orders[1].ID)
	}

	january := Filter{From: day("2024-01-01"), To: day("2024-02-01")}
	customers, _ := snap.QueryCustomers(ctx, january)
	if len(customers) != 1 || customers[0].ID != "c2" {
		t.Fatalf("January signups = %+v, want [c2]", customers)
	}

	completed, _ := snap.QueryOrderItems(ctx, Filter{Status: models.OrderCompleted})
	if len(completed) != 1 || completed[0].OrderID != "o1" {
		t.Fatalf("completed items = %+v, want o1 only", completed)
	}

	dated, _ := snap.QueryOrderItems(ctx, Filter{From: day("2024-01-05")})
	if len(dated) != 1 || dated[0].OrderID != "o2" {
		t.Fatalf("items from 2024-01-05 = %+v, want o2 only", dated)
	}

	books, _ := snap.QueryProducts(ctx, Filter{Category: "books"})
	if len(books) != 1 || books[0].ID != "p1" {
		t.Fatalf("books = %+v, want [p1]", books)
	}

	paid, _ := snap.QuerySessions(ctx, Filter{Channel: "paid"})
	if len(paid) != 0 {
		t.Fatalf("paid sessions = %d, want 0", len(paid))
	}
}

func TestMemorySnapshot_CancelledContext(t *testing.T) {
	snap, _ := NewMemoryStoreFrom(sampleDataset()).Snapshot(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := snap.QueryOrders(ctx, Filter{}); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("QueryOrders on cancelled ctx = %v, want ErrDataUnavailable", err)
	}
}
