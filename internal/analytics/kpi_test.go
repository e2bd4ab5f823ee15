package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

func TestComposeKPIs_ZeroOrders(t *testing.T) {
	w := models.Window{From: mustDate(t, "2024-01-01"), To: mustDate(t, "2024-01-31")}
	snap := ComposeKPIs(KPIInput{}, w)

	if !snap.Current.Revenue.IsZero() || snap.Current.Orders != 0 {
		t.Fatalf("current = %s/%d, want 0/0", snap.Current.Revenue, snap.Current.Orders)
	}
	if !snap.Current.AOV.IsZero() {
		t.Fatalf("AOV = %s, want 0", snap.Current.AOV)
	}
	if snap.Current.ConversionRate != 0 {
		t.Fatalf("ConversionRate = %f, want 0", snap.Current.ConversionRate)
	}
	if snap.Growth.Revenue.Defined {
		t.Fatalf("revenue growth = %s, want undefined", snap.Growth.Revenue)
	}

	b, err := json.Marshal(snap.Growth)
	if err != nil {
		t.Fatalf("marshal growth: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal growth: %v", err)
	}
	if raw["revenue"] != "undefined" {
		t.Fatalf("revenue growth JSON = %v, want \"undefined\"", raw["revenue"])
	}
}

func TestComposeKPIs_GrowthAgainstPriorWindow(t *testing.T) {
	w := models.Window{From: mustDate(t, "2024-01-01"), To: mustDate(t, "2024-01-31")}
	order := func(id, cust, day string, amount int64, status models.OrderStatus) models.Order {
		return models.Order{
			ID: id, CustomerID: cust, PlacedAt: mustDate(t, day).Add(9 * time.Hour),
			TotalAmount: decimal.NewFromInt(amount), Status: status,
		}
	}
	in := KPIInput{
		Orders: []models.Order{
			order("p1", "a", "2023-12-05", 100, models.OrderCompleted),
			order("c1", "a", "2024-01-03", 100, models.OrderCompleted),
			order("c2", "b", "2024-01-20", 50, models.OrderCompleted),
			order("c3", "b", "2024-01-21", 500, models.OrderCancelled),
		},
		Customers: []models.Customer{
			{ID: "a", SignupDate: mustDate(t, "2023-12-01")},
			{ID: "b", SignupDate: mustDate(t, "2024-01-19")},
		},
		Sessions: []models.Session{
			{ID: "s1", StartedAt: mustDate(t, "2024-01-03"), ConvertedOrderID: strPtr("c1")},
			{ID: "s2", StartedAt: mustDate(t, "2024-01-04")},
			{ID: "s3", StartedAt: mustDate(t, "2024-01-20"), ConvertedOrderID: strPtr("c2")},
			{ID: "s4", StartedAt: mustDate(t, "2024-01-22")},
		},
	}

	snap := ComposeKPIs(in, w)
	if !snap.PriorWindow.From.Equal(mustDate(t, "2023-12-01")) || !snap.PriorWindow.To.Equal(mustDate(t, "2023-12-31")) {
		t.Fatalf("PriorWindow = %s..%s, want 2023-12-01..2023-12-31",
			snap.PriorWindow.From.Format("2006-01-02"), snap.PriorWindow.To.Format("2006-01-02"))
	}
	cur := snap.Current
	if !cur.Revenue.Equal(decimal.NewFromInt(150)) || cur.Orders != 2 || cur.ActiveCustomers != 2 {
		t.Fatalf("current = %s/%d/%d, want 150/2/2", cur.Revenue, cur.Orders, cur.ActiveCustomers)
	}
	if !cur.AOV.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("AOV = %s, want 75", cur.AOV)
	}
	if cur.NewCustomers != 1 || cur.Sessions != 4 || cur.ConversionRate != 0.5 {
		t.Fatalf("new/sessions/conv = %d/%d/%f, want 1/4/0.5", cur.NewCustomers, cur.Sessions, cur.ConversionRate)
	}
	if g := snap.Growth.Revenue; !g.Defined || g.Value != 0.5 {
		t.Fatalf("revenue growth = %s, want 0.5000", g)
	}
	if g := snap.Growth.Orders; !g.Defined || g.Value != 1 {
		t.Fatalf("orders growth = %s, want 1.0000", g)
	}
	if snap.Growth.Sessions.Defined {
		t.Fatalf("sessions growth = %s, want undefined", snap.Growth.Sessions)
	}
}
