package analytics

import (
	"testing"

	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

func catalogFixture() ([]models.OrderItem, []models.Product) {
	d := decimal.RequireFromString
	products := []models.Product{
		{ID: "p1", Name: "Desk", Category: "furniture", Price: d("200"), Cost: d("120")},
		{ID: "p2", Name: "Chair", Category: "furniture", Price: d("80"), Cost: d("30")},
		{ID: "p3", Name: "Lamp", Category: "lighting", Price: d("25"), Cost: d("10")},
		{ID: "p4", Name: "Bulb", Category: "lighting", Price: d("5"), Cost: d("1")},
	}
	items := []models.OrderItem{
		{OrderID: "o1", ProductID: "p1", Category: "furniture", Quantity: 1, UnitPrice: d("200")},
		{OrderID: "o1", ProductID: "p2", Category: "furniture", Quantity: 4, UnitPrice: d("80")},
		{OrderID: "o2", ProductID: "p2", Category: "furniture", Quantity: 2, UnitPrice: d("75")},
		{OrderID: "o3", ProductID: "p3", Category: "lighting", Quantity: 3, UnitPrice: d("25")},
	}
	return items, products
}

func TestProductPerformance_RanksAndReconciles(t *testing.T) {
	items, products := catalogFixture()
	res, err := ProductPerformance(items, products, SortRevenue, 0)
	if err != nil {
		t.Fatalf("ProductPerformance: %v", err)
	}
	if !res.TotalRevenue.Equal(decimal.NewFromInt(200 + 320 + 150 + 75)) {
		t.Fatalf("TotalRevenue = %s, want 745", res.TotalRevenue)
	}
	if len(res.Products) != 3 {
		t.Fatalf("len(Products) = %d, want 3", len(res.Products))
	}

	chair := res.Products[0]
	if chair.ProductID != "p2" || chair.UnitsSold != 6 || chair.Orders != 2 {
		t.Fatalf("top = %s %d units %d orders, want p2 6 2", chair.ProductID, chair.UnitsSold, chair.Orders)
	}
	// 470 / 6 = 78.333... rounded to cents.
	if !chair.AvgPrice.Equal(decimal.RequireFromString("78.33")) {
		t.Fatalf("chair AvgPrice = %s, want 78.33", chair.AvgPrice)
	}
	if !chair.ProfitPerUnit.Equal(decimal.RequireFromString("48.33")) {
		t.Fatalf("chair ProfitPerUnit = %s, want 48.33", chair.ProfitPerUnit)
	}

	if len(res.Categories) != 2 {
		t.Fatalf("len(Categories) = %d, want 2", len(res.Categories))
	}
	lighting := res.Categories[1]
	if lighting.Category != "lighting" || lighting.TotalProducts != 2 || lighting.ProductsSold != 1 {
		t.Fatalf("lighting = %+v, want 2 products, 1 sold", lighting)
	}
	if lighting.SellThroughRate != 0.5 {
		t.Fatalf("lighting SellThroughRate = %f, want 0.5", lighting.SellThroughRate)
	}
}

func TestProductPerformance_SortAndLimit(t *testing.T) {
	items, products := catalogFixture()
	cases := []struct {
		by   ProductSort
		want string
	}{
		{SortUnitsSold, "p2"},
		{SortOrders, "p2"},
		{SortAvgPrice, "p1"},
		{SortProfit, "p1"},
	}
	for _, tc := range cases {
		res, err := ProductPerformance(items, products, tc.by, 1)
		if err != nil {
			t.Fatalf("ProductPerformance(%s): %v", tc.by, err)
		}
		if len(res.Products) != 1 || res.Products[0].ProductID != tc.want {
			t.Fatalf("ProductPerformance(%s) top = %+v, want %s", tc.by, res.Products, tc.want)
		}
		// Limit never trims the categories or the total.
		if len(res.Categories) != 2 || !res.TotalRevenue.Equal(decimal.NewFromInt(745)) {
			t.Fatalf("ProductPerformance(%s) categories/total = %d/%s, want 2/745", tc.by, len(res.Categories), res.TotalRevenue)
		}
	}
}

func TestProductPerformance_UnknownProduct(t *testing.T) {
	items := []models.OrderItem{{OrderID: "o1", ProductID: "ghost", Category: "misc", Quantity: 2, UnitPrice: decimal.NewFromInt(3)}}
	res, err := ProductPerformance(items, nil, SortRevenue, 0)
	if err != nil {
		t.Fatalf("ProductPerformance: %v", err)
	}
	p := res.Products[0]
	if p.Category != "misc" || !p.ProfitPerUnit.IsZero() {
		t.Fatalf("ghost = %+v, want category misc and zero profit", p)
	}
}

func TestParseProductSort(t *testing.T) {
	if _, err := ParseProductSort("margin"); err == nil {
		t.Fatal("ParseProductSort(margin) succeeded, want error")
	}
}
