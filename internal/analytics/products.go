package analytics

import (
	"fmt"
	"sort"

	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// ProductSort is the ranking metric for product performance.
type ProductSort string

const (
	SortRevenue   ProductSort = "revenue"
	SortUnitsSold ProductSort = "units_sold"
	SortOrders    ProductSort = "orders"
	SortAvgPrice  ProductSort = "avg_price"
	SortProfit    ProductSort = "profit"
)

// ParseProductSort validates a sort key.
func ParseProductSort(s string) (ProductSort, error) {
	switch p := ProductSort(s); p {
	case SortRevenue, SortUnitsSold, SortOrders, SortAvgPrice, SortProfit:
		return p, nil
	default:
		return "", fmt.Errorf("unknown sort_by %q", s)
	}
}

// ProductResult is the full, unlimited product breakdown.
type ProductResult struct {
	TotalRevenue decimal.Decimal
	Products     []models.ProductPerformance
	Categories   []models.CategoryPerformance
}

// ProductPerformance aggregates completed-order items per product and per
// category. items must already be restricted to completed orders of the
// window. Products are ranked by sortBy descending, ties by product id,
// and cut to limit when limit > 0.
func ProductPerformance(items []models.OrderItem, products []models.Product, sortBy ProductSort, limit int) (ProductResult, error) {
	catalog := make(map[string]models.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}

	type acc struct {
		revenue decimal.Decimal
		units   int
		orders  map[string]bool
	}
	byProduct := make(map[string]*acc)
	total := decimal.Zero
	for _, it := range items {
		a, ok := byProduct[it.ProductID]
		if !ok {
			a = &acc{revenue: decimal.Zero, orders: make(map[string]bool)}
			byProduct[it.ProductID] = a
		}
		line := it.LineTotal()
		a.revenue = a.revenue.Add(line)
		a.units += it.Quantity
		a.orders[it.OrderID] = true
		total = total.Add(line)
	}

	itemCategory := make(map[string]string, len(items))
	for _, it := range items {
		if _, ok := itemCategory[it.ProductID]; !ok {
			itemCategory[it.ProductID] = it.Category
		}
	}

	perf := make([]models.ProductPerformance, 0, len(byProduct))
	for id, a := range byProduct {
		p, known := catalog[id]
		category := p.Category
		if category == "" {
			category = itemCategory[id]
		}
		avgPrice := avg(a.revenue, a.units)
		profit := decimal.Zero
		if known {
			profit = avgPrice.Sub(p.Cost)
		}
		perf = append(perf, models.ProductPerformance{
			ProductID:     id,
			Name:          p.Name,
			Category:      category,
			Revenue:       a.revenue,
			UnitsSold:     a.units,
			Orders:        len(a.orders),
			AvgPrice:      avgPrice,
			ProfitPerUnit: profit,
		})
	}

	categories, err := categoryPerformance(perf, products, total)
	if err != nil {
		return ProductResult{}, err
	}

	sortProducts(perf, sortBy)
	if limit > 0 && len(perf) > limit {
		perf = perf[:limit]
	}
	return ProductResult{TotalRevenue: total, Products: perf, Categories: categories}, nil
}

func categoryPerformance(perf []models.ProductPerformance, products []models.Product, total decimal.Decimal) ([]models.CategoryPerformance, error) {
	type acc struct {
		catalog int
		sold    int
		units   int
		revenue decimal.Decimal
	}
	byCategory := make(map[string]*acc)
	get := func(name string) *acc {
		a, ok := byCategory[name]
		if !ok {
			a = &acc{revenue: decimal.Zero}
			byCategory[name] = a
		}
		return a
	}
	for _, p := range products {
		get(p.Category).catalog++
	}
	for _, p := range perf {
		a := get(p.Category)
		a.sold++
		a.units += p.UnitsSold
		a.revenue = a.revenue.Add(p.Revenue)
	}

	out := make([]models.CategoryPerformance, 0, len(byCategory))
	sum := decimal.Zero
	for name, a := range byCategory {
		sum = sum.Add(a.revenue)
		out = append(out, models.CategoryPerformance{
			Category:        name,
			TotalProducts:   a.catalog,
			ProductsSold:    a.sold,
			SellThroughRate: ratio(a.sold, a.catalog),
			UnitsSold:       a.units,
			Revenue:         a.revenue,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})

	if err := reconcile("revenue by category", sum, total); err != nil {
		return nil, err
	}
	return out, nil
}

func sortProducts(p []models.ProductPerformance, by ProductSort) {
	metric := func(x models.ProductPerformance) decimal.Decimal {
		switch by {
		case SortUnitsSold:
			return decimal.NewFromInt(int64(x.UnitsSold))
		case SortOrders:
			return decimal.NewFromInt(int64(x.Orders))
		case SortAvgPrice:
			return x.AvgPrice
		case SortProfit:
			return x.ProfitPerUnit
		default:
			return x.Revenue
		}
	}
	sort.Slice(p, func(i, j int) bool {
		if c := metric(p[i]).Cmp(metric(p[j])); c != 0 {
			return c > 0
		}
		return p[i].ProductID < p[j].ProductID
	})
}
