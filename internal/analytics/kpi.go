package analytics

import (
	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// PriorWindow returns the window of equal length ending the day before w.
func PriorWindow(w models.Window) models.Window {
	days := w.Days()
	return models.Window{
		From: w.From.AddDate(0, 0, -days),
		To:   w.From.AddDate(0, 0, -1),
	}
}

// KPIInput holds facts spanning both the current and prior windows.
type KPIInput struct {
	Orders    []models.Order
	Customers []models.Customer
	Sessions  []models.Session
}

// ComputeTotals aggregates the headline metrics of one window.
func ComputeTotals(in KPIInput, w models.Window) models.KPITotals {
	rng := WindowRange(w)

	t := models.KPITotals{Revenue: decimal.Zero}
	active := make(map[string]bool)
	for _, o := range in.Orders {
		if !o.Completed() || !rng.Contains(o.PlacedAt) {
			continue
		}
		t.Revenue = t.Revenue.Add(o.TotalAmount)
		t.Orders++
		active[o.CustomerID] = true
	}
	t.ActiveCustomers = len(active)
	t.AOV = avg(t.Revenue, t.Orders)

	for _, c := range in.Customers {
		if rng.Contains(c.SignupDate) {
			t.NewCustomers++
		}
	}

	converted := 0
	for _, s := range in.Sessions {
		if !rng.Contains(s.StartedAt) {
			continue
		}
		t.Sessions++
		if s.Converted() {
			converted++
		}
	}
	t.ConversionRate = ratio(converted, t.Sessions)
	return t
}

// ComposeKPIs compares window w with its prior window.
func ComposeKPIs(in KPIInput, w models.Window) models.KPISnapshot {
	prior := PriorWindow(w)
	cur := ComputeTotals(in, w)
	prev := ComputeTotals(in, prior)

	return models.KPISnapshot{
		Window:      w,
		PriorWindow: prior,
		Current:     cur,
		Prior:       prev,
		Growth: models.KPIGrowth{
			Revenue:         models.Growth(cur.Revenue.InexactFloat64(), prev.Revenue.InexactFloat64()),
			Orders:          models.Growth(float64(cur.Orders), float64(prev.Orders)),
			ActiveCustomers: models.Growth(float64(cur.ActiveCustomers), float64(prev.ActiveCustomers)),
			NewCustomers:    models.Growth(float64(cur.NewCustomers), float64(prev.NewCustomers)),
			AOV:             models.Growth(cur.AOV.InexactFloat64(), prev.AOV.InexactFloat64()),
			Sessions:        models.Growth(float64(cur.Sessions), float64(prev.Sessions)),
			ConversionRate:  models.Growth(cur.ConversionRate, prev.ConversionRate),
		},
	}
}
