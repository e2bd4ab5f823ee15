package analytics

import (
	"fmt"
	"sort"

	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// Model selects which session receives credit for an order.
type Model string

const (
	FirstTouch Model = "first_touch"
	LastTouch  Model = "last_touch"
)

// ParseModel validates an attribution model name.
func ParseModel(s string) (Model, error) {
	switch m := Model(s); m {
	case FirstTouch, LastTouch:
		return m, nil
	default:
		return "", fmt.Errorf("unknown attribution model %q", s)
	}
}

// Dimension is the session attribute records are grouped on.
type Dimension string

const (
	ByTrafficSource Dimension = "traffic_source"
	ByDeviceType    Dimension = "device_type"
)

// ParseDimension validates a session grouping.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(s); d {
	case ByTrafficSource, ByDeviceType:
		return d, nil
	default:
		return "", fmt.Errorf("unknown group_by %q", s)
	}
}

func (d Dimension) key(s models.Session) string {
	v := s.TrafficSource
	if d == ByDeviceType {
		v = s.DeviceType
	}
	if v == "" {
		return models.UnknownChannel
	}
	return v
}

// AttributionInput holds the facts for one attribution run.
type AttributionInput struct {
	Window models.Window
	// Orders placed in the window; only completed orders are credited.
	Orders []models.Order
	// Sessions up to the end of the window. Earlier sessions are touch
	// candidates; only those inside the window are counted as traffic.
	Sessions []models.Session
	// Customers supply the first-touch fallback channel.
	Customers []models.Customer
}

type groupAcc struct {
	sessions, converted int
	seconds, views      int
	bounced             int
	orders              int
	revenue             decimal.Decimal
}

// Attribute credits each completed order in the window to one group and
// aggregates the window's traffic per group. Attributed revenue is
// reconciled with the window's completed revenue.
func Attribute(in AttributionInput, model Model, dim Dimension) ([]models.AttributionRecord, error) {
	rng := WindowRange(in.Window)

	history := make(map[string][]models.Session)
	byConverted := make(map[string]models.Session)
	groups := make(map[string]*groupAcc)
	group := func(key string) *groupAcc {
		g, ok := groups[key]
		if !ok {
			g = &groupAcc{revenue: decimal.Zero}
			groups[key] = g
		}
		return g
	}

	for _, s := range in.Sessions {
		if s.CustomerID != nil {
			history[*s.CustomerID] = append(history[*s.CustomerID], s)
		}
		if s.Converted() {
			byConverted[*s.ConvertedOrderID] = s
		}
		if !rng.Contains(s.StartedAt) {
			continue
		}
		g := group(dim.key(s))
		g.sessions++
		if s.Converted() {
			g.converted++
		}
		g.seconds += s.DurationSeconds
		g.views += s.PageViews
		if s.Bounced {
			g.bounced++
		}
	}
	for id := range history {
		sortSessions(history[id])
	}

	acquisition := make(map[string]string, len(in.Customers))
	for _, c := range in.Customers {
		acquisition[c.ID] = c.AcquisitionChannel
	}

	total := decimal.Zero
	for _, o := range in.Orders {
		if !o.Completed() || !rng.Contains(o.PlacedAt) {
			continue
		}
		total = total.Add(o.TotalAmount)

		key := ""
		switch model {
		case FirstTouch:
			if s, ok := firstTouch(history[o.CustomerID], o); ok {
				key = dim.key(s)
			} else if dim == ByTrafficSource {
				key = acquisition[o.CustomerID]
			}
		default:
			if s, ok := byConverted[o.ID]; ok {
				key = dim.key(s)
			} else if s, ok := lastTouch(history[o.CustomerID], o); ok {
				key = dim.key(s)
			}
		}
		if key == "" {
			key = models.UnknownChannel
		}

		g := group(key)
		g.orders++
		g.revenue = g.revenue.Add(o.TotalAmount)
	}

	records := make([]models.AttributionRecord, 0, len(groups))
	sum := decimal.Zero
	for key, g := range groups {
		sum = sum.Add(g.revenue)
		records = append(records, models.AttributionRecord{
			Channel:                 key,
			Sessions:                g.sessions,
			ConvertedSessions:       g.converted,
			ConversionRate:          ratio(g.converted, g.sessions),
			Revenue:                 g.revenue,
			Orders:                  g.orders,
			AvgRevenuePerConversion: avg(g.revenue, g.orders),
			RevenuePerSession:       avg(g.revenue, g.sessions),
			AvgSessionSeconds:       ratio(g.seconds, g.sessions),
			AvgPageViews:            ratio(g.views, g.sessions),
			BounceRate:              ratio(g.bounced, g.sessions),
		})
	}
	sortRecords(records)

	if err := reconcile(fmt.Sprintf("%s revenue by %s", model, dim), sum, total); err != nil {
		return nil, err
	}
	return records, nil
}

// ChannelCustomers groups buyers by acquisition channel: customers with a
// completed order in the window, their revenue and orders, and the
// window traffic of all customers acquired through the channel.
func ChannelCustomers(in AttributionInput) ([]models.AttributionRecord, error) {
	rng := WindowRange(in.Window)

	channelOf := make(map[string]string, len(in.Customers))
	for _, c := range in.Customers {
		ch := c.AcquisitionChannel
		if ch == "" {
			ch = models.UnknownChannel
		}
		channelOf[c.ID] = ch
	}
	channel := func(customerID string) string {
		if ch, ok := channelOf[customerID]; ok {
			return ch
		}
		return models.UnknownChannel
	}

	type acc struct {
		groupAcc
		buyers map[string]bool
	}
	groups := make(map[string]*acc)
	group := func(key string) *acc {
		g, ok := groups[key]
		if !ok {
			g = &acc{groupAcc: groupAcc{revenue: decimal.Zero}, buyers: make(map[string]bool)}
			groups[key] = g
		}
		return g
	}

	total := decimal.Zero
	for _, o := range in.Orders {
		if !o.Completed() || !rng.Contains(o.PlacedAt) {
			continue
		}
		total = total.Add(o.TotalAmount)
		g := group(channel(o.CustomerID))
		g.buyers[o.CustomerID] = true
		g.orders++
		g.revenue = g.revenue.Add(o.TotalAmount)
	}

	for _, s := range in.Sessions {
		if s.CustomerID == nil || !rng.Contains(s.StartedAt) {
			continue
		}
		g := group(channel(*s.CustomerID))
		g.sessions++
		if s.Converted() {
			g.converted++
		}
		g.seconds += s.DurationSeconds
		g.views += s.PageViews
		if s.Bounced {
			g.bounced++
		}
	}

	records := make([]models.AttributionRecord, 0, len(groups))
	sum := decimal.Zero
	for key, g := range groups {
		sum = sum.Add(g.revenue)
		buyers := len(g.buyers)
		records = append(records, models.AttributionRecord{
			Channel:                 key,
			Sessions:                g.sessions,
			ConvertedSessions:       g.converted,
			ConversionRate:          ratio(g.converted, g.sessions),
			Revenue:                 g.revenue,
			Orders:                  g.orders,
			AvgRevenuePerConversion: avg(g.revenue, g.orders),
			RevenuePerSession:       avg(g.revenue, g.sessions),
			AvgSessionSeconds:       ratio(g.seconds, g.sessions),
			AvgPageViews:            ratio(g.views, g.sessions),
			BounceRate:              ratio(g.bounced, g.sessions),
			Customers:               buyers,
			AvgLTV:                  avg(g.revenue, buyers),
			AvgOrders:               ratio(g.orders, buyers),
		})
	}
	sortRecords(records)

	if err := reconcile("revenue by acquisition channel", sum, total); err != nil {
		return nil, err
	}
	return records, nil
}

// firstTouch is the customer's earliest session at or before the order.
func firstTouch(sessions []models.Session, o models.Order) (models.Session, bool) {
	if len(sessions) > 0 && !sessions[0].StartedAt.After(o.PlacedAt) {
		return sessions[0], true
	}
	return models.Session{}, false
}

// lastTouch is the customer's latest session at or before the order.
func lastTouch(sessions []models.Session, o models.Order) (models.Session, bool) {
	i := sort.Search(len(sessions), func(i int) bool {
		return sessions[i].StartedAt.After(o.PlacedAt)
	})
	if i == 0 {
		return models.Session{}, false
	}
	return sessions[i-1], true
}

func sortSessions(s []models.Session) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].StartedAt.Equal(s[j].StartedAt) {
			return s[i].StartedAt.Before(s[j].StartedAt)
		}
		return s[i].ID < s[j].ID
	})
}

// sortRecords orders by revenue, then sessions, descending; ties by name.
func sortRecords(r []models.AttributionRecord) {
	sort.Slice(r, func(i, j int) bool {
		if c := r[i].Revenue.Cmp(r[j].Revenue); c != 0 {
			return c > 0
		}
		if r[i].Sessions != r[j].Sessions {
			return r[i].Sessions > r[j].Sessions
		}
		return r[i].Channel < r[j].Channel
	})
}
