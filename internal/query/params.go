package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/radiusdt/vector-analytics/internal/analytics"
	"github.com/radiusdt/vector-analytics/internal/models"
)

const dateLayout = "2006-01-02"

// Segment types accepted by GetCustomers.
const (
	SegmentTypeRFM     = "rfm"
	SegmentTypeChannel = "acquisition_channel"
)

// OverviewParams selects the KPI window. Empty dates default to the
// trailing window ending today.
type OverviewParams struct {
	DateFrom string
	DateTo   string
	Snapshot string
}

// RevenueParams selects the revenue series.
type RevenueParams struct {
	Granularity string // day, week, month or quarter; default month
	DateFrom    string
	DateTo      string
	Model       string // attribution model for by_channel; default last_touch
	Snapshot    string
}

// CustomerParams selects the customer breakdown.
type CustomerParams struct {
	SegmentType string // rfm or acquisition_channel; default rfm
	DateFrom    string
	DateTo      string
	AsOf        string // reference date for recency; default date_to or today
	Segment     string // stored customer segment label; empty means all
	Snapshot    string
}

// ProductParams selects the product ranking.
type ProductParams struct {
	Category string
	SortBy   string // default revenue
	Limit    int    // 1..MaxLimit; 0 means the default
	DateFrom string
	DateTo   string
	Snapshot string
}

// MarketingParams selects the traffic breakdown.
type MarketingParams struct {
	GroupBy  string // traffic_source or device_type; default traffic_source
	Model    string // default last_touch
	DateFrom string
	DateTo   string
	Snapshot string
}

// RecentOrdersParams selects the most recent orders.
type RecentOrdersParams struct {
	Limit    int
	Status   string
	Snapshot string
}

// DashboardParams drives the combined overview, revenue and customers view.
type DashboardParams struct {
	DateFrom    string
	DateTo      string
	Granularity string
	Snapshot    string
}

// =============================================
// Validation
// =============================================

// resolver turns raw parameters into validated query specs relative to
// one clock reading.
type resolver struct {
	today time.Time
	loc   *time.Location
	opts  Options
}

func (e *Engine) resolver() resolver {
	return resolver{
		today: analytics.Date(e.opts.Now(), e.opts.Location),
		loc:   e.opts.Location,
		opts:  e.opts,
	}
}

func (r resolver) date(field, s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), r.loc)
	if err != nil {
		return time.Time{}, invalid(field, "must be a date in YYYY-MM-DD form, got %q", s)
	}
	return t, nil
}

// window resolves an inclusive date window. Missing bounds come from def;
// a missing lower bound of def means unbounded.
func (r resolver) window(from, to string, def models.Window) (models.Window, error) {
	w := def
	if to != "" {
		t, err := r.date("date_to", to)
		if err != nil {
			return models.Window{}, err
		}
		w.To = t
		if from == "" && !def.From.IsZero() {
			w.From = t.AddDate(0, 0, -(def.Days() - 1))
		}
	}
	if from != "" {
		f, err := r.date("date_from", from)
		if err != nil {
			return models.Window{}, err
		}
		w.From = f
	}
	if !w.From.IsZero() && w.To.Before(w.From) {
		return models.Window{}, invalid("date_to", "must not be before date_from")
	}
	return w, nil
}

func (r resolver) trailingDays() models.Window {
	return models.Window{
		From: r.today.AddDate(0, 0, -(r.opts.DefaultWindowDays - 1)),
		To:   r.today,
	}
}

func (r resolver) allHistory() models.Window {
	return models.Window{To: r.today}
}

func (r resolver) limit(n, def int) (int, error) {
	switch {
	case n == 0:
		return def, nil
	case n < 0 || n > r.opts.MaxLimit:
		return 0, invalid("limit", "must be between 1 and %d", r.opts.MaxLimit)
	default:
		return n, nil
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

type overviewQuery struct {
	window models.Window
}

func (r resolver) overview(p OverviewParams) (overviewQuery, error) {
	w, err := r.window(p.DateFrom, p.DateTo, r.trailingDays())
	return overviewQuery{window: w}, err
}

func (q overviewQuery) key() string {
	return fmt.Sprintf("%s..%s", q.window.From.Format(dateLayout), q.window.To.Format(dateLayout))
}

type revenueQuery struct {
	granularity analytics.Granularity
	bucketer    *analytics.Bucketer
	window      models.Window
	model       analytics.Model
}

func (r resolver) revenue(p RevenueParams) (revenueQuery, error) {
	g, err := analytics.ParseGranularity(orDefault(p.Granularity, string(analytics.Month)))
	if err != nil || g == analytics.Year {
		return revenueQuery{}, invalid("granularity", "must be one of day, week, month, quarter")
	}
	model, err := analytics.ParseModel(orDefault(p.Model, string(analytics.LastTouch)))
	if err != nil {
		return revenueQuery{}, invalid("model", "must be first_touch or last_touch")
	}
	b, err := analytics.NewBucketer(g, r.loc)
	if err != nil {
		return revenueQuery{}, err
	}

	def := b.Trailing(r.opts.TrailingBuckets, r.today)
	if p.DateTo != "" && p.DateFrom == "" {
		to, err := r.date("date_to", p.DateTo)
		if err != nil {
			return revenueQuery{}, err
		}
		def = b.Trailing(r.opts.TrailingBuckets, to)
	}
	w, err := r.window(p.DateFrom, p.DateTo, def)
	if err != nil {
		return revenueQuery{}, err
	}
	if n := b.Count(w); n > r.opts.MaxBuckets {
		return revenueQuery{}, invalid("date_from", "window spans %d %s buckets, at most %d allowed", n, g, r.opts.MaxBuckets)
	}
	return revenueQuery{granularity: g, bucketer: b, window: w, model: model}, nil
}

func (q revenueQuery) key() string {
	return fmt.Sprintf("%s:%s:%s..%s", q.granularity, q.model,
		q.window.From.Format(dateLayout), q.window.To.Format(dateLayout))
}

type customerQuery struct {
	segmentType string
	segment     string
	window      models.Window
	asOf        time.Time
}

func (r resolver) customers(p CustomerParams) (customerQuery, error) {
	st := orDefault(p.SegmentType, SegmentTypeRFM)
	if st != SegmentTypeRFM && st != SegmentTypeChannel {
		return customerQuery{}, invalid("segment_type", "must be rfm or acquisition_channel")
	}
	w, err := r.window(p.DateFrom, p.DateTo, r.allHistory())
	if err != nil {
		return customerQuery{}, err
	}
	asOf := w.To
	if p.AsOf != "" {
		if asOf, err = r.date("as_of", p.AsOf); err != nil {
			return customerQuery{}, err
		}
		if !w.From.IsZero() && asOf.Before(w.From) {
			return customerQuery{}, invalid("as_of", "must not be before date_from")
		}
		if p.DateTo == "" {
			w.To = asOf
		}
	}
	return customerQuery{segmentType: st, segment: strings.TrimSpace(p.Segment), window: w, asOf: asOf}, nil
}

func (q customerQuery) key() string {
	return fmt.Sprintf("%s:%s:%s..%s@%s", q.segmentType, q.segment,
		q.window.From.Format(dateLayout), q.window.To.Format(dateLayout), q.asOf.Format(dateLayout))
}

type productQuery struct {
	category string
	sortBy   analytics.ProductSort
	limit    int
	window   models.Window
}

func (r resolver) products(p ProductParams) (productQuery, error) {
	sortBy, err := analytics.ParseProductSort(orDefault(p.SortBy, string(analytics.SortRevenue)))
	if err != nil {
		return productQuery{}, invalid("sort_by", "must be one of revenue, units_sold, orders, avg_price, profit")
	}
	limit, err := r.limit(p.Limit, r.opts.DefaultProductLimit)
	if err != nil {
		return productQuery{}, err
	}
	w, err := r.window(p.DateFrom, p.DateTo, r.allHistory())
	if err != nil {
		return productQuery{}, err
	}
	return productQuery{category: strings.TrimSpace(p.Category), sortBy: sortBy, limit: limit, window: w}, nil
}

func (q productQuery) key() string {
	return fmt.Sprintf("%s:%s:%d:%s..%s", q.category, q.sortBy, q.limit,
		q.window.From.Format(dateLayout), q.window.To.Format(dateLayout))
}

type marketingQuery struct {
	groupBy analytics.Dimension
	model   analytics.Model
	window  models.Window
}

func (r resolver) marketing(p MarketingParams) (marketingQuery, error) {
	dim, err := analytics.ParseDimension(orDefault(p.GroupBy, string(analytics.ByTrafficSource)))
	if err != nil {
		return marketingQuery{}, invalid("group_by", "must be traffic_source or device_type")
	}
	model, err := analytics.ParseModel(orDefault(p.Model, string(analytics.LastTouch)))
	if err != nil {
		return marketingQuery{}, invalid("model", "must be first_touch or last_touch")
	}
	w, err := r.window(p.DateFrom, p.DateTo, r.allHistory())
	if err != nil {
		return marketingQuery{}, err
	}
	return marketingQuery{groupBy: dim, model: model, window: w}, nil
}

func (q marketingQuery) key() string {
	return fmt.Sprintf("%s:%s:%s..%s", q.groupBy, q.model,
		q.window.From.Format(dateLayout), q.window.To.Format(dateLayout))
}

type recentOrdersQuery struct {
	limit  int
	status models.OrderStatus
	today  time.Time
}

func (r resolver) recentOrders(p RecentOrdersParams) (recentOrdersQuery, error) {
	limit, err := r.limit(p.Limit, r.opts.DefaultRecentLimit)
	if err != nil {
		return recentOrdersQuery{}, err
	}
	var status models.OrderStatus
	if p.Status != "" {
		if status, err = models.ParseOrderStatus(p.Status); err != nil {
			return recentOrdersQuery{}, invalid("status", "must be completed, cancelled or refunded")
		}
	}
	return recentOrdersQuery{limit: limit, status: status, today: r.today}, nil
}

func (q recentOrdersQuery) key() string {
	return fmt.Sprintf("%d:%s", q.limit, q.status)
}
