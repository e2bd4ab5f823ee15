package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/radiusdt/vector-analytics/internal/analytics"
	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/radiusdt/vector-analytics/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tunes defaults and limits of the engine.
type Options struct {
	Location            *time.Location
	DefaultWindowDays   int
	TrailingBuckets     int
	MaxLimit            int
	MaxBuckets          int
	DefaultProductLimit int
	DefaultRecentLimit  int
	CacheTTL            time.Duration
	Now                 func() time.Time
}

// DefaultOptions returns UTC, a 30 day overview window, 12 trailing
// buckets, a 1000 row limit and at most 1000 series buckets.
func DefaultOptions() Options {
	return Options{
		Location:            time.UTC,
		DefaultWindowDays:   30,
		TrailingBuckets:     12,
		MaxLimit:            1000,
		MaxBuckets:          1000,
		DefaultProductLimit: 20,
		DefaultRecentLimit:  50,
		CacheTTL:            10 * time.Minute,
		Now:                 time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Location == nil {
		o.Location = def.Location
	}
	if o.DefaultWindowDays <= 0 {
		o.DefaultWindowDays = def.DefaultWindowDays
	}
	if o.TrailingBuckets <= 0 {
		o.TrailingBuckets = def.TrailingBuckets
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = def.MaxLimit
	}
	if o.MaxBuckets <= 0 {
		o.MaxBuckets = def.MaxBuckets
	}
	if o.DefaultProductLimit <= 0 {
		o.DefaultProductLimit = def.DefaultProductLimit
	}
	if o.DefaultRecentLimit <= 0 {
		o.DefaultRecentLimit = def.DefaultRecentLimit
	}
	if o.Now == nil {
		o.Now = def.Now
	}
	return o
}

// ResultCache stores composed payloads keyed by caller snapshot token.
type ResultCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Recorder receives per-operation outcomes.
type Recorder interface {
	RecordQuery(operation, status string, d time.Duration)
	RecordCacheLookup(operation string, hit bool)
}

// Engine is the query façade. It holds no per-query state and is safe for
// concurrent use.
type Engine struct {
	store   storage.FactStore
	opts    Options
	logger  *zap.Logger
	cache   ResultCache
	metrics Recorder
}

// NewEngine creates an engine over store. Zero option fields take defaults.
func NewEngine(store storage.FactStore, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// SetCache enables result caching for queries that carry a snapshot token.
func (e *Engine) SetCache(c ResultCache) { e.cache = c }

// SetMetrics enables per-operation metrics.
func (e *Engine) SetMetrics(m Recorder) { e.metrics = m }

// Location returns the calendar location used for bucketing.
func (e *Engine) Location() *time.Location { return e.opts.Location }

// cachedResult is the cache payload of one composed result.
type cachedResult[T any] struct {
	Payload T               `json:"payload"`
	Version storage.Version `json:"version"`
}

// execute runs the Fetching → Aggregating → Composed part of a pipeline.
// The caller has already validated; key identifies the resolved query.
func execute[T any](ctx context.Context, e *Engine, r *run, token, key string, body func(context.Context, *run, storage.Snapshot) (T, error)) Result[T] {
	r.enter(Fetching)
	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return fail[T](e, r, err)
	}
	defer snap.Close()

	v := snap.Version()
	if token != "" && v.Token != "" && token != v.Token {
		return fail[T](e, r, invalid("snapshot", "%q does not match the current snapshot %q", token, v.Token))
	}

	// Only a validated token reaches the cache, so entries of replaced
	// generations are never served.
	cacheKey := ""
	if token != "" && e.cache != nil {
		cacheKey = fmt.Sprintf("analytics:%s:%s:%s", token, r.op, key)
		var hit cachedResult[T]
		found, err := e.cache.Get(ctx, cacheKey, &hit)
		if err != nil {
			e.logger.Warn("result cache read failed", zap.String("operation", r.op), zap.Error(err))
		}
		if e.metrics != nil {
			e.metrics.RecordCacheLookup(r.op, found)
		}
		if found {
			r.enter(Composed)
			e.finish(r, StatusOK)
			return ok(hit.Payload, hit.Version, true)
		}
	}

	payload, err := body(ctx, r, snap)
	if err != nil {
		return fail[T](e, r, err)
	}
	r.enter(Composed)

	if cacheKey != "" {
		if err := e.cache.Set(ctx, cacheKey, cachedResult[T]{Payload: payload, Version: v}, e.opts.CacheTTL); err != nil {
			e.logger.Warn("result cache write failed", zap.String("operation", r.op), zap.Error(err))
		}
	}
	e.finish(r, StatusOK)
	return ok(payload, v, false)
}

func fail[T any](e *Engine, r *run, err error) Result[T] {
	r.enter(Failed)
	f := Classify(err)
	switch f.Code {
	case CodeInconsistentAggregation:
		// Development loggers panic here.
		e.logger.DPanic("aggregation failed to reconcile", zap.String("operation", r.op), zap.Error(err))
	case CodeInvalidParameter:
		e.logger.Debug("query rejected", zap.String("operation", r.op), zap.Error(err))
	default:
		e.logger.Warn("query failed", zap.String("operation", r.op), zap.String("code", string(f.Code)), zap.Error(err))
	}
	e.finish(r, string(f.Code))
	return failed[T](f, e.opts.Now().UTC())
}

func (e *Engine) finish(r *run, status string) {
	if e.metrics != nil {
		e.metrics.RecordQuery(r.op, status, time.Since(r.started))
	}
}

// =============================================
// Fetching
// =============================================

// fetchPlan names the collections a pipeline needs; nil filters are skipped.
type fetchPlan struct {
	customers *storage.Filter
	orders    *storage.Filter
	items     *storage.Filter
	sessions  *storage.Filter
	products  *storage.Filter
}

type facts struct {
	customers []models.Customer
	orders    []models.Order
	items     []models.OrderItem
	sessions  []models.Session
	products  []models.Product
}

// inSegment keeps the customers carrying the stored segment label and
// the orders and sessions that belong to them. Matching ignores case.
func (f facts) inSegment(segment string) facts {
	members := make(map[string]bool)
	out := facts{items: f.items, products: f.products}
	for _, c := range f.customers {
		if strings.EqualFold(c.Segment, segment) {
			members[c.ID] = true
			out.customers = append(out.customers, c)
		}
	}
	for _, o := range f.orders {
		if members[o.CustomerID] {
			out.orders = append(out.orders, o)
		}
	}
	for _, s := range f.sessions {
		if s.CustomerID != nil && members[*s.CustomerID] {
			out.sessions = append(out.sessions, s)
		}
	}
	return out
}

// fetch reads every planned collection concurrently from one snapshot.
func fetch(ctx context.Context, snap storage.Snapshot, plan fetchPlan) (facts, error) {
	var f facts
	g, ctx := errgroup.WithContext(ctx)
	if plan.customers != nil {
		g.Go(func() (err error) {
			f.customers, err = snap.QueryCustomers(ctx, *plan.customers)
			return err
		})
	}
	if plan.orders != nil {
		g.Go(func() (err error) {
			f.orders, err = snap.QueryOrders(ctx, *plan.orders)
			return err
		})
	}
	if plan.items != nil {
		g.Go(func() (err error) {
			f.items, err = snap.QueryOrderItems(ctx, *plan.items)
			return err
		})
	}
	if plan.sessions != nil {
		g.Go(func() (err error) {
			f.sessions, err = snap.QuerySessions(ctx, *plan.sessions)
			return err
		})
	}
	if plan.products != nil {
		g.Go(func() (err error) {
			f.products, err = snap.QueryProducts(ctx, *plan.products)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return facts{}, err
	}
	return f, nil
}

// windowFilter converts an inclusive date window to a store filter; a zero
// From stays unbounded.
func windowFilter(w models.Window) storage.Filter {
	rng := analytics.WindowRange(w)
	f := storage.Filter{To: rng.To}
	if !w.From.IsZero() {
		f.From = rng.From
	}
	return f
}

// throughFilter covers all history up to the end of w.
func throughFilter(w models.Window) storage.Filter {
	return storage.Filter{To: analytics.WindowRange(w).To}
}

// =============================================
// Operations
// =============================================

// GetOverview composes headline KPIs for a window and its prior window.
func (e *Engine) GetOverview(ctx context.Context, p OverviewParams) Result[models.KPISnapshot] {
	r := e.begin("overview")
	q, err := e.resolver().overview(p)
	if err != nil {
		return fail[models.KPISnapshot](e, r, err)
	}

	return execute(ctx, e, r, p.Snapshot, q.key(), func(ctx context.Context, r *run, snap storage.Snapshot) (models.KPISnapshot, error) {
		span := models.Window{From: analytics.PriorWindow(q.window).From, To: q.window.To}
		f := windowFilter(span)
		data, err := fetch(ctx, snap, fetchPlan{customers: &f, orders: &f, sessions: &f})
		if err != nil {
			return models.KPISnapshot{}, err
		}

		r.enter(Aggregating)
		return analytics.ComposeKPIs(analytics.KPIInput{
			Orders:    data.orders,
			Customers: data.customers,
			Sessions:  data.sessions,
		}, q.window), nil
	})
}

// GetRevenue returns a gap-filled revenue series with segment and channel
// breakdowns of the same window.
func (e *Engine) GetRevenue(ctx context.Context, p RevenueParams) Result[models.RevenueReport] {
	r := e.begin("revenue")
	q, err := e.resolver().revenue(p)
	if err != nil {
		return fail[models.RevenueReport](e, r, err)
	}

	return execute(ctx, e, r, p.Snapshot, q.key(), func(ctx context.Context, r *run, snap storage.Snapshot) (models.RevenueReport, error) {
		window := windowFilter(q.window)
		through := throughFilter(q.window)
		all := storage.Filter{}
		data, err := fetch(ctx, snap, fetchPlan{customers: &all, orders: &window, sessions: &through})
		if err != nil {
			return models.RevenueReport{}, err
		}

		r.enter(Aggregating)
		return e.revenueReport(q, data)
	})
}

func (e *Engine) revenueReport(q revenueQuery, data facts) (models.RevenueReport, error) {
	series := q.bucketer.Series(analytics.OrderEvents(data.orders), q.window)
	total := decimal.Zero
	orders := 0
	for _, b := range series {
		total = total.Add(b.Revenue)
		orders += b.OrderCount
	}

	rfm := analytics.ScoreRFM(data.customers, data.orders, q.window.To, e.opts.Location)
	bySegment, err := analytics.SegmentRevenue(rfm, data.orders)
	if err != nil {
		return models.RevenueReport{}, err
	}
	byChannel, err := analytics.Attribute(analytics.AttributionInput{
		Window:    q.window,
		Orders:    data.orders,
		Sessions:  data.sessions,
		Customers: data.customers,
	}, q.model, analytics.ByTrafficSource)
	if err != nil {
		return models.RevenueReport{}, err
	}

	return models.RevenueReport{
		Granularity:  string(q.granularity),
		Window:       q.window,
		Model:        string(q.model),
		TotalRevenue: total,
		TotalOrders:  orders,
		Series:       series,
		BySegment:    bySegment,
		ByChannel:    byChannel,
	}, nil
}

// GetCustomers returns the RFM segmentation or the acquisition channel
// breakdown of buyers.
func (e *Engine) GetCustomers(ctx context.Context, p CustomerParams) Result[models.CustomerReport] {
	r := e.begin("customers")
	q, err := e.resolver().customers(p)
	if err != nil {
		return fail[models.CustomerReport](e, r, err)
	}

	return execute(ctx, e, r, p.Snapshot, q.key(), func(ctx context.Context, r *run, snap storage.Snapshot) (models.CustomerReport, error) {
		through := throughFilter(q.window)
		window := windowFilter(q.window)
		plan := fetchPlan{customers: &through, orders: &window}
		if q.segmentType == SegmentTypeChannel {
			plan.sessions = &window
		}
		data, err := fetch(ctx, snap, plan)
		if err != nil {
			return models.CustomerReport{}, err
		}

		r.enter(Aggregating)
		if q.segment != "" {
			data = data.inSegment(q.segment)
		}
		return e.customerReport(q, data)
	})
}

func (e *Engine) customerReport(q customerQuery, data facts) (models.CustomerReport, error) {
	rfm := analytics.ScoreRFM(data.customers, data.orders, q.asOf, e.opts.Location)
	report := models.CustomerReport{
		SegmentType:   q.segmentType,
		AsOf:          rfm.AsOf,
		Population:    rfm.Population,
		Scored:        len(rfm.Scores),
		NoActivity:    rfm.NoActivity,
		TotalMonetary: rfm.TotalMonetary(),
	}

	if q.segmentType == SegmentTypeChannel {
		channels, err := analytics.ChannelCustomers(analytics.AttributionInput{
			Window:    q.window,
			Orders:    data.orders,
			Sessions:  data.sessions,
			Customers: data.customers,
		})
		if err != nil {
			return models.CustomerReport{}, err
		}
		report.Channels = channels
		return report, nil
	}

	segments, err := analytics.SummarizeRFM(rfm)
	if err != nil {
		return models.CustomerReport{}, err
	}
	report.Segments = segments
	return report, nil
}

// GetProducts ranks products and summarizes categories over completed
// orders in the window.
func (e *Engine) GetProducts(ctx context.Context, p ProductParams) Result[models.ProductReport] {
	r := e.begin("products")
	q, err := e.resolver().products(p)
	if err != nil {
		return fail[models.ProductReport](e, r, err)
	}

	return execute(ctx, e, r, p.Snapshot, q.key(), func(ctx context.Context, r *run, snap storage.Snapshot) (models.ProductReport, error) {
		items := windowFilter(q.window)
		items.Status = models.OrderCompleted
		items.Category = q.category
		catalog := storage.Filter{Category: q.category}
		data, err := fetch(ctx, snap, fetchPlan{items: &items, products: &catalog})
		if err != nil {
			return models.ProductReport{}, err
		}

		r.enter(Aggregating)
		res, err := analytics.ProductPerformance(data.items, data.products, q.sortBy, q.limit)
		if err != nil {
			return models.ProductReport{}, err
		}
		return models.ProductReport{
			Window:       q.window,
			Category:     q.category,
			SortBy:       string(q.sortBy),
			TotalRevenue: res.TotalRevenue,
			Products:     res.Products,
			Categories:   res.Categories,
		}, nil
	})
}

// GetMarketing attributes window revenue to traffic sources or device
// types.
func (e *Engine) GetMarketing(ctx context.Context, p MarketingParams) Result[models.MarketingReport] {
	r := e.begin("marketing")
	q, err := e.resolver().marketing(p)
	if err != nil {
		return fail[models.MarketingReport](e, r, err)
	}

	return execute(ctx, e, r, p.Snapshot, q.key(), func(ctx context.Context, r *run, snap storage.Snapshot) (models.MarketingReport, error) {
		window := windowFilter(q.window)
		through := throughFilter(q.window)
		all := storage.Filter{}
		data, err := fetch(ctx, snap, fetchPlan{customers: &all, orders: &window, sessions: &through})
		if err != nil {
			return models.MarketingReport{}, err
		}

		r.enter(Aggregating)
		records, err := analytics.Attribute(analytics.AttributionInput{
			Window:    q.window,
			Orders:    data.orders,
			Sessions:  data.sessions,
			Customers: data.customers,
		}, q.model, q.groupBy)
		if err != nil {
			return models.MarketingReport{}, err
		}

		report := models.MarketingReport{
			GroupBy: string(q.groupBy),
			Model:   string(q.model),
			Window:  q.window,
			Records: records,
		}
		for _, rec := range records {
			report.TotalSessions += rec.Sessions
			report.ConvertedSessions += rec.ConvertedSessions
			report.TotalRevenue = report.TotalRevenue.Add(rec.Revenue)
		}
		return report, nil
	})
}

// GetRecentOrders lists the newest orders with their item counts.
func (e *Engine) GetRecentOrders(ctx context.Context, p RecentOrdersParams) Result[[]models.RecentOrder] {
	r := e.begin("recent_orders")
	q, err := e.resolver().recentOrders(p)
	if err != nil {
		return fail[[]models.RecentOrder](e, r, err)
	}

	return execute(ctx, e, r, p.Snapshot, q.key(), func(ctx context.Context, r *run, snap storage.Snapshot) ([]models.RecentOrder, error) {
		orders, err := newestOrders(ctx, snap, q)
		if err != nil {
			return nil, err
		}

		r.enter(Aggregating)
		sort.SliceStable(orders, func(i, j int) bool {
			if !orders[i].PlacedAt.Equal(orders[j].PlacedAt) {
				return orders[i].PlacedAt.After(orders[j].PlacedAt)
			}
			return orders[i].ID < orders[j].ID
		})
		if len(orders) > q.limit {
			orders = orders[:q.limit]
		}
		if len(orders) == 0 {
			return []models.RecentOrder{}, nil
		}

		// Items of the selected orders only.
		items, err := snap.QueryOrderItems(ctx, storage.Filter{
			From:   orders[len(orders)-1].PlacedAt,
			Status: q.status,
		})
		if err != nil {
			return nil, err
		}
		counts := make(map[string]int, len(orders))
		for _, it := range items {
			counts[it.OrderID] += it.Quantity
		}

		out := make([]models.RecentOrder, 0, len(orders))
		for _, o := range orders {
			out = append(out, models.RecentOrder{
				OrderID:       o.ID,
				CustomerID:    o.CustomerID,
				PlacedAt:      o.PlacedAt,
				Status:        o.Status,
				PaymentMethod: o.PaymentMethod,
				TotalAmount:   o.TotalAmount,
				Items:         counts[o.ID],
			})
		}
		return out, nil
	})
}

// recentLookback is the sequence of day spans before today tried for the
// newest orders; the last attempt is unbounded.
var recentLookback = []int{7, 28, 112, 448}

// newestOrders reads orders since a sliding lower bound, widening it until
// at least q.limit rows are found. Orders past today are always included,
// so a span holding q.limit rows already contains the newest q.limit.
func newestOrders(ctx context.Context, snap storage.Snapshot, q recentOrdersQuery) ([]models.Order, error) {
	for _, days := range recentLookback {
		orders, err := snap.QueryOrders(ctx, storage.Filter{From: q.today.AddDate(0, 0, -days), Status: q.status})
		if err != nil {
			return nil, err
		}
		if len(orders) >= q.limit {
			return orders, nil
		}
	}
	return snap.QueryOrders(ctx, storage.Filter{Status: q.status})
}

// =============================================
// Dashboard
// =============================================

// Dashboard holds independently computed sections; any may fail alone.
type Dashboard struct {
	Overview  Result[models.KPISnapshot]
	Revenue   Result[models.RevenueReport]
	Customers Result[models.CustomerReport]
}

// sectionOrder fixes how the composite envelope is folded.
var sectionOrder = []string{"overview", "revenue", "customers"}

// Envelope reports ok when every section succeeded, error when none did,
// and partial otherwise. Snapshot is set only when every successful
// section read the same generation.
func (d Dashboard) Envelope() Envelope {
	sections := map[string]Envelope{
		"overview":  d.Overview.Envelope(),
		"revenue":   d.Revenue.Envelope(),
		"customers": d.Customers.Envelope(),
	}
	env := Envelope{Status: StatusOK, Sections: sections}
	failures := 0
	mixed := false
	for _, name := range sectionOrder {
		s := sections[name]
		if s.Status == StatusError {
			failures++
		}
		if s.Timestamp.After(env.Timestamp) {
			env.Timestamp = s.Timestamp
		}
		switch {
		case s.Snapshot == "":
		case env.Snapshot == "":
			env.Snapshot = s.Snapshot
		case env.Snapshot != s.Snapshot:
			mixed = true
		}
	}
	if mixed {
		env.Snapshot = ""
	}
	switch {
	case failures == len(sections):
		env.Status = StatusError
	case failures > 0:
		env.Status = StatusPartial
	}
	return env
}

// GetDashboard runs the overview, revenue and customers pipelines
// concurrently. Each section is its own Result.
func (e *Engine) GetDashboard(ctx context.Context, p DashboardParams) Dashboard {
	var (
		d Dashboard
		g errgroup.Group
	)
	g.Go(func() error {
		d.Overview = e.GetOverview(ctx, OverviewParams{DateFrom: p.DateFrom, DateTo: p.DateTo, Snapshot: p.Snapshot})
		return nil
	})
	g.Go(func() error {
		d.Revenue = e.GetRevenue(ctx, RevenueParams{
			Granularity: p.Granularity,
			DateFrom:    p.DateFrom,
			DateTo:      p.DateTo,
			Snapshot:    p.Snapshot,
		})
		return nil
	})
	g.Go(func() error {
		d.Customers = e.GetCustomers(ctx, CustomerParams{DateFrom: p.DateFrom, DateTo: p.DateTo, Snapshot: p.Snapshot})
		return nil
	})
	_ = g.Wait()
	return d
}
