package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/vector-analytics/internal/config"
	"github.com/radiusdt/vector-analytics/internal/metrics"
	"github.com/radiusdt/vector-analytics/internal/query"
	"go.uber.org/zap"
)

// Route paths served by NewServer.
const (
	RouteHealth       = "/health"
	RouteOverview     = "/api/v1/analytics/overview"
	RouteRevenue      = "/api/v1/analytics/revenue"
	RouteCustomers    = "/api/v1/analytics/customers"
	RouteProducts     = "/api/v1/analytics/products"
	RouteMarketing    = "/api/v1/analytics/marketing"
	RouteDashboard    = "/api/v1/analytics/dashboard"
	RouteRecentOrders = "/api/v1/reports/recent-orders"
)

// Routes lists every fixed path, for metric labelling.
func Routes(cfg *config.Config) []string {
	routes := []string{
		RouteHealth, RouteOverview, RouteRevenue, RouteCustomers,
		RouteProducts, RouteMarketing, RouteDashboard, RouteRecentOrders,
	}
	if cfg.Metrics.Enabled {
		routes = append(routes, cfg.Metrics.Path)
	}
	return routes
}

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Engine  *query.Engine
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Checks  map[string]func(context.Context) error
}

// Server wraps HTTP handlers around the query engine.
type Server struct {
	engine  *query.Engine
	logger  *zap.Logger
	config  *config.Config
	checks  map[string]func(context.Context) error
	retryIn time.Duration
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		engine:  deps.Engine,
		logger:  deps.Logger,
		config:  deps.Config,
		checks:  deps.Checks,
		retryIn: deps.Config.Query.FetchTimeout,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc(RouteHealth, s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled && deps.Metrics != nil {
		mux.Handle(deps.Config.Metrics.Path, deps.Metrics.Handler())
	}

	// Analytics
	mux.HandleFunc(RouteOverview, s.get(s.handleOverview))
	mux.HandleFunc(RouteRevenue, s.get(s.handleRevenue))
	mux.HandleFunc(RouteCustomers, s.get(s.handleCustomers))
	mux.HandleFunc(RouteProducts, s.get(s.handleProducts))
	mux.HandleFunc(RouteMarketing, s.get(s.handleMarketing))
	mux.HandleFunc(RouteDashboard, s.get(s.handleDashboard))

	// Reports
	mux.HandleFunc(RouteRecentOrders, s.get(s.handleRecentOrders))

	return mux
}

func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			s.errorResponse(w, &query.Failure{Code: query.CodeInvalidParameter, Message: "method not allowed"}, http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "components": components})
}

// ---- Analytics ----

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := s.engine.GetOverview(r.Context(), query.OverviewParams{
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Snapshot: q.Get("snapshot"),
	})
	s.envelopeResponse(w, res.Envelope())
}

func (s *Server) handleRevenue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := s.engine.GetRevenue(r.Context(), query.RevenueParams{
		Granularity: first(q.Get("granularity"), q.Get("group_by")),
		DateFrom:    q.Get("date_from"),
		DateTo:      q.Get("date_to"),
		Model:       q.Get("model"),
		Snapshot:    q.Get("snapshot"),
	})
	s.envelopeResponse(w, res.Envelope())
}

func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := s.engine.GetCustomers(r.Context(), query.CustomerParams{
		SegmentType: q.Get("segment_type"),
		DateFrom:    q.Get("date_from"),
		DateTo:      q.Get("date_to"),
		AsOf:        q.Get("as_of"),
		Segment:     q.Get("segment"),
		Snapshot:    q.Get("snapshot"),
	})
	s.envelopeResponse(w, res.Envelope())
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.errorResponse(w, query.Classify(err), http.StatusBadRequest)
		return
	}
	res := s.engine.GetProducts(r.Context(), query.ProductParams{
		Category: q.Get("category"),
		SortBy:   q.Get("sort_by"),
		Limit:    limit,
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Snapshot: q.Get("snapshot"),
	})
	s.envelopeResponse(w, res.Envelope())
}

func (s *Server) handleMarketing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := s.engine.GetMarketing(r.Context(), query.MarketingParams{
		GroupBy:  q.Get("group_by"),
		Model:    q.Get("model"),
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Snapshot: q.Get("snapshot"),
	})
	s.envelopeResponse(w, res.Envelope())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d := s.engine.GetDashboard(r.Context(), query.DashboardParams{
		DateFrom:    q.Get("date_from"),
		DateTo:      q.Get("date_to"),
		Granularity: q.Get("granularity"),
		Snapshot:    q.Get("snapshot"),
	})
	s.envelopeResponse(w, d.Envelope())
}

// ---- Reports ----

func (s *Server) handleRecentOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.errorResponse(w, query.Classify(err), http.StatusBadRequest)
		return
	}
	res := s.engine.GetRecentOrders(r.Context(), query.RecentOrdersParams{
		Limit:    limit,
		Status:   q.Get("status"),
		Snapshot: q.Get("snapshot"),
	})
	s.envelopeResponse(w, res.Envelope())
}

// ---- Helper Methods ----

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseLimit(s string) (int, error) {
	if s = strings.TrimSpace(s); s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, &query.ParamError{Field: "limit", Reason: "must be a positive integer"}
	}
	return n, nil
}

// StatusCode maps an envelope to its HTTP status. Partial dashboards are
// successful responses.
func StatusCode(env query.Envelope) int {
	switch env.Status {
	case query.StatusOK, query.StatusPartial:
		return http.StatusOK
	}
	if env.Error != nil {
		return codeFor(env.Error.Code)
	}
	// A failed composite reports its most severe section.
	code := http.StatusBadRequest
	for _, sec := range env.Sections {
		if sec.Error == nil {
			continue
		}
		if c := codeFor(sec.Error.Code); c > code {
			code = c
		}
	}
	return code
}

func codeFor(c query.Code) int {
	switch c {
	case query.CodeInvalidParameter:
		return http.StatusBadRequest
	case query.CodeDataUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) envelopeResponse(w http.ResponseWriter, env query.Envelope) {
	code := StatusCode(env)
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.retryIn.Round(time.Second).Seconds())+1))
	}
	s.jsonResponse(w, env, code)
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, f *query.Failure, code int) {
	s.jsonResponse(w, query.Envelope{Status: query.StatusError, Error: f, Timestamp: time.Now().UTC()}, code)
}
