package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ===========================================
// DERIVED AGGREGATES
// ===========================================

// UnknownChannel collects sessions and revenue without an attributable source.
const UnknownChannel = "Direct/Unknown"

// Segment is a named RFM customer segment.
type Segment string

const (
	SegmentChampions          Segment = "Champions"
	SegmentLoyal              Segment = "Loyal Customers"
	SegmentNew                Segment = "New Customers"
	SegmentPotentialLoyalists Segment = "Potential Loyalists"
	SegmentCannotLose         Segment = "Cannot Lose Them"
	SegmentAtRisk             Segment = "At Risk"
	SegmentHibernating        Segment = "Hibernating"
	SegmentOther              Segment = "Other"
)

// Segments lists every segment in decision-table order.
var Segments = []Segment{
	SegmentChampions,
	SegmentLoyal,
	SegmentNew,
	SegmentPotentialLoyalists,
	SegmentCannotLose,
	SegmentAtRisk,
	SegmentHibernating,
	SegmentOther,
}

// RFMScore is the per-customer recency / frequency / monetary result.
type RFMScore struct {
	CustomerID  string          `json:"customer_id"`
	RecencyDays int             `json:"recency_days"`
	Frequency   int             `json:"frequency"`
	Monetary    decimal.Decimal `json:"monetary"`
	R           int             `json:"r"`
	F           int             `json:"f"`
	M           int             `json:"m"`
	Segment     Segment         `json:"segment"`
}

// TimeBucket is one period of a revenue series.
type TimeBucket struct {
	PeriodKey   string          `json:"period"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"` // last calendar day, inclusive
	Revenue     decimal.Decimal `json:"revenue"`
	OrderCount  int             `json:"orders"`
}

// AttributionRecord aggregates sessions and attributed revenue for one group.
type AttributionRecord struct {
	Channel                 string          `json:"channel"`
	Sessions                int             `json:"sessions"`
	ConvertedSessions       int             `json:"converted_sessions"`
	ConversionRate          float64         `json:"conversion_rate"`
	Revenue                 decimal.Decimal `json:"revenue"`
	Orders                  int             `json:"orders"`
	AvgRevenuePerConversion decimal.Decimal `json:"avg_revenue_per_conversion"`
	RevenuePerSession       decimal.Decimal `json:"revenue_per_session"`

	// Engagement, from the sessions of the group
	AvgSessionSeconds float64 `json:"avg_session_seconds"`
	AvgPageViews      float64 `json:"avg_page_views"`
	BounceRate        float64 `json:"bounce_rate"`

	// Customer-level groupings only
	Customers int             `json:"customers,omitempty"`
	AvgLTV    decimal.Decimal `json:"avg_ltv"`
	AvgOrders float64         `json:"avg_orders,omitempty"`
}

// ===========================================
// KPI
// ===========================================

const undefinedGrowth = "undefined"

// GrowthRate is (current-prior)/prior, or undefined when prior is not positive.
type GrowthRate struct {
	Value   float64
	Defined bool
}

// Growth computes the change from prior to current.
func Growth(current, prior float64) GrowthRate {
	if prior <= 0 {
		return GrowthRate{}
	}
	return GrowthRate{Value: (current - prior) / prior, Defined: true}
}

func (g GrowthRate) String() string {
	if !g.Defined {
		return undefinedGrowth
	}
	return fmt.Sprintf("%.4f", g.Value)
}

// MarshalJSON renders a number, or the string "undefined".
func (g GrowthRate) MarshalJSON() ([]byte, error) {
	if !g.Defined {
		return json.Marshal(undefinedGrowth)
	}
	return json.Marshal(g.Value)
}

func (g *GrowthRate) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte(`"`+undefinedGrowth+`"`)) {
		*g = GrowthRate{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("invalid growth rate: %w", err)
	}
	*g = GrowthRate{Value: v, Defined: true}
	return nil
}

// Window is an inclusive calendar-date range.
type Window struct {
	From time.Time `json:"date_from"`
	To   time.Time `json:"date_to"`
}

// Days returns the number of calendar days covered.
func (w Window) Days() int {
	return int(math.Round(w.To.Sub(w.From).Hours()/24)) + 1
}

// KPITotals are the raw metrics of one window.
type KPITotals struct {
	Revenue         decimal.Decimal `json:"revenue"`
	Orders          int             `json:"orders"`
	ActiveCustomers int             `json:"active_customers"`
	NewCustomers    int             `json:"new_customers"`
	AOV             decimal.Decimal `json:"aov"`
	Sessions        int             `json:"sessions"`
	ConversionRate  float64         `json:"conversion_rate"`
}

// KPIGrowth is the period-over-period change per metric.
type KPIGrowth struct {
	Revenue         GrowthRate `json:"revenue"`
	Orders          GrowthRate `json:"orders"`
	ActiveCustomers GrowthRate `json:"active_customers"`
	NewCustomers    GrowthRate `json:"new_customers"`
	AOV             GrowthRate `json:"aov"`
	Sessions        GrowthRate `json:"sessions"`
	ConversionRate  GrowthRate `json:"conversion_rate"`
}

// KPISnapshot compares a window against the equal-length window before it.
type KPISnapshot struct {
	Window      Window    `json:"window"`
	PriorWindow Window    `json:"prior_window"`
	Current     KPITotals `json:"current"`
	Prior       KPITotals `json:"prior"`
	Growth      KPIGrowth `json:"growth"`
}
