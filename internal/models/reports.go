package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ===========================================
// REPORT PAYLOADS
// ===========================================

// RevenueReport is the payload of GetRevenue.
type RevenueReport struct {
	Granularity  string          `json:"granularity"`
	Window       Window          `json:"window"`
	Model        string          `json:"attribution_model"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalOrders  int             `json:"total_orders"`
	Series       []TimeBucket    `json:"series"`

	// Breakdowns; each reconciles to TotalRevenue.
	BySegment []SegmentRevenue    `json:"by_segment"`
	ByChannel []AttributionRecord `json:"by_channel"`
}

// SegmentRevenue is window revenue grouped by RFM segment.
type SegmentRevenue struct {
	Segment   Segment         `json:"segment"`
	Customers int             `json:"customers"`
	Orders    int             `json:"orders"`
	Revenue   decimal.Decimal `json:"revenue"`
	Share     float64         `json:"share"`
}

// SegmentSummary describes one RFM segment.
type SegmentSummary struct {
	Segment        Segment         `json:"segment"`
	Customers      int             `json:"customers"`
	Share          float64         `json:"share"`
	AvgRecencyDays float64         `json:"avg_recency_days"`
	AvgFrequency   float64         `json:"avg_frequency"`
	AvgMonetary    decimal.Decimal `json:"avg_monetary"`
	TotalMonetary  decimal.Decimal `json:"total_monetary"`
}

// CustomerReport is the payload of GetCustomers.
type CustomerReport struct {
	SegmentType   string          `json:"segment_type"`
	AsOf          time.Time       `json:"as_of"`
	Population    int             `json:"population"`
	Scored        int             `json:"scored"`
	NoActivity    int             `json:"no_activity"`
	TotalMonetary decimal.Decimal `json:"total_monetary"`

	Segments []SegmentSummary    `json:"segments,omitempty"`
	Channels []AttributionRecord `json:"channels,omitempty"`
}

// ProductPerformance is per-product sales over a window.
type ProductPerformance struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"product_name"`
	Category      string          `json:"category"`
	Revenue       decimal.Decimal `json:"revenue"`
	UnitsSold     int             `json:"units_sold"`
	Orders        int             `json:"orders"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	ProfitPerUnit decimal.Decimal `json:"profit_per_unit"`
}

// CategoryPerformance is the catalog view of one category.
type CategoryPerformance struct {
	Category        string          `json:"category"`
	TotalProducts   int             `json:"total_products"`
	ProductsSold    int             `json:"products_sold"`
	SellThroughRate float64         `json:"sell_through_rate"`
	UnitsSold       int             `json:"units_sold"`
	Revenue         decimal.Decimal `json:"revenue"`
}

// ProductReport is the payload of GetProducts.
type ProductReport struct {
	Window       Window                `json:"window"`
	Category     string                `json:"category,omitempty"`
	SortBy       string                `json:"sort_by"`
	TotalRevenue decimal.Decimal       `json:"total_revenue"`
	Products     []ProductPerformance  `json:"products"`
	Categories   []CategoryPerformance `json:"categories"`
}

// MarketingReport is the payload of GetMarketing.
type MarketingReport struct {
	GroupBy           string              `json:"group_by"`
	Model             string              `json:"attribution_model"`
	Window            Window              `json:"window"`
	TotalSessions     int                 `json:"total_sessions"`
	ConvertedSessions int                 `json:"converted_sessions"`
	TotalRevenue      decimal.Decimal     `json:"total_revenue"`
	Records           []AttributionRecord `json:"records"`
}

// RecentOrder is one row of the recent-orders report.
type RecentOrder struct {
	OrderID       string          `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	PlacedAt      time.Time       `json:"placed_at"`
	Status        OrderStatus     `json:"status"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Items         int             `json:"items"`
}
