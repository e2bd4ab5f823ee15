package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ===========================================
// FACTS
// ===========================================
// Fact records are owned by the fact store and never mutated by the engine.

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

// NormalizeStatus lowercases a stored status value. Unknown values are kept
// and simply never count as completed.
func NormalizeStatus(s string) OrderStatus {
	return OrderStatus(strings.ToLower(strings.TrimSpace(s)))
}

// ParseOrderStatus validates a status supplied by a caller.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := NormalizeStatus(s); st {
	case OrderCompleted, OrderCancelled, OrderRefunded:
		return st, nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

// Customer is a registered shopper.
type Customer struct {
	ID                 string    `json:"customer_id"`
	SignupDate         time.Time `json:"signup_date"`
	AcquisitionChannel string    `json:"acquisition_channel,omitempty"`

	// Segment is the label stored alongside the record upstream. It can
	// narrow the customers report; RFM segments are always recomputed.
	Segment string `json:"segment,omitempty"`
}

// Order is a placed order with its settled total.
type Order struct {
	ID            string          `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	PlacedAt      time.Time       `json:"placed_at"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        OrderStatus     `json:"status"`
	PaymentMethod string          `json:"payment_method,omitempty"`
}

// Completed reports whether the order counts toward revenue.
func (o Order) Completed() bool {
	return o.Status == OrderCompleted
}

// OrderItem is a single line of an order.
type OrderItem struct {
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// LineTotal is quantity × unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Product is the catalog dimension for order items.
type Product struct {
	ID       string          `json:"product_id"`
	Name     string          `json:"product_name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Cost     decimal.Decimal `json:"cost"`
}

// Session is one browsing visit.
type Session struct {
	ID               string    `json:"session_id"`
	CustomerID       *string   `json:"customer_id,omitempty"` // nil for anonymous visits
	StartedAt        time.Time `json:"started_at"`
	TrafficSource    string    `json:"traffic_source"`
	DeviceType       string    `json:"device_type"`
	ConvertedOrderID *string   `json:"converted_order_id,omitempty"`

	// Engagement
	DurationSeconds int  `json:"duration_seconds,omitempty"`
	PageViews       int  `json:"page_views,omitempty"`
	Bounced         bool `json:"bounced,omitempty"`
}

// Converted reports whether the session ended in an order.
func (s Session) Converted() bool {
	return s.ConvertedOrderID != nil && *s.ConvertedOrderID != ""
}
