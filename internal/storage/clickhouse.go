package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// ClickHouseStore reads facts from ClickHouse MergeTree tables.
//
// ClickHouse has no read transactions, so a snapshot is consistent only
// when refreshes replace tables atomically (EXCHANGE TABLES). The version
// token is therefore configured, not discovered.
type ClickHouseStore struct {
	conn    driver.Conn
	version Version
}

// NewClickHouseStore creates a ClickHouse-backed fact store.
func NewClickHouseStore(conn driver.Conn, token string) *ClickHouseStore {
	return &ClickHouseStore{
		conn:    conn,
		version: Version{Token: token, LoadedAt: time.Now().UTC()},
	}
}

func (s *ClickHouseStore) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &chSnapshot{conn: s.conn, version: s.version}, nil
}

type chSnapshot struct {
	conn    driver.Conn
	version Version
}

func (s *chSnapshot) Version() Version { return s.version }

func (s *chSnapshot) Close() error { return nil }

func (s *chSnapshot) query(ctx context.Context, sql string, args []any, scan func(driver.Rows) error) error {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *chSnapshot) QueryCustomers(ctx context.Context, f Filter) ([]models.Customer, error) {
	w := newQuestionWhere()
	w.timeRange("registration_date", f, passTime)
	if f.Channel != "" {
		w.add("acquisition_channel = %s", f.Channel)
	}

	var result []models.Customer
	err := s.query(ctx, `
		SELECT customer_id, toDateTime(registration_date), ifNull(acquisition_channel, ''), ifNull(customer_segment, '')
		FROM customers`+w.String()+`
		ORDER BY customer_id`, w.args, func(rows driver.Rows) error {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.SignupDate, &c.AcquisitionChannel, &c.Segment); err != nil {
			return err
		}
		result = append(result, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	return result, nil
}

func (s *chSnapshot) QueryOrders(ctx context.Context, f Filter) ([]models.Order, error) {
	w := newQuestionWhere()
	w.timeRange("order_date", f, passTime)
	if f.Status != "" {
		w.add("lower(status) = %s", string(f.Status))
	}

	var result []models.Order
	err := s.query(ctx, `
		SELECT order_id, customer_id, order_date, status, ifNull(payment_method, ''), toString(total_amount)
		FROM orders`+w.String()+`
		ORDER BY order_date, order_id`, w.args, func(rows driver.Rows) error {
		var (
			o      models.Order
			status string
			amount string
		)
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.PlacedAt, &status, &o.PaymentMethod, &amount); err != nil {
			return err
		}
		total, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("order %s: invalid total_amount %q: %w", o.ID, amount, err)
		}
		o.Status = models.NormalizeStatus(status)
		o.TotalAmount = total
		result = append(result, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return result, nil
}

func (s *chSnapshot) QueryOrderItems(ctx context.Context, f Filter) ([]models.OrderItem, error) {
	w := newQuestionWhere()
	w.timeRange("o.order_date", f, passTime)
	if f.Status != "" {
		w.add("lower(o.status) = %s", string(f.Status))
	}
	if f.Category != "" {
		w.add("p.category = %s", f.Category)
	}

	var result []models.OrderItem
	err := s.query(ctx, `
		SELECT oi.order_id, oi.product_id, ifNull(p.category, ''), toInt64(oi.quantity), toString(oi.unit_price)
		FROM order_items AS oi
		INNER JOIN orders AS o ON o.order_id = oi.order_id
		LEFT JOIN products AS p ON p.product_id = oi.product_id`+w.String()+`
		ORDER BY oi.order_id, oi.product_id`, w.args, func(rows driver.Rows) error {
		var (
			it    models.OrderItem
			qty   int64
			price string
		)
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Category, &qty, &price); err != nil {
			return err
		}
		unit, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("item %s/%s: invalid unit_price %q: %w", it.OrderID, it.ProductID, price, err)
		}
		it.Quantity = int(qty)
		it.UnitPrice = unit
		result = append(result, it)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	return result, nil
}

func (s *chSnapshot) QuerySessions(ctx context.Context, f Filter) ([]models.Session, error) {
	w := newQuestionWhere()
	w.timeRange("session_date", f, passTime)
	if f.Channel != "" {
		w.add("traffic_source = %s", f.Channel)
	}

	var result []models.Session
	err := s.query(ctx, `
		SELECT session_id, customer_id, session_date, ifNull(traffic_source, ''), ifNull(device_type, ''),
		       converted_order_id, toInt64(ifNull(session_duration_seconds, 0)), toInt64(ifNull(page_views, 0)),
		       toUInt8(ifNull(bounced, 0))
		FROM web_sessions`+w.String()+`
		ORDER BY session_date, session_id`, w.args, func(rows driver.Rows) error {
		var (
			ss              models.Session
			duration, views int64
			bounced         uint8
		)
		if err := rows.Scan(&ss.ID, &ss.CustomerID, &ss.StartedAt, &ss.TrafficSource, &ss.DeviceType,
			&ss.ConvertedOrderID, &duration, &views, &bounced); err != nil {
			return err
		}
		ss.DurationSeconds = int(duration)
		ss.PageViews = int(views)
		ss.Bounced = bounced != 0
		result = append(result, ss)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return result, nil
}

func (s *chSnapshot) QueryProducts(ctx context.Context, f Filter) ([]models.Product, error) {
	w := newQuestionWhere()
	if f.Category != "" {
		w.add("category = %s", f.Category)
	}

	var result []models.Product
	err := s.query(ctx, `
		SELECT product_id, product_name, ifNull(category, ''), toString(ifNull(price, 0)), toString(ifNull(cost, 0))
		FROM products`+w.String()+`
		ORDER BY product_id`, w.args, func(rows driver.Rows) error {
		var (
			p           models.Product
			price, cost string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &price, &cost); err != nil {
			return err
		}
		var err error
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("product %s: invalid price %q: %w", p.ID, price, err)
		}
		if p.Cost, err = decimal.NewFromString(cost); err != nil {
			return fmt.Errorf("product %s: invalid cost %q: %w", p.ID, cost, err)
		}
		result = append(result, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return result, nil
}
