package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// PostgresStore reads facts from PostgreSQL. Each snapshot is a
// REPEATABLE READ, READ ONLY transaction.
type PostgresStore struct {
	pool    *pgxpool.Pool
	version Version
}

// NewPostgresStore creates a PostgreSQL-backed fact store. token is the
// dataset version reported to callers; empty means untracked.
func NewPostgresStore(pool *pgxpool.Pool, token string) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		version: Version{Token: token, LoadedAt: time.Now().UTC()},
	}
}

func (s *PostgresStore) Snapshot(ctx context.Context) (Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	return &pgSnapshot{tx: tx, version: s.version}, nil
}

// pgSnapshot serializes its reads: a pgx transaction owns one connection.
type pgSnapshot struct {
	mu      sync.Mutex
	tx      pgx.Tx
	version Version
	closed  bool
}

func (s *pgSnapshot) Version() Version { return s.version }

func (s *pgSnapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	// Read-only; rollback only releases the connection.
	return s.tx.Rollback(context.Background())
}

func (s *pgSnapshot) query(ctx context.Context, sql string, args []any, scan func(pgx.Rows) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("snapshot closed")
	}

	rows, err := s.tx.Query(ctx, sql, args...)
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

func (s *pgSnapshot) QueryCustomers(ctx context.Context, f Filter) ([]models.Customer, error) {
	w := newDollarWhere()
	w.timeRange("registration_date", f, passTime)
	if f.Channel != "" {
		w.add("acquisition_channel = %s", f.Channel)
	}

	var result []models.Customer
	err := s.query(ctx, `
		SELECT customer_id, registration_date, COALESCE(acquisition_channel, ''), COALESCE(customer_segment, '')
		FROM customers`+w.String()+`
		ORDER BY customer_id`, w.args, func(rows pgx.Rows) error {
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

func (s *pgSnapshot) QueryOrders(ctx context.Context, f Filter) ([]models.Order, error) {
	w := newDollarWhere()
	w.timeRange("order_date", f, passTime)
	if f.Status != "" {
		w.add("LOWER(status) = %s", string(f.Status))
	}

	var result []models.Order
	err := s.query(ctx, `
		SELECT order_id, customer_id, order_date, status, COALESCE(payment_method, ''), total_amount::text
		FROM orders`+w.String()+`
		ORDER BY order_date, order_id`, w.args, func(rows pgx.Rows) error {
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

func (s *pgSnapshot) QueryOrderItems(ctx context.Context, f Filter) ([]models.OrderItem, error) {
	w := newDollarWhere()
	w.timeRange("o.order_date", f, passTime)
	if f.Status != "" {
		w.add("LOWER(o.status) = %s", string(f.Status))
	}
	if f.Category != "" {
		w.add("p.category = %s", f.Category)
	}

	var result []models.OrderItem
	err := s.query(ctx, `
		SELECT oi.order_id, oi.product_id, COALESCE(p.category, ''), oi.quantity, oi.unit_price::text
		FROM order_items oi
		JOIN orders o ON o.order_id = oi.order_id
		LEFT JOIN products p ON p.product_id = oi.product_id`+w.String()+`
		ORDER BY oi.order_id, oi.product_id`, w.args, func(rows pgx.Rows) error {
		var (
			it    models.OrderItem
			price string
		)
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Category, &it.Quantity, &price); err != nil {
			return err
		}
		unit, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("item %s/%s: invalid unit_price %q: %w", it.OrderID, it.ProductID, price, err)
		}
		it.UnitPrice = unit
		result = append(result, it)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	return result, nil
}

func (s *pgSnapshot) QuerySessions(ctx context.Context, f Filter) ([]models.Session, error) {
	w := newDollarWhere()
	w.timeRange("session_date", f, passTime)
	if f.Channel != "" {
		w.add("traffic_source = %s", f.Channel)
	}

	var result []models.Session
	err := s.query(ctx, `
		SELECT session_id, customer_id, session_date, COALESCE(traffic_source, ''), COALESCE(device_type, ''),
		       converted_order_id, COALESCE(session_duration_seconds, 0), COALESCE(page_views, 0), COALESCE(bounced, false)
		FROM web_sessions`+w.String()+`
		ORDER BY session_date, session_id`, w.args, func(rows pgx.Rows) error {
		var ss models.Session
		if err := rows.Scan(&ss.ID, &ss.CustomerID, &ss.StartedAt, &ss.TrafficSource, &ss.DeviceType,
			&ss.ConvertedOrderID, &ss.DurationSeconds, &ss.PageViews, &ss.Bounced); err != nil {
			return err
		}
		result = append(result, ss)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return result, nil
}

func (s *pgSnapshot) QueryProducts(ctx context.Context, f Filter) ([]models.Product, error) {
	w := newDollarWhere()
	if f.Category != "" {
		w.add("category = %s", f.Category)
	}

	var result []models.Product
	err := s.query(ctx, `
		SELECT product_id, product_name, COALESCE(category, ''), COALESCE(price, 0)::text, COALESCE(cost, 0)::text
		FROM products`+w.String()+`
		ORDER BY product_id`, w.args, func(rows pgx.Rows) error {
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
